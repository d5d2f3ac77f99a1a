package entrypoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// StateDirMode keeps the manifest's directory private to its owner.
const StateDirMode os.FileMode = 0700

// HardenStateDir creates dir if needed and forces it to StateDirMode, since
// a volume restored from backup may carry a wider mode.
func HardenStateDir(dir string) error {
	if err := os.MkdirAll(dir, StateDirMode); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat state directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("state directory %s is not a directory", dir)
	}
	if info.Mode().Perm() != StateDirMode {
		if err := os.Chmod(dir, StateDirMode); err != nil {
			return fmt.Errorf("restrict state directory: %w", err)
		}
	}
	return nil
}

type gatewaySeed struct {
	Gateway gatewaySeedSection `json:"gateway"`
}

type gatewaySeedSection struct {
	Mode string          `json:"mode"`
	Auth gatewaySeedAuth `json:"auth"`
}

type gatewaySeedAuth struct {
	Mode string `json:"mode"`
}

// SeedConfig writes the gateway's minimal config file if none exists. The
// token itself stays in the environment; the seed only selects token auth.
// It reports whether a file was written and never overwrites.
func SeedConfig(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return false, fmt.Errorf("create gateway config directory: %w", err)
	}

	data, err := json.MarshalIndent(gatewaySeed{
		Gateway: gatewaySeedSection{
			Mode: "local",
			Auth: gatewaySeedAuth{Mode: "token"},
		},
	}, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshal gateway config: %w", err)
	}
	data = append(data, '\n')

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("create gateway config: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(path)
		return false, fmt.Errorf("write gateway config: %w", err)
	}
	if err := file.Close(); err != nil {
		return false, fmt.Errorf("close gateway config: %w", err)
	}
	return true, nil
}
