package entrypoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// ExecFunc replaces the current process image. It only returns on failure.
type ExecFunc func(argv0 string, argv []string, envv []string) error

// Exec resolves argv[0] against the PATH in env and replaces the process
// with it. A binary whose execute bit was revoked does not resolve, so a
// quarantined gateway fails here instead of running.
func Exec(argv []string, env []string, execFn ExecFunc) error {
	if len(argv) == 0 {
		return fmt.Errorf("no command to exec")
	}
	if execFn == nil {
		execFn = unix.Exec
	}

	pathValue, _ := lookupEnv(env, "PATH")
	binary, err := lookPath(argv[0], pathValue)
	if err != nil {
		return err
	}

	if err := execFn(binary, argv, env); err != nil {
		return fmt.Errorf("exec %s: %w", binary, err)
	}
	return nil
}

// lookPath searches pathValue rather than this process's PATH, since the
// wrapped process gets the rewritten PATH from ExecEnv.
func lookPath(file, pathValue string) (string, error) {
	if strings.Contains(file, "/") {
		if err := checkExecutable(file); err != nil {
			return "", fmt.Errorf("resolve %s: %w", file, err)
		}
		return file, nil
	}

	for _, dir := range filepath.SplitList(pathValue) {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, file)
		if checkExecutable(candidate) == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("resolve %s: executable not found in PATH", file)
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}
