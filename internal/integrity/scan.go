package integrity

import (
	"fmt"
	"os"
	"path/filepath"
)

// listRegularFiles returns the regular files directly inside dir, sorted by
// name. Symlinks are followed, so a link into a package tree is tracked by its
// link path with the target's content. A missing or unreadable directory
// yields no files.
func listRegularFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path)
		if err != nil {
			// Dangling symlink or raced removal.
			continue
		}
		if info.Mode().IsRegular() {
			files = append(files, path)
		}
	}
	return files
}

func absDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve directory %s: %w", dir, err)
	}
	return abs, nil
}

// revokeExec clears every execute bit (and setuid/setgid) on path.
func revokeExec(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !isExecutable(info.Mode()) && info.Mode()&(os.ModeSetuid|os.ModeSetgid) == 0 {
		return nil
	}
	if err := os.Chmod(path, info.Mode().Perm()&^0111); err != nil {
		return fmt.Errorf("revoke execute permission on %s: %w", path, err)
	}
	return nil
}

// restoreExec grants execute to every class that can read the file.
func restoreExec(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	perm := info.Mode().Perm()
	perm |= (perm & 0444) >> 2
	if err := os.Chmod(path, perm); err != nil {
		return fmt.Errorf("restore execute permission on %s: %w", path, err)
	}
	return nil
}

func isExecutable(mode os.FileMode) bool {
	return mode.Perm()&0111 != 0
}
