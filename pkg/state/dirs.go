package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDataDirs ensures the canonical runtime folder layout exists
// under the data path. It rejects symlinks and permissive modes, and
// verifies the process can write into each directory.
func EnsureDataDirs(dataPath string) error {
	paths := []string{
		filepath.Join(dataPath, "store"),
		filepath.Join(dataPath, "db"),
		filepath.Join(dataPath, "backups"),
		filepath.Join(dataPath, "tmp"),
	}

	for _, p := range paths {
		if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
			return fmt.Errorf("cannot create parent for %s: %w", p, err)
		}

		if fi, err := os.Lstat(p); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink: %s", p)
			}
			if !fi.IsDir() {
				return fmt.Errorf("path exists and is not a directory: %s", p)
			}
			if fi.Mode().Perm()&0o022 != 0 {
				return fmt.Errorf("path has permissive mode (group/other write): %s", p)
			}
		}

		if err := os.MkdirAll(p, 0o700); err != nil {
			return fmt.Errorf("cannot create path %s: %w", p, err)
		}

		if fi, err := os.Lstat(p); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink after creation: %s", p)
			}
			if fi.Mode().Perm()&0o022 != 0 {
				return fmt.Errorf("path has permissive mode after creation: %s", p)
			}
		}

		tmp, err := os.CreateTemp(p, ".validate-*")
		if err != nil {
			return fmt.Errorf("path not writable: %s: %w", p, err)
		}
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	return nil
}

// StorePath is the file-driver root under the data path.
func StorePath(dataPath string) string { return filepath.Join(dataPath, "store") }

// DBPath is the embedded-database root under the data path.
func DBPath(dataPath string) string { return filepath.Join(dataPath, "db") }

// BackupPath is where backup archives are written.
func BackupPath(dataPath string) string { return filepath.Join(dataPath, "backups") }
