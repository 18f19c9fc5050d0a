package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FindUp looks for name in dir and each of its parents, returning the first match.
// It returns "" when the filesystem root is reached without a match.
func FindUp(name, dir string) (string, error) {
	curDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", dir, err)
	}
	for {
		candidate := filepath.Join(curDir, name)
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("checking %q: %w", candidate, err)
		}
		parent := filepath.Dir(curDir)
		if parent == curDir {
			return "", nil
		}
		curDir = parent
	}
}
