// Package fsutil holds small filesystem helpers shared by config loading and
// project detection.
package fsutil

import (
	"os"
	"path/filepath"
)

// FindUp walks from start towards the filesystem root and returns the first
// path where one of names exists, checking names in order within each
// directory. The walk ends after stopDir has been checked; an empty stopDir
// means the filesystem root. It returns "" when nothing matched.
func FindUp(start, stopDir string, names ...string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	if stopDir != "" {
		if stopDir, err = filepath.Abs(stopDir); err != nil {
			return "", err
		}
	}

	for {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, statErr := os.Stat(candidate); statErr == nil {
				return candidate, nil
			} else if !os.IsNotExist(statErr) {
				return "", statErr
			}
		}

		if dir == stopDir {
			return "", nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Within reports whether path is root itself or lies below it.
func Within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !filepath.IsAbs(rel) && !hasParentPrefix(rel))
}

func hasParentPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
