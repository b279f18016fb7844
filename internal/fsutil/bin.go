package fsutil

import (
	"os/exec"
	"path/filepath"
)

// LookBin resolves a package binary from the nearest node_modules/.bin at or
// above start, then from PATH. It returns "" when neither has it.
func LookBin(start, name string) string {
	if filepath.IsAbs(name) || filepath.Base(name) != name {
		if Exists(name) {
			return name
		}
		return ""
	}
	if p, err := FindUp(start, "", filepath.Join("node_modules", ".bin", name)); err == nil && p != "" {
		return p
	}
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	return ""
}
