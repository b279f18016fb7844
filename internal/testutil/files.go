package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// FileAssertions checks file system state below a base directory.
type FileAssertions struct {
	t       *testing.T
	baseDir string
}

func NewFileAssertions(t *testing.T, baseDir string) *FileAssertions {
	return &FileAssertions{t: t, baseDir: baseDir}
}

func (fa *FileAssertions) AssertFileExists(relativePath string) *FileAssertions {
	fa.t.Helper()
	fullPath := filepath.Join(fa.baseDir, relativePath)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		fa.t.Errorf("Expected file to exist: %s", fullPath)
	}
	return fa
}

func (fa *FileAssertions) AssertFileNotExists(relativePath string) *FileAssertions {
	fa.t.Helper()
	fullPath := filepath.Join(fa.baseDir, relativePath)
	if _, err := os.Stat(fullPath); err == nil {
		fa.t.Errorf("Expected file not to exist: %s", fullPath)
	}
	return fa
}

func (fa *FileAssertions) AssertFileContains(relativePath, expected string) *FileAssertions {
	fa.t.Helper()
	content := fa.GetFileContent(relativePath)
	if !strings.Contains(content, expected) {
		fa.t.Errorf("Expected %s to contain %q\nActual content:\n%s", relativePath, expected, content)
	}
	return fa
}

// GetFileContent returns the file content, or "" after reporting an error.
func (fa *FileAssertions) GetFileContent(relativePath string) string {
	fa.t.Helper()
	// #nosec G304 - test helper, paths are controlled by test code
	content, err := os.ReadFile(filepath.Join(fa.baseDir, relativePath))
	if err != nil {
		fa.t.Errorf("Failed to read file %s: %v", relativePath, err)
		return ""
	}
	return string(content)
}

// ListFiles returns the regular file names directly below relativePath.
func (fa *FileAssertions) ListFiles(relativePath string) []string {
	fa.t.Helper()
	entries, err := os.ReadDir(filepath.Join(fa.baseDir, relativePath))
	if err != nil {
		fa.t.Errorf("Failed to read directory %s: %v", relativePath, err)
		return nil
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e.Name())
		}
	}
	return files
}
