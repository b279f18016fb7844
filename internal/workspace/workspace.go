package workspace

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
)

// Manager owns one workspace directory.
type Manager struct {
	baseDir    string
	persistent bool
	logger     *slog.Logger

	mu  sync.Mutex
	dir string
}

// NewManager returns an ephemeral manager rooted at baseDir, or the system
// temp directory when empty.
func NewManager(baseDir string, logger *slog.Logger) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return &Manager{baseDir: baseDir, logger: orDefault(logger)}
}

// NewPersistentManager returns a manager for the fixed directory baseDir/subdir.
func NewPersistentManager(baseDir, subdir string, logger *slog.Logger) *Manager {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if subdir == "" {
		subdir = "working"
	}
	return &Manager{
		baseDir:    baseDir,
		dir:        filepath.Join(baseDir, subdir),
		persistent: true,
		logger:     orDefault(logger),
	}
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// Create makes the workspace directory. It is idempotent for persistent
// managers; an ephemeral manager gets a fresh directory on each call after
// Cleanup.
func (m *Manager) Create() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.persistent {
		if err := os.MkdirAll(m.dir, 0o750); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create persistent workspace").
				WithContext("path", m.dir).
				Build()
		}
		m.logger.Debug("Using persistent workspace", logfields.Path(m.dir))
		return nil
	}
	if m.dir != "" {
		return nil
	}

	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create workspace base").
			WithContext("path", m.baseDir).
			Build()
	}
	dir, err := os.MkdirTemp(m.baseDir, "tsbuild-"+time.Now().Format("20060102-150405")+"-*")
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create workspace").
			WithContext("path", m.baseDir).
			Build()
	}
	m.dir = dir
	m.logger.Debug("Created workspace", logfields.Path(dir))
	return nil
}

// Path returns the workspace directory, or "" before Create.
func (m *Manager) Path() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dir
}

// Persistent reports whether Cleanup keeps the directory.
func (m *Manager) Persistent() bool { return m.persistent }

// Cleanup removes an ephemeral workspace. Persistent workspaces are kept.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dir == "" {
		return nil
	}
	if m.persistent {
		m.logger.Debug("Keeping persistent workspace", logfields.Path(m.dir))
		return nil
	}
	if err := os.RemoveAll(m.dir); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "cleanup workspace").
			WithContext("path", m.dir).
			Build()
	}
	m.logger.Debug("Cleaned up workspace", logfields.Path(m.dir))
	m.dir = ""
	return nil
}

// WriteFile writes data to name inside the workspace and returns its path.
func (m *Manager) WriteFile(name string, data []byte) (string, error) {
	dir := m.Path()
	if dir == "" {
		return "", ferrors.InternalError("workspace not created").Build()
	}
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryFileSystem, "create workspace subdirectory").
			WithContext("path", path).
			Build()
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryFileSystem, "write workspace file").
			WithContext("path", path).
			Build()
	}
	return path, nil
}
