// Package testutil builds throwaway projects and configurations for tests.
package testutil

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"git.home.luguber.info/inful/tsbuild/internal/config"
)

// Project is a temporary package directory.
type Project struct {
	t    *testing.T
	root string
	pkg  map[string]any
}

// NewProject creates an empty project with a package.json named name.
func NewProject(t *testing.T, name string) *Project {
	t.Helper()
	p := &Project{t: t, root: t.TempDir(), pkg: map[string]any{"name": name}}
	p.writePackage()
	return p
}

// Root is the project directory.
func (p *Project) Root() string { return p.root }

// Path joins a slash separated name onto the root.
func (p *Project) Path(name string) string {
	return filepath.Join(p.root, filepath.FromSlash(name))
}

// WithFile writes name relative to the root, creating parent directories.
func (p *Project) WithFile(name, content string) *Project {
	p.t.Helper()
	path := p.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		p.t.Fatalf("create directory for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		p.t.Fatalf("write %s: %v", name, err)
	}
	return p
}

// WithPackageField sets a top level package.json field.
func (p *Project) WithPackageField(key string, value any) *Project {
	p.t.Helper()
	p.pkg[key] = value
	p.writePackage()
	return p
}

// WithExecutable writes an executable script under node_modules/.bin.
func (p *Project) WithExecutable(name, script string) string {
	p.t.Helper()
	p.WithFile("node_modules/.bin/"+name, script)
	path := p.Path("node_modules/.bin/" + name)
	if err := os.Chmod(path, 0o755); err != nil {
		p.t.Fatalf("chmod %s: %v", name, err)
	}
	return path
}

func (p *Project) writePackage() {
	p.t.Helper()
	data, err := json.Marshal(p.pkg)
	if err != nil {
		p.t.Fatalf("marshal package.json: %v", err)
	}
	p.WithFile("package.json", string(data))
}

// Config returns a default configuration rooted at the project.
func (p *Project) Config() *ConfigBuilder {
	cfg := config.Defaults()
	cfg.Root = p.root
	cfg.Watch.Debounce = 20 * time.Millisecond
	return &ConfigBuilder{cfg: cfg}
}

// ConfigBuilder provides a fluent interface for test configurations.
type ConfigBuilder struct {
	cfg *config.Config
}

func (b *ConfigBuilder) WithEntrypoints(entries ...string) *ConfigBuilder {
	b.cfg.Entrypoints = entries
	return b
}

func (b *ConfigBuilder) WithFormats(formats ...config.Format) *ConfigBuilder {
	b.cfg.Formats = formats
	return b
}

func (b *ConfigBuilder) WithPreset(p config.Preset) *ConfigBuilder {
	b.cfg.Preset = p
	if layer := config.PresetConfig(p); layer != nil {
		if layer.Platform != "" {
			b.cfg.Platform = layer.Platform
		}
		if layer.Bundle != nil {
			b.cfg.Bundle = layer.Bundle
		}
		if layer.Serve != nil {
			b.cfg.Serve = layer.Serve
		}
		if layer.Declarations.Enabled != nil {
			b.cfg.Declarations.Enabled = layer.Declarations.Enabled
		}
	}
	return b
}

// With applies an arbitrary edit.
func (b *ConfigBuilder) With(edit func(*config.Config)) *ConfigBuilder {
	edit(b.cfg)
	return b
}

func (b *ConfigBuilder) Build() *config.Config { return b.cfg }

// DiscardLogger drops every record.
func DiscardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }
