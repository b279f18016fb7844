package session

import (
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
)

// Mode selects one-shot builds or watch-and-serve.
type Mode string

const (
	ModeBuild Mode = "build"
	ModeDev   Mode = "dev"
)

func (m Mode) Valid() bool { return m == ModeBuild || m == ModeDev }

// BuildContext holds the resolved invocation settings.
type BuildContext struct {
	Mode            Mode
	RootDirectory   string
	OutputDirectory string
}

// terminate is a no-op; output is left on disk.
func (b *BuildContext) terminate() error { return nil }

func newBuildContext(cfg *config.Config, mode Mode, workDir string) (*BuildContext, error) {
	if !mode.Valid() {
		return nil, ferrors.ValidationError("unknown build mode").WithContext("mode", string(mode)).Build()
	}
	root := cfg.Root
	if root == "" {
		root = workDir
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "determine working directory").Build()
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "resolve root directory").
			WithContext("path", root).
			Build()
	}
	b := &BuildContext{Mode: mode, RootDirectory: abs}
	b.refresh(cfg)
	return b, nil
}

// refresh re-derives the output directory after configuration changes.
func (b *BuildContext) refresh(cfg *config.Config) {
	outdir := cfg.Outdir
	if outdir == "" {
		outdir = config.DefaultOutdir
	}
	if !filepath.IsAbs(outdir) {
		outdir = filepath.Join(b.RootDirectory, outdir)
	}
	b.OutputDirectory = filepath.Clean(outdir)
}

// IsDev reports whether the session watches for changes.
func (b *BuildContext) IsDev() bool { return b.Mode == ModeDev }
