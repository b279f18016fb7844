package declaration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/valyala/bytebufferpool"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/fsutil"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
	"git.home.luguber.info/inful/tsbuild/internal/workspace"
)

// FormatOverrides are the compiler options each output format needs.
func FormatOverrides(format config.Format) map[string]any {
	switch format {
	case config.FormatCJS:
		return map[string]any{
			"module":               "commonjs",
			"moduleResolution":     "node10",
			"verbatimModuleSyntax": false,
		}
	case config.FormatESM:
		return map[string]any{
			"module":           "node16",
			"moduleResolution": "node16",
		}
	}
	return map[string]any{}
}

var declarationSources = []string{".ts", ".tsx", ".mts", ".cts", ".js", ".jsx", ".mjs", ".cjs"}

// TscOptions configures NewTscFactory.
type TscOptions struct {
	Root string
	// Command defaults to tsc.
	Command string
	// Tsconfig is extended by the generated configuration; defaults to
	// tsconfig.json under Root when it exists.
	Tsconfig string
	Logger   *slog.Logger
}

// TscCompiler emits declarations by running tsc against a generated config.
type TscCompiler struct {
	bin        string
	root       string
	configPath string
	workspace  *workspace.Manager
	logger     *slog.Logger
}

// NewTscFactory returns a CompilerFactory that prepares one TscCompiler per
// format. Generated configs live under node_modules/.cache/tsbuild so type
// roots resolve as they do for the project config.
func NewTscFactory(opts TscOptions) CompilerFactory {
	return func(_ context.Context, p Payload) (Compiler, error) {
		logger := opts.Logger
		if logger == nil {
			logger = slog.Default()
		}
		command := opts.Command
		if command == "" {
			command = "tsc"
		}
		bin := fsutil.LookBin(opts.Root, command)
		if bin == "" {
			return nil, ferrors.DeclarationError("typescript compiler not found").
				WithContext("command", command).
				Fatal().
				Build()
		}

		tsconfig := opts.Tsconfig
		if tsconfig == "" {
			tsconfig = "tsconfig.json"
		}
		if !filepath.IsAbs(tsconfig) {
			tsconfig = filepath.Join(opts.Root, tsconfig)
		}
		if !fsutil.Exists(tsconfig) {
			logger.Debug("No tsconfig to extend", logfields.Path(tsconfig))
			tsconfig = ""
		}

		data, err := GenerateConfig(p, tsconfig)
		if err != nil {
			return nil, err
		}
		ws := workspace.NewPersistentManager(
			filepath.Join(opts.Root, "node_modules", ".cache", "tsbuild"),
			"declarations-"+string(p.Format),
			logger)
		if err := ws.Create(); err != nil {
			return nil, err
		}
		path, err := ws.WriteFile("tsconfig.json", data)
		if err != nil {
			return nil, err
		}
		return &TscCompiler{bin: bin, root: opts.Root, configPath: path, workspace: ws, logger: logger}, nil
	}
}

type generatedConfig struct {
	Extends         string         `json:"extends,omitempty"`
	CompilerOptions map[string]any `json:"compilerOptions"`
	Files           []string       `json:"files"`
}

// GenerateConfig renders the tsconfig for one worker. Later layers win:
// base declaration options, then format overrides, then payload overrides.
func GenerateConfig(p Payload, extends string) ([]byte, error) {
	opts := map[string]any{
		"declaration":         true,
		"emitDeclarationOnly": true,
		"noEmit":              false,
		"composite":           false,
		"incremental":         false,
		"outDir":              p.Outdir,
	}
	maps.Copy(opts, FormatOverrides(p.Format))
	maps.Copy(opts, p.CompilerOverrides)

	var files []string
	for _, e := range p.Entrypoints {
		if slices.Contains(declarationSources, strings.ToLower(filepath.Ext(e))) {
			files = append(files, e)
		}
	}
	if len(files) == 0 {
		return nil, ferrors.DeclarationError("no typescript entry points").
			WithContext("format", string(p.Format)).
			Build()
	}

	data, err := json.MarshalIndent(generatedConfig{Extends: extends, CompilerOptions: opts, Files: files}, "", "  ")
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryDeclaration, "encode tsconfig").Build()
	}
	return data, nil
}

// ConfigPath is the generated configuration file.
func (c *TscCompiler) ConfigPath() string { return c.configPath }

// Emit runs one tsc pass.
func (c *TscCompiler) Emit(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.bin, "-p", c.configPath, "--pretty", "false")
	cmd.Dir = c.root
	out := bytebufferpool.Get()
	defer bytebufferpool.Put(out)
	cmd.Stdout = out
	cmd.Stderr = out

	c.logger.Debug("Emitting declarations", logfields.Path(c.configPath))
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(out.String()); msg != "" {
			err = fmt.Errorf("%w\n%s", err, msg)
		}
		return ferrors.WrapError(err, ferrors.CategoryDeclaration, "tsc failed").
			WithContext("path", c.configPath).
			Build()
	}
	return nil
}

func (c *TscCompiler) Close() error { return c.workspace.Cleanup() }
