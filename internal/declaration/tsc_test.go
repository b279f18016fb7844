package declaration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
)

func TestGenerateConfigLayersOverrides(t *testing.T) {
	p := Payload{
		Format:            config.FormatCJS,
		Outdir:            "/out/cjs",
		CompilerOverrides: map[string]any{"moduleResolution": "bundler", "strict": true},
		Entrypoints:       []string{"/src/index.ts", "/src/style.css", "/index.html"},
	}
	data, err := GenerateConfig(p, "/proj/tsconfig.json")
	require.NoError(t, err)

	var got generatedConfig
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "/proj/tsconfig.json", got.Extends)
	assert.Equal(t, []string{"/src/index.ts"}, got.Files)
	assert.Equal(t, "commonjs", got.CompilerOptions["module"])
	assert.Equal(t, "bundler", got.CompilerOptions["moduleResolution"])
	assert.Equal(t, false, got.CompilerOptions["verbatimModuleSyntax"])
	assert.Equal(t, true, got.CompilerOptions["emitDeclarationOnly"])
	assert.Equal(t, "/out/cjs", got.CompilerOptions["outDir"])
}

func TestGenerateConfigRequiresTypescriptEntry(t *testing.T) {
	_, err := GenerateConfig(Payload{Format: config.FormatESM, Entrypoints: []string{"/index.html"}}, "")
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryDeclaration))
}

func TestTscCompilerRunsLocalBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	root := t.TempDir()
	bin := filepath.Join(root, "node_modules", ".bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	marker := filepath.Join(root, "ran")
	script := "#!/bin/sh\n[ \"$1\" = \"-p\" ] || exit 3\necho \"$2\" > " + marker + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(bin, "tsc"), []byte(script), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "tsconfig.json"), []byte("{}"), 0o644))

	factory := NewTscFactory(TscOptions{Root: root, Logger: quiet()})
	c, err := factory(t.Context(), Payload{
		Format:      config.FormatESM,
		Outdir:      filepath.Join(root, "dist"),
		Entrypoints: []string{filepath.Join(root, "src", "index.ts")},
	})
	require.NoError(t, err)
	tc := c.(*TscCompiler)
	assert.Equal(t, filepath.Join(root, "node_modules", ".cache", "tsbuild", "declarations-esm", "tsconfig.json"), tc.ConfigPath())

	require.NoError(t, c.Emit(t.Context()))
	got, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, tc.ConfigPath()+"\n", string(got))

	data, err := os.ReadFile(tc.ConfigPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), filepath.Join(root, "tsconfig.json"))
	require.NoError(t, c.Close())
}

func TestTscCompilerReportsFailureOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	root := t.TempDir()
	bin := filepath.Join(root, "node_modules", ".bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "tsc"), []byte("#!/bin/sh\necho 'error TS2322: bad type'\nexit 2\n"), 0o755))

	c, err := NewTscFactory(TscOptions{Root: root, Logger: quiet()})(t.Context(), Payload{
		Format:      config.FormatCJS,
		Outdir:      filepath.Join(root, "dist"),
		Entrypoints: []string{filepath.Join(root, "src", "index.ts")},
	})
	require.NoError(t, err)
	err = c.Emit(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TS2322")
}

func TestTscFactoryMissingBinary(t *testing.T) {
	t.Setenv("PATH", "")
	_, err := NewTscFactory(TscOptions{Root: t.TempDir(), Command: "tsc-does-not-exist", Logger: quiet()})(t.Context(), payload())
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryDeclaration))
}
