package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(LoadOptions{Dir: dir})
	require.NoError(t, err)

	assert.Equal(t, []Format{FormatESM}, cfg.Formats)
	assert.Equal(t, "dist", cfg.Outdir)
	assert.Equal(t, BackendEsbuild, cfg.Backend)
	assert.Equal(t, dir, cfg.Root)
	assert.False(t, cfg.IsBundle())
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, 2*time.Second, cfg.Watch.MaxDelay)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.True(t, cfg.EngineWrites())
}

func TestLoadLayersPresetFileAndOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tsbuild.yaml"), `
preset: webApp
bundle: false
outdir: build
watch:
  debounce: 100ms
`)

	cfg, err := Load(LoadOptions{
		Dir:       dir,
		Overrides: &Config{Minify: Bool(true), Outdir: "out"},
	})
	require.NoError(t, err)

	assert.Equal(t, PlatformBrowser, cfg.Platform, "preset layer")
	assert.True(t, cfg.ServeEnabled(), "preset layer")
	assert.False(t, cfg.IsBundle(), "file overrides preset true with false")
	assert.Equal(t, "out", cfg.Outdir, "overrides win over file")
	assert.True(t, cfg.IsMinify())
	assert.Equal(t, 100*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, 2*time.Second, cfg.Watch.MaxDelay, "unset fields keep defaults")
}

func TestLoadSearchesUpward(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "tsbuild.yml"), "formats: [cjs]\n")
	nested := filepath.Join(root, "src", "deep")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	cfg, err := Load(LoadOptions{Dir: nested})
	require.NoError(t, err)
	assert.Equal(t, []Format{FormatCJS}, cfg.Formats)
	assert.Equal(t, root, cfg.Root, "root defaults to the config file directory")
}

func TestLoadPackageJSONKey(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package.json"), `{
	"name": "demo",
	"tsbuild": {"preset": "nodeLib", "formats": ["esm", "cjs"], "server": {"port": 4000}}
}`)

	cfg, err := Load(LoadOptions{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, PresetNodeLib, cfg.Preset)
	assert.Equal(t, []Format{FormatESM, FormatCJS}, cfg.Formats)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.True(t, cfg.DeclarationsEnabled())
}

func TestLoadPackageJSONWithoutKeyIsIgnored(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package.json"), `{"name": "demo"}`)

	path, err := Locate(dir, "")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestLoadExpandsEnvFromDotenv(t *testing.T) {
	const key = "TSBUILD_TEST_OUTDIR_7F3A"
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), key+"=from-env\n")
	writeFile(t, filepath.Join(dir, "tsbuild.yaml"), "outdir: ${"+key+"}\n")

	cfg, err := Load(LoadOptions{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Outdir)
}

func TestLoadDotenvDoesNotOverrideEnvironment(t *testing.T) {
	const key = "TSBUILD_TEST_OUTDIR_9C1B"
	t.Setenv(key, "from-shell")

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), key+"=from-env\n")
	writeFile(t, filepath.Join(dir, "tsbuild.yaml"), "outdir: ${"+key+"}\n")

	cfg, err := Load(LoadOptions{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, "from-shell", cfg.Outdir)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tsbuild.yaml"), "outdirr: dist\n")

	_, err := Load(LoadOptions{Dir: dir})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestLoadExplicitPathMustExist(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(LoadOptions{Dir: dir, Path: "missing.yaml"})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestLoadInvalidFormatFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tsbuild.yaml"), "formats: [umd]\n")

	_, err := Load(LoadOptions{Dir: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "umd")
}

func TestInitWritesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsbuild.yaml")

	require.NoError(t, Init(path, false))
	err := Init(path, false)
	require.Error(t, err, "refuses to overwrite without force")
	require.NoError(t, Init(path, true))

	cfg, err := Load(LoadOptions{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, PresetNodeApp, cfg.Preset)
	assert.Equal(t, []string{"src/index.ts"}, cfg.Entrypoints)
	assert.True(t, cfg.IsBundle())
}
