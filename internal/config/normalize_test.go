package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeConfigFormats(t *testing.T) {
	cfg := &Config{Formats: []Format{"ESM", "commonjs", "esm"}}

	res, err := NormalizeConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, []Format{FormatESM, FormatCJS}, cfg.Formats)
	assert.Len(t, res.Warnings, 3)
}

func TestNormalizeConfigEnums(t *testing.T) {
	cfg := &Config{
		Preset:    "node-app",
		Backend:   "ESBuild",
		Platform:  "web",
		Sourcemap: "sideways",
		Charset:   "UTF-8",
	}

	res, err := NormalizeConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, PresetNodeApp, cfg.Preset)
	assert.Equal(t, BackendEsbuild, cfg.Backend)
	assert.Equal(t, PlatformBrowser, cfg.Platform)
	assert.Empty(t, cfg.Sourcemap)
	assert.Equal(t, CharsetUTF8, cfg.Charset)
	assert.Contains(t, res.Warnings, "unknown sourcemap 'sideways', defaulting to derived")
}

func TestNormalizeConfigPaths(t *testing.T) {
	cfg := &Config{Outdir: " dist/ ", Entrypoints: []string{"./src/index.ts", " ", "src//cli.ts"}}

	_, err := NormalizeConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, "dist", cfg.Outdir)
	assert.Equal(t, []string{"src/index.ts", "src/cli.ts"}, cfg.Entrypoints)
}

func TestNormalizeConfigNil(t *testing.T) {
	_, err := NormalizeConfig(nil)
	require.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	valid := Defaults()
	require.NoError(t, ValidateConfig(valid))

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no formats", func(c *Config) { c.Formats = nil }, "at least one format"},
		{"bad format", func(c *Config) { c.Formats = []Format{"umd"} }, "umd"},
		{"bad backend", func(c *Config) { c.Backend = "webpack" }, "webpack"},
		{"outdir root", func(c *Config) { c.Outdir = "." }, "outdir"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"proxy prefix", func(c *Config) {
			c.Server.Proxy = map[string]ProxyConfig{"api": {Target: "http://localhost:8080"}}
		}, "must start with /"},
		{"plugin name", func(c *Config) { c.Plugins = []PluginConfig{{}} }, "plugins[0]"},
		{"asset names", func(c *Config) { c.Output.AssetNames = "assets/file" }, "asset_names"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDecodeOptions(t *testing.T) {
	type opts struct {
		Subject string   `mapstructure:"subject"`
		Retries int      `mapstructure:"retries"`
		Tags    []string `mapstructure:"tags"`
	}

	var out opts
	err := DecodeOptions("notify", map[string]any{
		"subject": "builds",
		"retries": "3",
		"tags":    "a,b",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, opts{Subject: "builds", Retries: 3, Tags: []string{"a", "b"}}, out)

	err = DecodeOptions("notify", map[string]any{"unknown": true}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid plugin options")
}

func TestPresetConfigFresh(t *testing.T) {
	a := PresetConfig(PresetWebApp)
	b := PresetConfig(PresetWebApp)
	require.NotNil(t, a)
	assert.NotSame(t, a.Bundle, b.Bundle)
	assert.Nil(t, PresetConfig(""))
}
