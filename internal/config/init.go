package config

import (
	"os"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
)

// Init writes a starter configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return ferrors.ValidationError("configuration file already exists (use --force to overwrite)").
			WithContext("path", configPath).
			Build()
	}

	example := Config{
		Preset:      PresetNodeApp,
		Entrypoints: []string{"src/index.ts"},
		Formats:     []Format{FormatESM},
		Outdir:      DefaultOutdir,
		Externals:   []string{},
		Watch: WatchConfig{
			ExcludeGlobs: []string{"**/*.test.ts", "coverage/**"},
			Debounce:     DefaultDebounce,
			MaxDelay:     DefaultMaxDelay,
		},
		Server: ServerConfig{
			Host:     DefaultHost,
			Port:     DefaultPort,
			NodeArgs: []string{"--enable-source-maps"},
		},
		Declarations: DeclarationConfig{Enabled: Bool(false)},
		Metrics:      MetricsConfig{Enabled: Bool(false)},
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "marshal starter config").Build()
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write starter config").
			WithContext("path", configPath).
			Build()
	}
	return nil
}
