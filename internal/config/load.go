package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/fsutil"
	"git.home.luguber.info/inful/tsbuild/internal/logfields"
)

// FileNames lists the dedicated config file names in lookup order.
var FileNames = []string{"tsbuild.yaml", "tsbuild.yml", "tsbuild.json"}

// PackageJSONKey is the package.json key consulted when no dedicated file exists.
const PackageJSONKey = "tsbuild"

// LoadOptions controls where configuration comes from.
type LoadOptions struct {
	// Dir is the directory the search starts from. Defaults to the working directory.
	Dir string
	// Path is an explicit config file. It must exist when set.
	Path string
	// EnvFile is an explicit .env file. It must exist when set.
	EnvFile string
	// Overrides is the final layer, usually built from CLI flags.
	Overrides *Config
}

// Locate returns the config file to use. An explicit path is resolved against
// start and must exist. Otherwise the dedicated file names are searched
// upward, then the nearest package.json carrying a tsbuild key. It returns
// "" when no configuration exists.
func Locate(start, explicit string) (string, error) {
	if explicit != "" {
		path := explicit
		if !filepath.IsAbs(path) {
			path = filepath.Join(start, path)
		}
		if !fsutil.Exists(path) {
			return "", ferrors.ConfigError("configuration file not found").
				WithContext("path", path).
				Build()
		}
		return path, nil
	}

	found, err := fsutil.FindUp(start, "", FileNames...)
	if err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryFileSystem, "search for configuration file").Build()
	}
	if found != "" {
		return found, nil
	}

	pkg, err := fsutil.FindUp(start, "", "package.json")
	if err != nil || pkg == "" {
		return "", err
	}
	data, err := os.ReadFile(pkg)
	if err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryFileSystem, "read package.json").
			WithContext("path", pkg).
			Build()
	}
	var probe map[string]json.RawMessage
	if json.Unmarshal(data, &probe) == nil {
		if _, ok := probe[PackageJSONKey]; ok {
			return pkg, nil
		}
	}
	return "", nil
}

// Load locates, decodes, layers and normalizes the configuration. Layers are
// merged in order: built-in defaults, preset, file, overrides.
func Load(opts LoadOptions) (*Config, error) {
	dir := opts.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "determine working directory").Build()
		}
		dir = wd
	}

	if err := loadEnv(dir, opts.EnvFile); err != nil {
		return nil, err
	}

	path, err := Locate(dir, opts.Path)
	if err != nil {
		return nil, err
	}

	fileCfg := &Config{}
	if path != "" {
		if fileCfg, err = decodeFile(path); err != nil {
			return nil, err
		}
		slog.Debug("Loaded configuration", logfields.Path(path))
	}

	overrides := opts.Overrides
	if overrides == nil {
		overrides = &Config{}
	}

	preset := fileCfg.Preset
	if overrides.Preset != "" {
		preset = overrides.Preset
	}
	if p := NormalizePreset(string(preset)); p != "" {
		preset = p
	}

	cfg := Defaults()
	layers := []*Config{PresetConfig(preset), fileCfg, overrides}
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		if err := mergo.Merge(cfg, *layer, mergo.WithOverride); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "merge configuration layers").Build()
		}
	}

	if cfg.Root == "" {
		if path != "" {
			cfg.Root = filepath.Dir(path)
		} else {
			cfg.Root = dir
		}
	} else if !filepath.IsAbs(cfg.Root) {
		base := dir
		if path != "" {
			base = filepath.Dir(path)
		}
		cfg.Root = filepath.Join(base, cfg.Root)
	}

	res, err := NormalizeConfig(cfg)
	if err != nil {
		return nil, err
	}
	for _, w := range res.Warnings {
		slog.Warn("Configuration normalized", slog.String("detail", w))
	}

	if err := NewDefaultApplier().ApplyDefaults(cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "apply defaults").Build()
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnv reads .env files without overriding variables that are already set.
func loadEnv(dir, explicit string) error {
	if explicit != "" {
		if err := godotenv.Load(explicit); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryConfig, "load env file").
				WithContext("path", explicit).
				Build()
		}
		return nil
	}
	for _, name := range []string{".env.local", ".env"} {
		path := filepath.Join(dir, name)
		if !fsutil.Exists(path) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryConfig, "load env file").
				WithContext("path", path).
				Build()
		}
		slog.Debug("Loaded environment file", logfields.Path(path))
	}
	return nil
}

func decodeFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "read configuration file").
			WithContext("path", path).
			Build()
	}

	switch {
	case filepath.Base(path) == "package.json":
		data, err = jsonSectionToYAML(data, PackageJSONKey)
	case strings.EqualFold(filepath.Ext(path), ".json"):
		data, err = jsonSectionToYAML(data, "")
	}
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "parse configuration file").
			WithContext("path", path).
			Build()
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "parse configuration file").
			WithContext("path", path).
			Build()
	}
	return cfg, nil
}

// Parse expands environment variables in data and decodes it strictly.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &cfg, nil
}

// jsonSectionToYAML re-encodes a JSON document, or one key of it, as YAML so
// JSON sources share the strict YAML decoding path.
func jsonSectionToYAML(data []byte, key string) ([]byte, error) {
	var doc any
	if key == "" {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	} else {
		var outer map[string]any
		if err := json.Unmarshal(data, &outer); err != nil {
			return nil, err
		}
		section, ok := outer[key]
		if !ok {
			return nil, fmt.Errorf("missing %q key", key)
		}
		doc = section
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
