package config

import "time"

// Format is an output module format.
type Format string

const (
	FormatESM Format = "esm"
	FormatCJS Format = "cjs"
)

// Preset selects a bundle of defaults layered between the built-in defaults and the file.
type Preset string

const (
	PresetNodeApp Preset = "nodeApp"
	PresetWebApp  Preset = "webApp"
	PresetLib     Preset = "lib"
	PresetNodeLib Preset = "nodeLib"
	PresetWebLib  Preset = "webLib"
)

// BackendKind selects the bundling engine.
type BackendKind string

const (
	BackendEsbuild  BackendKind = "esbuild"
	BackendRolldown BackendKind = "rolldown"
)

// Platform is the engine target platform.
type Platform string

const (
	PlatformNode    Platform = "node"
	PlatformBrowser Platform = "browser"
	PlatformNeutral Platform = "neutral"
)

// Sourcemap selects the source map mode. Empty means derived from release and NODE_ENV.
type Sourcemap string

const (
	SourcemapNone     Sourcemap = "none"
	SourcemapLinked   Sourcemap = "linked"
	SourcemapExternal Sourcemap = "external"
	SourcemapInline   Sourcemap = "inline"
	SourcemapBoth     Sourcemap = "both"
)

// Charset is the output charset.
type Charset string

const (
	CharsetASCII Charset = "ascii"
	CharsetUTF8  Charset = "utf8"
)

// Config is the pre-normalized project configuration. Bool fields are
// pointers so a layer can override an earlier true with false.
type Config struct {
	Root         string            `yaml:"root,omitempty"`
	Preset       Preset            `yaml:"preset,omitempty"`
	Platform     Platform          `yaml:"platform,omitempty"`
	Backend      BackendKind       `yaml:"backend,omitempty"`
	Entrypoints  []string          `yaml:"entrypoints,omitempty"`
	Formats      []Format          `yaml:"formats,omitempty"`
	Outdir       string            `yaml:"outdir,omitempty"`
	Bundle       *bool             `yaml:"bundle,omitempty"`
	Externals    []string          `yaml:"externals,omitempty"`
	Release      *bool             `yaml:"release,omitempty"`
	Minify       *bool             `yaml:"minify,omitempty"`
	Charset      Charset           `yaml:"charset,omitempty"`
	Sourcemap    Sourcemap         `yaml:"sourcemap,omitempty"`
	MainFields   []string          `yaml:"main_fields,omitempty"`
	Conditions   []string          `yaml:"conditions,omitempty"`
	Serve        *bool             `yaml:"serve,omitempty"`
	Watch        WatchConfig       `yaml:"watch,omitempty"`
	Server       ServerConfig      `yaml:"server,omitempty"`
	Declarations DeclarationConfig `yaml:"declarations,omitempty"`
	Output       OutputConfig      `yaml:"output,omitempty"`
	Esbuild      EsbuildConfig     `yaml:"esbuild,omitempty"`
	Rolldown     RolldownConfig    `yaml:"rolldown,omitempty"`
	Plugins      []PluginConfig    `yaml:"plugins,omitempty"`
	Metrics      MetricsConfig     `yaml:"metrics,omitempty"`
	History      HistoryConfig     `yaml:"history,omitempty"`
	Notify       NotifyConfig      `yaml:"notify,omitempty"`
}

// WatchConfig controls dev mode change detection.
type WatchConfig struct {
	ExcludeGlobs []string      `yaml:"exclude_globs,omitempty"`
	Debounce     time.Duration `yaml:"debounce,omitempty"`
	MaxDelay     time.Duration `yaml:"max_delay,omitempty"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
}

// ServerConfig controls the dev server. A non-empty Command selects the
// application supervisor for node platforms.
type ServerConfig struct {
	Host        string                 `yaml:"host,omitempty"`
	Port        int                    `yaml:"port,omitempty"`
	Entrypoint  string                 `yaml:"entrypoint,omitempty"`
	Reload      *bool                  `yaml:"reload,omitempty"`
	Command     string                 `yaml:"command,omitempty"`
	NodeArgs    []string               `yaml:"node_args,omitempty"`
	KillTimeout time.Duration          `yaml:"kill_timeout,omitempty"`
	Proxy       map[string]ProxyConfig `yaml:"proxy,omitempty"`
}

// ProxyConfig forwards a path prefix to another origin.
type ProxyConfig struct {
	Target       string `yaml:"target"`
	ChangeOrigin bool   `yaml:"change_origin,omitempty"`
}

// DeclarationConfig controls type declaration emission.
type DeclarationConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	Compiler string `yaml:"compiler,omitempty"`
	Tsconfig string `yaml:"tsconfig,omitempty"`
}

// OutputConfig controls how output files are written when the engine does not write them.
type OutputConfig struct {
	AssetNames string `yaml:"asset_names,omitempty"`
}

// EsbuildConfig holds engine option overrides applied after the derived defaults.
type EsbuildConfig struct {
	Write     *bool             `yaml:"write,omitempty"`
	Target    []string          `yaml:"target,omitempty"`
	Define    map[string]string `yaml:"define,omitempty"`
	Alias     map[string]string `yaml:"alias,omitempty"`
	Loader    map[string]string `yaml:"loader,omitempty"`
	Banner    map[string]string `yaml:"banner,omitempty"`
	Footer    map[string]string `yaml:"footer,omitempty"`
	Tsconfig  string            `yaml:"tsconfig,omitempty"`
	Splitting *bool             `yaml:"splitting,omitempty"`
	LogLevel  string            `yaml:"log_level,omitempty"`
}

// RolldownConfig configures the external rolldown engine.
type RolldownConfig struct {
	Command    string   `yaml:"command,omitempty"`
	ConfigFile string   `yaml:"config_file,omitempty"`
	Args       []string `yaml:"args,omitempty"`
}

// PluginConfig names a registered plugin and its raw options.
type PluginConfig struct {
	Name    string         `yaml:"name"`
	Options map[string]any `yaml:"options,omitempty"`
}

type MetricsConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// HistoryConfig enables the SQLite cycle history when Path is set.
type HistoryConfig struct {
	Path string `yaml:"path,omitempty"`
}

// NotifyConfig enables NATS cycle notifications when URL is set.
type NotifyConfig struct {
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
	Stream  string `yaml:"stream,omitempty"`
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

func boolValue(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func (c *Config) IsBundle() bool  { return boolValue(c.Bundle, false) }
func (c *Config) IsRelease() bool { return boolValue(c.Release, false) }
func (c *Config) IsMinify() bool  { return boolValue(c.Minify, false) }

// ServeEnabled reports whether the serve plugin may activate.
func (c *Config) ServeEnabled() bool { return boolValue(c.Serve, false) }

func (c *Config) DeclarationsEnabled() bool { return boolValue(c.Declarations.Enabled, false) }
func (c *Config) MetricsEnabled() bool      { return boolValue(c.Metrics.Enabled, false) }
func (c *Config) ReloadEnabled() bool       { return boolValue(c.Server.Reload, true) }

// EngineWrites reports whether the engine writes output files itself.
func (c *Config) EngineWrites() bool { return boolValue(c.Esbuild.Write, true) }

// IsLibrary reports whether the preset describes a library.
func (c *Config) IsLibrary() bool {
	switch c.Preset {
	case PresetLib, PresetNodeLib, PresetWebLib:
		return true
	default:
		return false
	}
}

// HasFormat reports whether f is one of the configured formats.
func (c *Config) HasFormat(f Format) bool {
	for _, have := range c.Formats {
		if have == f {
			return true
		}
	}
	return false
}
