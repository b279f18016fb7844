package backend

import (
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"golang.org/x/mod/semver"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/tsbuild/internal/session"
)

// ESMRequireShim restores __filename, __dirname and require in node ESM output.
const ESMRequireShim = `await (async () => {
  const { dirname } = await import("path");
  const { fileURLToPath } = await import("url");
  if (typeof globalThis.__filename === "undefined") {
    globalThis.__filename = fileURLToPath(import.meta.url);
  }
  if (typeof globalThis.__dirname === "undefined") {
    globalThis.__dirname = dirname(globalThis.__filename);
  }
  if (typeof globalThis.require === "undefined") {
    const { default: module } = await import("module");
    globalThis.require = module.createRequire(import.meta.url);
  }
})();
`

// lastClassicJSX is the newest react release without the automatic runtime.
const lastClassicJSX = "v17.0.0"

// FormatOutdir is where a format's output lands. Multiple formats get one
// subdirectory each.
func FormatOutdir(cfg *config.Config, outdir string, format config.Format) string {
	if len(cfg.Formats) > 1 {
		return filepath.Join(outdir, string(format))
	}
	return outdir
}

// EsbuildOptions derives the engine options for one format. Engine plugins
// are taken from the session's pipeline with the leader flag.
func EsbuildOptions(s *session.Session, format config.Format, leader bool) (api.BuildOptions, error) {
	cfg := s.Config()
	release := cfg.IsRelease()
	production := release || os.Getenv("NODE_ENV") == "production"

	opts := api.BuildOptions{
		AbsWorkingDir: s.Build.RootDirectory,
		Outdir:        FormatOutdir(cfg, s.Build.OutputDirectory, format),
		Bundle:        cfg.IsBundle(),
		Metafile:      true,
		Write:         cfg.EngineWrites(),
		Format:        engineFormat(format),
		Platform:      enginePlatform(cfg.Platform),
		Charset:       api.CharsetUTF8,
		Loader:        map[string]api.Loader{".node": api.LoaderCopy},
		LegalComments: api.LegalCommentsExternal,
		Banner:        map[string]string{},
		Footer:        map[string]string{},
		Conditions:    slices.Clone(cfg.Conditions),
		MainFields:    slices.Clone(cfg.MainFields),
		External:      slices.Clone(cfg.Externals),
		JSX:           jsxMode(s.Repository),
		JSXDev:        !production,
		KeepNames:     cfg.IsMinify(),
		Define:        map[string]string{},
		LogLevel:      api.LogLevelInfo,
		Color:         api.ColorIfTerminal,
		Plugins:       s.Plugins.Pipeline().EsbuildPlugins(leader),
	}

	if cfg.Charset == config.CharsetASCII {
		opts.Charset = api.CharsetASCII
	}
	if format == config.FormatESM && cfg.Platform != config.PlatformBrowser {
		opts.Banner["js"] = ESMRequireShim
	}
	if s.Build.IsDev() {
		opts.Conditions = append([]string{"development"}, opts.Conditions...)
	}
	if !s.Build.IsDev() && cfg.IsMinify() {
		opts.MinifyWhitespace = true
		opts.MinifyIdentifiers = true
		opts.MinifySyntax = true
	}
	switch {
	case cfg.Sourcemap != "":
		opts.Sourcemap = engineSourcemap(cfg.Sourcemap)
	case !production:
		opts.Sourcemap = api.SourceMapLinked
	}

	if err := applyOverrides(&opts, cfg.Esbuild); err != nil {
		return api.BuildOptions{}, err
	}
	if _, ok := opts.Define["process.env.NODE_ENV"]; !ok {
		opts.Define["process.env.NODE_ENV"] = nodeEnv(release)
	}
	return opts, nil
}

func nodeEnv(release bool) string {
	if release {
		return `"production"`
	}
	return `"development"`
}

// applyOverrides layers the esbuild section of the config over the derived options.
func applyOverrides(opts *api.BuildOptions, o config.EsbuildConfig) error {
	maps.Copy(opts.Define, o.Define)
	maps.Copy(opts.Banner, o.Banner)
	maps.Copy(opts.Footer, o.Footer)
	if len(o.Alias) > 0 {
		opts.Alias = maps.Clone(o.Alias)
	}
	if o.Tsconfig != "" {
		opts.Tsconfig = o.Tsconfig
	}
	if o.Splitting != nil {
		opts.Splitting = *o.Splitting
	}
	for ext, name := range o.Loader {
		l, ok := loaders[strings.ToLower(name)]
		if !ok {
			return ferrors.ConfigError("unknown esbuild loader").
				WithContext("extension", ext).
				WithContext("loader", name).
				Build()
		}
		opts.Loader[ext] = l
	}
	if o.LogLevel != "" {
		l, ok := logLevels[strings.ToLower(o.LogLevel)]
		if !ok {
			return ferrors.ConfigError("unknown esbuild log level").WithContext("level", o.LogLevel).Build()
		}
		opts.LogLevel = l
	}
	return applyTargets(opts, o.Target)
}

// applyTargets accepts "esNNNN"/"esnext" language targets and engine
// targets such as "node18" or "chrome120".
func applyTargets(opts *api.BuildOptions, targets []string) error {
	for _, raw := range targets {
		t := strings.ToLower(strings.TrimSpace(raw))
		if lang, ok := languageTargets[t]; ok {
			opts.Target = lang
			continue
		}
		i := strings.IndexFunc(t, func(r rune) bool { return r >= '0' && r <= '9' })
		if i <= 0 {
			return ferrors.ConfigError("unknown esbuild target").WithContext("target", raw).Build()
		}
		engine, ok := engines[t[:i]]
		if !ok {
			return ferrors.ConfigError("unknown esbuild target engine").WithContext("target", raw).Build()
		}
		opts.Engines = append(opts.Engines, api.Engine{Name: engine, Version: t[i:]})
	}
	return nil
}

// jsxMode keeps JSX untouched for react 17 and older, which lack the
// automatic runtime. Unknown or unparsable versions get the automatic runtime.
func jsxMode(repo *session.RepositoryContext) api.JSX {
	if repo == nil {
		return api.JSXAutomatic
	}
	raw, ok := repo.DependencyVersion("react")
	if !ok {
		return api.JSXAutomatic
	}
	v := "v" + strings.TrimLeft(strings.TrimSpace(raw), "^~>=<v ")
	if !semver.IsValid(v) {
		return api.JSXAutomatic
	}
	if semver.Compare(v, lastClassicJSX) > 0 {
		return api.JSXAutomatic
	}
	return api.JSXPreserve
}

func engineFormat(f config.Format) api.Format {
	switch f {
	case config.FormatCJS:
		return api.FormatCommonJS
	case config.FormatESM:
		return api.FormatESModule
	}
	return api.FormatDefault
}

func enginePlatform(p config.Platform) api.Platform {
	switch p {
	case config.PlatformNode:
		return api.PlatformNode
	case config.PlatformBrowser:
		return api.PlatformBrowser
	case config.PlatformNeutral:
		return api.PlatformNeutral
	}
	return api.PlatformDefault
}

func engineSourcemap(s config.Sourcemap) api.SourceMap {
	switch s {
	case config.SourcemapLinked:
		return api.SourceMapLinked
	case config.SourcemapExternal:
		return api.SourceMapExternal
	case config.SourcemapInline:
		return api.SourceMapInline
	case config.SourcemapBoth:
		return api.SourceMapInlineAndExternal
	}
	return api.SourceMapNone
}

var loaders = map[string]api.Loader{
	"base64":     api.LoaderBase64,
	"binary":     api.LoaderBinary,
	"copy":       api.LoaderCopy,
	"css":        api.LoaderCSS,
	"dataurl":    api.LoaderDataURL,
	"default":    api.LoaderDefault,
	"empty":      api.LoaderEmpty,
	"file":       api.LoaderFile,
	"global-css": api.LoaderGlobalCSS,
	"js":         api.LoaderJS,
	"json":       api.LoaderJSON,
	"jsx":        api.LoaderJSX,
	"local-css":  api.LoaderLocalCSS,
	"text":       api.LoaderText,
	"ts":         api.LoaderTS,
	"tsx":        api.LoaderTSX,
}

var logLevels = map[string]api.LogLevel{
	"silent":  api.LogLevelSilent,
	"error":   api.LogLevelError,
	"warning": api.LogLevelWarning,
	"info":    api.LogLevelInfo,
	"debug":   api.LogLevelDebug,
	"verbose": api.LogLevelVerbose,
}

var languageTargets = map[string]api.Target{
	"esnext": api.ESNext,
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
}

var engines = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"deno":    api.EngineDeno,
	"edge":    api.EngineEdge,
	"firefox": api.EngineFirefox,
	"hermes":  api.EngineHermes,
	"ie":      api.EngineIE,
	"ios":     api.EngineIOS,
	"node":    api.EngineNode,
	"opera":   api.EngineOpera,
	"rhino":   api.EngineRhino,
	"safari":  api.EngineSafari,
}
