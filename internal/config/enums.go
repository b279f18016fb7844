package config

import (
	"git.home.luguber.info/inful/tsbuild/internal/foundation/normalization"
)

var (
	formats = normalization.New("format", map[string]Format{
		"esm": FormatESM, "es": FormatESM, "module": FormatESM, "esmodule": FormatESM,
		"cjs": FormatCJS, "commonjs": FormatCJS,
	}, "", normalization.Lower)

	presets = normalization.New("preset", map[string]Preset{
		"nodeApp": PresetNodeApp,
		"webApp":  PresetWebApp,
		"lib":     PresetLib,
		"nodeLib": PresetNodeLib,
		"webLib":  PresetWebLib,
	}, "", normalization.Compact)

	backends = normalization.New("backend", map[string]BackendKind{
		"esbuild":  BackendEsbuild,
		"rolldown": BackendRolldown,
	}, "", normalization.Lower)

	platforms = normalization.New("platform", map[string]Platform{
		"node":    PlatformNode,
		"browser": PlatformBrowser,
		"web":     PlatformBrowser,
		"neutral": PlatformNeutral,
	}, "", normalization.Lower)

	sourcemaps = normalization.New("sourcemap", map[string]Sourcemap{
		"none": SourcemapNone, "false": SourcemapNone, "off": SourcemapNone,
		"linked": SourcemapLinked, "true": SourcemapLinked, "on": SourcemapLinked,
		"external": SourcemapExternal,
		"inline":   SourcemapInline,
		"both":     SourcemapBoth,
	}, "", normalization.Lower)

	charsets = normalization.New("charset", map[string]Charset{
		"ascii": CharsetASCII,
		"utf8":  CharsetUTF8,
	}, "", normalization.Compact)
)

// NormalizeFormat returns the canonical format or "" when unknown.
func NormalizeFormat(raw string) Format { return formats.Normalize(raw) }

// NormalizePreset maps case variants (nodeapp, node-app) onto the canonical preset.
func NormalizePreset(raw string) Preset { return presets.Normalize(raw) }

func NormalizeBackend(raw string) BackendKind { return backends.Normalize(raw) }

func NormalizePlatform(raw string) Platform { return platforms.Normalize(raw) }

func NormalizeSourcemap(raw string) Sourcemap { return sourcemaps.Normalize(raw) }

// NormalizeCharset accepts utf-8 as well as utf8.
func NormalizeCharset(raw string) Charset { return charsets.Normalize(raw) }
