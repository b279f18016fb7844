package config

import (
	"fmt"
	"path/filepath"
	"strings"

	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
)

// NormalizationResult captures adjustments & warnings from normalization pass.
type NormalizationResult struct{ Warnings []string }

// NormalizeConfig canonicalizes enumerated fields, dedupes formats and cleans
// paths. It mutates the config in place.
func NormalizeConfig(c *Config) (*NormalizationResult, error) {
	if c == nil {
		return nil, ferrors.InternalError("config nil").Build()
	}
	res := &NormalizationResult{}
	normalizeEnums(c, res)
	normalizeFormats(c, res)
	normalizePaths(c, res)
	return res, nil
}

func normalizeEnums(c *Config, res *NormalizationResult) {
	if p := NormalizePreset(string(c.Preset)); p != "" {
		if c.Preset != p {
			res.Warnings = append(res.Warnings, warnChanged("preset", c.Preset, p))
			c.Preset = p
		}
	} else if strings.TrimSpace(string(c.Preset)) != "" {
		res.Warnings = append(res.Warnings, warnUnknown("preset", string(c.Preset), "none"))
		c.Preset = ""
	}

	if b := NormalizeBackend(string(c.Backend)); b != "" {
		if c.Backend != b {
			res.Warnings = append(res.Warnings, warnChanged("backend", c.Backend, b))
			c.Backend = b
		}
	} else if strings.TrimSpace(string(c.Backend)) != "" {
		res.Warnings = append(res.Warnings, warnUnknown("backend", string(c.Backend), string(BackendEsbuild)))
		c.Backend = BackendEsbuild
	}

	if p := NormalizePlatform(string(c.Platform)); p != "" {
		if c.Platform != p {
			res.Warnings = append(res.Warnings, warnChanged("platform", c.Platform, p))
			c.Platform = p
		}
	} else if strings.TrimSpace(string(c.Platform)) != "" {
		res.Warnings = append(res.Warnings, warnUnknown("platform", string(c.Platform), "engine default"))
		c.Platform = ""
	}

	if s := NormalizeSourcemap(string(c.Sourcemap)); s != "" {
		if c.Sourcemap != s {
			res.Warnings = append(res.Warnings, warnChanged("sourcemap", c.Sourcemap, s))
			c.Sourcemap = s
		}
	} else if strings.TrimSpace(string(c.Sourcemap)) != "" {
		res.Warnings = append(res.Warnings, warnUnknown("sourcemap", string(c.Sourcemap), "derived"))
		c.Sourcemap = ""
	}

	if cs := NormalizeCharset(string(c.Charset)); cs != "" {
		if c.Charset != cs {
			res.Warnings = append(res.Warnings, warnChanged("charset", c.Charset, cs))
			c.Charset = cs
		}
	} else if strings.TrimSpace(string(c.Charset)) != "" {
		res.Warnings = append(res.Warnings, warnUnknown("charset", string(c.Charset), string(CharsetUTF8)))
		c.Charset = CharsetUTF8
	}
}

// normalizeFormats canonicalizes and dedupes formats, keeping first-seen order.
// Unknown formats are left in place for validation to reject.
func normalizeFormats(c *Config, res *NormalizationResult) {
	seen := make(map[Format]bool, len(c.Formats))
	out := make([]Format, 0, len(c.Formats))
	for _, raw := range c.Formats {
		f := NormalizeFormat(string(raw))
		if f == "" {
			out = append(out, raw)
			continue
		}
		if f != raw {
			res.Warnings = append(res.Warnings, warnChanged("formats", raw, f))
		}
		if seen[f] {
			res.Warnings = append(res.Warnings, fmt.Sprintf("dropped duplicate format '%s'", f))
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	c.Formats = out
}

func normalizePaths(c *Config, res *NormalizationResult) {
	if c.Root != "" {
		c.Root = filepath.Clean(c.Root)
	}
	if trimmed := strings.TrimSpace(c.Outdir); trimmed != c.Outdir {
		res.Warnings = append(res.Warnings, warnChanged("outdir", c.Outdir, trimmed))
		c.Outdir = trimmed
	}
	if c.Outdir != "" {
		c.Outdir = filepath.Clean(c.Outdir)
	}

	entries := c.Entrypoints[:0]
	for _, e := range c.Entrypoints {
		e = strings.TrimSpace(e)
		if e == "" {
			res.Warnings = append(res.Warnings, "dropped empty entrypoint")
			continue
		}
		entries = append(entries, filepath.Clean(e))
	}
	c.Entrypoints = entries
}

func warnChanged(field string, from, to any) string {
	return fmt.Sprintf("normalized %s from '%v' to '%v'", field, from, to)
}

func warnUnknown(field, value, def string) string {
	return fmt.Sprintf("unknown %s '%s', defaulting to %s", field, value, def)
}
