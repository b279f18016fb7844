package config

import (
	"errors"
	"fmt"
	"strings"

	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
)

// ValidateConfig checks a normalized configuration. All problems are
// reported together as one config error.
func ValidateConfig(c *Config) error {
	var problems []error

	if len(c.Formats) == 0 {
		problems = append(problems, errors.New("formats: at least one format is required"))
	}
	for _, f := range c.Formats {
		if NormalizeFormat(string(f)) == "" {
			problems = append(problems, fmt.Errorf("formats: unsupported format %q (want esm or cjs)", f))
		}
	}
	if c.Backend != BackendEsbuild && c.Backend != BackendRolldown {
		problems = append(problems, fmt.Errorf("backend: unsupported backend %q", c.Backend))
	}
	if c.Outdir == "" || c.Outdir == "." {
		problems = append(problems, errors.New("outdir: must name a directory below the project root"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}
	for prefix, p := range c.Server.Proxy {
		if !strings.HasPrefix(prefix, "/") {
			problems = append(problems, fmt.Errorf("server.proxy: prefix %q must start with /", prefix))
		}
		if p.Target == "" {
			problems = append(problems, fmt.Errorf("server.proxy.%s: target is required", prefix))
		}
	}
	if c.Watch.Debounce < 0 || c.Watch.MaxDelay < 0 || c.Watch.PollInterval < 0 {
		problems = append(problems, errors.New("watch: durations must not be negative"))
	}
	for i, p := range c.Plugins {
		if strings.TrimSpace(p.Name) == "" {
			problems = append(problems, fmt.Errorf("plugins[%d]: name is required", i))
		}
	}
	if c.Output.AssetNames != "" && !strings.Contains(c.Output.AssetNames, "[name]") && !strings.Contains(c.Output.AssetNames, "[hash]") {
		problems = append(problems, fmt.Errorf("output.asset_names: %q must contain [name] or [hash]", c.Output.AssetNames))
	}

	if len(problems) == 0 {
		return nil
	}
	return ferrors.WrapError(errors.Join(problems...), ferrors.CategoryConfig, "invalid configuration").
		Fatal().
		WithContext("problems", len(problems)).
		Build()
}
