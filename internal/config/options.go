package config

import (
	"github.com/mitchellh/mapstructure"

	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
)

// DecodeOptions decodes raw plugin options into out, a pointer to a struct
// tagged with `mapstructure`. Strings are coerced where the target type
// demands it and unknown keys are rejected.
func DecodeOptions(plugin string, raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "create options decoder").Build()
	}
	if err := dec.Decode(raw); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid plugin options").
			WithContext("plugin", plugin).
			Build()
	}
	return nil
}

// PluginOptions returns the raw options of the first plugins entry named name.
func (c *Config) PluginOptions(name string) (map[string]any, bool) {
	for _, p := range c.Plugins {
		if p.Name == name {
			return p.Options, true
		}
	}
	return nil, false
}
