package config

// PresetConfig returns the layer a preset contributes, or nil for an unknown
// or empty preset. Each call returns a fresh value so merged pointers are
// never shared between loads.
func PresetConfig(p Preset) *Config {
	switch p {
	case PresetNodeApp:
		return &Config{
			Platform: PlatformNode,
			Formats:  []Format{FormatESM},
			Bundle:   Bool(true),
			Serve:    Bool(true),
		}
	case PresetWebApp:
		return &Config{
			Platform: PlatformBrowser,
			Formats:  []Format{FormatESM},
			Bundle:   Bool(true),
			Serve:    Bool(true),
		}
	case PresetLib, PresetNodeLib:
		return &Config{
			Platform:     PlatformNode,
			Declarations: DeclarationConfig{Enabled: Bool(true)},
		}
	case PresetWebLib:
		return &Config{
			Platform:     PlatformBrowser,
			Declarations: DeclarationConfig{Enabled: Bool(true)},
		}
	default:
		return nil
	}
}
