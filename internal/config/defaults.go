package config

import (
	"fmt"
	"time"
)

const (
	DefaultOutdir        = "dist"
	DefaultHost          = "127.0.0.1"
	DefaultPort          = 3000
	DefaultDebounce      = 250 * time.Millisecond
	DefaultMaxDelay      = 2 * time.Second
	DefaultKillTimeout   = 5 * time.Second
	DefaultNotifySubject = "tsbuild.cycles"
)

// DefaultApplier applies defaults for a specific configuration domain.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

// CompositeDefaultApplier runs domain appliers in order.
type CompositeDefaultApplier struct {
	appliers []DefaultApplier
}

func NewDefaultApplier() *CompositeDefaultApplier {
	return &CompositeDefaultApplier{
		appliers: []DefaultApplier{
			&BuildDefaultApplier{},
			&WatchDefaultApplier{},
			&ServerDefaultApplier{},
			&RolldownDefaultApplier{},
			&NotifyDefaultApplier{},
		},
	}
}

// ApplyDefaults applies defaults for all configuration domains.
func (c *CompositeDefaultApplier) ApplyDefaults(cfg *Config) error {
	for _, applier := range c.appliers {
		if err := applier.ApplyDefaults(cfg); err != nil {
			return fmt.Errorf("applying defaults for %s: %w", applier.Domain(), err)
		}
	}
	return nil
}

// Defaults returns a fresh configuration holding only built-in defaults.
func Defaults() *Config {
	cfg := &Config{}
	_ = NewDefaultApplier().ApplyDefaults(cfg)
	return cfg
}

type BuildDefaultApplier struct{}

func (b *BuildDefaultApplier) Domain() string { return "build" }

func (b *BuildDefaultApplier) ApplyDefaults(cfg *Config) error {
	if len(cfg.Formats) == 0 {
		cfg.Formats = []Format{FormatESM}
	}
	if cfg.Outdir == "" {
		cfg.Outdir = DefaultOutdir
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendEsbuild
	}
	if cfg.Charset == "" {
		cfg.Charset = CharsetUTF8
	}
	if cfg.Bundle == nil {
		cfg.Bundle = Bool(false)
	}
	return nil
}

type WatchDefaultApplier struct{}

func (w *WatchDefaultApplier) Domain() string { return "watch" }

func (w *WatchDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Watch.Debounce <= 0 {
		cfg.Watch.Debounce = DefaultDebounce
	}
	if cfg.Watch.MaxDelay <= 0 {
		cfg.Watch.MaxDelay = DefaultMaxDelay
	}
	// A max delay shorter than the quiet window would fire on every event.
	if cfg.Watch.MaxDelay < cfg.Watch.Debounce {
		cfg.Watch.MaxDelay = cfg.Watch.Debounce
	}
	return nil
}

type ServerDefaultApplier struct{}

func (s *ServerDefaultApplier) Domain() string { return "server" }

func (s *ServerDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.KillTimeout <= 0 {
		cfg.Server.KillTimeout = DefaultKillTimeout
	}
	return nil
}

type RolldownDefaultApplier struct{}

func (r *RolldownDefaultApplier) Domain() string { return "rolldown" }

func (r *RolldownDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Rolldown.Command == "" {
		cfg.Rolldown.Command = "rolldown"
	}
	return nil
}

type NotifyDefaultApplier struct{}

func (n *NotifyDefaultApplier) Domain() string { return "notify" }

func (n *NotifyDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Notify.URL != "" && cfg.Notify.Subject == "" {
		cfg.Notify.Subject = DefaultNotifySubject
	}
	return nil
}
