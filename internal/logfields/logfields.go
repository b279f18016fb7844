package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyCycleID    = "cycle_id"
	KeyPhase      = "phase"
	KeyHook       = "hook"
	KeyPlugin     = "plugin"
	KeyBackend    = "backend"
	KeyFormat     = "format"
	KeyMode       = "mode"
	KeyPath       = "path"
	KeyCount      = "count"
	KeyPID        = "pid"
	KeyAddr       = "addr"
	KeyProject    = "project"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func CycleID(id string) slog.Attr     { return slog.String(KeyCycleID, id) }
func Phase(name string) slog.Attr     { return slog.String(KeyPhase, name) }
func Hook(name string) slog.Attr      { return slog.String(KeyHook, name) }
func Plugin(name string) slog.Attr    { return slog.String(KeyPlugin, name) }
func Backend(kind string) slog.Attr   { return slog.String(KeyBackend, kind) }
func Format(f string) slog.Attr       { return slog.String(KeyFormat, f) }
func Mode(m string) slog.Attr         { return slog.String(KeyMode, m) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }
func PID(pid int) slog.Attr           { return slog.Int(KeyPID, pid) }
func Addr(a string) slog.Attr         { return slog.String(KeyAddr, a) }
func Project(name string) slog.Attr   { return slog.String(KeyProject, name) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }

// Duration converts d to milliseconds for DurationMS.
func Duration(d time.Duration) slog.Attr {
	return DurationMS(float64(d.Microseconds()) / 1000)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
