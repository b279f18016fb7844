package errors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
)

// Exit codes returned by the CLI.
const (
	ExitGeneral  = 1
	ExitUsage    = 2
	ExitConfig   = 7
	ExitExternal = 8
	ExitInternal = 10
	ExitBuild    = 11
	ExitRuntime  = 12
)

var exitCodes = map[ErrorCategory]int{
	CategoryValidation:  ExitUsage,
	CategoryConfig:      ExitConfig,
	CategoryNotFound:    ExitConfig,
	CategoryNetwork:     ExitExternal,
	CategoryBuild:       ExitBuild,
	CategoryBackend:     ExitBuild,
	CategoryPlugin:      ExitBuild,
	CategoryDeclaration: ExitBuild,
	CategoryFileSystem:  ExitBuild,
	CategoryWatch:       ExitRuntime,
	CategoryServer:      ExitRuntime,
	CategoryProcess:     ExitRuntime,
	CategoryRuntime:     ExitRuntime,
	CategoryInternal:    ExitInternal,
}

// CLIErrorAdapter prints errors and picks the process exit code.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
	out     io.Writer
	exit    func(int)
}

func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{verbose: verbose, logger: logger, out: os.Stderr, exit: os.Exit}
}

// ExitCodeFor returns 0 for nil and 1 for unclassified errors.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	c, ok := AsClassified(err)
	if !ok {
		return ExitGeneral
	}
	if code, ok := exitCodes[c.Category()]; ok {
		return code
	}
	return ExitGeneral
}

// FormatError renders err for the terminal. Without -v, internal errors
// hide their details.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	c, ok := AsClassified(err)
	switch {
	case !ok:
		return fmt.Sprintf("Error: %v", err)
	case a.verbose:
		return c.Error()
	case c.Category() == CategoryInternal:
		return "Internal error occurred (use -v for details)"
	case c.Cause() != nil:
		return fmt.Sprintf("Error: %s: %v", c.Message(), c.Cause())
	default:
		return fmt.Sprintf("Error: %s", c.Message())
	}
}

// HandleError logs and prints err, then exits with its code.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}
	if a.shouldLog(err) {
		a.logError(err)
	}
	fmt.Fprintln(a.out, a.FormatError(err))
	a.exit(a.ExitCodeFor(err))
}

func (a *CLIErrorAdapter) shouldLog(err error) bool {
	if a.verbose {
		return true
	}
	c, ok := AsClassified(err)
	return !ok || c.IsFatal()
}

func (a *CLIErrorAdapter) logError(err error) {
	c, ok := AsClassified(err)
	if !ok {
		a.logger.Error("Unclassified error", slog.Any("error", err))
		return
	}
	attrs := []slog.Attr{slog.String("category", string(c.Category()))}
	keys := make([]string, 0, len(c.Context()))
	for k := range c.Context() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, c.Context()[k]))
	}
	a.logger.LogAttrs(context.Background(), levelFor(c.Severity()), c.Message(), attrs...)
}

func levelFor(s ErrorSeverity) slog.Level {
	switch s {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
