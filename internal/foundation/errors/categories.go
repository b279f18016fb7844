package errors

import "maps"

// ErrorCategory classifies an error for exit codes, HTTP status and logging.
type ErrorCategory string

const (
	// User input.
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"
	CategoryNotFound   ErrorCategory = "not_found"

	// Compile cycle.
	CategoryBuild       ErrorCategory = "build"
	CategoryBackend     ErrorCategory = "backend"
	CategoryPlugin      ErrorCategory = "plugin"
	CategoryDeclaration ErrorCategory = "declaration"
	CategoryFileSystem  ErrorCategory = "filesystem"

	// Dev mode infrastructure.
	CategoryWatch   ErrorCategory = "watch"
	CategoryServer  ErrorCategory = "server"
	CategoryProcess ErrorCategory = "process"
	CategoryNetwork ErrorCategory = "network"

	CategoryRuntime  ErrorCategory = "runtime"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity is the impact of an error.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // stops the process
	SeverityError   ErrorSeverity = "error"   // fails the current operation
	SeverityWarning ErrorSeverity = "warning" // degraded, work continues
	SeverityInfo    ErrorSeverity = "info"
)

// ErrorContext carries structured details for logs and responses.
type ErrorContext map[string]any

// Set stores value under key, allocating the map when nil.
func (c ErrorContext) Set(key string, value any) ErrorContext {
	if c == nil {
		c = make(ErrorContext)
	}
	c[key] = value
	return c
}

func (c ErrorContext) Get(key string) (any, bool) {
	value, ok := c[key]
	return value, ok
}

func (c ErrorContext) GetString(key string) (string, bool) {
	s, ok := c[key].(string)
	return s, ok
}

// Merge returns a new context; keys in other win.
func (c ErrorContext) Merge(other ErrorContext) ErrorContext {
	result := make(ErrorContext, len(c)+len(other))
	maps.Copy(result, c)
	maps.Copy(result, other)
	return result
}
