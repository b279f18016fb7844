package errors

// ErrorBuilder assembles a ClassifiedError.
type ErrorBuilder struct {
	err ClassifiedError
}

// NewError starts an error of severity error.
func NewError(category ErrorCategory, message string) *ErrorBuilder {
	return &ErrorBuilder{err: ClassifiedError{category: category, severity: SeverityError, message: message}}
}

// WrapError is NewError with a cause.
func WrapError(cause error, category ErrorCategory, message string) *ErrorBuilder {
	b := NewError(category, message)
	b.err.cause = cause
	return b
}

func (b *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	b.err.severity = severity
	return b
}

func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.err.context = b.err.context.Set(key, value)
	return b
}

func (b *ErrorBuilder) Fatal() *ErrorBuilder   { return b.WithSeverity(SeverityFatal) }
func (b *ErrorBuilder) Warning() *ErrorBuilder { return b.WithSeverity(SeverityWarning) }

// Build returns the error. The builder must not be reused.
func (b *ErrorBuilder) Build() *ClassifiedError {
	e := b.err
	return &e
}

// ConfigError is fatal: the process cannot continue with a bad configuration.
func ConfigError(message string) *ErrorBuilder {
	return NewError(CategoryConfig, message).Fatal()
}

func ValidationError(message string) *ErrorBuilder {
	return NewError(CategoryValidation, message).Fatal()
}

func NotFoundError(message string) *ErrorBuilder {
	return NewError(CategoryNotFound, message)
}

func BuildError(message string) *ErrorBuilder {
	return NewError(CategoryBuild, message)
}

func BackendError(message string) *ErrorBuilder {
	return NewError(CategoryBackend, message)
}

func PluginError(message string) *ErrorBuilder {
	return NewError(CategoryPlugin, message)
}

// DeclarationError is a warning; declaration output never fails a build.
func DeclarationError(message string) *ErrorBuilder {
	return NewError(CategoryDeclaration, message).Warning()
}

func FileSystemError(message string) *ErrorBuilder {
	return NewError(CategoryFileSystem, message)
}

func WatchError(message string) *ErrorBuilder {
	return NewError(CategoryWatch, message)
}

func ServerError(message string) *ErrorBuilder {
	return NewError(CategoryServer, message)
}

// ProcessError is a warning; supervision failures recover on the next cycle.
func ProcessError(message string) *ErrorBuilder {
	return NewError(CategoryProcess, message).Warning()
}

func NetworkError(message string) *ErrorBuilder {
	return NewError(CategoryNetwork, message)
}

func RuntimeError(message string) *ErrorBuilder {
	return NewError(CategoryRuntime, message).Fatal()
}

func InternalError(message string) *ErrorBuilder {
	return NewError(CategoryInternal, message).Fatal()
}
