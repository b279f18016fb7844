package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderDefaults(t *testing.T) {
	err := BackendError("esbuild rebuild failed").WithContext("format", "esm").Build()

	assert.Equal(t, CategoryBackend, err.Category())
	assert.Equal(t, SeverityError, err.Severity())
	assert.False(t, err.IsFatal())
	format, ok := err.Context().GetString("format")
	assert.True(t, ok)
	assert.Equal(t, "esm", format)
	assert.Equal(t, "[backend:error] esbuild rebuild failed", err.Error())
}

func TestConstructorSeverities(t *testing.T) {
	assert.True(t, ConfigError("x").Build().IsFatal())
	assert.True(t, ValidationError("x").Build().IsFatal())
	assert.True(t, InternalError("x").Build().IsFatal())
	assert.Equal(t, SeverityWarning, DeclarationError("x").Build().Severity())
	assert.Equal(t, SeverityWarning, ProcessError("x").Build().Severity())
	assert.Equal(t, SeverityError, WatchError("x").Build().Severity())
}

func TestWrapErrorKeepsCause(t *testing.T) {
	cause := errors.New("ENOENT")
	err := WrapError(cause, CategoryFileSystem, "read tsconfig").Warning().Build()

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, err.Cause())
	assert.Equal(t, "[filesystem:warning] read tsconfig: ENOENT", err.Error())
}

func TestSentinelMatchesAfterWithContext(t *testing.T) {
	sentinel := BuildError("emit already in flight").Build()
	err := fmt.Errorf("emit: %w", sentinel.WithContext("cycle", 3))

	assert.ErrorIs(t, err, sentinel)
	assert.NotErrorIs(t, err, BuildError("other").Build())
	_, ok := sentinel.Context().Get("cycle")
	assert.False(t, ok, "WithContext copies")
}

func TestAsClassifiedSearchesChain(t *testing.T) {
	inner := PluginError("onStart failed").Build()
	joined := errors.Join(errors.New("plain"), fmt.Errorf("phase: %w", inner))

	got, ok := AsClassified(joined)
	require.True(t, ok)
	assert.Same(t, inner, got)
	assert.True(t, HasCategory(joined, CategoryPlugin))
	assert.False(t, IsClassified(joined))
	assert.True(t, IsClassified(inner))
}

func TestCategoryAndSeverityFallbacks(t *testing.T) {
	plain := errors.New("x")
	assert.Equal(t, CategoryInternal, GetCategory(plain))
	assert.Equal(t, SeverityError, GetSeverity(plain))
	assert.False(t, HasSeverity(plain, SeverityError))

	w := NetworkError("dial").Warning().Build()
	assert.Equal(t, CategoryNetwork, GetCategory(w))
	assert.True(t, HasSeverity(w, SeverityWarning))
}

func TestErrorContext(t *testing.T) {
	var c ErrorContext
	c = c.Set("path", "src/index.ts")
	merged := c.Merge(ErrorContext{"path": "src/main.ts", "line": 4})

	p, _ := c.GetString("path")
	assert.Equal(t, "src/index.ts", p)
	p, _ = merged.GetString("path")
	assert.Equal(t, "src/main.ts", p)
	_, ok := merged.GetString("line")
	assert.False(t, ok, "non-string value")
	v, ok := merged.Get("line")
	assert.True(t, ok)
	assert.Equal(t, 4, v)
}
