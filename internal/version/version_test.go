package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert.NotEmpty(t, Version)
	assert.Contains(t, String(), "tsbuild ")
	assert.Contains(t, String(), GitCommit)
}

func TestStringUsesLdflags(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })
	Version = "v9.9.9"
	assert.Contains(t, String(), "tsbuild v9.9.9")
}
