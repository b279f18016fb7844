package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetBasics(t *testing.T) {
	s := New("b", "a")
	s.Add("c")
	assert.True(t, s.Has("a"))
	s.Delete("a")
	assert.False(t, s.Has("a"))

	c := s.Clone()
	c.Add("z")
	assert.False(t, s.Has("z"))
}

func TestSorted(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Sorted(New("c", "a", "b", "a")))
	assert.Empty(t, Sorted(New[string]()))
}
