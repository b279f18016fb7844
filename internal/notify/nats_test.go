package notify

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/tsbuild/internal/config"
	"git.home.luguber.info/inful/tsbuild/internal/events"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
)

func TestNewMessage(t *testing.T) {
	started := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	m := NewMessage(events.CycleFinished{
		ID:        "c7",
		Mode:      "dev",
		StartedAt: started,
		Duration:  1500 * time.Microsecond,
		Phases:    map[string]time.Duration{"compile": time.Millisecond},
		Err:       errors.New("syntax error"),
	}, "web", "deadbeef")

	assert.Equal(t, "failed", m.Outcome)
	assert.Equal(t, "syntax error", m.Error)
	assert.InDelta(t, 1.5, m.DurationMS, 0.001)
	assert.InDelta(t, 1.0, m.PhasesMS["compile"], 0.001)

	data, err := Encode(m)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "web", decoded["project"])
	assert.Equal(t, "deadbeef", decoded["revision"])
	assert.Equal(t, "c7", decoded["id"])
}

func TestSuccessOmitsError(t *testing.T) {
	data, err := Encode(NewMessage(events.CycleFinished{ID: "ok"}, "p", ""))
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"error"`)
	assert.NotContains(t, string(data), `"revision"`)
}

func TestNewNATSClientRequiresURL(t *testing.T) {
	_, err := NewNATSClient(t.Context(), config.NotifyConfig{})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestNewNATSClientUnreachable(t *testing.T) {
	_, err := NewNATSClient(t.Context(), config.NotifyConfig{URL: "nats://127.0.0.1:1", Subject: "x"})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNetwork))
}
