package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/tsbuild/internal/events"
	ferrors "git.home.luguber.info/inful/tsbuild/internal/foundation/errors"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndGet(t *testing.T) {
	store := newStore(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := FromEvent(events.CycleFinished{
		ID:        "c1",
		Mode:      "build",
		StartedAt: started,
		Duration:  250 * time.Millisecond,
		Phases:    map[string]time.Duration{"compile": 200 * time.Millisecond, "on_end": 50 * time.Millisecond},
	}, "abc123")
	require.NoError(t, store.Append(t.Context(), rec))

	got, err := store.Get(t.Context(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "build", got.Mode)
	assert.Equal(t, "success", got.Outcome)
	assert.Equal(t, "abc123", got.Revision)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Equal(t, 250*time.Millisecond, got.Duration)
	assert.Equal(t, 200*time.Millisecond, got.Phases["compile"])
	assert.Empty(t, got.Error)
}

func TestGetMissing(t *testing.T) {
	store := newStore(t)
	_, err := store.Get(t.Context(), "nope")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
}

func TestRecentNewestFirst(t *testing.T) {
	store := newStore(t)
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Append(t.Context(), Record{
			ID: id, Mode: "dev", Outcome: "success",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recent, err := store.Recent(t.Context(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].ID)
	assert.Equal(t, "b", recent[1].ID)
}

func TestSummary(t *testing.T) {
	store := newStore(t)
	now := time.Now()

	sum, err := store.Summary(t.Context())
	require.NoError(t, err)
	assert.Zero(t, sum.Total)
	assert.Nil(t, sum.LastFailure)

	require.NoError(t, store.Append(t.Context(), FromEvent(events.CycleFinished{
		ID: "ok", Mode: "dev", StartedAt: now, Duration: 100 * time.Millisecond,
	}, "")))
	require.NoError(t, store.Append(t.Context(), FromEvent(events.CycleFinished{
		ID: "bad", Mode: "dev", StartedAt: now.Add(time.Second), Duration: 300 * time.Millisecond,
		Err: errors.New("type error"),
	}, "")))

	sum, err = store.Summary(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 200*time.Millisecond, sum.MeanDuration)
	require.NotNil(t, sum.LastFailure)
	assert.Equal(t, "bad", sum.LastFailure.ID)
	assert.Equal(t, "type error", sum.LastFailure.Error)
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".tsbuild", "history.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Append(t.Context(), Record{ID: "x", Mode: "build", Outcome: "success", StartedAt: time.Now()}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	_, err = reopened.Get(t.Context(), "x")
	assert.NoError(t, err)
}
