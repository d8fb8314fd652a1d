package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(StoreConfig{
		DBPath: filepath.Join(t.TempDir(), "sessions.db"),
		Logger: zerolog.New(os.Stdout).Level(zerolog.Disabled),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetHistoryInitializesUnknownSession(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	history, err := s.GetHistory(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, history)

	// The read created a record.
	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAppendAndStoreRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	transcript := []Message{
		{Role: "user", Content: "list the files"},
		{Role: "assistant", Content: `{"tool": {"name": "ls", "args": {}}}`},
		{Role: "tool", Content: `["a.txt", "b.txt"]`},
	}
	assert.True(t, s.AppendAndStore(ctx, "sess-1", transcript))

	history, err := s.GetHistory(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, transcript, history)
}

func TestAppendAndStoreReplacesWholeHistory(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	assert.True(t, s.AppendAndStore(ctx, "sess-1", []Message{{Role: "user", Content: "first"}}))
	assert.True(t, s.AppendAndStore(ctx, "sess-1", []Message{{Role: "user", Content: "second"}}))

	history, err := s.GetHistory(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "second", history[0].Content)
}

func TestAppendAndStoreIsBestEffort(t *testing.T) {
	s := createTestStore(t)

	// Missing session id fails without an error reaching the caller.
	assert.False(t, s.AppendAndStore(context.Background(), "", []Message{{Role: "user", Content: "x"}}))

	// A closed store fails the same way.
	s.Close()
	assert.False(t, s.AppendAndStore(context.Background(), "sess-1", []Message{{Role: "user", Content: "x"}}))
}

func TestGetHistoryCorruptRowDegradesToEmpty(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.db.Exec(
		"INSERT INTO sessions (session_id, history_json, updated_at) VALUES (?, ?, ?)",
		"sess-bad", "{not json", time.Now().Unix(),
	)
	require.NoError(t, err)

	history, err := s.GetHistory(ctx, "sess-bad")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestPruneRemovesOnlyStaleSessions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.True(t, s.AppendAndStore(ctx, "fresh", []Message{{Role: "user", Content: "hi"}}))

	stale := time.Now().Add(-48 * time.Hour).Unix()
	_, err := s.db.Exec(
		"INSERT INTO sessions (session_id, history_json, updated_at) VALUES (?, ?, ?)",
		"stale", "[]", stale,
	)
	require.NoError(t, err)

	pruned, err := s.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewCleanerRejectsBadSchedule(t *testing.T) {
	s := createTestStore(t)
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	_, err := NewCleaner(s, "not a schedule", time.Hour, logger)
	assert.Error(t, err)

	c, err := NewCleaner(s, "@daily", 0, logger)
	require.NoError(t, err)
	assert.Equal(t, DefaultRetention, c.retention)
}
