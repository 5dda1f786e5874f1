package callog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore("file:" + t.TempDir() + "/calls.db?_journal_mode=WAL")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCallLifecycleRecords(t *testing.T) {
	s := newTestStore(t)

	opened := time.Now()
	require.NoError(t, s.CallOpened("c1", opened))
	// Re-opening the same id is ignored, not an error.
	require.NoError(t, s.CallOpened("c1", opened.Add(time.Second)))

	require.NoError(t, s.CallClosed("c1", "hangup", opened.Add(time.Minute)))

	var reason string
	var closedAt int64
	err := s.db.QueryRow(`SELECT close_reason, closed_at_ms FROM calls WHERE call_id = ?`, "c1").
		Scan(&reason, &closedAt)
	require.NoError(t, err)
	assert.Equal(t, "hangup", reason)
	assert.Equal(t, opened.Add(time.Minute).UnixMilli(), closedAt)
}

func TestTurnOrdinalsIncrement(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CallOpened("c1", time.Now()))

	require.NoError(t, s.TurnRecorded("c1", "user", "hello", time.Now()))
	require.NoError(t, s.TurnRecorded("c1", "assistant", "hi there", time.Now()))
	require.NoError(t, s.TurnRecorded("c2", "user", "other call", time.Now()))

	n, err := s.TurnCount("c1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := s.db.Query(`SELECT ordinal, role FROM call_turns WHERE call_id = ? ORDER BY ordinal`, "c1")
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	var ordinals []int
	var roles []string
	for rows.Next() {
		var o int
		var r string
		require.NoError(t, rows.Scan(&o, &r))
		ordinals = append(ordinals, o)
		roles = append(roles, r)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []int{0, 1}, ordinals)
	assert.Equal(t, []string{"user", "assistant"}, roles)
}
