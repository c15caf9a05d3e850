package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLSinkFromDSNErrors(t *testing.T) {
	_, err := NewSQLSinkFromDSN("")
	assert.Error(t, err)

	_, err = NewSQLSinkFromDSN("   ")
	assert.Error(t, err)
}

func TestSQLSinkSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := NewSQLSinkFromDSN(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	evts := []Event{
		{
			Type:       EventConnected,
			OccurredAt: time.Now().UTC(),
			Record:     Record{Stream: "front-door", Target: "rtsp://camera.local/s", Attempt: 2},
		},
		{
			Type:       EventDisconnected,
			OccurredAt: time.Now().UTC(),
			Record:     Record{Stream: "front-door", Target: "rtsp://camera.local/s", Attempt: 2, Reason: "source ended unexpectedly"},
		},
		{
			Type:       EventGaveUp,
			OccurredAt: time.Now().UTC(),
			Record:     Record{Stream: "front-door", Target: "rtsp://camera.local/s", Attempt: 10, Reason: "retry budget exhausted"},
		},
	}
	for _, e := range evts {
		require.NoError(t, s.Send(ctx, e))
	}

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relay_history`).Scan(&n))
	assert.Equal(t, 3, n)

	var event, stream, reason string
	require.NoError(t, s.db.QueryRowContext(ctx, `
		SELECT event, stream, reason FROM relay_history WHERE event = ?`, string(EventGaveUp)).
		Scan(&event, &stream, &reason))
	assert.Equal(t, "gave_up", event)
	assert.Equal(t, "front-door", stream)
	assert.Equal(t, "retry budget exhausted", reason)

	// Empty reasons are stored as NULL.
	var null any
	require.NoError(t, s.db.QueryRowContext(ctx, `
		SELECT reason FROM relay_history WHERE event = ?`, string(EventConnected)).Scan(&null))
	assert.Nil(t, null)
}

func TestSQLSinkSchemaIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := NewSQLSinkFromDSN("sqlite://" + path)
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), Event{
		Type: EventConnected, OccurredAt: time.Now(), Record: Record{Stream: "s", Target: "t"},
	}))
	require.NoError(t, s.Close())

	// Reopening against an existing schema must not fail.
	s, err = NewSQLSinkFromDSN("sqlite://" + path)
	require.NoError(t, err)

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM relay_history`).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, s.Close())
}

func TestSQLSinkDialectSelection(t *testing.T) {
	s, err := NewSQLSinkFromDSN(":memory:")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", s.dialect)
	require.NoError(t, s.Close())
}
