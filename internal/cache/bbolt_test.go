package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedAlarm struct {
	TraceID string `json:"trace_id"`
	Count   int    `json:"count"`
}

func newTestBboltBackend(t *testing.T) *BboltBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	b, err := NewBboltBackend(path)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBboltBackend_SetGetRoundTrip(t *testing.T) {
	b := newTestBboltBackend(t)
	ctx := context.Background()

	want := cachedAlarm{TraceID: "trace-1", Count: 3}
	require.NoError(t, b.Set(ctx, "alarms:10.0.0.5:host", want, time.Minute))

	var got cachedAlarm
	found, err := b.Get(ctx, "alarms:10.0.0.5:host", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)
}

func TestBboltBackend_MissReturnsFalseNotError(t *testing.T) {
	b := newTestBboltBackend(t)
	ctx := context.Background()

	var got cachedAlarm
	found, err := b.Get(ctx, "missing-key", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBboltBackend_ExpiredEntryIsMiss(t *testing.T) {
	b := newTestBboltBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "alarms:10.0.0.5:host", cachedAlarm{TraceID: "t"}, time.Millisecond))
	time.Sleep(10 * time.Millisecond)

	var got cachedAlarm
	found, err := b.Get(ctx, "alarms:10.0.0.5:host", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBboltBackend_Delete(t *testing.T) {
	b := newTestBboltBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", cachedAlarm{TraceID: "t"}, time.Minute))
	require.NoError(t, b.Delete(ctx, "k"))

	var got cachedAlarm
	found, err := b.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBboltBackend_HealthCheck(t *testing.T) {
	b := newTestBboltBackend(t)
	assert.NoError(t, b.HealthCheck(context.Background()))
}

func TestBatchKey(t *testing.T) {
	assert.Equal(t, "alarms:10.0.0.5", BatchKey("alarms", "10.0.0.5", ""))
	assert.Equal(t, "logs:10.0.0.5:evt-42", BatchKey("logs", "10.0.0.5", "evt-42"))
}
