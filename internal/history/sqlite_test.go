package history

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_RecordAndGetInvestigation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := NewRecord(
		OperationBatchGenerate,
		[]string{"10.0.0.1", "10.0.0.2"},
		[]string{"T001", "T002"},
		"high",
		12, 9,
		true, false, false,
		time.Now(),
	)

	require.NoError(t, store.RecordInvestigation(ctx, rec))

	got, err := store.GetInvestigation(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, OperationBatchGenerate, got.Operation)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, got.HostIPs())
	assert.Equal(t, []string{"T001", "T002"}, got.TraceIDs())
	assert.Equal(t, "high", got.ThreatSeverity)
	assert.True(t, got.PrunerFired)
	assert.False(t, got.PrunerRolledBack)
}

func TestSQLiteStore_GetInvestigation_MissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetInvestigation(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListInvestigations_FiltersByOperationAndOrdersRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	older := NewRecord(OperationBatchGenerate, []string{"10.0.0.1"}, []string{"T001"}, "low", 1, 0, false, false, false, now.Add(-time.Hour))
	newer := NewRecord(OperationBatchGenerate, []string{"10.0.0.2"}, []string{"T002"}, "medium", 2, 1, false, false, false, now)
	merge := NewRecord(OperationMergeChain, []string{"10.0.0.3"}, []string{"T003"}, "high", 3, 2, true, true, false, now)

	require.NoError(t, store.RecordInvestigation(ctx, older))
	require.NoError(t, store.RecordInvestigation(ctx, newer))
	require.NoError(t, store.RecordInvestigation(ctx, merge))

	generated, err := store.ListInvestigations(ctx, OperationBatchGenerate, 10)
	require.NoError(t, err)
	require.Len(t, generated, 2)
	assert.Equal(t, newer.ID, generated[0].ID)
	assert.Equal(t, older.ID, generated[1].ID)

	all, err := store.ListInvestigations(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
