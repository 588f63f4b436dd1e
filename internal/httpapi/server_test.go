package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edrsec/processchain/internal/chain"
	"github.com/edrsec/processchain/internal/config"
	"github.com/edrsec/processchain/internal/history"
	"github.com/edrsec/processchain/internal/index"
	"github.com/edrsec/processchain/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAlarm(traceID, processGuid, parentGuid string) models.RawAlarm {
	now := time.Now()
	return models.RawAlarm{
		EventID:           "evt-" + traceID,
		TraceID:           traceID,
		HostAddress:       "10.0.0.1",
		ProcessGuid:       processGuid,
		ParentProcessGuid: parentGuid,
		LogType:           models.LogTypeProcess,
		Severity:          models.SeverityHigh,
		Timestamp:         now,
		StartTime:         now,
	}
}

func testProcessLog(traceID, processGuid, parentGuid string) models.RawLog {
	return models.RawLog{
		EventID:           "log-" + processGuid,
		TraceID:           traceID,
		HostAddress:       "10.0.0.1",
		ProcessGuid:       processGuid,
		ParentProcessGuid: parentGuid,
		LogType:           models.LogTypeProcess,
		Timestamp:         time.Now(),
	}
}

func newTestServer(t *testing.T) (*Server, *history.SQLiteStore) {
	t.Helper()
	facade := index.NewMemoryFacade(
		[]models.RawAlarm{testAlarm("T001", "T001", "")},
		[]models.RawLog{testProcessLog("T001", "T001", "")},
	)
	store, err := history.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := NewServer(config.ServerConfig{Addr: ":0", RequestDeadline: 5 * time.Second}, Deps{
		Facade:  facade,
		History: store,
		Limits:  chain.DefaultLimits(),
	})
	return srv, store
}

func TestHandleBatchGenerate_ReturnsChainAndRecordsHistory(t *testing.T) {
	srv, store := newTestServer(t)

	body, _ := json.Marshal(models.BatchGenerateRequest{
		IPAndAssociation: map[string]models.IpMappingRelation{
			"10.0.0.1": {},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/processchain/batch-generate", bytes.NewReader(body))
	w := httptest.NewRecorder()

	srv.handleBatchGenerate(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var got models.IncidentProcessChain
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Contains(t, got.TraceIDs, "T001")

	records, err := store.ListInvestigations(req.Context(), history.OperationBatchGenerate, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"10.0.0.1"}, records[0].HostIPs())
}

func TestHandleBatchGenerate_EmptyAssociationReturnsNullNot4xx(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(models.BatchGenerateRequest{})
	req := httptest.NewRequest(http.MethodPost, "/api/processchain/batch-generate", bytes.NewReader(body))
	w := httptest.NewRecorder()

	srv.handleBatchGenerate(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", w.Body.String())
}

func TestHandleHealthz_OKWhenDependenciesReachable(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	srv.handleHealthz(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var status healthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "ok", status.Checks["history"])
}
