package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/edrsec/processchain/internal/chain"
	"github.com/edrsec/processchain/internal/history"
	"github.com/edrsec/processchain/internal/models"
)

// handleBatchGenerate handles POST /api/processchain/batch-generate. Empty
// or missing ipAndAssociation returns 200 with a null body rather than a
// 4xx, per the external interface's error policy.
func (s *Server) handleBatchGenerate(w http.ResponseWriter, r *http.Request) {
	var req models.BatchGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.WithError(err).Error("batch-generate: invalid request body")
		writeJSON(w, http.StatusOK, nil)
		return
	}

	if len(req.IPAndAssociation) == 0 {
		s.logger.Error("batch-generate: empty ipAndAssociation")
		writeJSON(w, http.StatusOK, nil)
		return
	}

	orchestrator := chain.NewOrchestrator(s.facade, s.logger, s.limits)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := orchestrator.Build(ctx, req.IPAndAssociation)
	if err != nil {
		s.logger.WithError(err).Error("batch-generate: pipeline failed, failing closed")
		writeJSON(w, http.StatusOK, nil)
		return
	}

	s.recordInvestigation(ctx, history.OperationBatchGenerate, req.IPAndAssociation, result, false)

	writeJSON(w, http.StatusOK, result.Chain)
}

// handleMergeChain handles POST /api/processchain/merge-chain.
func (s *Server) handleMergeChain(w http.ResponseWriter, r *http.Request) {
	var req models.MergeChainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.WithError(err).Error("merge-chain: invalid request body")
		writeJSON(w, http.StatusOK, nil)
		return
	}

	if len(req.IPAndAssociation) == 0 {
		s.logger.Error("merge-chain: empty ipMappingRelation")
		writeJSON(w, http.StatusOK, nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	orchestrator := chain.NewOrchestrator(s.facade, s.logger, s.limits)
	result, err := orchestrator.Build(ctx, req.IPAndAssociation)
	if err != nil {
		s.logger.WithError(err).Error("merge-chain: pipeline failed, failing closed")
		writeJSON(w, http.StatusOK, nil)
		return
	}

	networkNodes := req.NetworkNodes
	if req.FocusIP != "" {
		rc := chain.NewRoleCorrector()
		rc.Correct(networkNodes, req.NetworkEdges, req.FocusIP, req.FocusObject)
	}

	merger := chain.NewMerger(s.logger)
	merged, mergeDegraded := merger.Merge(result.Chain, networkNodes, req.NetworkEdges, result.HostToTraceID, result.TraceIDToRootNodeMap)

	if s.audit != nil {
		traceID := firstTraceID(result.Chain)
		if err := s.audit.RecordMerge(ctx, traceID, mergeDegraded); err != nil {
			s.logger.WithError(err).Warn("merge-chain: failed to record audit event")
		}
	}

	s.recordInvestigation(ctx, history.OperationMergeChain, req.IPAndAssociation, result, mergeDegraded)

	writeJSON(w, http.StatusOK, merged)
}

// handleHealthz handles GET /healthz, reporting the facade, cache, and
// history store as independently checked dependencies.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := healthStatus{Status: "ok", Checks: map[string]string{}}

	if s.cache != nil {
		if err := s.cache.HealthCheck(ctx); err != nil {
			status.Checks["cache"] = err.Error()
			status.Status = "degraded"
		} else {
			status.Checks["cache"] = "ok"
		}
	}

	if s.history != nil {
		if _, err := s.history.ListInvestigations(ctx, "", 1); err != nil {
			status.Checks["history"] = err.Error()
			status.Status = "degraded"
		} else {
			status.Checks["history"] = "ok"
		}
	}

	if s.audit != nil {
		if err := s.audit.HealthCheck(ctx); err != nil {
			status.Checks["audit"] = err.Error()
			status.Status = "degraded"
		} else {
			status.Checks["audit"] = "ok"
		}
	}

	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// recordInvestigation writes one history row for a completed
// batch-generate/merge-chain call, swallowing store errors since the
// investigation log must never fail a request that already succeeded.
func (s *Server) recordInvestigation(ctx context.Context, op history.Operation, ipAndAssociation map[string]models.IpMappingRelation, result *chain.Result, failedClosed bool) {
	if s.history == nil {
		return
	}

	hostIPs := make([]string, 0, len(ipAndAssociation))
	for ip := range ipAndAssociation {
		hostIPs = append(hostIPs, ip)
	}

	rec := history.NewRecord(
		op,
		hostIPs,
		result.Chain.TraceIDs,
		string(result.Chain.ThreatSeverity),
		len(result.Chain.Nodes),
		len(result.Chain.Edges),
		result.PrunerFired,
		result.PrunerRolledBack,
		failedClosed,
		time.Now(),
	)

	if err := s.history.RecordInvestigation(ctx, rec); err != nil {
		s.logger.WithError(err).Warn("failed to record investigation history")
	}

	if s.audit != nil && result.PrunerFired {
		traceID := firstTraceID(result.Chain)
		if err := s.audit.RecordPrune(ctx, traceID, result.PrunerRolledBack); err != nil {
			s.logger.WithError(err).Warn("failed to record prune audit event")
		}
	}
}

func firstTraceID(c *models.IncidentProcessChain) string {
	if c == nil || len(c.TraceIDs) == 0 {
		return ""
	}
	return c.TraceIDs[0]
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		w.Write([]byte("null"))
		return
	}
	json.NewEncoder(w).Encode(body)
}
