package history

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Operation names an investigation entry point.
type Operation string

const (
	OperationBatchGenerate Operation = "batch-generate"
	OperationMergeChain    Operation = "merge-chain"
)

// Record is one row of the investigation history: not a cache of the
// reconstructed graph, but a searchable audit trail of what was asked for
// and what the pipeline produced. HostIPs and TraceIDs are persisted as
// comma-joined strings since neither backend's driver here maps Go slices
// to SQL array columns.
type Record struct {
	ID               uuid.UUID `db:"id"`
	Operation        Operation `db:"operation"`
	HostIPsJoined    string    `db:"host_ips"`
	TraceIDsJoined   string    `db:"trace_ids"`
	ThreatSeverity   string    `db:"threat_severity"`
	NodeCount        int       `db:"node_count"`
	EdgeCount        int       `db:"edge_count"`
	PrunerFired      bool      `db:"pruner_fired"`
	PrunerRolledBack bool      `db:"pruner_rolled_back"`
	FailedClosed     bool      `db:"failed_closed"`
	CreatedAt        time.Time `db:"created_at"`
}

// HostIPs splits the joined column back into a slice.
func (r *Record) HostIPs() []string { return splitJoined(r.HostIPsJoined) }

// TraceIDs splits the joined column back into a slice.
func (r *Record) TraceIDs() []string { return splitJoined(r.TraceIDsJoined) }

// SetHostIPs joins ips into the storage column.
func (r *Record) SetHostIPs(ips []string) { r.HostIPsJoined = strings.Join(ips, ",") }

// SetTraceIDs joins traceIDs into the storage column.
func (r *Record) SetTraceIDs(traceIDs []string) { r.TraceIDsJoined = strings.Join(traceIDs, ",") }

func splitJoined(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// NewRecord builds a Record ready for insertion, stamped with createdAt
// rather than calling time.Now() itself so callers control the clock.
func NewRecord(op Operation, hostIPs, traceIDs []string, threatSeverity string, nodeCount, edgeCount int, prunerFired, prunerRolledBack, failedClosed bool, createdAt time.Time) *Record {
	r := &Record{
		ID:               uuid.New(),
		Operation:        op,
		ThreatSeverity:   threatSeverity,
		NodeCount:        nodeCount,
		EdgeCount:        edgeCount,
		PrunerFired:      prunerFired,
		PrunerRolledBack: prunerRolledBack,
		FailedClosed:     failedClosed,
		CreatedAt:        createdAt,
	}
	r.SetHostIPs(hostIPs)
	r.SetTraceIDs(traceIDs)
	return r
}
