// Package index exposes the query facade the chain engine depends on: three
// batched lookups over an external search index (or, for tests and local
// runs, an in-memory stand-in). Every concrete implementation returns
// filtered-only logs and degrades to an empty result on timeout rather than
// propagating a transport exception to callers.
package index

import (
	"context"
	"time"

	"github.com/edrsec/processchain/internal/models"
)

// Facade is the narrow contract the chain engine consumes. Concrete
// backends (HTTPFacade against a real search index, MemoryFacade for tests)
// implement it identically.
type Facade interface {
	// BatchQueryAlarms fetches candidate alarms for each host IP within
	// window, ordered per-IP by severity desc then time asc.
	BatchQueryAlarms(ctx context.Context, ips []string, window time.Duration) (map[string][]models.RawAlarm, error)

	// BatchQueryLogs fetches logs for the given (host, traceId) pairs,
	// filtered to models.BuilderLogTypes.
	BatchQueryLogs(ctx context.Context, hostToTraceID map[string]string) ([]models.RawLog, error)

	// QueryLogsByProcessGuids follows parentProcessGuid upward from the
	// given guids, up to maxLevels, scoped to host. Used only by the
	// upward extender.
	QueryLogsByProcessGuids(ctx context.Context, host string, processGuids []string, maxLevels int) ([]models.RawLog, error)
}
