package index

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/edrsec/processchain/internal/models"
)

// MemoryFacade is an in-memory Facade implementation used by unit tests,
// serving alarms/logs seeded in code instead of a live search index. The
// CLI does not use it; it always queries the HTTP facade.
type MemoryFacade struct {
	alarmsByHost map[string][]models.RawAlarm
	logs         []models.RawLog
}

// NewMemoryFacade builds a facade over an already-loaded fixture.
func NewMemoryFacade(alarms []models.RawAlarm, logs []models.RawLog) *MemoryFacade {
	byHost := make(map[string][]models.RawAlarm)
	for _, a := range alarms {
		byHost[a.HostAddress] = append(byHost[a.HostAddress], a)
	}
	for host := range byHost {
		sortAlarms(byHost[host])
	}

	return &MemoryFacade{alarmsByHost: byHost, logs: logs}
}

func sortAlarms(alarms []models.RawAlarm) {
	rank := map[models.Severity]int{
		models.SeverityHigh:   3,
		models.SeverityMedium: 2,
		models.SeverityLow:    1,
	}
	sort.SliceStable(alarms, func(i, j int) bool {
		if rank[alarms[i].Severity] != rank[alarms[j].Severity] {
			return rank[alarms[i].Severity] > rank[alarms[j].Severity]
		}
		return alarms[i].Timestamp.Before(alarms[j].Timestamp)
	})
}

// BatchQueryAlarms returns the fixture's alarms for each requested host IP.
func (m *MemoryFacade) BatchQueryAlarms(ctx context.Context, ips []string, window time.Duration) (map[string][]models.RawAlarm, error) {
	result := make(map[string][]models.RawAlarm, len(ips))
	for _, ip := range ips {
		result[ip] = m.alarmsByHost[ip]
	}
	return result, nil
}

// BatchQueryLogs returns the fixture's logs matching any of the given
// (host, traceId) pairs, filtered to the recognized log types.
func (m *MemoryFacade) BatchQueryLogs(ctx context.Context, hostToTraceID map[string]string) ([]models.RawLog, error) {
	var out []models.RawLog
	for _, l := range m.logs {
		wantTrace, ok := hostToTraceID[l.HostAddress]
		if !ok || wantTrace != l.TraceID {
			continue
		}
		if !models.BuilderLogTypes[l.LogType] {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// QueryLogsByProcessGuids walks the fixture's logs upward from the given
// guids via parentProcessGuid. maxLevels counts ancestor hops above the
// starting guids (the starting guids themselves are level 0), so
// maxLevels=2 reaches a grandparent.
func (m *MemoryFacade) QueryLogsByProcessGuids(ctx context.Context, host string, processGuids []string, maxLevels int) ([]models.RawLog, error) {
	byGuid := make(map[string][]models.RawLog)
	for _, l := range m.logs {
		if l.HostAddress != host {
			continue
		}
		byGuid[l.ProcessGuid] = append(byGuid[l.ProcessGuid], l)
	}

	frontier := append([]string(nil), processGuids...)
	var out []models.RawLog
	seen := map[string]bool{}
	for _, g := range frontier {
		seen[g] = true
	}

	for level := 0; level <= maxLevels && len(frontier) > 0; level++ {
		var next []string
		for _, guid := range frontier {
			for _, l := range byGuid[guid] {
				out = append(out, l)
				if l.ParentProcessGuid != "" && !strings.HasPrefix(l.ParentProcessGuid, "EXPLORE_") && !seen[l.ParentProcessGuid] {
					seen[l.ParentProcessGuid] = true
					next = append(next, l.ParentProcessGuid)
				}
			}
		}
		frontier = next
	}

	return filterRecognizedTypes(out), nil
}
