package chain

import (
	"fmt"

	"github.com/edrsec/processchain/internal/models"
)

// EntityExtractor emits non-process entity nodes from the non-process logs
// held on each process node, once the process skeleton has stabilized.
// Entity nodes never have children and never participate in root/broken
// logic.
type EntityExtractor struct{}

// NewEntityExtractor builds an EntityExtractor.
func NewEntityExtractor() *EntityExtractor { return &EntityExtractor{} }

// Extract walks every process node's log list and materializes one entity
// node per distinct salient key, deduplicated across the whole graph.
func (ex *EntityExtractor) Extract(tc *TraversalContext) {
	seen := make(map[string]bool)

	for _, n := range tc.Index.All() {
		if n.IsVirtual || IsExploreRootID(n.ProcessGuid) {
			continue
		}
		for _, l := range n.Logs {
			if l.LogType == models.LogTypeProcess {
				continue
			}
			key := salientKey(l)
			if key == "" {
				continue
			}
			entityID := EntityID(l.LogType, key)

			if !seen[entityID] {
				seen[entityID] = true
				entity := &BuilderNode{
					ProcessGuid: entityID,
					TraceID:     n.TraceID,
					HostAddress: n.HostAddress,
					LogType:     l.LogType,
				}
				tc.Index.Add(entity)
			}

			tc.AddEdge(n.ProcessGuid, entityID, l.OpType)
		}
	}
}

func salientKey(l models.RawLog) string {
	switch l.LogType {
	case models.LogTypeFile:
		if l.FileMd5 != "" {
			return l.FileMd5
		}
		return l.TargetFilename
	case models.LogTypeDomain:
		return l.RequestDomain
	case models.LogTypeNetwork:
		if l.DestAddress == "" {
			return ""
		}
		return fmt.Sprintf("%s:%d", l.DestAddress, l.DestPort)
	case models.LogTypeRegistry:
		if l.RegistryPath == "" {
			return ""
		}
		return fmt.Sprintf("%s=%s", l.RegistryPath, l.RegistryValue)
	default:
		return ""
	}
}
