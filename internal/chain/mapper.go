package chain

import (
	"sort"

	"github.com/edrsec/processchain/internal/models"
)

// ToOutput converts a stabilized TraversalContext into the business output
// shape. It is the single pure mapping function for this package: given the
// same TraversalContext it always produces the same IncidentProcessChain,
// with no side effects and no dependency on anything but its argument.
func ToOutput(tc *TraversalContext) *models.IncidentProcessChain {
	chain := &models.IncidentProcessChain{
		ThreatSeverity: models.SeverityLow,
	}

	nodes := tc.Index.All()
	guids := make([]string, 0, len(nodes))
	for guid := range nodes {
		guids = append(guids, guid)
	}
	sort.Strings(guids)

	for _, guid := range guids {
		chain.Nodes = append(chain.Nodes, nodeToOutput(nodes[guid]))
		if rank(nodes[guid].MaxSeverity()) > rank(chain.ThreatSeverity) {
			chain.ThreatSeverity = nodes[guid].MaxSeverity()
		}
	}

	for _, e := range tc.Edges {
		chain.Edges = append(chain.Edges, models.ProcessEdge{
			Source: e.SourceGuid,
			Target: e.TargetGuid,
			Val:    e.Annotation,
		})
	}

	for traceID := range tc.TraceIDs {
		chain.TraceIDs = append(chain.TraceIDs, traceID)
	}
	sort.Strings(chain.TraceIDs)

	hosts := make(map[string]bool)
	for _, n := range nodes {
		if n.HostAddress != "" {
			hosts[n.HostAddress] = true
		}
	}
	for h := range hosts {
		chain.HostAddresses = append(chain.HostAddresses, h)
	}
	sort.Strings(chain.HostAddresses)

	if chain.ThreatSeverity == "" {
		chain.ThreatSeverity = models.SeverityLow
	}

	return chain
}

func nodeToOutput(n *BuilderNode) models.ProcessNode {
	isEntity := n.LogType != models.LogTypeProcess && n.LogType != "EXPLORE"

	out := models.ProcessNode{
		NodeID:             n.ProcessGuid,
		IsChainNode:        !isEntity,
		LogType:            n.LogType,
		NodeThreatSeverity: n.MaxSeverity(),
	}

	if isEntity {
		return out
	}

	chainNode := &models.ChainNode{
		IsRoot:          n.IsRoot,
		IsBroken:        n.IsBroken,
		IsAlarm:         n.IsAlarm,
		IsExtensionNode: n.IsExtensionNode,
		ExtensionDepth:  n.ExtensionDepth,
		IsVirtual:       n.IsVirtual,
		ProcessEntity: &models.ProcessEntity{
			ProcessGuid:       n.ProcessGuid,
			ParentProcessGuid: n.ParentProcessGuid,
			ProcessName:       n.ProcessName,
			Image:             n.Image,
			CommandLine:       n.CommandLine,
			ProcessMd5:        n.ProcessMd5,
			HostAddress:       n.HostAddress,
		},
	}

	if n.IsAlarm {
		eventIDs := make([]string, 0, len(n.Alarms))
		for _, a := range n.Alarms {
			eventIDs = append(eventIDs, a.EventID)
		}
		chainNode.AlarmNodeInfo = &models.AlarmNodeInfo{
			EventIDs:    eventIDs,
			MaxSeverity: n.MaxSeverity(),
		}
	}

	out.ChainNode = chainNode
	return out
}

func rank(s models.Severity) int {
	switch s {
	case models.SeverityHigh:
		return 3
	case models.SeverityMedium:
		return 2
	case models.SeverityLow:
		return 1
	default:
		return 0
	}
}
