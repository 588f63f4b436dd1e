package chain

import (
	"strings"

	"github.com/edrsec/processchain/internal/errors"
	"github.com/edrsec/processchain/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	networkRoleAttacker = "attacker"
	networkRoleVictim   = "victim"
	networkRoleServer   = "server"
)

// Merger unions a network-side (nodes, edges) pair with the endpoint
// IncidentProcessChain and adds bridge edges from each network victim to
// its corresponding endpoint root.
type Merger struct {
	logger *logrus.Logger
}

// NewMerger builds a Merger.
func NewMerger(logger *logrus.Logger) *Merger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Merger{logger: logger}
}

// Merge appends the network side onto chain and emits bridge edges using
// hostToTraceID and traceIDToRootNodeMap (passed separately, per the
// builder's contract, rather than carried on the business output). The
// second return value reports whether at least one victim's bridge edge
// was omitted for want of a trace or root mapping — internal/audit's
// merger degrade signal.
func (m *Merger) Merge(chain *models.IncidentProcessChain, networkNodes []models.NetworkNode, networkEdges []models.NetworkEdge, hostToTraceID map[string]string, traceIDToRootNodeMap map[string]string) (*models.IncidentProcessChain, bool) {
	merged := &models.IncidentProcessChain{
		Nodes:          append([]models.ProcessNode(nil), chain.Nodes...),
		Edges:          append([]models.ProcessEdge(nil), chain.Edges...),
		TraceIDs:       chain.TraceIDs,
		HostAddresses:  chain.HostAddresses,
		ThreatSeverity: chain.ThreatSeverity,
	}

	for _, nn := range networkNodes {
		merged.Nodes = append(merged.Nodes, models.ProcessNode{
			NodeID:      nn.NodeID,
			IsChainNode: false,
		})
	}
	for _, ne := range networkEdges {
		merged.Edges = append(merged.Edges, models.ProcessEdge{Source: ne.Source, Target: ne.Target, Val: ne.Val})
	}

	if len(traceIDToRootNodeMap) == 0 {
		m.logger.Warn("traceIdToRootNodeMap empty at merge time, omitting all bridge edges")
		return merged, true
	}

	degraded := false
	for _, nn := range networkNodes {
		if nn.Role != networkRoleVictim {
			continue
		}
		traceID, ok := hostToTraceID[nn.IP]
		if !ok {
			m.logger.WithField("ip", nn.IP).Warn("no traceId mapped for victim ip, skipping bridge")
			degraded = true
			continue
		}
		rootID, ok := traceIDToRootNodeMap[traceID]
		if !ok {
			missErr := errors.NewMergeMapMissError(nn.NodeID)
			m.logger.WithError(missErr).WithField("trace_id", traceID).Warn("no root mapped for trace, skipping bridge")
			degraded = true
			continue
		}
		merged.Edges = append(merged.Edges, models.ProcessEdge{Source: nn.NodeID, Target: rootID, Val: ""})
	}

	return merged, degraded
}

// RoleCorrector swaps attacker/victim labels on network nodes that
// contradict the incident's stated focus, then reverse-corrects directly
// connected neighbors that shared the old, now-wrong label.
type RoleCorrector struct{}

// NewRoleCorrector builds a RoleCorrector.
func NewRoleCorrector() *RoleCorrector { return &RoleCorrector{} }

// Correct mutates nodes in place (nodes is the network-side slice passed to
// the merger, before the append into the business output).
func (rc *RoleCorrector) Correct(nodes []models.NetworkNode, edges []models.NetworkEdge, focusIPs string, focusObject string) {
	if focusObject != networkRoleAttacker && focusObject != networkRoleVictim {
		return
	}

	focusSet := make(map[string]bool)
	for _, ip := range strings.Split(focusIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			focusSet[ip] = true
		}
	}
	if len(focusSet) == 0 {
		return
	}

	byID := make(map[string]*models.NetworkNode, len(nodes))
	for i := range nodes {
		byID[nodes[i].NodeID] = &nodes[i]
	}

	swapped := make(map[string]string)

	for i := range nodes {
		n := &nodes[i]
		if n.Role == networkRoleServer || !focusSet[n.IP] {
			continue
		}
		if n.Role != focusObject {
			oldRole := n.Role
			oldID := n.NodeID
			n.Role = focusObject
			n.NodeID = renameRoleInID(oldID, oldRole, n.Role)
			swapped[oldID] = oldRole
		}
	}

	if len(swapped) == 0 {
		return
	}

	for originalID, oldRole := range swapped {
		_ = originalID
		newRole := oppositeRole(oldRole)
		for _, e := range edges {
			neighborID := neighborOf(e, originalID)
			if neighborID == "" {
				continue
			}
			neighbor, ok := byID[neighborID]
			if !ok || neighbor.Role == networkRoleServer {
				continue
			}
			if neighbor.Role == oldRole {
				neighbor.Role = newRole
				neighbor.NodeID = renameRoleInID(neighbor.NodeID, oldRole, newRole)
			}
		}
	}
}

func neighborOf(e models.NetworkEdge, nodeID string) string {
	switch nodeID {
	case e.Source:
		return e.Target
	case e.Target:
		return e.Source
	default:
		return ""
	}
}

func oppositeRole(role string) string {
	if role == networkRoleAttacker {
		return networkRoleVictim
	}
	return networkRoleAttacker
}

func renameRoleInID(id, oldRole, newRole string) string {
	if strings.Contains(id, oldRole) {
		return strings.Replace(id, oldRole, newRole, 1)
	}
	return id
}
