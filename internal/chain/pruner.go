package chain

import (
	"sort"

	"github.com/edrsec/processchain/internal/errors"
	"github.com/edrsec/processchain/internal/models"
	"github.com/sirupsen/logrus"
)

// importance score contributions, additive per node.
const (
	scoreNetworkAssociatedAlarm = 1000
	scoreAlarmHigh              = 100
	scoreAlarmMedium            = 50
	scoreAlarmLow               = 20
	scoreRoot                   = 80
	scorePerNeighbor            = 2
	scoreNeighborCap            = 30
	scoreHasLog                 = 10
	scoreProcessType            = 5
)

// Pruner drops the lowest-scoring nodes when the graph exceeds
// Limits.MaxNodeCount, transactionally: a validation failure restores the
// pre-prune snapshot bit-for-bit rather than emitting a partially pruned
// graph.
type Pruner struct {
	logger *logrus.Logger
}

// NewPruner builds a Pruner.
func NewPruner(logger *logrus.Logger) *Pruner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pruner{logger: logger}
}

type pruneSnapshot struct {
	nodes   map[string]BuilderNode
	edges   []BuilderEdge
	rootMap map[string]string
}

// Prune is a no-op when the graph is already within bounds (idempotence on
// already-small inputs). It reports whether it fired at all and, if it
// fired, whether validation forced a rollback to the pre-prune snapshot —
// the two signals internal/audit tracks as the pruner's degrade rate.
func (p *Pruner) Prune(tc *TraversalContext) (fired, rolledBack bool) {
	if tc.Index.Len() <= tc.Limits.MaxNodeCount {
		return false, false
	}

	snapshot := p.snapshot(tc)

	if err := p.pruneInPlace(tc); err != nil {
		p.rollback(tc, snapshot)
		rollbackErr := errors.NewPruneRollbackError(err, "")
		p.logger.WithError(rollbackErr).Error("裁剪失败回滚")
		return true, true
	}

	if err := p.validate(tc); err != nil {
		p.rollback(tc, snapshot)
		rollbackErr := errors.NewPruneRollbackError(err, "")
		p.logger.WithError(rollbackErr).Error("裁剪失败回滚")
		return true, true
	}

	return true, false
}

func (p *Pruner) snapshot(tc *TraversalContext) pruneSnapshot {
	nodes := make(map[string]BuilderNode, tc.Index.Len())
	for guid, n := range tc.Index.All() {
		nodes[guid] = *n
	}
	edges := make([]BuilderEdge, len(tc.Edges))
	copy(edges, tc.Edges)
	rootMap := make(map[string]string, len(tc.TraceIDToRootNodeMap))
	for traceID, rootID := range tc.TraceIDToRootNodeMap {
		rootMap[traceID] = rootID
	}
	return pruneSnapshot{nodes: nodes, edges: edges, rootMap: rootMap}
}

func (p *Pruner) rollback(tc *TraversalContext, snapshot pruneSnapshot) {
	fresh := NewNodeIndex()
	for _, saved := range snapshot.nodes {
		n := saved
		fresh.Add(&n)
	}
	for guid, saved := range snapshot.nodes {
		n := fresh.Get(guid)
		if saved.IsRoot {
			fresh.SetRoot(n, true)
		}
		if saved.IsBroken {
			fresh.SetBroken(n, true)
		}
		if saved.IsAlarm {
			fresh.SetAlarm(n, true)
		}
	}
	tc.Index = fresh
	tc.Edges = append([]BuilderEdge(nil), snapshot.edges...)
	for traceID, rootID := range snapshot.rootMap {
		tc.TraceIDToRootNodeMap[traceID] = rootID
	}
}

func (p *Pruner) pruneInPlace(tc *TraversalContext) error {
	mandatory := p.mandatoryKeepSet(tc)

	type scored struct {
		guid  string
		score int
	}
	scores := make([]scored, 0, tc.Index.Len())
	outDegree := p.outDegree(tc)

	for guid, n := range tc.Index.All() {
		if mandatory[guid] {
			continue
		}
		scores = append(scores, scored{guid: guid, score: p.score(n, outDegree[guid], tc.NetworkAssociatedEventIDs)})
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].score < scores[j].score })

	removed := make(map[string]bool)
	i := 0
	for tc.Index.Len() > tc.Limits.MaxNodeCount && i < len(scores) {
		tc.Index.Remove(scores[i].guid)
		removed[scores[i].guid] = true
		i++
	}

	// Edges still include the removed nodes at this point, so the chain
	// below a pruned extension root can still be walked before it is cut.
	p.migrateRoots(tc, removed)

	tc.Edges = RemoveEdgesTouching(tc.Edges, removed)

	return nil
}

// migrateRoots moves the root flag off a just-removed extension ancestor
// onto the next surviving node down its chain, so pruning an EXTENDED_ROOT's
// ancestors reverts the trace to REAL_ROOT instead of leaving it rootless.
func (p *Pruner) migrateRoots(tc *TraversalContext, removed map[string]bool) {
	for traceID, currentRootID := range tc.TraceIDToRootNodeMap {
		if !removed[currentRootID] {
			continue
		}
		next := p.nextSurvivingDescendant(tc, currentRootID, removed)
		if next == "" {
			continue
		}
		if n := tc.Index.Get(next); n != nil {
			tc.Index.SetRoot(n, true)
		}
		tc.TraceIDToRootNodeMap[traceID] = next
	}
}

// nextSurvivingDescendant follows the single outgoing edge from guid,
// through any other removed nodes in the chain, until it reaches a node that
// survived pruning. Returns "" if the chain dead-ends without one.
func (p *Pruner) nextSurvivingDescendant(tc *TraversalContext, guid string, removed map[string]bool) string {
	cursor := guid
	visited := map[string]bool{cursor: true}
	for {
		child := ""
		for _, e := range tc.Edges {
			if e.SourceGuid == cursor {
				child = e.TargetGuid
				break
			}
		}
		if child == "" || visited[child] {
			return ""
		}
		visited[child] = true
		if !removed[child] {
			return child
		}
		cursor = child
	}
}

func (p *Pruner) outDegree(tc *TraversalContext) map[string]int {
	out := make(map[string]int)
	for _, e := range tc.Edges {
		out[e.SourceGuid]++
	}
	return out
}

func (p *Pruner) score(n *BuilderNode, outDegree int, networkAssociated map[string]bool) int {
	score := 0

	if n.IsAlarm {
		networkAssociatedAlarm := false
		for _, a := range n.Alarms {
			if networkAssociated[a.EventID] {
				networkAssociatedAlarm = true
				break
			}
		}
		if networkAssociatedAlarm {
			score += scoreNetworkAssociatedAlarm
		}
		switch n.MaxSeverity() {
		case models.SeverityHigh:
			score += scoreAlarmHigh
		case models.SeverityMedium:
			score += scoreAlarmMedium
		case models.SeverityLow:
			score += scoreAlarmLow
		}
	}

	if n.IsRoot {
		score += scoreRoot
	}

	neighborScore := outDegree * scorePerNeighbor
	if neighborScore > scoreNeighborCap {
		neighborScore = scoreNeighborCap
	}
	score += neighborScore

	if len(n.Logs) > 0 {
		score += scoreHasLog
	}
	if n.LogType == models.LogTypeProcess {
		score += scoreProcessType
	}

	return score
}

// mandatoryKeepSet is every non-extension root ∪ alarm nodes ∪
// network-associated nodes ∪ every ancestor on the alarm-to-root path of
// every alarm node. A root created by upward extension is deliberately left
// out: it is only ever an ancestor scaffold above the real root, and must
// stay prunable so an over-budget graph can shed it and fall back to the
// real root underneath, via migrateRoots.
func (p *Pruner) mandatoryKeepSet(tc *TraversalContext) map[string]bool {
	keep := make(map[string]bool)

	for guid, n := range tc.Index.RootNodes() {
		if !n.IsExtensionNode {
			keep[guid] = true
		}
	}
	for guid, n := range tc.Index.AlarmNodes() {
		keep[guid] = true
		p.markAncestorPath(tc, n, keep)
	}
	for _, n := range tc.Index.All() {
		for _, a := range n.Alarms {
			if tc.NetworkAssociatedEventIDs[a.EventID] {
				keep[n.ProcessGuid] = true
				break
			}
		}
	}

	return keep
}

// markAncestorPath walks from n up to its root, adding every ancestor to
// keep. Extension ancestors are walked past but deliberately not added: they
// sit between the alarm and an EXTENDED_ROOT purely as scaffold, and must
// stay as prunable as the extended root itself so the chain can fall back
// to its REAL_ROOT under pressure.
func (p *Pruner) markAncestorPath(tc *TraversalContext, n *BuilderNode, keep map[string]bool) {
	cursor := n.ParentProcessGuid
	visited := map[string]bool{n.ProcessGuid: true}
	depth := 0
	for cursor != "" && depth < tc.Limits.MaxTraverseDepth {
		if visited[cursor] {
			break
		}
		visited[cursor] = true
		parent := tc.Index.Get(cursor)
		if parent == nil {
			break
		}
		if !parent.IsExtensionNode {
			keep[cursor] = true
		}
		cursor = parent.ParentProcessGuid
		depth++
	}
	if cursor != "" && depth >= tc.Limits.MaxTraverseDepth {
		depthErr := errors.NewDepthExceededError(n.TraceID, depth, tc.Limits.MaxTraverseDepth)
		p.logger.WithError(depthErr).Warn("ancestor path walk hit depth bound, remaining ancestors left prunable")
	}
}

func (p *Pruner) validate(tc *TraversalContext) error {
	if tc.Index.Len() == 0 {
		return errors.InternalError("prune produced an empty graph")
	}
	for traceID := range tc.TraceIDs {
		found := false
		for _, n := range tc.Index.NodesForTrace(traceID) {
			if n.IsRoot {
				found = true
				break
			}
		}
		if !found {
			return errors.InternalErrorf("prune removed the only root for trace %s", traceID)
		}
	}
	for _, n := range tc.Index.All() {
		for _, a := range n.Alarms {
			if tc.NetworkAssociatedEventIDs[a.EventID] {
				if tc.Index.Get(n.ProcessGuid) == nil {
					return errors.InternalErrorf("prune removed network-associated node %s", n.ProcessGuid)
				}
			}
		}
	}
	return nil
}
