package chain

import (
	"context"
	"testing"
	"time"

	"github.com/edrsec/processchain/internal/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exactly one root per trace, across every scenario shape the orchestrator
// can produce: real root, broken chain, extended root, mixed multi-trace.
func TestInvariant_ExactlyOneRootPerTrace(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name   string
		alarms []models.RawAlarm
		logs   []models.RawLog
	}{
		{
			name:   "real root",
			alarms: []models.RawAlarm{alarm("T001", "T001", "", models.SeverityHigh, now)},
			logs:   []models.RawLog{processLog("T001", "T001", "")},
		},
		{
			name:   "broken chain",
			alarms: []models.RawAlarm{alarm("T001", "MID", "MISSING", models.SeverityHigh, now)},
			logs:   []models.RawLog{processLog("T001", "MID", "MISSING")},
		},
		{
			name:   "extended root",
			alarms: []models.RawAlarm{alarm("ROOT", "ROOT", "", models.SeverityHigh, now)},
			logs: []models.RawLog{
				processLog("ROOT", "ROOT", "PARENT"),
				processLog("ROOT", "PARENT", ""),
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := newOrchestrator(tc.alarms, tc.logs)
			result, err := o.Build(context.Background(), map[string]models.IpMappingRelation{"10.0.0.1": {}})
			require.NoError(t, err)

			count := 0
			traceID := tc.alarms[0].TraceID
			for _, n := range result.Chain.Nodes {
				if n.ChainNode != nil && n.ChainNode.IsRoot {
					count++
					assert.Equal(t, result.TraceIDToRootNodeMap[traceID], n.NodeID)
				}
			}
			assert.Equal(t, 1, count)
		})
	}
}

// a broken node always has a path to its trace's explore root.
func TestInvariant_BrokenNodeReachesExploreRoot(t *testing.T) {
	now := time.Now()
	alarms := []models.RawAlarm{alarm("T001", "BRANCH_A", "PARENT_A", models.SeverityHigh, now)}
	logs := []models.RawLog{
		processLog("T001", "BRANCH_A", "PARENT_A"),
		processLog("T001", "BRANCH_B", "PARENT_B"),
	}

	o := newOrchestrator(alarms, logs)
	result, err := o.Build(context.Background(), map[string]models.IpMappingRelation{"10.0.0.1": {}})
	require.NoError(t, err)

	exploreID := ExploreRootID("T001")
	reachable := map[string]bool{}
	for _, e := range result.Chain.Edges {
		if e.Source == exploreID {
			reachable[e.Target] = true
		}
	}

	for _, n := range result.Chain.Nodes {
		if n.ChainNode != nil && n.ChainNode.IsBroken {
			assert.True(t, reachable[n.NodeID], "broken node %s must be directly reachable from explore root", n.NodeID)
		}
	}
}

// no node is simultaneously flagged root and broken.
func TestInvariant_NoSimultaneousRootAndBroken(t *testing.T) {
	now := time.Now()
	alarms := []models.RawAlarm{alarm("ROOT", "ROOT", "", models.SeverityHigh, now)}
	logs := []models.RawLog{
		processLog("ROOT", "ROOT", "PARENT"),
		processLog("ROOT", "PARENT", ""),
		processLog("ROOT", "CHILD", "ROOT"),
	}

	o := newOrchestrator(alarms, logs)
	result, err := o.Build(context.Background(), map[string]models.IpMappingRelation{"10.0.0.1": {}})
	require.NoError(t, err)

	for _, n := range result.Chain.Nodes {
		if n.ChainNode == nil {
			continue
		}
		assert.False(t, n.ChainNode.IsRoot && n.ChainNode.IsBroken, "node %s flagged both root and broken", n.NodeID)
	}
}

// NodeIndex's secondary sets never drift from the flags stored on the node
// itself — the whole point of routing every mutation through setFlag.
func TestInvariant_NodeIndexFlagSetsMatchNodeFields(t *testing.T) {
	idx := NewNodeIndex()
	n := &BuilderNode{ProcessGuid: "p1", TraceID: "T001", HostAddress: "10.0.0.1"}
	idx.Add(n)

	idx.SetRoot(n, true)
	idx.SetAlarm(n, true)
	assert.True(t, n.IsRoot)
	assert.True(t, n.IsAlarm)
	_, inRoots := idx.RootNodes()["p1"]
	_, inAlarms := idx.AlarmNodes()["p1"]
	assert.True(t, inRoots)
	assert.True(t, inAlarms)

	idx.SetRoot(n, false)
	assert.False(t, n.IsRoot)
	_, inRoots = idx.RootNodes()["p1"]
	assert.False(t, inRoots)

	idx.Remove("p1")
	assert.Nil(t, idx.Get("p1"))
	_, inAlarms = idx.AlarmNodes()["p1"]
	assert.False(t, inAlarms)
}

// pruning an already-small graph is a no-op: calling it twice produces
// identical state.
func TestInvariant_PrunerIdempotentBelowBound(t *testing.T) {
	tc := NewTraversalContext(DefaultLimits())
	tc.TraceIDs["T001"] = true
	n := &BuilderNode{ProcessGuid: "T001", TraceID: "T001", HostAddress: "10.0.0.1"}
	tc.Index.Add(n)
	tc.Index.SetRoot(n, true)

	p := NewPruner(nil)
	fired, rolledBack := p.Prune(tc)
	assert.False(t, fired)
	assert.False(t, rolledBack)
	assert.Equal(t, 1, tc.Index.Len())
	fired, rolledBack = p.Prune(tc)
	assert.False(t, fired)
	assert.False(t, rolledBack)
	assert.Equal(t, 1, tc.Index.Len())
}

// a validation failure after pruning rolls the index back to its exact
// pre-prune state rather than emitting a partially pruned graph. Forced here
// by registering a trace with no backing node at all, so validate()'s
// every-trace-has-a-root check always fails regardless of what pruneInPlace
// removed.
func TestInvariant_PrunerRollsBackOnValidationFailure(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxNodeCount = 2
	tc := NewTraversalContext(limits)
	tc.TraceIDs["T001"] = true
	tc.TraceIDs["GHOST"] = true

	root := &BuilderNode{ProcessGuid: "T001", TraceID: "T001", HostAddress: "10.0.0.1"}
	tc.Index.Add(root)
	tc.Index.SetRoot(root, true)

	for i := 0; i < 4; i++ {
		guid := "leaf" + string(rune('A'+i))
		n := &BuilderNode{ProcessGuid: guid, ParentProcessGuid: "T001", TraceID: "T001", HostAddress: "10.0.0.1"}
		tc.Index.Add(n)
		tc.AddEdge("T001", guid, models.EdgeAnnotationOrdinary)
	}
	preCount := tc.Index.Len()
	require.Greater(t, preCount, limits.MaxNodeCount)

	p := NewPruner(nil)
	fired, rolledBack := p.Prune(tc)

	assert.True(t, fired)
	assert.True(t, rolledBack)
	assert.Equal(t, preCount, tc.Index.Len(), "rollback must restore every pruned node")
	for _, guid := range []string{"leafA", "leafB", "leafC", "leafD"} {
		assert.NotNil(t, tc.Index.Get(guid))
	}
}

// the merger never omits a required bridge when both maps resolve, and
// never bridges attacker/server roles under any circumstance.
func TestInvariant_BridgeExistsWhenMapsResolve(t *testing.T) {
	chain := &models.IncidentProcessChain{Nodes: []models.ProcessNode{{NodeID: "T001"}}}
	networkNodes := []models.NetworkNode{
		{NodeID: "victim_10.0.0.1", IP: "10.0.0.1", Role: networkRoleVictim},
		{NodeID: "attacker_1.2.3.4", IP: "1.2.3.4", Role: networkRoleAttacker},
		{NodeID: "server_5.6.7.8", IP: "5.6.7.8", Role: networkRoleServer},
	}
	hostToTraceID := map[string]string{"10.0.0.1": "T001", "1.2.3.4": "T001", "5.6.7.8": "T001"}
	traceIDToRootNodeMap := map[string]string{"T001": "T001"}

	merger := NewMerger(nil)
	merged, degraded := merger.Merge(chain, networkNodes, nil, hostToTraceID, traceIDToRootNodeMap)
	assert.False(t, degraded)

	bridgeCount := 0
	for _, e := range merged.Edges {
		if e.Target == "T001" && e.Source != "" {
			bridgeCount++
			assert.Equal(t, "victim_10.0.0.1", e.Source)
		}
	}
	assert.Equal(t, 1, bridgeCount)
}

// per-node log accumulation stops at the configured cap rather than growing
// unbounded, for a node that is neither an alarm node nor carrying any
// network-associated log.
func TestInvariant_LogAccumulationCapsAtLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxLogsPerNode = 3
	tc := NewTraversalContext(limits)

	alarms := []models.RawAlarm{alarm("T001", "T001", "", models.SeverityHigh, time.Now())}
	logs := []models.RawLog{processLog("T001", "T001", "")}
	for i := 0; i < 10; i++ {
		logs = append(logs, processLog("T001", "CHILD", "T001"))
	}

	b := NewBuilder(limits, nil)
	require.NoError(t, b.Assemble(tc, "10.0.0.1", "T001", alarms, logs))

	n := tc.Index.Get("CHILD")
	require.NotNil(t, n)
	assert.LessOrEqual(t, len(n.Logs), limits.MaxLogsPerNode)
	assert.True(t, n.LogLimitReached)
}

// alarm nodes never drop logs, and never have their alarm list capped,
// regardless of how far past MaxLogsPerNode they accumulate.
func TestInvariant_AlarmNodeLogsAndAlarmsNeverCapped(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxLogsPerNode = 3
	tc := NewTraversalContext(limits)

	var alarms []models.RawAlarm
	for i := 0; i < 10; i++ {
		alarms = append(alarms, alarm("T001", "T001", "", models.SeverityHigh, time.Now()))
	}
	var logs []models.RawLog
	for i := 0; i < 10; i++ {
		logs = append(logs, processLog("T001", "T001", ""))
	}

	b := NewBuilder(limits, nil)
	require.NoError(t, b.Assemble(tc, "10.0.0.1", "T001", alarms, logs))

	n := tc.Index.Get("T001")
	require.NotNil(t, n)
	assert.Len(t, n.Alarms, 10)
	assert.Len(t, n.Logs, 10)
	assert.False(t, n.LogLimitReached)
}

// a log whose eventId is in the request's network-associated set is never
// dropped even on a non-alarm node past the cap.
func TestInvariant_NetworkAssociatedLogsNeverCapped(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxLogsPerNode = 3
	tc := NewTraversalContext(limits)
	tc.NetworkAssociatedEventIDs["assoc-evt"] = true

	alarms := []models.RawAlarm{alarm("T001", "T001", "", models.SeverityHigh, time.Now())}
	logs := []models.RawLog{processLog("T001", "T001", "")}
	for i := 0; i < 10; i++ {
		l := processLog("T001", "CHILD", "T001")
		l.EventID = "assoc-evt"
		logs = append(logs, l)
	}

	b := NewBuilder(limits, nil)
	require.NoError(t, b.Assemble(tc, "10.0.0.1", "T001", alarms, logs))

	n := tc.Index.Get("CHILD")
	require.NotNil(t, n)
	assert.Len(t, n.Logs, 10)
	assert.False(t, n.LogLimitReached)
}

// the cap-trip warning is emitted exactly once per node, not once per
// dropped log.
func TestInvariant_LogCapWarningEmittedOnce(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxLogsPerNode = 3
	tc := NewTraversalContext(limits)

	alarms := []models.RawAlarm{alarm("T001", "T001", "", models.SeverityHigh, time.Now())}
	logs := []models.RawLog{processLog("T001", "T001", "")}
	for i := 0; i < 10; i++ {
		logs = append(logs, processLog("T001", "CHILD", "T001"))
	}

	logger, hook := test.NewNullLogger()
	b := NewBuilder(limits, logger)
	require.NoError(t, b.Assemble(tc, "10.0.0.1", "T001", alarms, logs))

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "log cap reached for node, further logs dropped" {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings)
}

// a processGuid already indexed under one trace is refused, not silently
// merged, when a different trace references the same guid.
func TestInvariant_CrossTraceProcessGuidCollisionRefused(t *testing.T) {
	limits := DefaultLimits()
	tc := NewTraversalContext(limits)

	b := NewBuilder(limits, nil)
	require.NoError(t, b.Assemble(tc, "10.0.0.1", "T001",
		[]models.RawAlarm{alarm("T001", "T001", "", models.SeverityHigh, time.Now())}, nil))

	err := b.Assemble(tc, "10.0.0.2", "T002",
		[]models.RawAlarm{alarm("T002", "T001", "", models.SeverityHigh, time.Now())}, nil)
	require.Error(t, err)
}

// upward extension never walks past Limits.MaxExtDepth ancestor hops.
func TestInvariant_ExtensionDepthBounded(t *testing.T) {
	now := time.Now()
	alarms := []models.RawAlarm{alarm("ROOT_001", "ROOT_001", "", models.SeverityHigh, now)}
	logs := []models.RawLog{
		processLog("ROOT_001", "ROOT_001", "P1"),
		processLog("ROOT_001", "P1", "P2"),
		processLog("ROOT_001", "P2", "P3"),
		processLog("ROOT_001", "P3", "P4"),
		processLog("ROOT_001", "P4", ""),
	}

	o := newOrchestrator(alarms, logs)
	result, err := o.Build(context.Background(), map[string]models.IpMappingRelation{"10.0.0.1": {}})
	require.NoError(t, err)

	for _, n := range result.Chain.Nodes {
		if n.ChainNode != nil && n.ChainNode.IsExtensionNode {
			assert.LessOrEqual(t, n.ChainNode.ExtensionDepth, DefaultLimits().MaxExtDepth)
		}
	}
}
