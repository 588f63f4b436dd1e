package chain

import (
	"context"
	"testing"
	"time"

	"github.com/edrsec/processchain/internal/index"
	"github.com/edrsec/processchain/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alarm(traceID, processGuid, parentGuid string, sev models.Severity, ts time.Time) models.RawAlarm {
	return models.RawAlarm{
		EventID:           "evt-" + processGuid,
		TraceID:           traceID,
		HostAddress:       "10.0.0.1",
		ProcessGuid:       processGuid,
		ParentProcessGuid: parentGuid,
		LogType:           models.LogTypeProcess,
		Severity:          sev,
		Timestamp:         ts,
		StartTime:         ts,
	}
}

func processLog(traceID, processGuid, parentGuid string) models.RawLog {
	return models.RawLog{
		TraceID:           traceID,
		HostAddress:       "10.0.0.1",
		ProcessGuid:       processGuid,
		ParentProcessGuid: parentGuid,
		LogType:           models.LogTypeProcess,
		ProcessName:       processGuid + ".exe",
	}
}

func newOrchestrator(alarms []models.RawAlarm, logs []models.RawLog) *Orchestrator {
	facade := index.NewMemoryFacade(alarms, logs)
	return NewOrchestrator(facade, nil, DefaultLimits())
}

// Scenario A — single trace, real root, clean chain.
func TestOrchestrator_ScenarioA_RealRootCleanChain(t *testing.T) {
	now := time.Now()
	alarms := []models.RawAlarm{alarm("T001", "T001", "", models.SeverityHigh, now)}
	logs := []models.RawLog{
		processLog("T001", "T001", ""),
		processLog("T001", "CHILD_1", "T001"),
		processLog("T001", "CHILD_2", "CHILD_1"),
	}

	o := newOrchestrator(alarms, logs)
	result, err := o.Build(context.Background(), map[string]models.IpMappingRelation{"10.0.0.1": {}})
	require.NoError(t, err)

	require.Len(t, result.Chain.Nodes, 3)
	require.Len(t, result.Chain.Edges, 2)

	root := findRoot(t, result.Chain)
	assert.Equal(t, "T001", root.NodeID)

	for _, n := range result.Chain.Nodes {
		assert.NotEqual(t, ExploreRootID("T001"), n.NodeID)
	}
}

// Scenario B — single trace, no real root, one broken chain.
func TestOrchestrator_ScenarioB_BrokenChainGetsExploreRoot(t *testing.T) {
	now := time.Now()
	alarms := []models.RawAlarm{alarm("T001", "NODE_MIDDLE", "NODE_PARENT", models.SeverityHigh, now)}
	logs := []models.RawLog{
		processLog("T001", "NODE_MIDDLE", "NODE_PARENT"),
		processLog("T001", "NODE_CHILD", "NODE_MIDDLE"),
	}

	o := newOrchestrator(alarms, logs)
	result, err := o.Build(context.Background(), map[string]models.IpMappingRelation{"10.0.0.1": {}})
	require.NoError(t, err)

	require.Len(t, result.Chain.Nodes, 3)
	require.Len(t, result.Chain.Edges, 2)

	root := findRoot(t, result.Chain)
	assert.Equal(t, ExploreRootID("T001"), root.NodeID)

	found := false
	for _, e := range result.Chain.Edges {
		if e.Source == ExploreRootID("T001") && e.Target == "NODE_MIDDLE" {
			assert.Equal(t, models.EdgeAnnotationBrokenLnk, e.Val)
			found = true
		}
	}
	assert.True(t, found, "expected explore-root to broken-node edge")
}

// Scenario C — multiple traces, all real roots.
func TestOrchestrator_ScenarioC_MultipleRealRoots(t *testing.T) {
	now := time.Now()
	traces := []string{"T001", "T002", "T003"}
	hosts := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}

	var alarms []models.RawAlarm
	var logs []models.RawLog
	assoc := map[string]models.IpMappingRelation{}
	for i, trace := range traces {
		a := alarm(trace, trace, "", models.SeverityHigh, now)
		a.HostAddress = hosts[i]
		alarms = append(alarms, a)

		l := processLog(trace, trace, "")
		l.HostAddress = hosts[i]
		logs = append(logs, l)

		assoc[hosts[i]] = models.IpMappingRelation{}
	}

	facade := index.NewMemoryFacade(alarms, logs)
	o := NewOrchestrator(facade, nil, DefaultLimits())

	result, err := o.Build(context.Background(), assoc)
	require.NoError(t, err)

	roots := rootIDs(result.Chain)
	assert.ElementsMatch(t, traces, roots)
}

// Scenario D — multiple broken chains share a trace.
func TestOrchestrator_ScenarioD_MultipleBrokenChainsOneExploreRoot(t *testing.T) {
	now := time.Now()
	alarms := []models.RawAlarm{alarm("T001", "BRANCH_A", "PARENT_A", models.SeverityHigh, now)}
	logs := []models.RawLog{
		processLog("T001", "BRANCH_A", "PARENT_A"),
		processLog("T001", "BRANCH_B", "PARENT_B"),
		processLog("T001", "BRANCH_C", "PARENT_C"),
	}

	o := newOrchestrator(alarms, logs)
	result, err := o.Build(context.Background(), map[string]models.IpMappingRelation{"10.0.0.1": {}})
	require.NoError(t, err)

	roots := rootIDs(result.Chain)
	assert.ElementsMatch(t, []string{ExploreRootID("T001")}, roots)

	brokenEdgeCount := 0
	for _, e := range result.Chain.Edges {
		if e.Val == models.EdgeAnnotationBrokenLnk {
			brokenEdgeCount++
		}
	}
	assert.Equal(t, 3, brokenEdgeCount)
}

func findRoot(t *testing.T, chain *models.IncidentProcessChain) models.ProcessNode {
	t.Helper()
	roots := rootIDs(chain)
	require.Len(t, roots, 1)
	for _, n := range chain.Nodes {
		if n.NodeID == roots[0] {
			return n
		}
	}
	t.Fatal("root node not found among chain.Nodes")
	return models.ProcessNode{}
}

func rootIDs(chain *models.IncidentProcessChain) []string {
	var out []string
	for _, n := range chain.Nodes {
		if n.ChainNode != nil && n.ChainNode.IsRoot {
			out = append(out, n.NodeID)
		}
	}
	return out
}
