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

// Scenario E — mixed real and broken roots across traces.
func TestOrchestrator_ScenarioE_MixedRealAndBrokenRoots(t *testing.T) {
	now := time.Now()

	a1 := alarm("T001", "T001", "", models.SeverityHigh, now)
	a1.HostAddress = "10.0.0.1"
	a2 := alarm("T002", "MIDDLE_2", "MISSING_PARENT_2", models.SeverityHigh, now)
	a2.HostAddress = "10.0.0.2"
	a3 := alarm("T003", "MIDDLE_3", "MISSING_PARENT_3", models.SeverityHigh, now)
	a3.HostAddress = "10.0.0.3"

	l1 := processLog("T001", "T001", "")
	l1.HostAddress = "10.0.0.1"
	l2 := processLog("T002", "MIDDLE_2", "MISSING_PARENT_2")
	l2.HostAddress = "10.0.0.2"
	l3 := processLog("T003", "MIDDLE_3", "MISSING_PARENT_3")
	l3.HostAddress = "10.0.0.3"

	facade := index.NewMemoryFacade([]models.RawAlarm{a1, a2, a3}, []models.RawLog{l1, l2, l3})
	o := NewOrchestrator(facade, nil, DefaultLimits())

	assoc := map[string]models.IpMappingRelation{
		"10.0.0.1": {}, "10.0.0.2": {}, "10.0.0.3": {},
	}
	result, err := o.Build(context.Background(), assoc)
	require.NoError(t, err)

	roots := rootIDs(result.Chain)
	assert.ElementsMatch(t, []string{"T001", ExploreRootID("T002"), ExploreRootID("T003")}, roots)

	assert.Equal(t, "T001", result.TraceIDToRootNodeMap["T001"])
	assert.Equal(t, ExploreRootID("T002"), result.TraceIDToRootNodeMap["T002"])
	assert.Equal(t, ExploreRootID("T003"), result.TraceIDToRootNodeMap["T003"])
}

// Scenario F — upward extension with skip.
func TestOrchestrator_ScenarioF_UpwardExtension(t *testing.T) {
	now := time.Now()
	alarms := []models.RawAlarm{alarm("ROOT_001", "ROOT_001", "", models.SeverityHigh, now)}
	logs := []models.RawLog{
		processLog("ROOT_001", "ROOT_001", "PARENT_001"),
		processLog("ROOT_001", "PARENT_001", "GRAND_001"),
		processLog("ROOT_001", "GRAND_001", ""),
	}

	facade := index.NewMemoryFacade(alarms, logs)
	o := NewOrchestrator(facade, nil, DefaultLimits())

	result, err := o.Build(context.Background(), map[string]models.IpMappingRelation{"10.0.0.1": {}})
	require.NoError(t, err)

	roots := rootIDs(result.Chain)
	require.Len(t, roots, 1)
	assert.Equal(t, "GRAND_001", roots[0])
	assert.Equal(t, "GRAND_001", result.TraceIDToRootNodeMap["ROOT_001"])

	var original, parent, grand *models.ProcessNode
	for i := range result.Chain.Nodes {
		switch result.Chain.Nodes[i].NodeID {
		case "ROOT_001":
			original = &result.Chain.Nodes[i]
		case "PARENT_001":
			parent = &result.Chain.Nodes[i]
		case "GRAND_001":
			grand = &result.Chain.Nodes[i]
		}
	}
	require.NotNil(t, original)
	require.NotNil(t, parent)
	require.NotNil(t, grand)

	assert.False(t, original.ChainNode.IsRoot)
	assert.True(t, parent.ChainNode.IsExtensionNode)
	assert.Equal(t, 1, parent.ChainNode.ExtensionDepth)
	assert.True(t, grand.ChainNode.IsExtensionNode)
	assert.Equal(t, 2, grand.ChainNode.ExtensionDepth)
	assert.True(t, grand.ChainNode.IsRoot)
}
