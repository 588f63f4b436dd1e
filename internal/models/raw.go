// Package models defines the data transfer objects the chain engine
// consumes from and returns to its external collaborators: the query
// facade's raw alarms/logs on the way in, and the presentation graph on the
// way out.
package models

import "time"

// Severity is the alarm severity band used by election and pruning.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// LogType enumerates the five recognized raw log categories. Any log whose
// LogType is outside this set is excluded by the facade and, defensively,
// by the builder.
type LogType string

const (
	LogTypeProcess  LogType = "process"
	LogTypeFile     LogType = "file"
	LogTypeNetwork  LogType = "network"
	LogTypeDomain   LogType = "domain"
	LogTypeRegistry LogType = "registry"
	// LogTypeExplore marks the synthetic per-trace explore root; never
	// produced by the facade, only by the explore-root synthesizer.
	LogTypeExplore LogType = "EXPLORE"
)

// BuilderLogTypes is the set the graph builder accepts from raw logs.
var BuilderLogTypes = map[LogType]bool{
	LogTypeProcess:  true,
	LogTypeFile:     true,
	LogTypeNetwork:  true,
	LogTypeDomain:   true,
	LogTypeRegistry: true,
}

// RawAlarm is an immutable elected-or-candidate alarm event as returned by
// the query facade. EventId is unique per alarm.
type RawAlarm struct {
	EventID           string    `json:"eventId"`
	TraceID           string    `json:"traceId"`
	HostAddress       string    `json:"hostAddress"`
	ProcessGuid       string    `json:"processGuid"`
	ParentProcessGuid string    `json:"parentProcessGuid"`
	LogType           LogType   `json:"logType"`
	Severity          Severity  `json:"severity"`
	Timestamp         time.Time `json:"timestamp"`
	StartTime         time.Time `json:"startTime"`

	// Parent-process carry-along, used by the virtual-parent synthesizer
	// when the real parent node was never captured.
	ParentProcessName string `json:"parentProcessName,omitempty"`
	ParentImage       string `json:"parentImage,omitempty"`
	ParentCommandLine string `json:"parentCommandLine,omitempty"`
	ParentProcessMd5  string `json:"parentProcessMd5,omitempty"`
	ParentProcessID   string `json:"parentProcessId,omitempty"`
}

// RawLog is an immutable log event of one of the five recognized types.
// Type-specific fields are populated according to LogType; fields for other
// types are left zero.
type RawLog struct {
	EventID           string    `json:"eventId"`
	TraceID           string    `json:"traceId"`
	HostAddress       string    `json:"hostAddress"`
	ProcessGuid       string    `json:"processGuid"`
	ParentProcessGuid string    `json:"parentProcessGuid"`
	LogType           LogType   `json:"logType"`
	Timestamp         time.Time `json:"timestamp"`
	OpType            string    `json:"opType,omitempty"`

	// process
	ProcessName string `json:"processName,omitempty"`
	Image       string `json:"image,omitempty"`
	CommandLine string `json:"commandLine,omitempty"`
	ProcessMd5  string `json:"processMd5,omitempty"`
	ProcessID   string `json:"processId,omitempty"`

	// parent-process carry-along (same rationale as RawAlarm)
	ParentProcessName string `json:"parentProcessName,omitempty"`
	ParentImage       string `json:"parentImage,omitempty"`
	ParentCommandLine string `json:"parentCommandLine,omitempty"`
	ParentProcessMd5  string `json:"parentProcessMd5,omitempty"`
	ParentProcessID   string `json:"parentProcessId,omitempty"`

	// file
	FileName       string `json:"fileName,omitempty"`
	TargetFilename string `json:"targetFilename,omitempty"`
	FileMd5        string `json:"fileMd5,omitempty"`

	// network
	SrcAddress    string `json:"srcAddress,omitempty"`
	SrcPort       int    `json:"srcPort,omitempty"`
	DestAddress   string `json:"destAddress,omitempty"`
	DestPort      int    `json:"destPort,omitempty"`
	TransProtocol string `json:"transProtocol,omitempty"`

	// domain
	RequestDomain string `json:"requestDomain,omitempty"`
	QueryResults  string `json:"queryResults,omitempty"`

	// registry
	RegistryPath  string `json:"registryPath,omitempty"`
	RegistryValue string `json:"registryValue,omitempty"`
}

// IpMappingRelation captures, per suspicious host IP, the optional
// network-side associated event id used both by the elector (to override
// election) and by the merger (to build host→traceId→root maps).
type IpMappingRelation struct {
	AssociatedEventID string `json:"associatedEventId,omitempty"`
	HasAssociation    bool   `json:"hasAssociation"`
}

// BatchGenerateRequest is the inbound body for POST
// /api/processchain/batch-generate: a map of suspicious host IP to its
// optional network association.
type BatchGenerateRequest struct {
	IPAndAssociation map[string]IpMappingRelation `json:"ipAndAssociation"`
}

// NetworkNode is one node of the network-side graph supplied to the merger.
// Role is "attacker", "victim", or "server".
type NetworkNode struct {
	NodeID string `json:"nodeId"`
	IP     string `json:"ip"`
	Role   string `json:"role"`
}

// NetworkEdge is one edge of the network-side graph supplied to the merger.
type NetworkEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Val    string `json:"val,omitempty"`
}

// MergeChainRequest is the inbound body for POST
// /api/processchain/merge-chain.
type MergeChainRequest struct {
	NetworkNodes      []NetworkNode                `json:"networkNodes,omitempty"`
	NetworkEdges      []NetworkEdge                `json:"networkEdges,omitempty"`
	IPAndAssociation  map[string]IpMappingRelation `json:"ipMappingRelation"`
	FocusIP           string                       `json:"focusIp,omitempty"`
	FocusObject       string                       `json:"focusObject,omitempty"` // "attacker" or "victim"
}
