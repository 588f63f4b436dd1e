// Package chain implements the incident process chain reconstruction
// engine: alarm election, graph assembly with late entity extraction,
// broken-chain and virtual-root synthesis, bounded upward extension,
// transactional pruning, and network/endpoint merge with role correction.
//
// The engine is single-writer per request: one TraversalContext, one
// NodeIndex, no package-level mutable state. Concurrent requests run in
// independent goroutines over disjoint contexts.
package chain

import (
	"fmt"
	"strings"

	"github.com/edrsec/processchain/internal/models"
)

const (
	exploreRootPrefix       = "EXPLORE_ROOT_"
	virtualRootParentPrefix = "VIRTUAL_ROOT_PARENT_"
	entityIDSeparator       = "_entity:"
)

// ExploreRootID returns the synthetic id for a trace's explore root.
func ExploreRootID(traceID string) string {
	return exploreRootPrefix + traceID
}

// IsExploreRootID reports whether id names a synthetic explore root.
func IsExploreRootID(id string) bool {
	return strings.HasPrefix(id, exploreRootPrefix)
}

// VirtualRootParentID returns the synthetic id for a special-root virtual
// parent (used when parentProcessGuid == processGuid == traceId).
func VirtualRootParentID(processGuid string) string {
	return virtualRootParentPrefix + processGuid
}

// EntityID returns the synthetic id for an extracted non-process entity.
func EntityID(logType models.LogType, salientKey string) string {
	return fmt.Sprintf("%s%s%s", logType, entityIDSeparator, salientKey)
}

// BuilderNode is the internal, mutable representation of one process-chain
// node during assembly. It is owned exclusively by the builder; the
// NodeIndex holds only back-references recomputed from node state.
type BuilderNode struct {
	ProcessGuid       string
	ParentProcessGuid string
	TraceID           string
	HostAddress       string

	ProcessName string
	Image       string
	CommandLine string
	ProcessMd5  string

	Alarms []models.RawAlarm
	Logs   []models.RawLog

	IsRoot          bool
	IsBroken        bool
	IsAlarm         bool
	IsExtensionNode bool
	IsVirtual       bool
	ExtensionDepth  int
	LogLimitReached bool
	LogType         models.LogType
}

// MaxSeverity returns the highest severity among the node's alarms, or ""
// if the node has none.
func (n *BuilderNode) MaxSeverity() models.Severity {
	rank := map[models.Severity]int{models.SeverityHigh: 3, models.SeverityMedium: 2, models.SeverityLow: 1}
	best := models.Severity("")
	bestRank := 0
	for _, a := range n.Alarms {
		if r := rank[a.Severity]; r > bestRank {
			bestRank = r
			best = a.Severity
		}
	}
	return best
}

// BuilderEdge is a directed edge between two BuilderNodes by guid, with an
// optional annotation ("" default, "1" ordinary, "断链" explore-to-broken).
type BuilderEdge struct {
	SourceGuid string
	TargetGuid string
	Annotation string
}

// NodeIndex is an in-request multi-map over a request's BuilderNodes: a
// primary map by processGuid, secondary maps by traceId and hostAddress,
// and sets of root/broken/alarm nodes. Every secondary index is derivable
// from node flags and MUST be kept in sync by routing every flag mutation
// through setFlag — never assign flags directly.
//
// NodeIndex is not thread-safe. It is private to one request.
type NodeIndex struct {
	byGuid    map[string]*BuilderNode
	byTraceID map[string]map[string]*BuilderNode
	byHost    map[string]map[string]*BuilderNode
	roots     map[string]*BuilderNode
	broken    map[string]*BuilderNode
	alarms    map[string]*BuilderNode
}

// NewNodeIndex creates an empty index.
func NewNodeIndex() *NodeIndex {
	return &NodeIndex{
		byGuid:    make(map[string]*BuilderNode),
		byTraceID: make(map[string]map[string]*BuilderNode),
		byHost:    make(map[string]map[string]*BuilderNode),
		roots:     make(map[string]*BuilderNode),
		broken:    make(map[string]*BuilderNode),
		alarms:    make(map[string]*BuilderNode),
	}
}

// Add inserts a new node into the primary and secondary maps. Does not
// touch the root/broken/alarm sets — callers must call setFlag for any
// flags already set on the node (e.g. IsAlarm on first alarm insertion).
func (idx *NodeIndex) Add(n *BuilderNode) {
	idx.byGuid[n.ProcessGuid] = n

	if idx.byTraceID[n.TraceID] == nil {
		idx.byTraceID[n.TraceID] = make(map[string]*BuilderNode)
	}
	idx.byTraceID[n.TraceID][n.ProcessGuid] = n

	if idx.byHost[n.HostAddress] == nil {
		idx.byHost[n.HostAddress] = make(map[string]*BuilderNode)
	}
	idx.byHost[n.HostAddress][n.ProcessGuid] = n
}

// Remove deletes a node from every map and set. Used by the pruner.
func (idx *NodeIndex) Remove(guid string) {
	n, ok := idx.byGuid[guid]
	if !ok {
		return
	}
	delete(idx.byGuid, guid)
	if m := idx.byTraceID[n.TraceID]; m != nil {
		delete(m, guid)
	}
	if m := idx.byHost[n.HostAddress]; m != nil {
		delete(m, guid)
	}
	delete(idx.roots, guid)
	delete(idx.broken, guid)
	delete(idx.alarms, guid)
}

// Get returns the node for guid, or nil if absent.
func (idx *NodeIndex) Get(guid string) *BuilderNode {
	return idx.byGuid[guid]
}

// Flag names accepted by setFlag.
type Flag int

const (
	FlagRoot Flag = iota
	FlagBroken
	FlagAlarm
)

// setFlag is the single entry point for mutating a node's root/broken/alarm
// flags. It is the fix for the historical bug class of "flag flipped but
// index not updated": every caller, everywhere in this package, must route
// flag transitions through this function instead of assigning the struct
// field directly.
func (idx *NodeIndex) setFlag(n *BuilderNode, flag Flag, value bool) {
	switch flag {
	case FlagRoot:
		n.IsRoot = value
		if value {
			idx.roots[n.ProcessGuid] = n
		} else {
			delete(idx.roots, n.ProcessGuid)
		}
	case FlagBroken:
		n.IsBroken = value
		if value {
			idx.broken[n.ProcessGuid] = n
		} else {
			delete(idx.broken, n.ProcessGuid)
		}
	case FlagAlarm:
		n.IsAlarm = value
		if value {
			idx.alarms[n.ProcessGuid] = n
		} else {
			delete(idx.alarms, n.ProcessGuid)
		}
	}
}

// SetRoot transitions a node's root flag, keeping the index in sync.
func (idx *NodeIndex) SetRoot(n *BuilderNode, value bool) { idx.setFlag(n, FlagRoot, value) }

// SetBroken transitions a node's broken flag, keeping the index in sync.
func (idx *NodeIndex) SetBroken(n *BuilderNode, value bool) { idx.setFlag(n, FlagBroken, value) }

// SetAlarm transitions a node's alarm flag, keeping the index in sync.
func (idx *NodeIndex) SetAlarm(n *BuilderNode, value bool) { idx.setFlag(n, FlagAlarm, value) }

// RootNodes returns the read-only set of current root nodes.
func (idx *NodeIndex) RootNodes() map[string]*BuilderNode { return idx.roots }

// BrokenNodes returns the read-only set of current broken nodes.
func (idx *NodeIndex) BrokenNodes() map[string]*BuilderNode { return idx.broken }

// AlarmNodes returns the read-only set of current alarm nodes.
func (idx *NodeIndex) AlarmNodes() map[string]*BuilderNode { return idx.alarms }

// NodesForTrace returns the read-only set of nodes owned by traceID.
func (idx *NodeIndex) NodesForTrace(traceID string) map[string]*BuilderNode {
	return idx.byTraceID[traceID]
}

// Len returns the total node count.
func (idx *NodeIndex) Len() int { return len(idx.byGuid) }

// All returns every node in the index. Read-only; callers must not mutate
// the returned map.
func (idx *NodeIndex) All() map[string]*BuilderNode { return idx.byGuid }

// TraversalContext is the single per-request mutable state threaded through
// every phase of the pipeline. Replaces the historical pattern of a global
// singleton / per-class mutable field (e.g. a "foundRootNode" carried
// across recursive calls) with an explicit, passed-by-pointer struct.
type TraversalContext struct {
	Index *NodeIndex
	Edges []BuilderEdge

	TraceIDs                 map[string]bool
	NetworkAssociatedEventIDs map[string]bool

	// TraceIDToRootNodeMap is total over TraceIDs once the explore-root
	// synthesizer has run; passed to the merger separately from the
	// business output, since the merge step needs it but the chain
	// returned to a caller does not.
	TraceIDToRootNodeMap map[string]string

	// VirtualRootParents maps a special-root processGuid to its synthetic
	// VIRTUAL_ROOT_PARENT_{guid} id, because in that case the real
	// parentProcessGuid equals the node's own guid.
	VirtualRootParents map[string]string

	Limits Limits
}

// Limits mirrors the deterministic resource bounds from the concurrency &
// resource model.
type Limits struct {
	MaxTraverseDepth int
	MaxLogsPerNode   int
	MaxNodeCount     int
	MaxExtDepth      int
	MaxQuerySize     int
}

// DefaultLimits returns the spec-mandated defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxTraverseDepth: 50,
		MaxLogsPerNode:   1000,
		MaxNodeCount:     400,
		MaxExtDepth:      2,
		MaxQuerySize:     10000,
	}
}

// NewTraversalContext creates an empty context for one request.
func NewTraversalContext(limits Limits) *TraversalContext {
	return &TraversalContext{
		Index:                     NewNodeIndex(),
		TraceIDs:                  make(map[string]bool),
		NetworkAssociatedEventIDs: make(map[string]bool),
		TraceIDToRootNodeMap:      make(map[string]string),
		VirtualRootParents:        make(map[string]string),
		Limits:                    limits,
	}
}

// AddEdge appends a deduplicated, non-self edge.
func (tc *TraversalContext) AddEdge(source, target, annotation string) {
	if source == target {
		return
	}
	for _, e := range tc.Edges {
		if e.SourceGuid == source && e.TargetGuid == target {
			return
		}
	}
	tc.Edges = append(tc.Edges, BuilderEdge{SourceGuid: source, TargetGuid: target, Annotation: annotation})
}

// RemoveEdgesTouching drops every edge whose source or target is in
// removed, returning the edges that survive.
func RemoveEdgesTouching(edges []BuilderEdge, removed map[string]bool) []BuilderEdge {
	out := make([]BuilderEdge, 0, len(edges))
	for _, e := range edges {
		if removed[e.SourceGuid] || removed[e.TargetGuid] {
			continue
		}
		out = append(out, e)
	}
	return out
}
