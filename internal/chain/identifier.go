package chain

// Identifier walks the assembled graph and flags each node as root or
// broken:
//
//   - root: processGuid equals the traceId it was elected under (the
//     process that carried the alarm). Detected once, immediately after the
//     builder runs; every later phase that relocates a root (virtual-parent
//     synthesis, explore-root synthesis, upward extension) manages the
//     isRoot transition itself rather than rediscovering it here, since
//     "processGuid == traceId" would otherwise keep re-promoting a root a
//     later phase deliberately demoted.
//   - broken: the node's parentProcessGuid is non-empty and does not
//     resolve to any node present in the index, and the node itself is not
//     a root. Recomputed after every phase that can add or remove nodes,
//     since those phases change what "resolves" means.
type Identifier struct{}

// NewIdentifier builds an Identifier.
func NewIdentifier() *Identifier { return &Identifier{} }

// IdentifyRoots runs the one-time real-root detection pass. Call this
// exactly once, right after the builder assembles the process skeleton.
func (id *Identifier) IdentifyRoots(tc *TraversalContext) {
	for _, node := range tc.Index.All() {
		if node.ProcessGuid == node.TraceID {
			tc.Index.SetRoot(node, true)
		}
	}
	id.IdentifyBroken(tc)
}

// IdentifyBroken recomputes the broken flag for every node currently in the
// index. Safe and idempotent to call after any structural phase.
func (id *Identifier) IdentifyBroken(tc *TraversalContext) {
	for _, node := range tc.Index.All() {
		if node.IsRoot || node.ParentProcessGuid == "" {
			tc.Index.SetBroken(node, false)
			continue
		}
		tc.Index.SetBroken(node, tc.Index.Get(node.ParentProcessGuid) == nil)
	}
}
