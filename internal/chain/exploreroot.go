package chain

// annotationBrokenLink marks an edge from a synthetic explore root to a
// broken subtree root.
const annotationBrokenLink = "断链"

// ExploreRootSynthesizer creates one EXPLORE_ROOT_{traceId} node for every
// trace that still has no real root after virtual-parent synthesis, and
// attaches every broken subtree root of that trace beneath it.
type ExploreRootSynthesizer struct{}

// NewExploreRootSynthesizer builds an ExploreRootSynthesizer.
func NewExploreRootSynthesizer() *ExploreRootSynthesizer { return &ExploreRootSynthesizer{} }

// Synthesize runs after the identifier and virtual-parent phases. It
// enforces the invariant that every traceId in tc.TraceIDs ends this phase
// with exactly one root node, and populates tc.TraceIDToRootNodeMap for
// every trace that already has a real root.
func (s *ExploreRootSynthesizer) Synthesize(tc *TraversalContext) {
	for traceID := range tc.TraceIDs {
		realRoot := s.realRootFor(tc, traceID)
		if realRoot != nil {
			tc.TraceIDToRootNodeMap[traceID] = realRoot.ProcessGuid
			continue
		}

		exploreID := ExploreRootID(traceID)
		explore := &BuilderNode{
			ProcessGuid: exploreID,
			TraceID:     traceID,
			LogType:     "EXPLORE",
		}
		tc.Index.Add(explore)
		tc.Index.SetRoot(explore, true)
		tc.TraceIDToRootNodeMap[traceID] = exploreID

		for _, broken := range tc.Index.NodesForTrace(traceID) {
			if broken.IsBroken {
				tc.AddEdge(exploreID, broken.ProcessGuid, annotationBrokenLink)
			}
		}
	}
}

func (s *ExploreRootSynthesizer) realRootFor(tc *TraversalContext, traceID string) *BuilderNode {
	for _, n := range tc.Index.NodesForTrace(traceID) {
		if n.IsRoot {
			return n
		}
	}
	return nil
}
