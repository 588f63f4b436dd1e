package chain

import "github.com/edrsec/processchain/internal/models"

// VirtualParentSynthesizer creates placeholder parent nodes for roots whose
// parentProcessGuid was never captured but whose attributes survived on a
// child's carry-along fields. The self-parented case (processGuid ==
// parentProcessGuid == traceId) is keyed by a synthetic
// VIRTUAL_ROOT_PARENT_{guid} id instead of the real guid, since the real
// guid already names the child.
type VirtualParentSynthesizer struct{}

// NewVirtualParentSynthesizer builds a VirtualParentSynthesizer.
func NewVirtualParentSynthesizer() *VirtualParentSynthesizer { return &VirtualParentSynthesizer{} }

// Synthesize examines every current root node with an unresolved parent
// reference and, where attribute data is available, creates a virtual
// parent above it.
func (s *VirtualParentSynthesizer) Synthesize(tc *TraversalContext) {
	candidates := make([]*BuilderNode, 0)
	for _, n := range tc.Index.RootNodes() {
		if n.IsVirtual {
			continue
		}
		if n.ParentProcessGuid == "" {
			continue
		}
		if tc.Index.Get(n.ParentProcessGuid) != nil {
			continue
		}
		candidates = append(candidates, n)
	}

	for _, child := range candidates {
		name, image, cmdline, md5 := s.attributesFor(child)
		if name == "" && image == "" && cmdline == "" && md5 == "" {
			continue
		}

		parentID := child.ParentProcessGuid
		specialRoot := child.ParentProcessGuid == child.ProcessGuid
		if specialRoot {
			parentID = VirtualRootParentID(child.ProcessGuid)
			tc.VirtualRootParents[child.ProcessGuid] = parentID
		}

		parent := &BuilderNode{
			ProcessGuid: parentID,
			TraceID:     child.TraceID,
			HostAddress: child.HostAddress,
			ProcessName: name,
			Image:       image,
			CommandLine: cmdline,
			ProcessMd5:  md5,
			IsVirtual:   true,
			LogType:     models.LogTypeProcess,
		}
		tc.Index.Add(parent)
		tc.Index.SetRoot(parent, true)

		tc.AddEdge(parentID, child.ProcessGuid, annotationOrdinary)
		tc.Index.SetRoot(child, false)
	}
}

// PostLinkAdjust re-points virtual parents belonging to a traceId that has
// since acquired a real root elsewhere, so the per-trace root map stays
// single-valued. Must run after the root/broken identifier has re-run.
func (s *VirtualParentSynthesizer) PostLinkAdjust(tc *TraversalContext) {
	for _, n := range tc.Index.All() {
		if !n.IsVirtual || !n.IsRoot {
			continue
		}
		realRoot := s.findOtherRealRoot(tc, n)
		if realRoot == nil {
			continue
		}
		n.ParentProcessGuid = realRoot.ProcessGuid
		tc.Index.SetRoot(n, false)
		tc.AddEdge(realRoot.ProcessGuid, n.ProcessGuid, annotationOrdinary)
	}
}

func (s *VirtualParentSynthesizer) findOtherRealRoot(tc *TraversalContext, virtual *BuilderNode) *BuilderNode {
	for _, n := range tc.Index.NodesForTrace(virtual.TraceID) {
		if n.IsRoot && !n.IsVirtual && n.ProcessGuid != virtual.ProcessGuid {
			return n
		}
	}
	return nil
}

func (s *VirtualParentSynthesizer) attributesFor(child *BuilderNode) (name, image, cmdline, md5 string) {
	for _, l := range child.Logs {
		if l.ParentProcessName != "" || l.ParentImage != "" || l.ParentCommandLine != "" || l.ParentProcessMd5 != "" {
			return l.ParentProcessName, l.ParentImage, l.ParentCommandLine, l.ParentProcessMd5
		}
	}
	for _, a := range child.Alarms {
		if a.ParentProcessName != "" || a.ParentImage != "" || a.ParentCommandLine != "" || a.ParentProcessMd5 != "" {
			return a.ParentProcessName, a.ParentImage, a.ParentCommandLine, a.ParentProcessMd5
		}
	}
	return "", "", "", ""
}

const annotationOrdinary = "1"
