package chain

import (
	"context"
	"strings"

	"github.com/edrsec/processchain/internal/index"
	"github.com/edrsec/processchain/internal/models"
	"github.com/sirupsen/logrus"
)

// Extender looks up to Limits.MaxExtDepth ancestors above each trace's
// current root via the facade, and relocates the root flag to the new
// topmost ancestor found. It stops a branch the moment it encounters an
// explore root or a broken node, and never mutates anything on an empty
// facade response.
type Extender struct {
	facade index.Facade
	logger *logrus.Logger
}

// NewExtender builds an Extender against facade.
func NewExtender(facade index.Facade, logger *logrus.Logger) *Extender {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Extender{facade: facade, logger: logger}
}

// Extend runs the upward extension pass for every (host, traceId) pair
// named by hostToTraceID.
func (e *Extender) Extend(ctx context.Context, tc *TraversalContext, hostToTraceID map[string]string) error {
	for host, traceID := range hostToTraceID {
		currentRootID, ok := tc.TraceIDToRootNodeMap[traceID]
		if !ok {
			continue
		}
		if IsExploreRootID(currentRootID) {
			continue
		}

		logs, err := e.facade.QueryLogsByProcessGuids(ctx, host, []string{currentRootID}, tc.Limits.MaxExtDepth)
		if err != nil {
			e.logger.WithError(err).WithField("trace_id", traceID).Warn("extension query failed, trace left unextended")
			continue
		}
		if len(logs) == 0 {
			continue
		}

		e.extendBranch(tc, host, traceID, currentRootID, logs)
	}
	return nil
}

func (e *Extender) extendBranch(tc *TraversalContext, host, traceID, currentRootID string, logs []models.RawLog) {
	byGuid := make(map[string]models.RawLog, len(logs))
	for _, l := range logs {
		byGuid[l.ProcessGuid] = l
	}

	rootLog, ok := byGuid[currentRootID]
	if !ok {
		return
	}

	topmostID := currentRootID
	depth := 0
	cursor := rootLog.ParentProcessGuid

	for depth < tc.Limits.MaxExtDepth && cursor != "" {
		if strings.HasPrefix(cursor, exploreRootPrefix) {
			break
		}
		if n := tc.Index.Get(cursor); n != nil && n.IsBroken {
			break
		}

		ancestorLog, ok := byGuid[cursor]
		if !ok {
			break
		}

		depth++
		ancestor := tc.Index.Get(cursor)
		if ancestor == nil {
			ancestor = &BuilderNode{
				ProcessGuid:       cursor,
				ParentProcessGuid: ancestorLog.ParentProcessGuid,
				TraceID:           traceID,
				HostAddress:       host,
				ProcessName:       ancestorLog.ProcessName,
				Image:             ancestorLog.Image,
				CommandLine:       ancestorLog.CommandLine,
				ProcessMd5:        ancestorLog.ProcessMd5,
				LogType:           models.LogTypeProcess,
			}
			tc.Index.Add(ancestor)
		}
		ancestor.IsExtensionNode = true
		ancestor.ExtensionDepth = depth

		tc.AddEdge(cursor, topmostID, annotationOrdinary)
		topmostID = cursor
		cursor = ancestorLog.ParentProcessGuid
	}

	if topmostID == currentRootID {
		return
	}

	if original := tc.Index.Get(currentRootID); original != nil {
		tc.Index.SetRoot(original, false)
	}
	if newRoot := tc.Index.Get(topmostID); newRoot != nil {
		tc.Index.SetRoot(newRoot, true)
	}
	tc.TraceIDToRootNodeMap[traceID] = topmostID
}
