package chain

import (
	"fmt"

	"github.com/edrsec/processchain/internal/errors"
	"github.com/edrsec/processchain/internal/models"
	"github.com/sirupsen/logrus"
)

// Builder assembles the process-centric graph for one host's elected alarm
// group: one BuilderNode per distinct processGuid, alarms and logs attached
// to their owning node, and parent→child edges emitted from
// parentProcessGuid. Entity extraction (file/network/domain/registry) is
// deferred to a later phase so the builder's only concern is process
// topology.
type Builder struct {
	limits Limits
	logger *logrus.Logger
}

// NewBuilder builds a Builder bound to limits, logging via logger (falls
// back to logrus's standard instance).
func NewBuilder(limits Limits, logger *logrus.Logger) *Builder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Builder{limits: limits, logger: logger}
}

// Assemble inserts alarms then logs for one host/traceId pair into tc,
// creating nodes on first reference and accumulating subsequent references
// onto the existing node. Alarms are inserted first so that a node's
// IsAlarm flag and MaxSeverity are available before any log-derived entity
// extraction runs. Edges are emitted in a final pass, once every node from
// this host's batch has been seen, so a parent reference only becomes an
// edge when the parent actually resolved to a node in the graph.
func (b *Builder) Assemble(tc *TraversalContext, host, traceID string, alarms []models.RawAlarm, logs []models.RawLog) error {
	tc.TraceIDs[traceID] = true

	touched := make(map[string]bool)

	for _, a := range alarms {
		node, err := b.nodeFor(tc, host, traceID, a.ProcessGuid, a.ParentProcessGuid)
		if err != nil {
			return err
		}
		touched[a.ProcessGuid] = true
		tc.Index.SetAlarm(node, true)
		// Alarms are never dropped, regardless of MaxLogsPerNode: an alarm
		// is the reason the trace exists at all.
		node.Alarms = append(node.Alarms, a)
	}

	for _, l := range logs {
		if !models.BuilderLogTypes[l.LogType] {
			continue
		}
		if l.LogType != models.LogTypeProcess {
			// Non-process entity logs are handled by the entity extractor
			// after the process skeleton has settled (before pruning); still
			// attach them to their owning process node now so the
			// extractor has a stable source.
			node, err := b.nodeFor(tc, host, traceID, l.ProcessGuid, l.ParentProcessGuid)
			if err != nil {
				return err
			}
			touched[l.ProcessGuid] = true
			b.appendLog(tc, node, l)
			continue
		}

		node, err := b.nodeFor(tc, host, traceID, l.ProcessGuid, l.ParentProcessGuid)
		if err != nil {
			return err
		}
		touched[l.ProcessGuid] = true
		b.applyProcessAttributes(node, l)
		b.appendLog(tc, node, l)
	}

	for guid := range touched {
		node := tc.Index.Get(guid)
		if node == nil || node.ParentProcessGuid == "" {
			continue
		}
		if tc.Index.Get(node.ParentProcessGuid) != nil {
			tc.AddEdge(node.ParentProcessGuid, node.ProcessGuid, annotationOrdinary)
		}
	}
	return nil
}

// appendLog applies the log-accumulation policy: a node's Logs list is
// capped at MaxLogsPerNode, except for alarm nodes and logs whose eventId is
// in the request's network-associated set, which are never dropped. Once the
// cap trips on an otherwise-droppable node, exactly one warning is emitted
// and every further log for that node is silently dropped.
func (b *Builder) appendLog(tc *TraversalContext, node *BuilderNode, l models.RawLog) {
	if node.IsAlarm || tc.NetworkAssociatedEventIDs[l.EventID] {
		node.Logs = append(node.Logs, l)
		return
	}

	if len(node.Logs) >= b.limits.MaxLogsPerNode {
		if !node.LogLimitReached {
			b.logger.WithField("process_guid", node.ProcessGuid).
				Warn("log cap reached for node, further logs dropped")
		}
		node.LogLimitReached = true
		return
	}
	node.Logs = append(node.Logs, l)
}

// nodeFor returns the existing node for guid, or creates and indexes a new
// one. A guid already indexed under a different traceID is a cross-trace
// processGuid collision and is refused rather than silently merged into the
// wrong trace.
func (b *Builder) nodeFor(tc *TraversalContext, host, traceID, guid, parentGuid string) (*BuilderNode, error) {
	if node := tc.Index.Get(guid); node != nil {
		if node.TraceID != traceID {
			return nil, errors.NewUnrecoverableError(
				fmt.Errorf("processGuid %s already belongs to trace %s, got %s", guid, node.TraceID, traceID),
				"cross-trace processGuid collision",
			)
		}
		return node, nil
	}
	node := &BuilderNode{
		ProcessGuid:       guid,
		ParentProcessGuid: parentGuid,
		TraceID:           traceID,
		HostAddress:       host,
		LogType:           models.LogTypeProcess,
	}
	tc.Index.Add(node)
	return node, nil
}

func (b *Builder) applyProcessAttributes(node *BuilderNode, l models.RawLog) {
	if l.ProcessName != "" {
		node.ProcessName = l.ProcessName
	}
	if l.Image != "" {
		node.Image = l.Image
	}
	if l.CommandLine != "" {
		node.CommandLine = l.CommandLine
	}
	if l.ProcessMd5 != "" {
		node.ProcessMd5 = l.ProcessMd5
	}
}
