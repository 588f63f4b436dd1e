package chain

import (
	"context"
	"time"

	"github.com/edrsec/processchain/internal/errors"
	"github.com/edrsec/processchain/internal/index"
	"github.com/edrsec/processchain/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Orchestrator sequences the full reconstruction pipeline for one request:
// facade → elector → builder → identifier → (virtual parent → explore) →
// extender → entity extractor → pruner. The result is handed to the merger
// separately since merge is optional (only the merge-chain endpoint runs
// it).
//
// This ordering is strict, mirroring the phase-accumulator pattern of a
// sequential risk-analysis pipeline: each phase's output is the next
// phase's input, and an empty/degraded upstream still produces a
// best-effort result rather than aborting the whole request.
type Orchestrator struct {
	facade  index.Facade
	logger  *logrus.Logger
	limits  Limits
	elector *Elector
}

// NewOrchestrator builds an Orchestrator bound to facade, logging via
// logger (falls back to logrus's standard instance), using limits for all
// resource bounds.
func NewOrchestrator(facade index.Facade, logger *logrus.Logger, limits Limits) *Orchestrator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Orchestrator{
		facade:  facade,
		logger:  logger,
		limits:  limits,
		elector: NewElector(logger),
	}
}

// alarmWindow bounds how far back BatchQueryAlarms looks for candidates.
const alarmWindow = 30 * 24 * time.Hour

// Result carries both the business output and the root map the merger
// needs, kept separate per the data model's own exclusion of
// traceIdToRootNodeMap from IncidentProcessChain.
type Result struct {
	Chain                *models.IncidentProcessChain
	HostToTraceID        map[string]string
	TraceIDToRootNodeMap map[string]string
	PrunerFired          bool
	PrunerRolledBack     bool
}

// Build runs the full pipeline for ipAndAssociation: one request, one
// TraversalContext, single-writer.
func (o *Orchestrator) Build(ctx context.Context, ipAndAssociation map[string]models.IpMappingRelation) (*Result, error) {
	if len(ipAndAssociation) == 0 {
		return nil, errors.NewInputEmptyError()
	}

	ips := make([]string, 0, len(ipAndAssociation))
	for ip := range ipAndAssociation {
		ips = append(ips, ip)
	}

	alarmsByHost, err := o.facade.BatchQueryAlarms(ctx, ips, alarmWindow)
	if err != nil {
		return nil, err
	}

	tc := NewTraversalContext(o.limits)
	networkAssociated := make(map[string]bool)
	for _, assoc := range ipAndAssociation {
		if assoc.HasAssociation && assoc.AssociatedEventID != "" {
			networkAssociated[assoc.AssociatedEventID] = true
		}
	}
	tc.NetworkAssociatedEventIDs = networkAssociated

	type elected struct {
		host   string
		alarms []models.RawAlarm
	}

	electedByHost := make(map[string][]models.RawAlarm)
	g, _ := errgroup.WithContext(ctx)

	results := make(chan elected, len(ips))
	for _, ip := range ips {
		ip := ip
		candidates := alarmsByHost[ip]
		assoc := ipAndAssociation[ip]
		g.Go(func() error {
			if len(candidates) == 0 {
				o.logger.WithField("host", ip).Warn("no candidate alarms for host, host contributes nothing")
				return nil
			}
			group, err := o.elector.Elect(ip, candidates, assoc)
			if err != nil {
				o.logger.WithError(err).WithField("host", ip).Warn("election failed, host contributes nothing")
				return nil
			}
			results <- elected{host: ip, alarms: group}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.NewUnrecoverableError(err, "election fan-out failed")
	}
	close(results)
	for r := range results {
		electedByHost[r.host] = r.alarms
	}

	if len(electedByHost) == 0 {
		return &Result{Chain: ToOutput(tc), HostToTraceID: map[string]string{}, TraceIDToRootNodeMap: map[string]string{}}, nil
	}

	hostToTraceID := make(map[string]string, len(electedByHost))
	for host, alarms := range electedByHost {
		if len(alarms) > 0 {
			hostToTraceID[host] = alarms[0].TraceID
		}
	}

	logs, err := o.facade.BatchQueryLogs(ctx, hostToTraceID)
	if err != nil {
		return nil, err
	}
	logsByHost := make(map[string][]models.RawLog)
	for _, l := range logs {
		logsByHost[l.HostAddress] = append(logsByHost[l.HostAddress], l)
	}

	builder := NewBuilder(o.limits, o.logger)
	for host, alarms := range electedByHost {
		if err := builder.Assemble(tc, host, hostToTraceID[host], alarms, logsByHost[host]); err != nil {
			return nil, err
		}
	}

	identifier := NewIdentifier()
	identifier.IdentifyRoots(tc)

	vp := NewVirtualParentSynthesizer()
	vp.Synthesize(tc)
	identifier.IdentifyBroken(tc)
	vp.PostLinkAdjust(tc)

	explorer := NewExploreRootSynthesizer()
	explorer.Synthesize(tc)

	extender := NewExtender(o.facade, o.logger)
	if err := extender.Extend(ctx, tc, hostToTraceID); err != nil {
		o.logger.WithError(err).Warn("extension phase failed, continuing with unextended roots")
	}
	identifier.IdentifyBroken(tc)

	extractor := NewEntityExtractor()
	extractor.Extract(tc)

	pruner := NewPruner(o.logger)
	prunerFired, prunerRolledBack := pruner.Prune(tc)
	identifier.IdentifyBroken(tc)

	return &Result{
		Chain:                ToOutput(tc),
		HostToTraceID:        hostToTraceID,
		TraceIDToRootNodeMap: tc.TraceIDToRootNodeMap,
		PrunerFired:          prunerFired,
		PrunerRolledBack:     prunerRolledBack,
	}, nil
}
