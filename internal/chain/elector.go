package chain

import (
	"sort"

	"github.com/edrsec/processchain/internal/errors"
	"github.com/edrsec/processchain/internal/models"
	"github.com/sirupsen/logrus"
)

// Elector chooses which alarm group anchors the reconstruction for a given
// host: either the alarm named by an explicit associated event id, or the
// highest-ranked traceId group among the candidate alarms returned by the
// facade.
type Elector struct {
	logger *logrus.Logger
}

// NewElector builds an Elector using logger, falling back to logrus's
// standard instance when nil.
func NewElector(logger *logrus.Logger) *Elector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Elector{logger: logger}
}

// Elect picks the alarm group for one host. If association.HasAssociation
// is true, the alarm matching association.AssociatedEventID is used as the
// anchor and its traceId's full group is returned regardless of ranking.
// Otherwise the candidate alarms are grouped by traceId and the group with
// the best (highCount, mediumCount, lowCount) tuple wins, ties broken by
// earliest startTime among the group's alarms.
func (e *Elector) Elect(host string, candidates []models.RawAlarm, association models.IpMappingRelation) ([]models.RawAlarm, error) {
	if len(candidates) == 0 {
		return nil, errors.NewElectionError("", "no candidate alarms for host "+host)
	}

	groups := groupByTraceID(candidates)

	if association.HasAssociation && association.AssociatedEventID != "" {
		for _, alarm := range candidates {
			if alarm.EventID == association.AssociatedEventID {
				return groups[alarm.TraceID], nil
			}
		}
		e.logger.WithFields(logrus.Fields{
			"host":     host,
			"event_id": association.AssociatedEventID,
		}).Warn("associated event id not found among candidate alarms, falling back to ranked election")
	}

	bestTraceID := ""
	var bestTuple rankTuple
	var bestEarliest int64
	first := true

	for traceID, alarms := range groups {
		tuple := rankGroup(alarms)
		earliest := earliestStartTimeNanos(alarms)

		switch {
		case first:
			bestTraceID, bestTuple, bestEarliest, first = traceID, tuple, earliest, false
		case tuple.greaterThan(bestTuple):
			bestTraceID, bestTuple, bestEarliest = traceID, tuple, earliest
		case tuple == bestTuple && earliest < bestEarliest:
			bestTraceID, bestEarliest = traceID, earliest
		}
	}

	if bestTraceID == "" {
		return nil, errors.NewElectionError("", "no eligible trace group for host "+host)
	}

	return groups[bestTraceID], nil
}

type rankTuple struct {
	high, medium, low int
}

func (a rankTuple) greaterThan(b rankTuple) bool {
	if a.high != b.high {
		return a.high > b.high
	}
	if a.medium != b.medium {
		return a.medium > b.medium
	}
	return a.low > b.low
}

func (a rankTuple) less(b rankTuple) bool { return b.greaterThan(a) }

func rankGroup(alarms []models.RawAlarm) rankTuple {
	var t rankTuple
	for _, a := range alarms {
		switch a.Severity {
		case models.SeverityHigh:
			t.high++
		case models.SeverityMedium:
			t.medium++
		case models.SeverityLow:
			t.low++
		}
	}
	return t
}

func earliestStartTimeNanos(alarms []models.RawAlarm) int64 {
	var earliest int64
	first := true
	for _, a := range alarms {
		ns := a.StartTime.UnixNano()
		if first || ns < earliest {
			earliest = ns
			first = false
		}
	}
	return earliest
}

func groupByTraceID(alarms []models.RawAlarm) map[string][]models.RawAlarm {
	groups := make(map[string][]models.RawAlarm)
	for _, a := range alarms {
		groups[a.TraceID] = append(groups[a.TraceID], a)
	}
	for traceID := range groups {
		sortAlarmsByTime(groups[traceID])
	}
	return groups
}

func sortAlarmsByTime(alarms []models.RawAlarm) {
	sort.SliceStable(alarms, func(i, j int) bool {
		return alarms[i].Timestamp.Before(alarms[j].Timestamp)
	})
}
