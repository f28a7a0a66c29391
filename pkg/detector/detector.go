package detector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cordonsec/vigil/pkg/events"
	"github.com/cordonsec/vigil/pkg/log"
	"github.com/cordonsec/vigil/pkg/metrics"
	"github.com/cordonsec/vigil/pkg/rpc"
	"github.com/cordonsec/vigil/pkg/types"
)

// ErrNoMatchingZone is returned when an anomaly resolves to no zone; the
// alert exists but cannot be put to a vote.
var ErrNoMatchingZone = errors.New("no zone matches alert")

// voteWindow bounds the asynchronous vote echo. Votes landing after the
// originator's round window are dropped there anyway.
const voteWindow = 10 * time.Second

// LocalDetector scores one measurement set. The scoring model itself is an
// external collaborator; anything that can say "anomalous, this confident"
// plugs in here.
type LocalDetector interface {
	Detect(ctx context.Context, m types.Measurements) (*types.DetectionResult, error)
}

// Cluster is the slice of membership the detector needs: its own identity
// and a way to send an alert to one peer. The node manager satisfies it.
type Cluster interface {
	ID() string
	SendAlertTo(ctx context.Context, nodeID string, alert *types.AnomalyAlert) error
}

// ZoneResolver maps alerts onto zones. The zone manager satisfies it.
type ZoneResolver interface {
	FindZoneForAlert(alert *types.AnomalyAlert) (*types.DetectionZone, bool)
}

// Consensus runs quorum rounds and tallies inbound votes. The consensus
// manager satisfies it.
type Consensus interface {
	ReachConsensus(ctx context.Context, alert *types.AnomalyAlert, zone *types.DetectionZone) (*types.ConsensusResult, error)
	RecordVote(alertID, voterID string, vote bool) error
}

// AlertGroup is the unit handed to the action sink: the alerts sharing one
// (type, severity) key and the rule that matched them.
type AlertGroup struct {
	ZoneID   string
	Rule     types.DetectionRule
	Type     string
	Severity types.Severity
	Alerts   []*types.AnomalyAlert
}

// ActionSink executes agreed rule actions. Implementations integrate with
// whatever notifies, blocks, or isolates in the surrounding system; a nil
// sink drops actions after their events are published.
type ActionSink interface {
	HandleAction(ctx context.Context, action types.RuleAction, group AlertGroup) error
}

// Detector drives the distributed detection flow: score locally, resolve
// the zone, put the alert to a vote, and execute the zone's rule actions on
// agreement. It also answers vote requests from peers.
type Detector struct {
	local     LocalDetector
	cluster   Cluster
	zones     ZoneResolver
	consensus Consensus
	sink      ActionSink
	broker    *events.Broker
	logger    zerolog.Logger
}

// New creates a detector. sink may be nil.
func New(local LocalDetector, cluster Cluster, zones ZoneResolver, consensus Consensus, sink ActionSink, broker *events.Broker) *Detector {
	return &Detector{
		local:     local,
		cluster:   cluster,
		zones:     zones,
		consensus: consensus,
		sink:      sink,
		broker:    broker,
		logger:    log.WithComponent("detector"),
	}
}

// Detect runs one detection cycle. Normal measurements return all nil. An
// anomaly becomes an alert; the alert is suppressed below its zone's
// confidence floor, otherwise put to a zone-wide vote. The returned result
// is nil when no round ran. Timed-out rounds drop the alert; reached rounds
// flip its status to investigating or false_positive per the outcome.
func (d *Detector) Detect(ctx context.Context, m types.Measurements) (*types.AnomalyAlert, *types.ConsensusResult, error) {
	result, err := d.local.Detect(ctx, m)
	if err != nil {
		metrics.DetectionsTotal.WithLabelValues("error").Inc()
		return nil, nil, fmt.Errorf("local detection: %w", err)
	}
	if result == nil || !result.IsAnomaly {
		metrics.DetectionsTotal.WithLabelValues("normal").Inc()
		return nil, nil, nil
	}
	metrics.DetectionsTotal.WithLabelValues("anomaly").Inc()

	alert := d.buildAlert(m, result)
	metrics.AlertsTotal.WithLabelValues(string(result.Severity)).Inc()
	d.logger.Info().
		Str("alert_id", alert.ID).
		Str("type", alert.Type).
		Str("severity", string(result.Severity)).
		Float64("confidence", result.Confidence).
		Msg("Anomaly detected")
	d.broker.Publish(events.New(events.EventAlertCreated, "Anomaly alert created", map[string]string{
		"alert_id": alert.ID,
		"node_id":  alert.NodeID,
		"type":     alert.Type,
		"severity": string(result.Severity),
	}))

	zone, ok := d.zones.FindZoneForAlert(alert)
	if !ok {
		d.logger.Warn().
			Str("alert_id", alert.ID).
			Str("type", alert.Type).
			Str("severity", string(result.Severity)).
			Msg("No zone matches alert")
		return alert, nil, fmt.Errorf("%w: type %s severity %s", ErrNoMatchingZone, alert.Type, result.Severity)
	}

	if result.Confidence < zone.AlertPolicy.MinConfidence {
		d.logger.Debug().
			Str("alert_id", alert.ID).
			Str("zone_id", zone.ID).
			Float64("confidence", result.Confidence).
			Float64("floor", zone.AlertPolicy.MinConfidence).
			Msg("Alert below zone confidence floor, suppressed")
		return alert, nil, nil
	}

	res, err := d.consensus.ReachConsensus(ctx, alert, zone)
	if err != nil {
		return alert, nil, fmt.Errorf("consensus for alert %s: %w", alert.ID, err)
	}

	switch {
	case res.Reached && res.Agreement:
		alert.Status = types.AlertStatusInvestigating
		d.executeZoneActions(ctx, zone, []*types.AnomalyAlert{alert})
	case res.Reached:
		alert.Status = types.AlertStatusFalsePositive
		d.logger.Info().
			Str("alert_id", alert.ID).
			Str("zone_id", zone.ID).
			Msg("Quorum reached without agreement, alert marked false positive")
	default:
		// Status stays new; the round is terminal and the alert is dropped.
		d.logger.Warn().
			Str("alert_id", alert.ID).
			Str("zone_id", zone.ID).
			Msg("Consensus round timed out, dropping alert")
	}
	return alert, res, nil
}

func (d *Detector) buildAlert(m types.Measurements, result *types.DetectionResult) *types.AnomalyAlert {
	now := time.Now()
	alertCtx := make(map[string]string, len(m.Labels))
	for k, v := range m.Labels {
		alertCtx[k] = v
	}
	return &types.AnomalyAlert{
		ID:        fmt.Sprintf("%s-%d", d.cluster.ID(), now.UnixMilli()),
		NodeID:    d.cluster.ID(),
		Type:      m.Source,
		Result:    *result,
		Timestamp: now,
		Context:   alertCtx,
		Status:    types.AlertStatusNew,
		Priority:  types.PriorityFor(result.Severity),
	}
}

// HandleRemoteAlert is the inbound alert path, registered as the node
// manager's alert handler. Alerts this node authored are vote echoes and
// feed the tally; alerts authored elsewhere are vote requests, answered by
// echoing the alert back to its originator when this node agrees.
// Disagreement is silence.
func (d *Detector) HandleRemoteAlert(ctx context.Context, msg *rpc.AlertMessage) error {
	if msg == nil || msg.ID == "" || msg.NodeID == "" {
		return status.Error(codes.InvalidArgument, "alert id and node id required")
	}

	if msg.NodeID == d.cluster.ID() {
		if msg.SenderID == "" {
			d.logger.Debug().Str("alert_id", msg.ID).Msg("Vote echo without sender id ignored")
			return nil
		}
		if err := d.consensus.RecordVote(msg.ID, msg.SenderID, true); err != nil {
			// Round already torn down. Late votes are dropped, not failed,
			// so the voter's RPC still acks.
			d.logger.Debug().
				Str("alert_id", msg.ID).
				Str("voter", msg.SenderID).
				Err(err).
				Msg("Late vote dropped")
		}
		return nil
	}

	alert := rpc.FromAlertMessage(*msg)
	zone, ok := d.zones.FindZoneForAlert(alert)
	if !ok {
		d.logger.Debug().
			Str("alert_id", msg.ID).
			Str("type", msg.Type).
			Msg("No local zone for remote alert, staying silent")
		return nil
	}
	if alert.Result.Confidence < zone.AlertPolicy.MinConfidence {
		d.logger.Debug().
			Str("alert_id", msg.ID).
			Str("zone_id", zone.ID).
			Float64("confidence", alert.Result.Confidence).
			Msg("Remote alert below confidence floor, staying silent")
		return nil
	}

	// Echo asynchronously so the originator's broadcast acks immediately
	// instead of waiting on our outbound retries.
	originator := msg.NodeID
	go func() {
		ectx, cancel := context.WithTimeout(context.Background(), voteWindow)
		defer cancel()
		if err := d.cluster.SendAlertTo(ectx, originator, alert); err != nil {
			d.logger.Warn().
				Str("alert_id", alert.ID).
				Str("originator", originator).
				Err(err).
				Msg("Vote echo failed")
		}
	}()

	d.logger.Debug().
		Str("alert_id", msg.ID).
		Str("originator", originator).
		Str("zone_id", zone.ID).
		Msg("Voting for remote alert")
	return nil
}

// executeZoneActions groups alerts by (type, severity) and runs every action
// of every rule matching a group's key against the whole group. A failing
// action never stops the remaining rules or actions.
func (d *Detector) executeZoneActions(ctx context.Context, zone *types.DetectionZone, alerts []*types.AnomalyAlert) {
	type key struct {
		alertType string
		severity  types.Severity
	}
	groups := make(map[key][]*types.AnomalyAlert)
	for _, a := range alerts {
		k := key{alertType: a.Type, severity: a.Result.Severity}
		groups[k] = append(groups[k], a)
	}

	for k, grouped := range groups {
		for _, rule := range zone.Rules {
			if rule.Type != k.alertType || rule.Severity != k.severity {
				continue
			}
			group := AlertGroup{
				ZoneID:   zone.ID,
				Rule:     rule,
				Type:     k.alertType,
				Severity: k.severity,
				Alerts:   grouped,
			}
			for _, action := range rule.Actions {
				d.runAction(ctx, action, group)
			}
		}
	}
}

func (d *Detector) runAction(ctx context.Context, action types.RuleAction, group AlertGroup) {
	var evType events.EventType
	switch action {
	case types.ActionNotify:
		evType = events.EventActionNotify
	case types.ActionBlock:
		evType = events.EventActionBlock
	case types.ActionIsolate:
		evType = events.EventActionIsolate
	default:
		d.logger.Warn().Str("action", string(action)).Msg("Unknown rule action, skipping")
		return
	}

	ids := make([]string, len(group.Alerts))
	for i, a := range group.Alerts {
		ids[i] = a.ID
	}

	metrics.ActionsExecuted.WithLabelValues(string(action)).Inc()
	d.logger.Info().
		Str("zone_id", group.ZoneID).
		Str("rule_id", group.Rule.ID).
		Str("action", string(action)).
		Int("alerts", len(ids)).
		Msg("Executing zone action")
	d.broker.Publish(events.New(evType, "Zone rule action triggered", map[string]string{
		"zone_id": group.ZoneID,
		"rule_id": group.Rule.ID,
		"alerts":  strings.Join(ids, ","),
	}))

	if d.sink == nil {
		return
	}
	if err := d.sink.HandleAction(ctx, action, group); err != nil {
		d.logger.Error().
			Err(err).
			Str("zone_id", group.ZoneID).
			Str("rule_id", group.Rule.ID).
			Str("action", string(action)).
			Msg("Zone action failed")
		d.broker.Publish(events.New(events.EventError, "Zone action failed", map[string]string{
			"zone_id": group.ZoneID,
			"rule_id": group.Rule.ID,
			"action":  string(action),
			"error":   err.Error(),
		}))
	}
}
