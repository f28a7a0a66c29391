package rpc

import (
	"time"

	"github.com/cordonsec/vigil/pkg/types"
)

// Conversions between wire messages and domain types. Wire messages stay
// flat and string-typed; the domain side carries the typed enums.

// ToNodeInfo converts a domain node to its wire form.
func ToNodeInfo(n *types.Node) NodeInfo {
	return NodeInfo{
		ID:            n.ID,
		Host:          n.Host,
		Port:          n.Port,
		Role:          string(n.Role),
		Status:        string(n.Status),
		LastHeartbeat: n.LastHeartbeat,
		Capabilities:  append([]string(nil), n.Capabilities...),
		JoinedAt:      n.JoinedAt,
	}
}

// FromNodeInfo converts a wire node back to the domain type.
func FromNodeInfo(info NodeInfo) *types.Node {
	return &types.Node{
		ID:            info.ID,
		Host:          info.Host,
		Port:          info.Port,
		Role:          types.NodeRole(info.Role),
		Status:        types.NodeStatus(info.Status),
		LastHeartbeat: info.LastHeartbeat,
		Capabilities:  append([]string(nil), info.Capabilities...),
		JoinedAt:      info.JoinedAt,
	}
}

// ToZoneMessage converts a zone snapshot to its wire form.
func ToZoneMessage(z *types.DetectionZone) ZoneMessage {
	rules := make([]RuleMessage, len(z.Rules))
	for i, r := range z.Rules {
		actions := make([]string, len(r.Actions))
		for j, a := range r.Actions {
			actions[j] = string(a)
		}
		rules[i] = RuleMessage{
			ID:         r.ID,
			Type:       r.Type,
			Severity:   string(r.Severity),
			Conditions: append([]string(nil), r.Conditions...),
			Actions:    actions,
		}
	}
	return ZoneMessage{
		ID:    z.ID,
		Nodes: append([]string(nil), z.Nodes...),
		Rules: rules,
		AlertPolicy: PolicyMessage{
			MinConfidence:      z.AlertPolicy.MinConfidence,
			ConsensusThreshold: z.AlertPolicy.ConsensusThreshold,
			TimeWindowMs:       z.AlertPolicy.TimeWindow.Milliseconds(),
			CorrelationRules:   append([]string(nil), z.AlertPolicy.CorrelationRules...),
		},
		CreatedAt: z.CreatedAt,
		UpdatedAt: z.UpdatedAt,
	}
}

// FromZoneMessage converts a wire zone snapshot back to the domain type.
func FromZoneMessage(m ZoneMessage) *types.DetectionZone {
	rules := make([]types.DetectionRule, len(m.Rules))
	for i, r := range m.Rules {
		actions := make([]types.RuleAction, len(r.Actions))
		for j, a := range r.Actions {
			actions[j] = types.RuleAction(a)
		}
		rules[i] = types.DetectionRule{
			ID:         r.ID,
			Type:       r.Type,
			Severity:   types.Severity(r.Severity),
			Conditions: append([]string(nil), r.Conditions...),
			Actions:    actions,
		}
	}
	return &types.DetectionZone{
		ID:    m.ID,
		Nodes: append([]string(nil), m.Nodes...),
		Rules: rules,
		AlertPolicy: types.AlertPolicy{
			MinConfidence:      m.AlertPolicy.MinConfidence,
			ConsensusThreshold: m.AlertPolicy.ConsensusThreshold,
			TimeWindow:         time.Duration(m.AlertPolicy.TimeWindowMs) * time.Millisecond,
			CorrelationRules:   append([]string(nil), m.AlertPolicy.CorrelationRules...),
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// ToAlertMessage converts an alert to its wire form stamped with the
// delivering node's id.
func ToAlertMessage(a *types.AnomalyAlert, senderID string) AlertMessage {
	return AlertMessage{
		ID:       a.ID,
		NodeID:   a.NodeID,
		SenderID: senderID,
		Type:     a.Type,
		Result: ResultMessage{
			IsAnomaly:     a.Result.IsAnomaly,
			Severity:      string(a.Result.Severity),
			Confidence:    a.Result.Confidence,
			EnsembleScore: a.Result.EnsembleScore,
			ModelScores:   a.Result.ModelScores,
		},
		Timestamp: a.Timestamp,
		Context:   a.Context,
		Status:    string(a.Status),
		Priority:  string(a.Priority),
	}
}

// FromAlertMessage converts a wire alert back to the domain type.
func FromAlertMessage(m AlertMessage) *types.AnomalyAlert {
	return &types.AnomalyAlert{
		ID:     m.ID,
		NodeID: m.NodeID,
		Type:   m.Type,
		Result: types.DetectionResult{
			IsAnomaly:     m.Result.IsAnomaly,
			Severity:      types.Severity(m.Result.Severity),
			Confidence:    m.Result.Confidence,
			EnsembleScore: m.Result.EnsembleScore,
			ModelScores:   m.Result.ModelScores,
		},
		Timestamp: m.Timestamp,
		Context:   m.Context,
		Status:    types.AlertStatus(m.Status),
		Priority:  types.AlertPriority(m.Priority),
	}
}
