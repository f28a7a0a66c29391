package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordonsec/vigil/pkg/types"
)

func TestZoneConversionPreservesPolicyWindow(t *testing.T) {
	zone := &types.DetectionZone{
		ID:    "zone-edge",
		Nodes: []string{"node-1", "node-2"},
		Rules: []types.DetectionRule{
			{
				ID:       "rule-1",
				Type:     "network_traffic",
				Severity: types.SeverityHigh,
				Actions:  []types.RuleAction{types.ActionNotify, types.ActionBlock},
			},
		},
		AlertPolicy: types.AlertPolicy{
			MinConfidence:      0.75,
			ConsensusThreshold: 0.6,
			TimeWindow:         5 * time.Second,
		},
		CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	}

	msg := ToZoneMessage(zone)
	assert.Equal(t, int64(5000), msg.AlertPolicy.TimeWindowMs)
	assert.Equal(t, []string{"notify", "block"}, msg.Rules[0].Actions)
	assert.False(t, msg.IsTombstone())

	back := FromZoneMessage(msg)
	assert.Equal(t, zone.ID, back.ID)
	assert.Equal(t, zone.Nodes, back.Nodes)
	assert.Equal(t, 5*time.Second, back.AlertPolicy.TimeWindow)
	assert.Equal(t, types.SeverityHigh, back.Rules[0].Severity)
	assert.Equal(t, types.ActionBlock, back.Rules[0].Actions[1])
	assert.True(t, back.CreatedAt.Equal(zone.CreatedAt))
}

func TestZoneConversionCopiesSlices(t *testing.T) {
	zone := &types.DetectionZone{
		ID:    "zone-a",
		Nodes: []string{"node-1"},
	}
	msg := ToZoneMessage(zone)
	msg.Nodes[0] = "mutated"
	assert.Equal(t, "node-1", zone.Nodes[0])
}

func TestAlertConversionStampsSender(t *testing.T) {
	alert := &types.AnomalyAlert{
		ID:     "node-1-1700000000000",
		NodeID: "node-1",
		Type:   "auth_failures",
		Result: types.DetectionResult{
			IsAnomaly:     true,
			Severity:      types.SeverityMedium,
			Confidence:    0.81,
			EnsembleScore: 0.77,
			ModelScores:   map[string]float64{"iforest": 0.8},
		},
		Timestamp: time.Now().UTC(),
		Status:    types.AlertStatusNew,
		Priority:  types.PriorityP2,
	}

	msg := ToAlertMessage(alert, "node-4")
	assert.Equal(t, "node-4", msg.SenderID)
	assert.Equal(t, "node-1", msg.NodeID)
	assert.Equal(t, "P2", msg.Priority)

	back := FromAlertMessage(msg)
	require.NotNil(t, back)
	assert.Equal(t, alert.ID, back.ID)
	assert.Equal(t, alert.NodeID, back.NodeID)
	assert.Equal(t, types.SeverityMedium, back.Result.Severity)
	assert.Equal(t, types.AlertStatusNew, back.Status)
	assert.Equal(t, types.PriorityP2, back.Priority)
}

func TestNodeConversionRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	node := &types.Node{
		ID:            "node-7",
		Host:          "10.1.2.3",
		Port:          7946,
		Role:          types.NodeRoleWorker,
		Status:        types.NodeStatusFailed,
		LastHeartbeat: now,
		Capabilities:  []string{"detector"},
		JoinedAt:      now.Add(-time.Hour),
	}

	back := FromNodeInfo(ToNodeInfo(node))
	assert.Equal(t, node.ID, back.ID)
	assert.Equal(t, types.NodeStatusFailed, back.Status)
	assert.Equal(t, node.Capabilities, back.Capabilities)
	assert.True(t, back.JoinedAt.Equal(node.JoinedAt))
}
