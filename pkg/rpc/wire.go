package rpc

import "time"

// Wire messages for the vigil.Coordinator service. Field names follow the
// node-to-node JSON contract; times travel as RFC 3339 strings.

// NodeInfo advertises one node's identity and liveness state.
type NodeInfo struct {
	ID            string    `json:"id"`
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	Role          string    `json:"role"`
	Status        string    `json:"status"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	Capabilities  []string  `json:"capabilities,omitempty"`
	JoinedAt      time.Time `json:"joinedAt"`
}

// JoinRequest advertises the caller to a peer.
type JoinRequest struct {
	Node NodeInfo `json:"node"`
}

// JoinResponse returns the full membership table so the caller learns the
// topology in one round trip.
type JoinResponse struct {
	Nodes []NodeInfo `json:"nodes"`
}

// HeartbeatRequest is the periodic liveness ping.
type HeartbeatRequest struct {
	NodeID    string    `json:"nodeId"`
	Timestamp time.Time `json:"timestamp"`
}

// HeartbeatResponse acknowledges a heartbeat.
type HeartbeatResponse struct{}

// ResultMessage carries the local detector's verdict inside an alert.
type ResultMessage struct {
	IsAnomaly     bool               `json:"isAnomaly"`
	Severity      string             `json:"severity"`
	Confidence    float64            `json:"confidence"`
	EnsembleScore float64            `json:"ensembleScore"`
	ModelScores   map[string]float64 `json:"modelScores,omitempty"`
}

// AlertMessage delivers an alert for voting. NodeID is the originating node;
// SenderID is the delivering node. A delivery whose NodeID matches the
// receiver is a vote echo for an alert the receiver authored.
type AlertMessage struct {
	ID        string            `json:"id"`
	NodeID    string            `json:"nodeId"`
	SenderID  string            `json:"senderId"`
	Type      string            `json:"type"`
	Result    ResultMessage     `json:"result"`
	Timestamp time.Time         `json:"timestamp"`
	Context   map[string]string `json:"context,omitempty"`
	Status    string            `json:"status"`
	Priority  string            `json:"priority"`
}

// AlertAck acknowledges an alert delivery.
type AlertAck struct{}

// RuleMessage is the wire form of a detection rule.
type RuleMessage struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Severity   string   `json:"severity"`
	Conditions []string `json:"conditions,omitempty"`
	Actions    []string `json:"actions"`
}

// PolicyMessage is the wire form of a zone's alert policy. The correlation
// window travels as milliseconds.
type PolicyMessage struct {
	MinConfidence      float64  `json:"minConfidence"`
	ConsensusThreshold float64  `json:"consensusThreshold"`
	TimeWindowMs       int64    `json:"timeWindowMs"`
	CorrelationRules   []string `json:"correlationRules,omitempty"`
}

// ZoneMessage replicates a full zone snapshot. An empty Nodes list is a
// tombstone: receivers delete the zone.
type ZoneMessage struct {
	ID          string        `json:"id"`
	Nodes       []string      `json:"nodes"`
	Rules       []RuleMessage `json:"rules"`
	AlertPolicy PolicyMessage `json:"alertPolicy"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// IsTombstone reports whether the snapshot encodes a deletion.
func (m *ZoneMessage) IsTombstone() bool {
	return len(m.Nodes) == 0
}

// ZoneAck acknowledges a zone snapshot delivery.
type ZoneAck struct{}

// GetZonesRequest asks a peer for its full zone set.
type GetZonesRequest struct {
	NodeID    string    `json:"nodeId"`
	Timestamp time.Time `json:"timestamp"`
}

// ZoneList is the full zone-state pull used by sync and recovery.
type ZoneList struct {
	Zones []ZoneMessage `json:"zones"`
}
