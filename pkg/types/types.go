package types

import (
	"net"
	"sort"
	"strconv"
	"time"
)

// Node represents a detection node in the cluster, including the local one.
type Node struct {
	ID            string
	Host          string
	Port          int
	Role          NodeRole
	Status        NodeStatus
	LastHeartbeat time.Time
	Capabilities  []string
	JoinedAt      time.Time
}

// Address returns the node's dialable host:port endpoint.
func (n *Node) Address() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// IsActive reports whether the node is currently considered live.
func (n *Node) IsActive() bool {
	return n.Status == NodeStatusActive
}

// Clone returns a deep copy safe to hand out across goroutines.
func (n *Node) Clone() *Node {
	c := *n
	c.Capabilities = append([]string(nil), n.Capabilities...)
	return &c
}

// NodeRole defines the role of a node
type NodeRole string

const (
	NodeRoleMaster NodeRole = "master"
	NodeRoleWorker NodeRole = "worker"
)

// NodeStatus represents the current state of a node. Failed nodes are never
// removed from the membership table; they remain recovery candidates.
type NodeStatus string

const (
	NodeStatusActive   NodeStatus = "active"
	NodeStatusInactive NodeStatus = "inactive"
	NodeStatusFailed   NodeStatus = "failed"
)

// DetectionZone groups nodes under a shared rule set and alert policy.
// Every node holds a local replica; replicas converge via broadcast and
// majority reconciliation.
type DetectionZone struct {
	ID          string
	Nodes       []string // member node ids
	Rules       []DetectionRule
	AlertPolicy AlertPolicy
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasNode reports whether the given node id is a member of the zone.
func (z *DetectionZone) HasNode(nodeID string) bool {
	for _, id := range z.Nodes {
		if id == nodeID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out across goroutines.
func (z *DetectionZone) Clone() *DetectionZone {
	c := *z
	c.Nodes = append([]string(nil), z.Nodes...)
	c.Rules = make([]DetectionRule, len(z.Rules))
	for i, r := range z.Rules {
		c.Rules[i] = *r.Clone()
	}
	c.AlertPolicy.CorrelationRules = append([]string(nil), z.AlertPolicy.CorrelationRules...)
	return &c
}

// AlertPolicy controls when alerts in a zone become zone-wide incidents.
type AlertPolicy struct {
	MinConfidence      float64       // below this, alerts are not put to a vote
	ConsensusThreshold float64       // fraction of active members required for quorum
	TimeWindow         time.Duration // correlation window; milliseconds on the wire
	CorrelationRules   []string
}

// DetectionRule matches alerts by (type, severity) and lists the actions to
// execute on consensus agreement. Rules are immutable once embedded in a zone
// snapshot; updates replace the whole zone.
type DetectionRule struct {
	ID         string
	Type       string
	Severity   Severity
	Conditions []string
	Actions    []RuleAction
}

// Matches reports whether the rule applies to the given alert key.
func (r *DetectionRule) Matches(alertType string, severity Severity) bool {
	return r.Type == alertType && r.Severity == severity
}

// Clone returns a deep copy of the rule.
func (r *DetectionRule) Clone() *DetectionRule {
	c := *r
	c.Conditions = append([]string(nil), r.Conditions...)
	c.Actions = append([]RuleAction(nil), r.Actions...)
	return &c
}

// Severity grades detection results and rules
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid reports whether the severity is one of the known grades.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// RuleAction is an enforcement action attached to a detection rule
type RuleAction string

const (
	ActionNotify  RuleAction = "notify"
	ActionBlock   RuleAction = "block"
	ActionIsolate RuleAction = "isolate"
)

// Valid reports whether the action is one of the known actions.
func (a RuleAction) Valid() bool {
	switch a {
	case ActionNotify, ActionBlock, ActionIsolate:
		return true
	}
	return false
}

// Measurements is the opaque input handed to the local detector. Source
// becomes the alert type used for rule matching.
type Measurements struct {
	Source    string
	Values    map[string]float64
	Labels    map[string]string
	Timestamp time.Time
}

// DetectionResult is produced by the local detector for one measurement set.
type DetectionResult struct {
	IsAnomaly     bool
	Severity      Severity
	Confidence    float64
	EnsembleScore float64
	ModelScores   map[string]float64
}

// AnomalyAlert is created by the node that observed an anomaly. Peers vote on
// alerts but never mutate them.
type AnomalyAlert struct {
	ID        string // originating node id + "-" + unix millisecond timestamp
	NodeID    string // originating node
	Type      string // from Measurements.Source
	Result    DetectionResult
	Timestamp time.Time
	Context   map[string]string
	Status    AlertStatus
	Priority  AlertPriority
}

// AlertStatus tracks the lifecycle of an alert
type AlertStatus string

const (
	AlertStatusNew           AlertStatus = "new"
	AlertStatusInvestigating AlertStatus = "investigating"
	AlertStatusResolved      AlertStatus = "resolved"
	AlertStatusFalsePositive AlertStatus = "false_positive"
)

// AlertPriority ranks alerts for downstream consumers
type AlertPriority string

const (
	PriorityP1 AlertPriority = "P1"
	PriorityP2 AlertPriority = "P2"
	PriorityP3 AlertPriority = "P3"
)

// PriorityFor maps a severity to its alert priority.
func PriorityFor(s Severity) AlertPriority {
	switch s {
	case SeverityHigh:
		return PriorityP1
	case SeverityMedium:
		return PriorityP2
	default:
		return PriorityP3
	}
}

// ConsensusResult is the outcome of one quorum round for one alert.
type ConsensusResult struct {
	Reached      bool
	Agreement    bool
	Participants []string // voter node ids, sorted
	Timestamp    time.Time
}

// SortedParticipants returns the participant list in sorted order.
func SortedParticipants(votes map[string]bool) []string {
	out := make([]string, 0, len(votes))
	for id := range votes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
