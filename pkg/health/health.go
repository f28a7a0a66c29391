package health

import (
	"time"

	"github.com/cordonsec/vigil/pkg/types"
)

// Assessment is the outcome of a liveness check against one node.
type Assessment struct {
	NodeID        string
	Healthy       bool
	LastHeartbeat time.Time
	Age           time.Duration
	CheckedAt     time.Time
}

// Config controls liveness assessment.
type Config struct {
	// Timeout is how long a node may go without a heartbeat before it is
	// considered failed.
	Timeout time.Duration
}

// DefaultConfig returns the cluster default liveness window.
func DefaultConfig() Config {
	return Config{
		Timeout: 15 * time.Second,
	}
}

// Stale reports whether a heartbeat timestamp has aged past the timeout.
// A zero timestamp is always stale; a node that never heartbeated cannot
// be live.
func Stale(lastHeartbeat, now time.Time, timeout time.Duration) bool {
	if lastHeartbeat.IsZero() {
		return true
	}
	return now.Sub(lastHeartbeat) > timeout
}

// Assess evaluates one node's liveness at the given instant.
func Assess(n *types.Node, now time.Time, cfg Config) Assessment {
	age := now.Sub(n.LastHeartbeat)
	if n.LastHeartbeat.IsZero() {
		age = 0
	}
	return Assessment{
		NodeID:        n.ID,
		Healthy:       !Stale(n.LastHeartbeat, now, cfg.Timeout),
		LastHeartbeat: n.LastHeartbeat,
		Age:           age,
		CheckedAt:     now,
	}
}

// Summary aggregates membership state for status reporting.
type Summary struct {
	Total    int
	Active   int
	Inactive int
	Failed   int
}

// Summarize counts nodes by status.
func Summarize(nodes []*types.Node) Summary {
	var s Summary
	for _, n := range nodes {
		s.Total++
		switch n.Status {
		case types.NodeStatusActive:
			s.Active++
		case types.NodeStatusInactive:
			s.Inactive++
		case types.NodeStatusFailed:
			s.Failed++
		}
	}
	return s
}

// Quorate reports whether the active count can still satisfy the given
// consensus threshold with at least one voter besides the subject itself.
func (s Summary) Quorate(threshold float64) bool {
	if s.Active <= 1 {
		return false
	}
	return float64(s.Active)*threshold >= 1
}
