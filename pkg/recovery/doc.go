// Package recovery repairs membership and zone state after partial failures.
//
// Two loops share one mutual-exclusion flag. The health loop (30s) retries
// failed peers via reconnect and flagged zones via majority reconciliation;
// each entry is retried at most once per RecoveryInterval and dropped as
// terminal after MaxRecoveryAttempts. The validation loop (5m) fetches every
// active peer's zone set and compares canonical keys in both directions,
// flagging remote-only zones, content divergence, and zones a peer lacks.
//
// Reconciliation is majority-wins: peers' copies of a zone are grouped by
// canonical key, the largest group is adopted locally and rebroadcast, and
// ties break to the smallest key so all nodes converge on the same copy.
// When no peer holds the zone at all, the local copy is authoritative.
//
// Failed peers arrive through node.failed events. A peer that revives on its
// own (its heartbeat reaches us first) publishes node.recovered, which clears
// the entry here without spending attempts.
package recovery
