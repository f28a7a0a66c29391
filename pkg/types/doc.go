/*
Package types defines the core data structures used throughout Vigil.

This package contains the domain model shared by every other package:
cluster nodes, detection zones and their rules, anomaly alerts, and
consensus results. It has no dependencies beyond the standard library so
that any package may import it freely.

# Core Types

Cluster membership:
  - Node: a detection node with role, status, and heartbeat bookkeeping
  - NodeRole: master or worker
  - NodeStatus: active, inactive, failed (failed nodes are kept as
    recovery candidates, never deleted)

Detection policy:
  - DetectionZone: a named grouping of nodes sharing rules and an alert
    policy; replicated to every member node
  - DetectionRule: matches alerts by (type, severity) and carries the
    actions to run on consensus agreement
  - AlertPolicy: minimum confidence, consensus threshold, and the
    correlation time window

Detection flow:
  - Measurements: opaque input to the local detector
  - DetectionResult: the local detector's verdict for one measurement set
  - AnomalyAlert: built by the observing node; peers vote on it but never
    mutate it
  - ConsensusResult: outcome of one quorum round for one alert

# Enumeration Pattern

All enums use typed string constants:

	type Severity string
	const (
		SeverityLow  Severity = "low"
		SeverityHigh Severity = "high"
	)

Severity and RuleAction expose Valid() for zone validation.

# Thread Safety

Types here are plain data: safe for concurrent reads, unsynchronized for
writes. The owning managers (pkg/node, pkg/zone) guard all mutation behind
their own locks and hand out copies via Clone() where callers could retain
references.

# See Also

  - pkg/node for the membership table that owns Node lifecycles
  - pkg/zone for zone validation rules and canonical serialization
  - pkg/rpc for the wire representation of these types
*/
package types
