/*
Package metrics provides Prometheus metrics for Vigil.

All metrics live in the vigil_* namespace as package-level collectors
registered at init, so any package can instrument without wiring. Server-side
RPC metrics (per-method counters and handling-time histograms) come from the
grpc-prometheus interceptors installed in pkg/rpc and share the same registry.

# Metric Groups

Membership:
  - vigil_nodes{role,status}: gauge, refreshed by the Collector
  - vigil_heartbeats_sent_total / vigil_heartbeat_failures_total
  - vigil_node_failures_total: peers marked failed

Zones:
  - vigil_zones: local replica count
  - vigil_zone_broadcasts_total / vigil_zone_broadcast_failures_total
  - vigil_zone_inconsistencies_total: flagged by the validation loop

Detection and consensus:
  - vigil_detections_total{result}, vigil_alerts_total{severity}
  - vigil_votes_recorded_total, vigil_consensus_rounds_total{outcome}
  - vigil_consensus_duration_seconds
  - vigil_actions_executed_total{action}

Retry and recovery:
  - vigil_retry_attempts_total, vigil_retries_exhausted_total
  - vigil_recovery_attempts_total{kind,outcome}
  - vigil_state_validation_duration_seconds
  - vigil_rpc_failures_total{method}: outbound failures after retries

Component health:
  - vigil_component_up{component}: 0/1 per reporting component

Components report lifecycle health with UpdateComponent; the admin
readiness probe reads it back through Components() and turns any
unhealthy entry into a 503.

# Usage

Counters and gauges:

	metrics.HeartbeatsSent.Inc()
	metrics.ConsensusRounds.WithLabelValues("reached").Inc()

Timing an operation:

	timer := metrics.NewTimer()
	// ... validation pass ...
	timer.ObserveDuration(metrics.ValidationDuration)

Background gauge refresh:

	collector := metrics.NewCollector(nodeManager, zoneManager)
	collector.Start()
	defer collector.Stop()

The scrape endpoint comes from Handler(), mounted at /metrics by the admin
server.
*/
package metrics
