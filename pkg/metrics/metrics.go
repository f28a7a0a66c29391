package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster membership metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_nodes",
			Help: "Number of known nodes by role and status",
		},
		[]string{"role", "status"},
	)

	HeartbeatsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_heartbeats_sent_total",
			Help: "Total number of heartbeats sent to peers",
		},
	)

	HeartbeatFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_heartbeat_failures_total",
			Help: "Total number of heartbeat sends that failed",
		},
	)

	NodeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_node_failures_total",
			Help: "Total number of peers marked failed",
		},
	)

	// Zone replication metrics
	ZonesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_zones",
			Help: "Number of detection zones held locally",
		},
	)

	ZoneBroadcasts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_zone_broadcasts_total",
			Help: "Total number of zone snapshot sends to peers",
		},
	)

	ZoneBroadcastFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_zone_broadcast_failures_total",
			Help: "Total number of zone snapshot sends that failed after retries",
		},
	)

	// Detection and consensus metrics
	DetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_detections_total",
			Help: "Total number of local detections by result",
		},
		[]string{"result"},
	)

	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_alerts_total",
			Help: "Total number of anomaly alerts created by severity",
		},
		[]string{"severity"},
	)

	VotesRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_votes_recorded_total",
			Help: "Total number of consensus votes tallied locally",
		},
	)

	ConsensusRounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_consensus_rounds_total",
			Help: "Total number of consensus rounds by outcome",
		},
		[]string{"outcome"},
	)

	ConsensusDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_consensus_duration_seconds",
			Help:    "Time from round start to quorum or timeout in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ActionsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_actions_executed_total",
			Help: "Total number of rule actions executed by action",
		},
		[]string{"action"},
	)

	// Retry and recovery metrics
	RetryAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_retry_attempts_total",
			Help: "Total number of retried operation attempts",
		},
	)

	RetriesExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_retries_exhausted_total",
			Help: "Total number of operations that exhausted all retry attempts",
		},
	)

	RecoveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_recovery_attempts_total",
			Help: "Total number of recovery attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ValidationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_state_validation_duration_seconds",
			Help:    "Zone state validation pass duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ZoneInconsistencies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_zone_inconsistencies_total",
			Help: "Total number of zone inconsistencies flagged by validation",
		},
	)

	// Outbound RPC failures by method (server-side RPC metrics come from the
	// grpc-prometheus interceptors registered in pkg/rpc)
	RPCFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_rpc_failures_total",
			Help: "Total number of outbound RPC failures by method",
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(HeartbeatsSent)
	prometheus.MustRegister(HeartbeatFailures)
	prometheus.MustRegister(NodeFailures)
	prometheus.MustRegister(ZonesTotal)
	prometheus.MustRegister(ZoneBroadcasts)
	prometheus.MustRegister(ZoneBroadcastFailures)
	prometheus.MustRegister(DetectionsTotal)
	prometheus.MustRegister(AlertsTotal)
	prometheus.MustRegister(VotesRecorded)
	prometheus.MustRegister(ConsensusRounds)
	prometheus.MustRegister(ConsensusDuration)
	prometheus.MustRegister(ActionsExecuted)
	prometheus.MustRegister(RetryAttempts)
	prometheus.MustRegister(RetriesExhausted)
	prometheus.MustRegister(RecoveryAttempts)
	prometheus.MustRegister(ValidationDuration)
	prometheus.MustRegister(ZoneInconsistencies)
	prometheus.MustRegister(RPCFailures)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
