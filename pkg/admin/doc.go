// Package admin serves the local HTTP API: health and readiness probes,
// Prometheus metrics, and operator endpoints for cluster status, membership,
// zone management, and on-demand detection. Zone mutations are routed
// through the zone manager so they validate and broadcast exactly like
// RPC-applied changes; POST /v1/detect feeds measurements into the same
// pipeline the node runs on its own telemetry.
package admin
