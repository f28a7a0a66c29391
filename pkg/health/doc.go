// Package health assesses node liveness from heartbeat timestamps.
//
// A node is healthy while its last heartbeat is younger than the liveness
// timeout. The node manager sweeps the membership table with Assess on
// every heartbeat tick; the admin API reports Summarize aggregates.
//
// Assessment is pure computation over timestamps. Probing happens in the
// node manager's heartbeat loop; this package only interprets the result.
package health
