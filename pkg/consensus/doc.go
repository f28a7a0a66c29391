// Package consensus runs per-alert quorum votes.
//
// A round starts when the detector hands an anomaly alert and its resolved
// zone to ReachConsensus. The local vote counts immediately, the alert fans
// out to the zone's other active members, and the round polls until enough
// votes arrive or the 10-second window closes. Remote members never push
// votes directly; a member that agrees echoes the alert back to the
// originator, whose inbound alert handler turns the echo into a RecordVote
// call. Disagreement is silence, so a missing vote can starve quorum but
// never flips agreement.
//
// Quorum is evaluated against live membership: the required vote count is
// recomputed from the zone's currently active members on every poll, so
// nodes failing mid-vote lower the bar instead of wedging the round. A round
// that times out is terminal; the alert is dropped, never requeued.
package consensus
