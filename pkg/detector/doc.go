// Package detector orchestrates distributed anomaly detection.
//
// The detector wraps a local scoring model. Each Detect call scores one
// measurement set; an anomaly becomes an alert, resolves to the first zone
// whose rules match its type and severity, and is put to a zone-wide vote.
// On agreement the zone's matching rule actions run against the alert group
// through the injected ActionSink.
//
// Voting is symmetric: the same detector answers peers' vote requests in
// HandleRemoteAlert. It validates the remote alert against its own zone
// replica and confidence floor, and agreement means echoing the alert back
// to the originator, where the echo lands as a vote.
//
// ZScoreDetector is the built-in LocalDetector: a per-series running
// mean/variance profile that flags statistical outliers. Deployments with a
// real scoring model swap it out at construction.
package detector
