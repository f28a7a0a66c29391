/*
Package zone owns the detection zone replica set: validated CRUD with
replication, startup synchronization, alert-to-zone resolution, and the
canonical comparison key used by recovery reconciliation.

Every node holds a full local replica of every zone. Mutations validate
before anything else happens; a zone that references unknown nodes, has no
rules, or carries an out-of-range policy is rejected before any network
call. Valid mutations store locally and then broadcast the full snapshot
to the zone's members. Deletions broadcast a tombstone, a snapshot with an
empty member list.

Replicas converge through three paths, in order of immediacy:

  - ApplyRemote applies snapshots and tombstones as peers broadcast them
  - SyncZones pulls everything once at startup, keeping the first copy
    seen of each unknown zone id
  - the recovery manager reconciles lingering divergence by majority,
    feeding the winning state back through AdoptZone

CanonicalKey is what makes the comparison sound: members sorted, rules
sorted by id, policy fields in a fixed order, timestamps excluded. Equal
content means equal keys on every node.

The last thousand zone operations are retained in a ring for diagnostics
and served by the admin API. Nothing here is durable; a restarted node
relearns zones from its peers.
*/
package zone
