/*
Package events provides the cluster event bus for Vigil.

Every observable state change in the coordination layer is published as a
typed event: membership changes, zone replication, consensus outcomes, rule
actions, and retry/recovery escalations. Components publish; any number of
consumers subscribe. This replaces ambient global emitters with one explicit
bus handed to each manager at construction.

# Architecture

	┌──────────── EVENT FLOW ────────────┐
	│                                     │
	│  node / zone / consensus /          │
	│  recovery / retry / detector        │
	│            │ Publish                │
	│            ▼                        │
	│      ┌──────────┐                   │
	│      │  Broker  │  buffered (100)   │
	│      └────┬─────┘                   │
	│           │ broadcast               │
	│     ┌─────┴─────┬──────────┐        │
	│     ▼           ▼          ▼        │
	│  recovery    admin API   tests      │
	│  (failures)  (stream)   (asserts)   │
	└─────────────────────────────────────┘

# Delivery Semantics

Publishing is non-blocking: each subscriber has a 50-event buffer, and a
full buffer drops the event for that subscriber only. Consumers that must
not miss events (RecoveryManager) keep their handling cheap and drain
promptly. Events carry ids and timestamps; Metadata holds entity ids
(node_id, zone_id, alert_id) as strings.

# Event Catalog

Membership: node.joined, node.failed, node.recovered, node.recovery_failed.
Zones: zone.created, zone.updated, zone.deleted, zone.synced,
zone.inconsistent, zone.recovered, zone.recovery_failed.
Consensus: alert.created, consensus.reached, consensus.failed,
consensus.timeout. Actions: action.notify, action.block, action.isolate.
Escalation: retry.failed, retry.exhausted, recovery.exhausted, error.

Terminal events (node.recovery_failed, zone.recovery_failed) mean automatic
recovery has given up; the entity stays visible in the admin API and requires
operator action.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.Metadata["node_id"])
		}
	}()

	broker.Publish(events.New(events.EventNodeJoined, "node joined",
		map[string]string{"node_id": node.ID}))

# See Also

  - pkg/recovery for the consumer that turns node.failed into repair work
  - pkg/detector for action events carrying grouped alert ids
*/
package events
