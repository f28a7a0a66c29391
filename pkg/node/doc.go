/*
Package node owns cluster membership: the local node identity, the table of
known peers, the coordinator RPC server, cached peer connections, and the
heartbeat liveness protocol.

# Membership lifecycle

A node starts standalone or joins through seeds:

	mgr := node.NewManager(node.Config{
		ID:    "node-1",
		Host:  "10.0.0.1",
		Port:  7946,
		Seeds: []string{"10.0.0.2:7946"},
	}, retryMgr, broker)

	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Stop()

Start binds the coordinator server, contacts each seed with a Join, and
merges the returned tables. Every five seconds the heartbeat loop pings all
active peers and sweeps the table for staleness; a peer that errors on the
ping, or that has not heartbeated for fifteen seconds, is marked failed and
node.failed is published. Failed nodes stay in the table; the recovery
manager reconnects them, and a heartbeat arriving from a failed peer
revives it directly.

# Failure semantics

One-shot outbound calls (alert sends, zone broadcasts, zone pulls, seed
joins) retry through the retry manager first; exhaustion is the failure
signal. Heartbeats are the exception: the loop itself is the retry, so a
single failed ping marks the peer immediately.

The membership table is written only by the RPC handlers, the heartbeat
loop, and Reconnect. Everything else reads through accessors that return
copies.
*/
package node
