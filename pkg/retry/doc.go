/*
Package retry provides the retry-with-timeout-and-backoff executor used by
every component that performs a remote call.

Each attempt races the operation against a per-attempt deadline; failures
back off exponentially (1s doubling to a 30s cap by default) before the next
attempt. Attempt failures publish retry.failed events; running out of
attempts publishes retry.exhausted and returns the last error wrapped with
the operation name. Callers treat that returned error as the failure signal
(NodeManager turns it into node.failed).

Operations must be idempotent: a timed-out attempt may still have reached
the peer, so the next attempt can observe its effects.

# Usage

	rm := retry.NewManager(retry.DefaultConfig(), broker)

	var reply *rpc.JoinResponse
	err := rm.Do(ctx, "join_seed_"+addr, func(ctx context.Context) error {
		var err error
		reply, err = client.Join(ctx, req)
		return err
	})
*/
package retry
