// Package rpc carries all node-to-node communication for the cluster.
//
// Every node runs one gRPC server exposing the vigil.Coordinator service
// and holds one client connection per known peer. The service has five
// unary methods:
//
//	Join       advertise a node, receive the full membership table
//	Heartbeat  refresh the caller's liveness timestamp
//	SendAlert  deliver an alert for validation and voting
//	SendZone   deliver a zone snapshot or tombstone
//	GetZones   pull the receiver's full zone set
//
// Messages travel as JSON through a codec registered under the "json"
// content-subtype, so the service needs no generated protobuf types and
// the wire format stays inspectable. Clients opt in per connection:
//
//	client, err := rpc.Dial("10.0.0.2:7946", nil)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	resp, err := client.Join(ctx, &rpc.JoinRequest{Node: rpc.ToNodeInfo(self)})
//
// Server side, handlers implement the CoordinatorServer interface and the
// server wires Prometheus interceptors and an optional mTLS listener:
//
//	srv, err := rpc.NewServer(cfg.BindAddress, handler, cfg.TLS)
//	if err != nil {
//		return err
//	}
//	go srv.Start()
//	defer srv.Shutdown(ctx)
//
// TLS is off by default. When configured, both directions verify against a
// shared CA and the server requires client certificates.
package rpc
