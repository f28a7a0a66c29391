package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Conn is the client-side view of a peer coordinator. The node manager holds
// one per known peer; tests substitute in-memory fakes.
type Conn interface {
	Join(ctx context.Context, req *JoinRequest) (*JoinResponse, error)
	Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error)
	SendAlert(ctx context.Context, msg *AlertMessage) (*AlertAck, error)
	SendZone(ctx context.Context, msg *ZoneMessage) (*ZoneAck, error)
	GetZones(ctx context.Context, req *GetZonesRequest) (*ZoneList, error)
	Close() error
}

// Client is a coordinator connection to a single peer.
type Client struct {
	conn   *grpc.ClientConn
	target string
}

var _ Conn = (*Client)(nil)

// Dial opens a coordinator connection to target. The connection is lazy;
// the first RPC establishes the transport.
func Dial(target string, tlsCfg *TLSConfig) (*Client, error) {
	creds := insecure.NewCredentials()
	if tlsCfg.Enabled() {
		tc, err := tlsCfg.ClientCredentials()
		if err != nil {
			return nil, fmt.Errorf("client TLS: %w", err)
		}
		creds = tc
	}

	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(Name)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}

	return &Client{conn: conn, target: target}, nil
}

// Target returns the address this client dials.
func (c *Client) Target() string {
	return c.target
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Join advertises the local node to the peer and returns the peer's
// membership table.
func (c *Client) Join(ctx context.Context, req *JoinRequest) (*JoinResponse, error) {
	out := new(JoinResponse)
	if err := c.conn.Invoke(ctx, MethodJoin, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Heartbeat refreshes the local node's liveness timestamp on the peer.
func (c *Client) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	out := new(HeartbeatResponse)
	if err := c.conn.Invoke(ctx, MethodHeartbeat, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendAlert delivers an alert to the peer for validation and voting.
func (c *Client) SendAlert(ctx context.Context, msg *AlertMessage) (*AlertAck, error) {
	out := new(AlertAck)
	if err := c.conn.Invoke(ctx, MethodSendAlert, msg, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendZone delivers a zone snapshot or tombstone to the peer.
func (c *Client) SendZone(ctx context.Context, msg *ZoneMessage) (*ZoneAck, error) {
	out := new(ZoneAck)
	if err := c.conn.Invoke(ctx, MethodSendZone, msg, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetZones pulls the peer's full zone set.
func (c *Client) GetZones(ctx context.Context, req *GetZonesRequest) (*ZoneList, error) {
	out := new(ZoneList)
	if err := c.conn.Invoke(ctx, MethodGetZones, req, out); err != nil {
		return nil, err
	}
	return out, nil
}
