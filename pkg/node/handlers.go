package node

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cordonsec/vigil/pkg/events"
	"github.com/cordonsec/vigil/pkg/rpc"
	"github.com/cordonsec/vigil/pkg/types"
)

// Inbound side of the coordinator service. These handlers and the heartbeat
// loop are the only writers of the membership table.

var _ rpc.CoordinatorServer = (*Manager)(nil)

// Join admits the advertised node into the membership table and replies
// with the full table, so the caller learns the topology in one round trip.
func (m *Manager) Join(ctx context.Context, req *rpc.JoinRequest) (*rpc.JoinResponse, error) {
	if req.Node.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "join request missing node id")
	}

	incoming := rpc.FromNodeInfo(req.Node)
	now := time.Now()
	var joined bool

	m.mu.Lock()
	existing, ok := m.nodes[incoming.ID]
	if ok {
		// Receiving a Join is liveness evidence regardless of what the
		// advertised snapshot claims.
		existing.Host = incoming.Host
		existing.Port = incoming.Port
		existing.Role = incoming.Role
		existing.Capabilities = append([]string(nil), incoming.Capabilities...)
		existing.Status = types.NodeStatusActive
		if now.After(existing.LastHeartbeat) {
			existing.LastHeartbeat = now
		}
	} else if incoming.ID != m.self.ID {
		incoming.Status = types.NodeStatusActive
		incoming.LastHeartbeat = now
		if incoming.JoinedAt.IsZero() {
			incoming.JoinedAt = now
		}
		m.nodes[incoming.ID] = incoming
		joined = true
	}
	table := make([]rpc.NodeInfo, 0, len(m.nodes))
	for _, n := range m.nodes {
		table = append(table, rpc.ToNodeInfo(n))
	}
	m.mu.Unlock()

	if joined {
		m.logger.Info().Str("node_id", incoming.ID).Str("address", incoming.Address()).Msg("Node joined")
		m.broker.Publish(events.New(events.EventNodeJoined, "node joined the cluster", map[string]string{
			"node_id": incoming.ID,
			"address": incoming.Address(),
			"role":    string(incoming.Role),
		}))
	}

	return &rpc.JoinResponse{Nodes: table}, nil
}

// Heartbeat refreshes the sender's liveness. Timestamps apply as a maximum,
// so out-of-order delivery can never move lastHeartbeat backwards. Unknown
// senders are acknowledged but not admitted; membership changes only go
// through Join.
func (m *Manager) Heartbeat(ctx context.Context, req *rpc.HeartbeatRequest) (*rpc.HeartbeatResponse, error) {
	var revived bool

	m.mu.Lock()
	n, ok := m.nodes[req.NodeID]
	if ok && req.NodeID != m.self.ID {
		if req.Timestamp.After(n.LastHeartbeat) {
			n.LastHeartbeat = req.Timestamp
		}
		if n.Status != types.NodeStatusActive {
			revived = n.Status == types.NodeStatusFailed
			n.Status = types.NodeStatusActive
		}
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Debug().Str("node_id", req.NodeID).Msg("Heartbeat from unknown node ignored")
	}
	if revived {
		m.publishRevived(req.NodeID)
	}

	return &rpc.HeartbeatResponse{}, nil
}

// SendAlert hands an inbound alert to the registered handler.
func (m *Manager) SendAlert(ctx context.Context, msg *rpc.AlertMessage) (*rpc.AlertAck, error) {
	if m.alertHandler == nil {
		return nil, status.Error(codes.Unavailable, "alert handling not ready")
	}
	if err := m.alertHandler(ctx, msg); err != nil {
		return nil, err
	}
	return &rpc.AlertAck{}, nil
}

// SendZone hands an inbound zone snapshot to the registered handler.
func (m *Manager) SendZone(ctx context.Context, msg *rpc.ZoneMessage) (*rpc.ZoneAck, error) {
	if m.zoneHandler == nil {
		return nil, status.Error(codes.Unavailable, "zone handling not ready")
	}
	if err := m.zoneHandler(ctx, msg); err != nil {
		return nil, err
	}
	return &rpc.ZoneAck{}, nil
}

// GetZones returns the local zone set.
func (m *Manager) GetZones(ctx context.Context, req *rpc.GetZonesRequest) (*rpc.ZoneList, error) {
	if m.zoneSource == nil {
		return nil, status.Error(codes.Unavailable, "zone state not ready")
	}
	zones := m.zoneSource()
	out := make([]rpc.ZoneMessage, 0, len(zones))
	for _, z := range zones {
		out = append(out, rpc.ToZoneMessage(z))
	}
	return &rpc.ZoneList{Zones: out}, nil
}
