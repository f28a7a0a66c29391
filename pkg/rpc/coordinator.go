package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified coordinator service name.
const ServiceName = "vigil.Coordinator"

// Full method paths, shared by the client and the server handlers.
const (
	MethodJoin      = "/vigil.Coordinator/Join"
	MethodHeartbeat = "/vigil.Coordinator/Heartbeat"
	MethodSendAlert = "/vigil.Coordinator/SendAlert"
	MethodSendZone  = "/vigil.Coordinator/SendZone"
	MethodGetZones  = "/vigil.Coordinator/GetZones"
)

// CoordinatorServer is the server-side contract for the coordinator service.
// The node manager implements it.
type CoordinatorServer interface {
	// Join admits a node and returns the receiver's full membership table.
	Join(ctx context.Context, req *JoinRequest) (*JoinResponse, error)
	// Heartbeat refreshes the caller's liveness timestamp.
	Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error)
	// SendAlert delivers an alert for validation and voting.
	SendAlert(ctx context.Context, msg *AlertMessage) (*AlertAck, error)
	// SendZone delivers a zone snapshot or tombstone.
	SendZone(ctx context.Context, msg *ZoneMessage) (*ZoneAck, error)
	// GetZones returns the receiver's full zone set.
	GetZones(ctx context.Context, req *GetZonesRequest) (*ZoneList, error)
}

// RegisterCoordinatorServer wires srv into a gRPC server under ServiceName.
func RegisterCoordinatorServer(s grpc.ServiceRegistrar, srv CoordinatorServer) {
	s.RegisterService(&coordinatorServiceDesc, srv)
}

func joinHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(JoinRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoordinatorServer).Join(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: MethodJoin,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CoordinatorServer).Join(ctx, req.(*JoinRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func heartbeatHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HeartbeatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoordinatorServer).Heartbeat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: MethodHeartbeat,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CoordinatorServer).Heartbeat(ctx, req.(*HeartbeatRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func sendAlertHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AlertMessage)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoordinatorServer).SendAlert(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: MethodSendAlert,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CoordinatorServer).SendAlert(ctx, req.(*AlertMessage))
	}
	return interceptor(ctx, in, info, handler)
}

func sendZoneHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ZoneMessage)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoordinatorServer).SendZone(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: MethodSendZone,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CoordinatorServer).SendZone(ctx, req.(*ZoneMessage))
	}
	return interceptor(ctx, in, info, handler)
}

func getZonesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetZonesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoordinatorServer).GetZones(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: MethodGetZones,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CoordinatorServer).GetZones(ctx, req.(*GetZonesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var coordinatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CoordinatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Join",
			Handler:    joinHandler,
		},
		{
			MethodName: "Heartbeat",
			Handler:    heartbeatHandler,
		},
		{
			MethodName: "SendAlert",
			Handler:    sendAlertHandler,
		},
		{
			MethodName: "SendZone",
			Handler:    sendZoneHandler,
		},
		{
			MethodName: "GetZones",
			Handler:    getZonesHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vigil/coordinator",
}
