// Package rpc defines the sync service exchanged between the client and the
// remote. Messages travel as google.protobuf.Struct values carrying the
// JSON form of the request and response types below, so no generated code
// is needed.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "tourkeeper.sync.SyncService"

const (
	PingMethod    = "/" + ServiceName + "/Ping"
	ApplyMethod   = "/" + ServiceName + "/Apply"
	ChangesMethod = "/" + ServiceName + "/Changes"
)

// SyncServer is implemented by the remote.
type SyncServer interface {
	Ping(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Apply(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Changes(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterSyncServer(s grpc.ServiceRegistrar, srv SyncServer) {
	s.RegisterService(&SyncServiceDesc, srv)
}

var SyncServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: pingHandler},
		{MethodName: "Apply", Handler: applyHandler},
		{MethodName: "Changes", Handler: changesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tourkeeper/sync",
}

func pingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PingMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServer).Ping(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func applyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).Apply(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ApplyMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServer).Apply(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func changesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).Changes(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ChangesMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServer).Changes(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// SyncClient calls the sync service over a client connection.
type SyncClient struct {
	cc grpc.ClientConnInterface
}

func NewSyncClient(cc grpc.ClientConnInterface) *SyncClient {
	return &SyncClient{cc: cc}
}

func (c *SyncClient) Ping(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, PingMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SyncClient) Apply(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ApplyMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SyncClient) Changes(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ChangesMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
