package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "stepcache.v1.CacheControl"

const (
	methodGetGlobalStats  = "/" + ServiceName + "/GetGlobalStats"
	methodResetStats      = "/" + ServiceName + "/ResetStats"
	methodSetGlobalConfig = "/" + ServiceName + "/SetGlobalConfig"
	methodSummary         = "/" + ServiceName + "/Summary"
)

// CacheControlServer is the server API of stepcache.v1.CacheControl.
type CacheControlServer interface {
	GetGlobalStats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ResetStats(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	SetGlobalConfig(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Summary(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CacheControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetGlobalStats", Handler: unary(methodGetGlobalStats, CacheControlServer.GetGlobalStats)},
		{MethodName: "ResetStats", Handler: unary(methodResetStats, CacheControlServer.ResetStats)},
		{MethodName: "SetGlobalConfig", Handler: unary(methodSetGlobalConfig, CacheControlServer.SetGlobalConfig)},
		{MethodName: "Summary", Handler: unary(methodSummary, CacheControlServer.Summary)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stepcache/v1/cache_control.proto",
}

func Register(s grpc.ServiceRegistrar, srv CacheControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary adapts a typed server method to a grpc.MethodHandler.
func unary[Req, Resp proto.Message](fullMethod string, call func(CacheControlServer, context.Context, Req) (Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newMessage[Req]()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CacheControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CacheControlServer), ctx, req.(Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// newMessage allocates the message a pointer type Req points to.
func newMessage[Req proto.Message]() Req {
	var zero Req
	return zero.ProtoReflect().Type().New().Interface().(Req)
}
