package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	FluxControl_SaveCheckpoint_FullMethodName = "/flux.FluxControl/SaveCheckpoint"
)

type FluxControlClient interface {
	SaveCheckpoint(ctx context.Context, in *SaveRequest, opts ...grpc.CallOption) (*SaveResponse, error)
}

type fluxControlClient struct {
	cc grpc.ClientConnInterface
}

func NewFluxControlClient(cc grpc.ClientConnInterface) FluxControlClient {
	return &fluxControlClient{cc}
}

func (c *fluxControlClient) SaveCheckpoint(ctx context.Context, in *SaveRequest, opts ...grpc.CallOption) (*SaveResponse, error) {
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	out := new(SaveResponse)
	err := c.cc.Invoke(ctx, FluxControl_SaveCheckpoint_FullMethodName, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FluxControlServer must be embedded with UnimplementedFluxControlServer.
type FluxControlServer interface {
	SaveCheckpoint(context.Context, *SaveRequest) (*SaveResponse, error)
	mustEmbedUnimplementedFluxControlServer()
}

type UnimplementedFluxControlServer struct{}

func (UnimplementedFluxControlServer) SaveCheckpoint(context.Context, *SaveRequest) (*SaveResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method SaveCheckpoint not implemented")
}
func (UnimplementedFluxControlServer) mustEmbedUnimplementedFluxControlServer() {}

// ServerCodec must be passed to grpc.NewServer for any server that registers
// FluxControl.
func ServerCodec() grpc.ServerOption {
	return grpc.ForceServerCodec(Codec{})
}

func RegisterFluxControlServer(s grpc.ServiceRegistrar, srv FluxControlServer) {
	s.RegisterService(&FluxControl_ServiceDesc, srv)
}

func _FluxControl_SaveCheckpoint_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SaveRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FluxControlServer).SaveCheckpoint(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: FluxControl_SaveCheckpoint_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FluxControlServer).SaveCheckpoint(ctx, req.(*SaveRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var FluxControl_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "flux.FluxControl",
	HandlerType: (*FluxControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SaveCheckpoint",
			Handler:    _FluxControl_SaveCheckpoint_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "flux.proto",
}
