package bridge

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name of the bridge.
// Every message is a google.protobuf.Struct, so the service needs no
// generated code of its own.
const ServiceName = "meshgraph.bridge.v1.MeshBridge"

const (
	MethodConnectTCP           = "/" + ServiceName + "/ConnectTCP"
	MethodDropDevice           = "/" + ServiceName + "/DropDevice"
	MethodDropAll              = "/" + ServiceName + "/DropAll"
	MethodInitializeGraphState = "/" + ServiceName + "/InitializeGraphState"
	MethodGetNodeEdges         = "/" + ServiceName + "/GetNodeEdges"
	MethodGetDevice            = "/" + ServiceName + "/GetDevice"
	MethodRunAlgorithms        = "/" + ServiceName + "/RunAlgorithms"
	MethodSendText             = "/" + ServiceName + "/SendText"
	MethodSendWaypoint         = "/" + ServiceName + "/SendWaypoint"
	MethodUpdateConfig         = "/" + ServiceName + "/UpdateConfig"
	MethodUpdateModuleConfig   = "/" + ServiceName + "/UpdateModuleConfig"
	MethodUpdateUser           = "/" + ServiceName + "/UpdateUser"
	MethodBeginSettings        = "/" + ServiceName + "/BeginSettings"
	MethodCommitSettings       = "/" + ServiceName + "/CommitSettings"
	MethodApplySettings        = "/" + ServiceName + "/ApplySettings"
	MethodSubscribe            = "/" + ServiceName + "/Subscribe"
)

// MeshBridgeServer is the server API of the bridge service.
type MeshBridgeServer interface {
	ConnectTCP(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DropDevice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DropAll(context.Context, *structpb.Struct) (*structpb.Struct, error)
	InitializeGraphState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetNodeEdges(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDevice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunAlgorithms(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendText(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendWaypoint(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateConfig(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateModuleConfig(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateUser(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BeginSettings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CommitSettings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApplySettings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscribe(*structpb.Struct, MeshBridge_SubscribeServer) error
}

// MeshBridge_SubscribeServer is the server side of the event stream.
type MeshBridge_SubscribeServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type subscribeServer struct {
	grpc.ServerStream
}

func (x *subscribeServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterMeshBridgeServer registers srv with s.
func RegisterMeshBridgeServer(s grpc.ServiceRegistrar, srv MeshBridgeServer) {
	s.RegisterService(&MeshBridge_ServiceDesc, srv)
}

func unaryHandler(fullMethod string, call func(MeshBridgeServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MeshBridgeServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(MeshBridgeServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MeshBridgeServer).Subscribe(in, &subscribeServer{stream})
}

// MeshBridge_ServiceDesc describes the bridge service for grpc.Server.
var MeshBridge_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MeshBridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ConnectTCP", Handler: unaryHandler(MethodConnectTCP, MeshBridgeServer.ConnectTCP)},
		{MethodName: "DropDevice", Handler: unaryHandler(MethodDropDevice, MeshBridgeServer.DropDevice)},
		{MethodName: "DropAll", Handler: unaryHandler(MethodDropAll, MeshBridgeServer.DropAll)},
		{MethodName: "InitializeGraphState", Handler: unaryHandler(MethodInitializeGraphState, MeshBridgeServer.InitializeGraphState)},
		{MethodName: "GetNodeEdges", Handler: unaryHandler(MethodGetNodeEdges, MeshBridgeServer.GetNodeEdges)},
		{MethodName: "GetDevice", Handler: unaryHandler(MethodGetDevice, MeshBridgeServer.GetDevice)},
		{MethodName: "RunAlgorithms", Handler: unaryHandler(MethodRunAlgorithms, MeshBridgeServer.RunAlgorithms)},
		{MethodName: "SendText", Handler: unaryHandler(MethodSendText, MeshBridgeServer.SendText)},
		{MethodName: "SendWaypoint", Handler: unaryHandler(MethodSendWaypoint, MeshBridgeServer.SendWaypoint)},
		{MethodName: "UpdateConfig", Handler: unaryHandler(MethodUpdateConfig, MeshBridgeServer.UpdateConfig)},
		{MethodName: "UpdateModuleConfig", Handler: unaryHandler(MethodUpdateModuleConfig, MeshBridgeServer.UpdateModuleConfig)},
		{MethodName: "UpdateUser", Handler: unaryHandler(MethodUpdateUser, MeshBridgeServer.UpdateUser)},
		{MethodName: "BeginSettings", Handler: unaryHandler(MethodBeginSettings, MeshBridgeServer.BeginSettings)},
		{MethodName: "CommitSettings", Handler: unaryHandler(MethodCommitSettings, MeshBridgeServer.CommitSettings)},
		{MethodName: "ApplySettings", Handler: unaryHandler(MethodApplySettings, MeshBridgeServer.ApplySettings)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "meshgraph/bridge/v1/bridge.proto",
}

// MeshBridgeClient is the raw client API of the bridge service.
type MeshBridgeClient interface {
	ConnectTCP(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	DropDevice(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	DropAll(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	InitializeGraphState(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetNodeEdges(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetDevice(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	RunAlgorithms(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SendText(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SendWaypoint(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	UpdateConfig(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	UpdateModuleConfig(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	UpdateUser(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	BeginSettings(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	CommitSettings(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ApplySettings(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Subscribe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (MeshBridge_SubscribeClient, error)
}

// MeshBridge_SubscribeClient is the client side of the event stream.
type MeshBridge_SubscribeClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type meshBridgeClient struct {
	cc grpc.ClientConnInterface
}

// NewMeshBridgeClient returns a raw client over cc.
func NewMeshBridgeClient(cc grpc.ClientConnInterface) MeshBridgeClient {
	return &meshBridgeClient{cc: cc}
}

func (c *meshBridgeClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *meshBridgeClient) ConnectTCP(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodConnectTCP, in, opts)
}

func (c *meshBridgeClient) DropDevice(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodDropDevice, in, opts)
}

func (c *meshBridgeClient) DropAll(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodDropAll, in, opts)
}

func (c *meshBridgeClient) InitializeGraphState(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodInitializeGraphState, in, opts)
}

func (c *meshBridgeClient) GetNodeEdges(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetNodeEdges, in, opts)
}

func (c *meshBridgeClient) GetDevice(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetDevice, in, opts)
}

func (c *meshBridgeClient) RunAlgorithms(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRunAlgorithms, in, opts)
}

func (c *meshBridgeClient) SendText(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodSendText, in, opts)
}

func (c *meshBridgeClient) SendWaypoint(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodSendWaypoint, in, opts)
}

func (c *meshBridgeClient) UpdateConfig(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodUpdateConfig, in, opts)
}

func (c *meshBridgeClient) UpdateModuleConfig(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodUpdateModuleConfig, in, opts)
}

func (c *meshBridgeClient) UpdateUser(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodUpdateUser, in, opts)
}

func (c *meshBridgeClient) BeginSettings(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodBeginSettings, in, opts)
}

func (c *meshBridgeClient) CommitSettings(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodCommitSettings, in, opts)
}

func (c *meshBridgeClient) ApplySettings(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodApplySettings, in, opts)
}

func (c *meshBridgeClient) Subscribe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (MeshBridge_SubscribeClient, error) {
	stream, err := c.cc.NewStream(ctx, &MeshBridge_ServiceDesc.Streams[0], MethodSubscribe, opts...)
	if err != nil {
		return nil, err
	}
	x := &subscribeClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type subscribeClient struct {
	grpc.ClientStream
}

func (x *subscribeClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
