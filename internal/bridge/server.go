// Package bridge exposes a session to UI clients over gRPC: commands as
// unary RPCs and device, graph and status events as a server stream. All
// messages are google.protobuf.Struct values.
package bridge

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/meshgraph/internal/analytics"
	"github.com/signalsfoundry/meshgraph/internal/logging"
	"github.com/signalsfoundry/meshgraph/internal/observability"
	"github.com/signalsfoundry/meshgraph/internal/session"
	"github.com/signalsfoundry/meshgraph/model"
)

// Backend is the session surface the bridge serves.
type Backend interface {
	Connect(ctx context.Context, key model.DeviceKey) error
	Drop(ctx context.Context, key model.DeviceKey) error
	DropAll(ctx context.Context) error
	InitializeGraphState(ctx context.Context)
	NodeEdges() (session.NodeEdges, error)
	Device(key model.DeviceKey) (*model.MeshDevice, error)
	RunAlgorithms(ctx context.Context, flags analytics.Flags) (session.AnalyticsResult, error)

	SendText(ctx context.Context, key model.DeviceKey, channel int32, text string) error
	SendWaypoint(ctx context.Context, key model.DeviceKey, wp model.Waypoint, channel int32) error
	UpdateConfig(ctx context.Context, key model.DeviceKey, section string, values model.ConfigSection) error
	UpdateModuleConfig(ctx context.Context, key model.DeviceKey, section string, values model.ConfigSection) error
	UpdateUser(ctx context.Context, key model.DeviceKey, user model.User) error
	BeginSettings(ctx context.Context, key model.DeviceKey) error
	CommitSettings(ctx context.Context, key model.DeviceKey) error
	ApplySettings(ctx context.Context, key model.DeviceKey, settings session.Settings) error
}

// Server implements MeshBridgeServer on top of a Backend.
type Server struct {
	backend Backend
	hub     *Hub
	log     logging.Logger
}

var _ MeshBridgeServer = (*Server)(nil)

// NewServer binds a bridge server to backend. Subscribe streams events
// published to hub.
func NewServer(backend Backend, hub *Hub, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{backend: backend, hub: hub, log: log}
}

func empty() *structpb.Struct { return &structpb.Struct{} }

func (s *Server) logger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.log
}

// ConnectTCP connects to the device decoder at {"address": "host:port"}.
func (s *Server) ConnectTCP(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	addr, err := stringField(in, "address")
	if err != nil {
		return nil, ToStatusError(err)
	}
	key := model.DeviceKey(addr)
	if err := s.backend.Connect(ctx, key); err != nil {
		s.logger(ctx).Warn(ctx, "connect failed", logging.Device(key), logging.Err(err))
		return nil, ToStatusError(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"device_key": structpb.NewStringValue(addr),
	}}, nil
}

// DropDevice disconnects {"device_key": ...}.
func (s *Server) DropDevice(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	key, err := stringField(in, "device_key")
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := s.backend.Drop(ctx, model.DeviceKey(key)); err != nil {
		return nil, ToStatusError(err)
	}
	return empty(), nil
}

// DropAll disconnects every device.
func (s *Server) DropAll(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.backend.DropAll(ctx); err != nil {
		return nil, ToStatusError(err)
	}
	return empty(), nil
}

// InitializeGraphState resets the graph and analytics history.
func (s *Server) InitializeGraphState(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.backend.InitializeGraphState(ctx)
	return empty(), nil
}

// GetNodeEdges returns {"nodes": FeatureCollection, "edges": FeatureCollection}.
func (s *Server) GetNodeEdges(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	_, span := observability.StartSpan(ctx, "bridge.GetNodeEdges")
	defer span.End()

	ne, err := s.backend.NodeEdges()
	if err != nil {
		return nil, ToStatusError(err)
	}
	out, err := toStruct(ne)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// GetDevice returns the device registered under {"device_key": ...}.
func (s *Server) GetDevice(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	key, err := stringField(in, "device_key")
	if err != nil {
		return nil, ToStatusError(err)
	}
	d, err := s.backend.Device(model.DeviceKey(key))
	if err != nil {
		return nil, ToStatusError(err)
	}
	out, err := toStruct(d)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// RunAlgorithms runs the algorithms selected by {"ap", "mincut", "diffcen"}.
// Algorithm failures do not fail the call; they are listed under "errors"
// next to whatever the other algorithms produced.
func (s *Server) RunAlgorithms(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	res, algErr := s.backend.RunAlgorithms(ctx, flagsFromStruct(in))
	if algErr != nil && session.IsNotInitialized(algErr) {
		return nil, ToStatusError(algErr)
	}
	out, err := encodeAnalyticsResult(res, algErr)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// Subscribe streams {"type": ..., "payload": {...}} events until the
// client goes away or the hub is closed.
func (s *Server) Subscribe(_ *structpb.Struct, stream MeshBridge_SubscribeServer) error {
	ctx := stream.Context()
	events, cancel := s.hub.Subscribe()
	defer cancel()
	s.logger(ctx).Info(ctx, "bridge subscriber attached")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.hub.Done():
			return nil
		case ev := <-events:
			if err := stream.Send(ev); err != nil {
				return err
			}
		}
	}
}
