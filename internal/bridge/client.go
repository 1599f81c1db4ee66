package bridge

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/meshgraph/internal/analytics"
	"github.com/signalsfoundry/meshgraph/internal/session"
	"github.com/signalsfoundry/meshgraph/model"
)

// Client is a typed bridge client.
type Client struct {
	raw MeshBridgeClient
}

// NewClient wraps a connection to a bridge server.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{raw: NewMeshBridgeClient(cc)}
}

func keyRequest(field, value string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		field: structpb.NewStringValue(value),
	}}
}

// ConnectTCP asks the server to connect to a device decoder at addr.
func (c *Client) ConnectTCP(ctx context.Context, addr string) (model.DeviceKey, error) {
	out, err := c.raw.ConnectTCP(ctx, keyRequest("address", addr))
	if err != nil {
		return "", err
	}
	return model.DeviceKey(out.GetFields()["device_key"].GetStringValue()), nil
}

// DropDevice disconnects key.
func (c *Client) DropDevice(ctx context.Context, key model.DeviceKey) error {
	_, err := c.raw.DropDevice(ctx, keyRequest("device_key", string(key)))
	return err
}

// DropAll disconnects every device.
func (c *Client) DropAll(ctx context.Context) error {
	_, err := c.raw.DropAll(ctx, empty())
	return err
}

// InitializeGraphState resets the server's graph and analytics state.
func (c *Client) InitializeGraphState(ctx context.Context) error {
	_, err := c.raw.InitializeGraphState(ctx, empty())
	return err
}

// NodeEdges fetches the current topology.
func (c *Client) NodeEdges(ctx context.Context) (session.NodeEdges, error) {
	out, err := c.raw.GetNodeEdges(ctx, empty())
	if err != nil {
		return session.NodeEdges{}, err
	}
	var ne session.NodeEdges
	if err := fromStruct(out, &ne); err != nil {
		return session.NodeEdges{}, fmt.Errorf("decode node edges: %w", err)
	}
	return ne, nil
}

// Device fetches one device.
func (c *Client) Device(ctx context.Context, key model.DeviceKey) (*model.MeshDevice, error) {
	out, err := c.raw.GetDevice(ctx, keyRequest("device_key", string(key)))
	if err != nil {
		return nil, err
	}
	var d model.MeshDevice
	if err := fromStruct(out, &d); err != nil {
		return nil, fmt.Errorf("decode device: %w", err)
	}
	return &d, nil
}

// RunAlgorithms runs the selected algorithms. A non-nil error with a
// non-empty result means some algorithms failed and the rest succeeded.
func (c *Client) RunAlgorithms(ctx context.Context, flags analytics.Flags) (session.AnalyticsResult, error) {
	out, err := c.raw.RunAlgorithms(ctx, flagsToStruct(flags))
	if err != nil {
		return session.AnalyticsResult{}, err
	}
	return DecodeAnalyticsResult(out)
}

// Event is one subscription event.
type Event struct {
	Type    string
	Payload *structpb.Struct
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return fromStruct(e.Payload, v)
}

// EventStream is an open subscription.
type EventStream struct {
	stream MeshBridge_SubscribeClient
}

// Subscribe opens the event stream. Cancel ctx to close it.
func (c *Client) Subscribe(ctx context.Context) (*EventStream, error) {
	stream, err := c.raw.Subscribe(ctx, empty())
	if err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}

// Recv blocks for the next event.
func (s *EventStream) Recv() (Event, error) {
	m, err := s.stream.Recv()
	if err != nil {
		return Event{}, err
	}
	fields := m.GetFields()
	return Event{
		Type:    fields["type"].GetStringValue(),
		Payload: fields["payload"].GetStructValue(),
	}, nil
}
