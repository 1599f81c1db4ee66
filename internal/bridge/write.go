package bridge

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/meshgraph/internal/logging"
	"github.com/signalsfoundry/meshgraph/internal/observability"
	"github.com/signalsfoundry/meshgraph/internal/session"
	"github.com/signalsfoundry/meshgraph/model"
)

// writeRequest is the Struct form of every device write. Each RPC reads
// the fields it needs.
type writeRequest struct {
	DeviceKey string              `json:"device_key"`
	Channel   int32               `json:"channel"`
	Text      string              `json:"text"`
	Section   string              `json:"section"`
	Values    model.ConfigSection `json:"values"`
	User      *model.User         `json:"user"`
	Waypoint  *model.Waypoint     `json:"waypoint"`
	Settings  *session.Settings   `json:"settings"`
}

func decodeWrite(in *structpb.Struct) (writeRequest, model.DeviceKey, error) {
	var req writeRequest
	if err := fromStruct(in, &req); err != nil {
		return req, "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.DeviceKey == "" {
		return req, "", fmt.Errorf("%w: device_key is required", ErrInvalidRequest)
	}
	return req, model.DeviceKey(req.DeviceKey), nil
}

// write decodes in, runs fn and maps its error. Every write answers with
// an empty Struct.
func (s *Server) write(ctx context.Context, name string, in *structpb.Struct, fn func(context.Context, writeRequest, model.DeviceKey) error) (*structpb.Struct, error) {
	req, key, err := decodeWrite(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	ctx, span := observability.StartSpan(ctx, "bridge."+name, observability.DeviceAttr(key))
	defer span.End()

	if err := fn(ctx, req, key); err != nil {
		s.logger(ctx).Warn(ctx, "device write failed",
			logging.Device(key), logging.String("rpc", name), logging.Err(err))
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	return empty(), nil
}

// SendText broadcasts {"device_key", "channel", "text"}.
func (s *Server) SendText(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.write(ctx, "SendText", in, func(ctx context.Context, req writeRequest, key model.DeviceKey) error {
		if req.Text == "" {
			return fmt.Errorf("%w: text is required", ErrInvalidRequest)
		}
		return s.backend.SendText(ctx, key, req.Channel, req.Text)
	})
}

// SendWaypoint broadcasts {"device_key", "channel", "waypoint": {...}}.
func (s *Server) SendWaypoint(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.write(ctx, "SendWaypoint", in, func(ctx context.Context, req writeRequest, key model.DeviceKey) error {
		if req.Waypoint == nil {
			return fmt.Errorf("%w: waypoint is required", ErrInvalidRequest)
		}
		return s.backend.SendWaypoint(ctx, key, *req.Waypoint, req.Channel)
	})
}

// UpdateConfig writes {"device_key", "section", "values": {...}} to the
// radio configuration.
func (s *Server) UpdateConfig(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.write(ctx, "UpdateConfig", in, func(ctx context.Context, req writeRequest, key model.DeviceKey) error {
		return s.backend.UpdateConfig(ctx, key, req.Section, req.Values)
	})
}

// UpdateModuleConfig writes one module configuration section.
func (s *Server) UpdateModuleConfig(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.write(ctx, "UpdateModuleConfig", in, func(ctx context.Context, req writeRequest, key model.DeviceKey) error {
		return s.backend.UpdateModuleConfig(ctx, key, req.Section, req.Values)
	})
}

// UpdateUser sets the owner from {"device_key", "user": {...}}.
func (s *Server) UpdateUser(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.write(ctx, "UpdateUser", in, func(ctx context.Context, req writeRequest, key model.DeviceKey) error {
		if req.User == nil {
			return fmt.Errorf("%w: user is required", ErrInvalidRequest)
		}
		return s.backend.UpdateUser(ctx, key, *req.User)
	})
}

func (s *Server) BeginSettings(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.write(ctx, "BeginSettings", in, func(ctx context.Context, _ writeRequest, key model.DeviceKey) error {
		return s.backend.BeginSettings(ctx, key)
	})
}

func (s *Server) CommitSettings(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.write(ctx, "CommitSettings", in, func(ctx context.Context, _ writeRequest, key model.DeviceKey) error {
		return s.backend.CommitSettings(ctx, key)
	})
}

// ApplySettings writes {"device_key", "settings": {"radio", "module",
// "channels"}} as one settings transaction.
func (s *Server) ApplySettings(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.write(ctx, "ApplySettings", in, func(ctx context.Context, req writeRequest, key model.DeviceKey) error {
		if req.Settings == nil {
			return fmt.Errorf("%w: settings is required", ErrInvalidRequest)
		}
		return s.backend.ApplySettings(ctx, key, *req.Settings)
	})
}

type rawWrite func(context.Context, *structpb.Struct, ...grpc.CallOption) (*structpb.Struct, error)

func (c *Client) send(ctx context.Context, call rawWrite, req writeRequest) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	_, err = call(ctx, in)
	return err
}

// SendText broadcasts text on channel through key's device.
func (c *Client) SendText(ctx context.Context, key model.DeviceKey, channel int32, text string) error {
	return c.send(ctx, c.raw.SendText, writeRequest{DeviceKey: string(key), Channel: channel, Text: text})
}

// SendWaypoint broadcasts wp on channel through key's device.
func (c *Client) SendWaypoint(ctx context.Context, key model.DeviceKey, wp model.Waypoint, channel int32) error {
	return c.send(ctx, c.raw.SendWaypoint, writeRequest{DeviceKey: string(key), Channel: channel, Waypoint: &wp})
}

// UpdateConfig writes one radio configuration section.
func (c *Client) UpdateConfig(ctx context.Context, key model.DeviceKey, section string, values model.ConfigSection) error {
	return c.send(ctx, c.raw.UpdateConfig, writeRequest{DeviceKey: string(key), Section: section, Values: values})
}

// UpdateModuleConfig writes one module configuration section.
func (c *Client) UpdateModuleConfig(ctx context.Context, key model.DeviceKey, section string, values model.ConfigSection) error {
	return c.send(ctx, c.raw.UpdateModuleConfig, writeRequest{DeviceKey: string(key), Section: section, Values: values})
}

// UpdateUser replaces the owner of key's device.
func (c *Client) UpdateUser(ctx context.Context, key model.DeviceKey, user model.User) error {
	return c.send(ctx, c.raw.UpdateUser, writeRequest{DeviceKey: string(key), User: &user})
}

// BeginSettings opens a settings transaction.
func (c *Client) BeginSettings(ctx context.Context, key model.DeviceKey) error {
	return c.send(ctx, c.raw.BeginSettings, writeRequest{DeviceKey: string(key)})
}

// CommitSettings applies the open settings transaction.
func (c *Client) CommitSettings(ctx context.Context, key model.DeviceKey) error {
	return c.send(ctx, c.raw.CommitSettings, writeRequest{DeviceKey: string(key)})
}

// ApplySettings writes settings as one transaction.
func (c *Client) ApplySettings(ctx context.Context, key model.DeviceKey, settings session.Settings) error {
	return c.send(ctx, c.raw.ApplySettings, writeRequest{DeviceKey: string(key), Settings: &settings})
}
