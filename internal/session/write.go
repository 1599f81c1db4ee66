package session

import (
	"context"
	"math/rand/v2"
	"sort"

	"github.com/signalsfoundry/meshgraph/model"
	"github.com/signalsfoundry/meshgraph/packet"
)

// BroadcastAddr is the node number addressing every node on a channel.
const BroadcastAddr uint32 = 0xffffffff

// Settings is a bulk configuration change written as one settings
// transaction. Sections are written in name order, channels in slice order.
type Settings struct {
	Radio    map[string]model.ConfigSection `json:"radio,omitempty"`
	Module   map[string]model.ConfigSection `json:"module,omitempty"`
	Channels []packet.Channel               `json:"channels,omitempty"`
}

// SendText broadcasts text on channel and records it in the device's
// channel history.
func (s *Session) SendText(ctx context.Context, key model.DeviceKey, channel int32, text string) error {
	d, err := s.registry.Get(key)
	if err != nil {
		return err
	}
	var from uint32
	if d.MyNodeInfo != nil {
		from = d.MyNodeInfo.MyNodeNum
	}
	return s.supervisor.Send(ctx, key, packet.TextMessage{
		Channel:  channel,
		PacketID: rand.Uint32(),
		From:     from,
		To:       BroadcastAddr,
		Text:     text,
		RxTime:   s.clock.Now(),
	}, true)
}

// SendWaypoint broadcasts wp on channel and stores it on the device. A zero
// id is replaced by a random one.
func (s *Session) SendWaypoint(ctx context.Context, key model.DeviceKey, wp model.Waypoint, channel int32) error {
	for wp.ID == 0 {
		wp.ID = rand.Uint32()
	}
	return s.supervisor.Send(ctx, key, packet.Waypoint{Waypoint: wp, Channel: channel}, true)
}

// UpdateConfig writes one radio configuration section. The device reports
// the new values itself.
func (s *Session) UpdateConfig(ctx context.Context, key model.DeviceKey, section string, values model.ConfigSection) error {
	return s.supervisor.Send(ctx, key, packet.Config{Section: section, Values: values}, false)
}

// UpdateModuleConfig writes one module configuration section.
func (s *Session) UpdateModuleConfig(ctx context.Context, key model.DeviceKey, section string, values model.ConfigSection) error {
	return s.supervisor.Send(ctx, key, packet.ModuleConfig{Section: section, Values: values}, false)
}

// UpdateUser replaces the device owner.
func (s *Session) UpdateUser(ctx context.Context, key model.DeviceKey, user model.User) error {
	return s.supervisor.Send(ctx, key, packet.SetOwner{User: user}, false)
}

// BeginSettings opens a settings transaction on the device.
func (s *Session) BeginSettings(ctx context.Context, key model.DeviceKey) error {
	return s.supervisor.Send(ctx, key, packet.BeginEditSettings{}, false)
}

// CommitSettings applies the writes made since BeginSettings.
func (s *Session) CommitSettings(ctx context.Context, key model.DeviceKey) error {
	return s.supervisor.Send(ctx, key, packet.CommitEditSettings{}, false)
}

// ApplySettings writes settings inside one transaction and publishes the
// device afterwards.
func (s *Session) ApplySettings(ctx context.Context, key model.DeviceKey, settings Settings) error {
	pkts := []packet.Packet{packet.BeginEditSettings{}}
	for _, name := range sortedSections(settings.Radio) {
		pkts = append(pkts, packet.Config{Section: name, Values: settings.Radio[name]})
	}
	for _, name := range sortedSections(settings.Module) {
		pkts = append(pkts, packet.ModuleConfig{Section: name, Values: settings.Module[name]})
	}
	for _, ch := range settings.Channels {
		pkts = append(pkts, ch)
	}
	pkts = append(pkts, packet.CommitEditSettings{})
	return s.supervisor.SendBatch(ctx, key, pkts)
}

func sortedSections(m map[string]model.ConfigSection) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
