package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/meshgraph/internal/dispatch"
	"github.com/signalsfoundry/meshgraph/internal/transport"
	"github.com/signalsfoundry/meshgraph/model"
	"github.com/signalsfoundry/meshgraph/packet"
)

// connectRadio connects a device with a primary channel and returns its pipe.
func (f *fixture) connectRadio(t *testing.T) *transport.Pipe {
	t.Helper()
	pipe := transport.NewPipe().OnConfigure(func(p *transport.Pipe, id uint32) {
		_ = p.Deliver(
			packet.MyNodeInfo{MyNodeNum: 9},
			packet.Channel{Index: 0, Role: "PRIMARY"},
			packet.ConfigComplete{ConfigID: id},
		)
	})
	f.dialer.Register(radio, pipe)
	require.NoError(t, f.s.Connect(context.Background(), radio))
	require.Eventually(t, func() bool {
		d, err := f.s.Device(radio)
		return err == nil && d.Status == model.StatusConnected
	}, 2*time.Second, time.Millisecond)
	return pipe
}

func TestSendTextBroadcastsAndRecords(t *testing.T) {
	f := newFixture(t)
	pipe := f.connectRadio(t)

	require.NoError(t, f.s.SendText(context.Background(), radio, 0, "hello"))

	sent := pipe.Sent()
	require.Len(t, sent, 1)
	msg, ok := sent[0].(packet.TextMessage)
	require.True(t, ok)
	assert.Equal(t, uint32(9), msg.From)
	assert.Equal(t, BroadcastAddr, msg.To)
	assert.Equal(t, "hello", msg.Text)
	assert.True(t, msg.RxTime.Equal(heard))

	d, err := f.s.Device(radio)
	require.NoError(t, err)
	ch, ok := d.Channel(0)
	require.True(t, ok)
	require.Len(t, ch.Messages, 1)
	assert.Equal(t, msg.PacketID, ch.Messages[0].PacketID)
}

func TestSendTextUnknownChannel(t *testing.T) {
	f := newFixture(t)
	pipe := f.connectRadio(t)

	err := f.s.SendText(context.Background(), radio, 3, "nobody")
	assert.ErrorIs(t, err, dispatch.ErrMalformedPacket)
	assert.Empty(t, pipe.Sent())
}

func TestSendWaypointAssignsID(t *testing.T) {
	f := newFixture(t)
	pipe := f.connectRadio(t)

	require.NoError(t, f.s.SendWaypoint(context.Background(), radio, model.Waypoint{Name: "camp"}, 0))

	sent := pipe.Sent()
	require.Len(t, sent, 1)
	wp := sent[0].(packet.Waypoint)
	assert.NotZero(t, wp.Waypoint.ID)
	d, err := f.s.Device(radio)
	require.NoError(t, err)
	assert.Equal(t, "camp", d.Waypoints[wp.Waypoint.ID].Name)
}

func TestWritesWithoutEcho(t *testing.T) {
	f := newFixture(t)
	pipe := f.connectRadio(t)
	ctx := context.Background()

	require.NoError(t, f.s.BeginSettings(ctx, radio))
	require.NoError(t, f.s.UpdateConfig(ctx, radio, "lora", model.ConfigSection{"region": "EU_868"}))
	require.NoError(t, f.s.UpdateModuleConfig(ctx, radio, "mqtt", model.ConfigSection{"enabled": true}))
	require.NoError(t, f.s.UpdateUser(ctx, radio, model.User{LongName: "Base", ShortName: "BS"}))
	require.NoError(t, f.s.CommitSettings(ctx, radio))

	var kinds []packet.Kind
	for _, p := range pipe.Sent() {
		kinds = append(kinds, p.Kind())
	}
	assert.Equal(t, []packet.Kind{
		packet.KindBeginEdit, packet.KindConfig, packet.KindModuleConfig, packet.KindSetOwner, packet.KindCommitEdit,
	}, kinds)

	d, err := f.s.Device(radio)
	require.NoError(t, err)
	assert.NotContains(t, d.Config, "lora")
}

func TestApplySettingsWritesOneTransaction(t *testing.T) {
	f := newFixture(t)
	pipe := f.connectRadio(t)

	err := f.s.ApplySettings(context.Background(), radio, Settings{
		Radio:    map[string]model.ConfigSection{"position": {"gps": true}, "lora": {"hop_limit": 3}},
		Module:   map[string]model.ConfigSection{"mqtt": {"enabled": false}},
		Channels: []packet.Channel{{Index: 1, Role: "SECONDARY", Name: "ops"}},
	})
	require.NoError(t, err)

	sent := pipe.Sent()
	require.Len(t, sent, 6)
	assert.Equal(t, packet.BeginEditSettings{}, sent[0])
	assert.Equal(t, "lora", sent[1].(packet.Config).Section)
	assert.Equal(t, "position", sent[2].(packet.Config).Section)
	assert.Equal(t, "mqtt", sent[3].(packet.ModuleConfig).Section)
	assert.Equal(t, int32(1), sent[4].(packet.Channel).Index)
	assert.Equal(t, packet.CommitEditSettings{}, sent[5])
}

func TestWriteToUnknownDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for name, write := range map[string]func() error{
		"text":     func() error { return f.s.SendText(ctx, "tcp:ghost", 0, "hi") },
		"waypoint": func() error { return f.s.SendWaypoint(ctx, "tcp:ghost", model.Waypoint{ID: 1}, 0) },
		"config":   func() error { return f.s.UpdateConfig(ctx, "tcp:ghost", "lora", nil) },
		"user":     func() error { return f.s.UpdateUser(ctx, "tcp:ghost", model.User{}) },
		"commit":   func() error { return f.s.CommitSettings(ctx, "tcp:ghost") },
	} {
		err := write()
		assert.True(t, errors.Is(err, ErrDeviceNotFound), "%s: %v", name, err)
	}
}
