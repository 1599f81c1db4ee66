package supervisor

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/meshgraph/internal/dispatch"
	"github.com/signalsfoundry/meshgraph/internal/transport"
	"github.com/signalsfoundry/meshgraph/kb"
	"github.com/signalsfoundry/meshgraph/model"
	"github.com/signalsfoundry/meshgraph/packet"
)

func connectWithChannel(t *testing.T, h *harness) *transport.Pipe {
	t.Helper()
	pipe := transport.NewPipe().OnConfigure(func(p *transport.Pipe, id uint32) {
		_ = p.Deliver(
			packet.MyNodeInfo{MyNodeNum: 1},
			packet.Channel{Index: 0, Role: "PRIMARY"},
			packet.ConfigComplete{ConfigID: id},
		)
	})
	if err := h.sup.Connect(context.Background(), key, pipe); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, "Connected", func() bool {
		st, _ := h.status(t)
		return st == model.StatusConnected
	})
	return pipe
}

func TestSendEchoesTextMessage(t *testing.T) {
	h := newHarness(t)
	pipe := connectWithChannel(t, h)

	msg := packet.TextMessage{Channel: 0, PacketID: 7, From: 1, To: 0xffffffff, Text: "hello mesh"}
	if err := h.sup.Send(context.Background(), key, msg, true); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if sent := pipe.Sent(); !reflect.DeepEqual(sent, []packet.Packet{msg}) {
		t.Fatalf("Sent = %#v, want the text message", sent)
	}
	d, err := h.registry.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	ch, _ := d.Channel(0)
	if len(ch.Messages) != 1 || ch.Messages[0].Text != "hello mesh" {
		t.Fatalf("channel messages = %+v, want the echoed message", ch.Messages)
	}
	last := h.rec.lastDevice()
	if lastCh, _ := last.Channel(0); len(lastCh.Messages) != 1 {
		t.Fatalf("published device has %d messages, want 1", len(lastCh.Messages))
	}
	h.rec.mu.Lock()
	notes := len(h.rec.notes)
	h.rec.mu.Unlock()
	if notes != 0 {
		t.Fatalf("own message raised %d notifications", notes)
	}
	if got := testutil.ToFloat64(h.metrics.PacketsSentTotal.WithLabelValues("text_message", "sent")); got != 1 {
		t.Fatalf("sent text messages = %v, want 1", got)
	}
}

func TestSendWithoutEchoLeavesDevice(t *testing.T) {
	h := newHarness(t)
	pipe := connectWithChannel(t, h)
	before, _ := h.registry.Get(key)

	cfg := packet.Config{Section: "lora", Values: model.ConfigSection{"region": "EU_868"}}
	if err := h.sup.Send(context.Background(), key, cfg, false); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sent := pipe.Sent(); len(sent) != 1 || sent[0].Kind() != packet.KindConfig {
		t.Fatalf("Sent = %#v", sent)
	}
	after, _ := h.registry.Get(key)
	if !reflect.DeepEqual(before.Config, after.Config) {
		t.Fatalf("config changed without echo: %v", after.Config)
	}
}

func TestSendRejectsInvalidWrite(t *testing.T) {
	h := newHarness(t)
	pipe := connectWithChannel(t, h)

	err := h.sup.Send(context.Background(), key, packet.TextMessage{Channel: 5, Text: "lost"}, true)
	if !errors.Is(err, dispatch.ErrMalformedPacket) {
		t.Fatalf("Send = %v, want ErrMalformedPacket", err)
	}
	if sent := pipe.Sent(); len(sent) != 0 {
		t.Fatalf("invalid write reached the device: %#v", sent)
	}
}

func TestSendUnknownDevice(t *testing.T) {
	h := newHarness(t)
	err := h.sup.Send(context.Background(), "tcp:nowhere", packet.BeginEditSettings{}, false)
	if !errors.Is(err, kb.ErrDeviceNotFound) {
		t.Fatalf("Send = %v, want ErrDeviceNotFound", err)
	}
}

func TestSendBatchWritesInOrder(t *testing.T) {
	h := newHarness(t)
	pipe := connectWithChannel(t, h)

	batch := []packet.Packet{
		packet.BeginEditSettings{},
		packet.Config{Section: "lora", Values: model.ConfigSection{"hop_limit": 3}},
		packet.ModuleConfig{Section: "mqtt", Values: model.ConfigSection{"enabled": false}},
		packet.Channel{Index: 1, Role: "SECONDARY", Name: "ops"},
		packet.CommitEditSettings{},
	}
	if err := h.sup.SendBatch(context.Background(), key, batch); err != nil {
		t.Fatalf("SendBatch: %v", err)
	}
	if sent := pipe.Sent(); !reflect.DeepEqual(sent, batch) {
		t.Fatalf("Sent = %#v, want %#v", sent, batch)
	}
	if last := h.rec.lastDevice(); last == nil || last.Key != key {
		t.Fatalf("device not published after batch")
	}
}

func TestSendOnClosedStream(t *testing.T) {
	h := newHarness(t)
	pipe := connectWithChannel(t, h)
	_ = pipe.Close()

	err := h.sup.Send(context.Background(), key, packet.CommitEditSettings{}, false)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) || !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("Send = %v, want ConnectionError wrapping ErrClosed", err)
	}
	if got := testutil.ToFloat64(h.metrics.PacketsSentTotal.WithLabelValues("commit_edit_settings", "failed")); got != 1 {
		t.Fatalf("failed writes = %v, want 1", got)
	}
}
