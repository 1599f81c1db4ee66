package supervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/meshgraph/internal/logging"
	"github.com/signalsfoundry/meshgraph/internal/observability"
	"github.com/signalsfoundry/meshgraph/kb"
	"github.com/signalsfoundry/meshgraph/model"
	"github.com/signalsfoundry/meshgraph/packet"
)

// Send writes pkt to key's device. The packet is checked against a copy of
// the device first, so a write the device state would reject never reaches
// the radio. With echo, the packet is then applied to the registered device
// as if the device had reported it, and the updated device is published.
// An echoed text message raises no notification.
func (s *Supervisor) Send(ctx context.Context, key model.DeviceKey, pkt packet.Packet, echo bool) error {
	return s.write(ctx, key, []packet.Packet{pkt}, echo)
}

// SendBatch writes pkts in order with no other write to the device in
// between, then publishes the device. Nothing is echoed.
func (s *Supervisor) SendBatch(ctx context.Context, key model.DeviceKey, pkts []packet.Packet) error {
	return s.write(ctx, key, pkts, false)
}

func (s *Supervisor) write(ctx context.Context, key model.DeviceKey, pkts []packet.Packet, echo bool) error {
	ctx, span := observability.StartSpan(ctx, "supervisor.send", observability.DeviceAttr(key))
	defer span.End()

	s.mu.Lock()
	c := s.conns[key]
	s.mu.Unlock()
	if c == nil {
		return fmt.Errorf("send %s: %w", key, kb.ErrDeviceNotFound)
	}

	device, err := s.registry.Get(key)
	if err != nil || device.AttemptID != c.attemptID {
		return fmt.Errorf("send %s: %w", key, kb.ErrDeviceNotFound)
	}
	for _, pkt := range pkts {
		if _, err := s.dispatcher.HandlePacket(device, pkt); err != nil {
			span.RecordError(err)
			return fmt.Errorf("send %s: %w", key, err)
		}
	}

	c.writeMu.Lock()
	for _, pkt := range pkts {
		err := c.stream.Send(ctx, pkt)
		s.metrics.ObservePacketSent(string(pkt.Kind()), err)
		if err != nil {
			c.writeMu.Unlock()
			c.log.Warn(ctx, "device write failed", logging.String("kind", string(pkt.Kind())), logging.Err(err))
			span.RecordError(err)
			return &ConnectionError{Key: key, Err: err}
		}
	}
	c.writeMu.Unlock()
	c.log.Debug(ctx, "packets written", logging.Int("count", len(pkts)), logging.Bool("echo", echo))

	var snapshot *model.MeshDevice
	err = s.registry.Update(key, func(d *model.MeshDevice) error {
		if d.AttemptID != c.attemptID {
			return kb.ErrDeviceNotFound
		}
		if echo {
			for _, pkt := range pkts {
				if _, err := s.dispatcher.HandlePacket(d, pkt); err != nil {
					return err
				}
			}
		}
		snapshot = d.Clone()
		return nil
	})
	switch {
	case errors.Is(err, kb.ErrDeviceNotFound):
		// Dropped after the write went out.
		return nil
	case err != nil:
		c.log.Warn(ctx, "echo of written packet failed", logging.Err(err))
		return nil
	}
	s.notifier.DeviceUpdated(snapshot)
	return nil
}
