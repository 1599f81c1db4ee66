// Package transport defines how the supervisor exchanges decoded packets with
// a device, and provides the in-memory and TCP implementations.
//
// Wire decoding of the radio protocol happens outside this process; a
// stream here already yields packet.Packet values.
package transport

import (
	"context"
	"errors"

	"github.com/signalsfoundry/meshgraph/model"
	"github.com/signalsfoundry/meshgraph/packet"
)

// ErrClosed reports a Recv, Send or Configure on a closed stream.
var ErrClosed = errors.New("transport closed")

// Stream is one open connection to a device.
type Stream interface {
	// Configure starts the configuration handshake. The device answers with
	// its state followed by a ConfigComplete echoing configID.
	Configure(ctx context.Context, configID uint32) error
	// Recv blocks for the next packet. It returns io.EOF when the device
	// closed the connection cleanly.
	Recv(ctx context.Context) (packet.Packet, error)
	// Send writes one packet to the device.
	Send(ctx context.Context, p packet.Packet) error
	Close() error
}

// Dialer opens streams by device key.
type Dialer interface {
	Dial(ctx context.Context, key model.DeviceKey) (Stream, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, key model.DeviceKey) (Stream, error)

func (f DialerFunc) Dial(ctx context.Context, key model.DeviceKey) (Stream, error) {
	return f(ctx, key)
}
