package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/signalsfoundry/meshgraph/model"
	"github.com/signalsfoundry/meshgraph/packet"
)

// Pipe is an in-memory Stream. The test or embedding program plays the
// device: it feeds packets with Deliver, reads what was written to the
// device with Sent, and ends the stream with CloseSend or Fail.
type Pipe struct {
	mu      sync.Mutex
	queue   []packet.Packet
	changed chan struct{}

	configID     uint32
	configured   bool
	configureErr error
	onConfigure  func(p *Pipe, configID uint32)

	outbox []packet.Packet

	eof     bool
	failErr error
	closed  bool
}

// NewPipe returns an open pipe.
func NewPipe() *Pipe {
	return &Pipe{changed: make(chan struct{})}
}

// FailConfigure makes the next Configure call return err.
func (p *Pipe) FailConfigure(err error) *Pipe {
	p.mu.Lock()
	p.configureErr = err
	p.mu.Unlock()
	return p
}

// OnConfigure registers a callback run (outside the pipe lock) after a
// successful Configure. It typically replies with the device's state.
func (p *Pipe) OnConfigure(fn func(p *Pipe, configID uint32)) *Pipe {
	p.mu.Lock()
	p.onConfigure = fn
	p.mu.Unlock()
	return p
}

// Configure implements Stream.
func (p *Pipe) Configure(ctx context.Context, configID uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.configureErr != nil {
		err := p.configureErr
		p.mu.Unlock()
		return err
	}
	p.configID = configID
	p.configured = true
	hook := p.onConfigure
	p.mu.Unlock()

	if hook != nil {
		hook(p, configID)
	}
	return nil
}

// ConfigID returns the nonce passed to Configure.
func (p *Pipe) ConfigID() (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.configID, p.configured
}

// Deliver queues packets for Recv. It fails once the pipe is closed or
// ended.
func (p *Pipe) Deliver(pkts ...packet.Packet) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.eof || p.failErr != nil {
		return ErrClosed
	}
	p.queue = append(p.queue, pkts...)
	p.broadcastLocked()
	return nil
}

// Send implements Stream by recording pkt in the outbox.
func (p *Pipe) Send(ctx context.Context, pkt packet.Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if pkt == nil {
		return fmt.Errorf("send: %w", packet.ErrBadEnvelope)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.outbox = append(p.outbox, pkt)
	return nil
}

// Sent returns a copy of every packet written with Send, oldest first.
func (p *Pipe) Sent() []packet.Packet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]packet.Packet(nil), p.outbox...)
}

// CloseSend ends the stream cleanly: Recv drains what is queued, then
// returns io.EOF.
func (p *Pipe) CloseSend() {
	p.mu.Lock()
	p.eof = true
	p.broadcastLocked()
	p.mu.Unlock()
}

// Fail ends the stream with err after the queue drains.
func (p *Pipe) Fail(err error) {
	p.mu.Lock()
	p.failErr = err
	p.broadcastLocked()
	p.mu.Unlock()
}

// Closed reports whether Close was called.
func (p *Pipe) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Recv implements Stream.
func (p *Pipe) Recv(ctx context.Context) (packet.Packet, error) {
	for {
		p.mu.Lock()
		switch {
		case p.closed:
			p.mu.Unlock()
			return nil, ErrClosed
		case len(p.queue) > 0:
			pkt := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.mu.Unlock()
			return pkt, nil
		case p.failErr != nil:
			err := p.failErr
			p.mu.Unlock()
			return nil, err
		case p.eof:
			p.mu.Unlock()
			return nil, io.EOF
		}
		wait := p.changed
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// Close implements Stream. It is idempotent.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.queue = nil
	p.broadcastLocked()
	return nil
}

func (p *Pipe) broadcastLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// PipeDialer hands out pipes registered per key. Dial fails for keys
// without a registered pipe.
type PipeDialer struct {
	mu    sync.Mutex
	pipes map[model.DeviceKey]*Pipe
}

// NewPipeDialer returns an empty PipeDialer.
func NewPipeDialer() *PipeDialer {
	return &PipeDialer{pipes: make(map[model.DeviceKey]*Pipe)}
}

// Register makes Dial(key) return pipe once.
func (d *PipeDialer) Register(key model.DeviceKey, pipe *Pipe) {
	d.mu.Lock()
	d.pipes[key] = pipe
	d.mu.Unlock()
}

// Dial implements Dialer.
func (d *PipeDialer) Dial(ctx context.Context, key model.DeviceKey) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	pipe, ok := d.pipes[key]
	if !ok {
		return nil, fmt.Errorf("dial %s: no pipe registered", key)
	}
	delete(d.pipes, key)
	return pipe, nil
}
