// Package supervisor drives each connected device through its connection
// lifecycle: handshake, configuration timeout, packet consumption and
// teardown.
//
// Every device gets one reader goroutine (transport to queue) and one
// consumer goroutine (queue to dispatcher), so packets for a device are
// handled strictly in arrival order while devices never wait on each other.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"github.com/signalsfoundry/meshgraph/core"
	"github.com/signalsfoundry/meshgraph/internal/dispatch"
	"github.com/signalsfoundry/meshgraph/internal/logging"
	"github.com/signalsfoundry/meshgraph/internal/observability"
	"github.com/signalsfoundry/meshgraph/internal/transport"
	"github.com/signalsfoundry/meshgraph/kb"
	"github.com/signalsfoundry/meshgraph/model"
	"github.com/signalsfoundry/meshgraph/packet"
	"github.com/signalsfoundry/meshgraph/timectrl"
)

// DefaultConfigTimeout is how long a device may stay in Configuring.
const DefaultConfigTimeout = 3000 * time.Millisecond

// TimeoutMessage is the failure message of a timed-out configuration.
const TimeoutMessage = "Configuration timed out. Are you sure this is a Meshtastic device?"

// Connection outcome labels.
const (
	outcomeConfigured      = "configured"
	outcomeTimeout         = "timeout"
	outcomeHandshakeFailed = "handshake_failed"
	outcomeTransportError  = "transport_error"
	outcomeDropped         = "dropped"
)

// ConnectionError reports a handshake or transport failure for a device.
// The device has been removed from the registry by the time it is seen.
type ConnectionError struct {
	Key model.DeviceKey
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %v", e.Key, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Notifier receives everything the supervisor publishes. Calls are made
// from device goroutines without any lock held and must not block for long.
type Notifier interface {
	DeviceUpdated(device *model.MeshDevice)
	GraphUpdated(edges *geojson.FeatureCollection)
	ConfigurationStatus(status model.ConfigurationStatus)
	Notify(key model.DeviceKey, n model.NotificationConfig)
	Rebooting(key model.DeviceKey)
}

type noopNotifier struct{}

func (noopNotifier) DeviceUpdated(*model.MeshDevice)                  {}
func (noopNotifier) GraphUpdated(*geojson.FeatureCollection)          {}
func (noopNotifier) ConfigurationStatus(model.ConfigurationStatus)    {}
func (noopNotifier) Notify(model.DeviceKey, model.NotificationConfig) {}
func (noopNotifier) Rebooting(model.DeviceKey)                        {}

// Options configures a Supervisor. Zero values pick defaults.
type Options struct {
	ConfigTimeout time.Duration
	Clock         timectrl.Clock
	Logger        logging.Logger
	Metrics       *observability.MeshCollector
	Notifier      Notifier
}

// Supervisor owns the live connections.
type Supervisor struct {
	registry   *kb.Registry
	graph      *core.GraphStore
	dispatcher *dispatch.Dispatcher

	timeout  time.Duration
	clock    timectrl.Clock
	log      logging.Logger
	metrics  *observability.MeshCollector
	notifier Notifier

	mu    sync.Mutex
	conns map[model.DeviceKey]*conn
	wg    sync.WaitGroup

	unsubscribe func()
}

// conn is one connection attempt.
type conn struct {
	key       model.DeviceKey
	attemptID string
	stream    transport.Stream
	queue     *packetQueue
	cancel    context.CancelFunc
	log       logging.Logger

	mu    sync.Mutex
	timer timectrl.Timer

	// writeMu keeps a batch of writes contiguous on the stream.
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// New returns a Supervisor working on registry and graph.
func New(registry *kb.Registry, graph *core.GraphStore, opts Options) *Supervisor {
	if opts.ConfigTimeout <= 0 {
		opts.ConfigTimeout = DefaultConfigTimeout
	}
	if opts.Clock == nil {
		opts.Clock = timectrl.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Noop()
	}
	if opts.Notifier == nil {
		opts.Notifier = noopNotifier{}
	}

	s := &Supervisor{
		registry:   registry,
		graph:      graph,
		dispatcher: dispatch.New(opts.Clock),
		timeout:    opts.ConfigTimeout,
		clock:      opts.Clock,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		notifier:   opts.Notifier,
		conns:      make(map[model.DeviceKey]*conn),
	}
	s.unsubscribe = registry.Subscribe(func(ev kb.Event) {
		s.metrics.SetConnectedDevices(ev.Count)
	})
	return s
}

// Connect takes ownership of stream and starts the configuration handshake
// for key. It returns once the handshake request is sent; configuration
// completes (or times out) asynchronously.
func (s *Supervisor) Connect(ctx context.Context, key model.DeviceKey, stream transport.Stream) error {
	ctx, span := observability.StartSpan(ctx, "supervisor.connect", observability.DeviceAttr(key))
	defer span.End()

	// The connection outlives the request that opened it.
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &conn{
		key:       key,
		attemptID: uuid.NewString(),
		stream:    stream,
		queue:     newPacketQueue(),
		cancel:    cancel,
		log:       s.log.With(logging.Device(key)),
	}

	s.mu.Lock()
	if _, busy := s.conns[key]; busy {
		s.mu.Unlock()
		cancel()
		_ = stream.Close()
		return fmt.Errorf("connect %s: %w", key, kb.ErrDeviceExists)
	}
	s.conns[key] = c
	s.mu.Unlock()

	configID := newConfigID()
	if err := s.registry.Insert(key, model.NewMeshDevice(key, configID, c.attemptID)); err != nil {
		_ = s.teardown(c)
		return fmt.Errorf("connect %s: %w", key, err)
	}

	if err := s.registry.Update(key, func(d *model.MeshDevice) error {
		d.Status = model.StatusConfiguring
		return nil
	}); err != nil {
		_ = s.teardown(c)
		return fmt.Errorf("connect %s: %w", key, err)
	}
	c.setTimer(s.clock.AfterFunc(s.timeout, func() { s.onConfigTimeout(c) }))

	if err := stream.Configure(ctx, configID); err != nil {
		_, removed := s.removeAttempt(c)
		_ = s.teardown(c)
		// A timeout that fired during Configure has already reported
		// this attempt.
		if removed {
			s.metrics.ObserveConnection(outcomeHandshakeFailed)
			c.log.Warn(ctx, "configuration handshake failed", logging.Err(err))
		}
		span.RecordError(err)
		return &ConnectionError{Key: key, Err: err}
	}
	c.log.Info(ctx, "device configuring",
		logging.Attempt(c.attemptID),
		logging.Any("config_id", configID),
	)

	s.wg.Add(2)
	go s.readLoop(connCtx, c)
	go s.consumeLoop(connCtx, c)
	return nil
}

// Drop disconnects key. It fails with kb.ErrDeviceNotFound for unknown keys.
func (s *Supervisor) Drop(ctx context.Context, key model.DeviceKey) error {
	s.mu.Lock()
	c := s.conns[key]
	s.mu.Unlock()
	if c == nil {
		return fmt.Errorf("drop %s: %w", key, kb.ErrDeviceNotFound)
	}

	snapshot, removed := s.removeAttempt(c)
	err := s.teardown(c)
	if removed {
		s.metrics.ObserveConnection(outcomeDropped)
		s.notifier.DeviceUpdated(snapshot)
		c.log.Info(ctx, "device dropped")
	}
	if err != nil {
		return fmt.Errorf("drop %s: %w", key, err)
	}
	return nil
}

// DropAll disconnects every device and joins the close errors.
func (s *Supervisor) DropAll(ctx context.Context) error {
	var errs []error
	for _, key := range s.Keys() {
		if err := s.Drop(ctx, key); err != nil && !errors.Is(err, kb.ErrDeviceNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Keys returns the keys of all live connections.
func (s *Supervisor) Keys() []model.DeviceKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]model.DeviceKey, 0, len(s.conns))
	for k := range s.conns {
		keys = append(keys, k)
	}
	return keys
}

// Wait blocks until every device goroutine has exited.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Close drops every device, waits for their goroutines and detaches from
// the registry.
func (s *Supervisor) Close(ctx context.Context) error {
	err := s.DropAll(ctx)
	s.Wait()
	s.unsubscribe()
	return err
}

// onConfigTimeout fires once per attempt. It only acts when the attempt is
// still the live one and still Configuring; a device that got past
// Configuring first is left alone.
func (s *Supervisor) onConfigTimeout(c *conn) {
	var snapshot *model.MeshDevice
	removed := s.registry.RemoveIf(c.key, func(d *model.MeshDevice) bool {
		if d.AttemptID != c.attemptID || d.Status != model.StatusConfiguring {
			return false
		}
		d.Status = model.StatusDisconnected
		snapshot = d.Clone()
		return true
	})
	if !removed {
		return
	}
	_ = s.teardown(c)

	ctx := context.Background()
	c.log.Warn(ctx, "configuration timed out", logging.String("timeout", s.timeout.String()))
	s.metrics.IncConfigTimeouts()
	s.metrics.ObserveConnection(outcomeTimeout)

	msg := TimeoutMessage
	s.notifier.ConfigurationStatus(model.ConfigurationStatus{
		DeviceKey:  c.key,
		AttemptID:  c.attemptID,
		Successful: false,
		Message:    &msg,
	})
	s.notifier.DeviceUpdated(snapshot)
}

// readLoop moves packets from the transport into the queue. It never
// blocks on the consumer.
func (s *Supervisor) readLoop(ctx context.Context, c *conn) {
	defer s.wg.Done()
	for {
		pkt, err := c.stream.Recv(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil, errors.Is(err, transport.ErrClosed):
				c.queue.close(transport.ErrClosed)
				return
			case errors.Is(err, packet.ErrBadEnvelope):
				c.log.Warn(ctx, "skipping undecodable packet", logging.Err(err))
				s.metrics.ObservePacket(string(packet.KindUnknown), observability.PacketMalformed)
				continue
			default:
				// Clean EOF and I/O errors both end the connection once the
				// consumer has drained what already arrived.
				c.queue.close(err)
				return
			}
		}
		if !c.queue.push(pkt) {
			return
		}
		s.metrics.SetQueueBacklog(string(c.key), c.queue.len())
	}
}

// consumeLoop dispatches queued packets one at a time.
func (s *Supervisor) consumeLoop(ctx context.Context, c *conn) {
	defer s.wg.Done()
	for {
		pkt, err := c.queue.pop(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, transport.ErrClosed) {
				s.onTransportFailure(c, err)
			}
			return
		}
		s.metrics.SetQueueBacklog(string(c.key), c.queue.len())
		if stop := s.handlePacket(ctx, c, pkt); stop {
			return
		}
	}
}

// handlePacket runs one packet through the dispatcher and publishes the
// side effects it asks for. It reports true when the device is gone.
func (s *Supervisor) handlePacket(ctx context.Context, c *conn, pkt packet.Packet) bool {
	var (
		summary  dispatch.MutationSummary
		snapshot *model.MeshDevice
		status   model.ConnectionStatus
	)
	err := s.registry.Update(c.key, func(d *model.MeshDevice) error {
		if d.AttemptID != c.attemptID {
			return kb.ErrDeviceNotFound
		}
		sum, err := s.dispatcher.HandlePacket(d, pkt)
		if err != nil {
			return err
		}
		summary, status = sum, d.Status
		if sum.DeviceUpdated || sum.RegenerateGraph {
			snapshot = d.Clone()
		}
		return nil
	})

	kind := string(packet.KindUnknown)
	if pkt != nil {
		kind = string(pkt.Kind())
	}
	switch {
	case errors.Is(err, kb.ErrDeviceNotFound):
		return true
	case errors.Is(err, dispatch.ErrMalformedPacket):
		c.log.Warn(ctx, "dropping malformed packet", logging.String("kind", kind), logging.Err(err))
		s.metrics.ObservePacket(kind, observability.PacketMalformed)
		return false
	case err != nil:
		c.log.Error(ctx, "packet dispatch failed", logging.String("kind", kind), logging.Err(err))
		s.metrics.ObservePacket(kind, observability.PacketMalformed)
		return false
	}

	if summary.Empty() {
		s.metrics.ObservePacket(kind, observability.PacketIgnored)
		return false
	}
	s.metrics.ObservePacket(kind, observability.PacketApplied)

	if summary.DeviceUpdated {
		s.notifier.DeviceUpdated(snapshot)
	}
	if summary.RegenerateGraph {
		s.regenerate(ctx, c, snapshot)
	}
	if summary.ConfigurationSuccess && status == model.StatusConfigured {
		s.completeConfiguration(ctx, c)
	}
	if summary.NotificationConfig != nil {
		s.notifier.Notify(c.key, *summary.NotificationConfig)
	}
	if summary.Rebooting {
		c.log.Info(ctx, "device rebooting")
		s.notifier.Rebooting(c.key)
	}
	return false
}

// completeConfiguration publishes the success status and then promotes the
// device from Configured to Connected.
func (s *Supervisor) completeConfiguration(ctx context.Context, c *conn) {
	c.stopTimer()
	s.notifier.ConfigurationStatus(model.ConfigurationStatus{
		DeviceKey:  c.key,
		AttemptID:  c.attemptID,
		Successful: true,
	})

	var snapshot *model.MeshDevice
	_ = s.registry.Update(c.key, func(d *model.MeshDevice) error {
		if d.AttemptID == c.attemptID && d.Status == model.StatusConfigured {
			d.Status = model.StatusConnected
			snapshot = d.Clone()
		}
		return nil
	})
	if snapshot == nil {
		return
	}
	s.metrics.ObserveConnection(outcomeConfigured)
	c.log.Info(ctx, "device connected")
	s.notifier.DeviceUpdated(snapshot)
}

func (s *Supervisor) regenerate(ctx context.Context, c *conn, device *model.MeshDevice) {
	_, span := observability.StartSpan(ctx, "graph.regenerate", observability.DeviceAttr(c.key))
	defer span.End()

	start := time.Now()
	var (
		edges        *geojson.FeatureCollection
		nodes, links int
	)
	err := s.graph.With(func(g *core.MeshGraph) error {
		core.Regenerate(g, c.key, device)
		edges = g.EdgesGeoJSON()
		nodes, links = g.NodeCount(), g.EdgeCount()
		return nil
	})
	if err != nil {
		c.log.Warn(ctx, "graph regeneration skipped", logging.Err(err))
		return
	}
	s.metrics.ObserveRegenerate(time.Since(start))
	s.metrics.SetGraphCounts(nodes, links)
	s.notifier.GraphUpdated(edges)
}

// onTransportFailure handles the end of a device's stream that nobody
// asked for.
func (s *Supervisor) onTransportFailure(c *conn, cause error) {
	var (
		snapshot    *model.MeshDevice
		configuring bool
	)
	removed := s.registry.RemoveIf(c.key, func(d *model.MeshDevice) bool {
		if d.AttemptID != c.attemptID {
			return false
		}
		configuring = d.Status == model.StatusConfiguring || d.Status == model.StatusConnecting
		d.Status = model.StatusDisconnected
		snapshot = d.Clone()
		return true
	})
	_ = s.teardown(c)
	if !removed {
		return
	}

	connErr := &ConnectionError{Key: c.key, Err: cause}
	ctx := context.Background()
	if errors.Is(cause, io.EOF) {
		c.log.Info(ctx, "device closed the connection")
	} else {
		c.log.Warn(ctx, "device connection lost", logging.Err(connErr))
	}
	s.metrics.ObserveConnection(outcomeTransportError)

	if configuring {
		msg := connErr.Error()
		s.notifier.ConfigurationStatus(model.ConfigurationStatus{
			DeviceKey: c.key,
			AttemptID: c.attemptID,
			Message:   &msg,
		})
	}
	s.notifier.DeviceUpdated(snapshot)
}

// removeAttempt removes c's device from the registry if it is still the
// live attempt, returning the final Disconnected snapshot.
func (s *Supervisor) removeAttempt(c *conn) (*model.MeshDevice, bool) {
	var snapshot *model.MeshDevice
	removed := s.registry.RemoveIf(c.key, func(d *model.MeshDevice) bool {
		if d.AttemptID != c.attemptID {
			return false
		}
		d.Status = model.StatusDisconnected
		snapshot = d.Clone()
		return true
	})
	return snapshot, removed
}

// teardown stops c's timer and goroutines, closes its stream and forgets
// it. It is idempotent and returns the stream's close error.
func (s *Supervisor) teardown(c *conn) error {
	c.closeOnce.Do(func() {
		c.stopTimer()
		c.cancel()
		c.queue.close(transport.ErrClosed)
		c.closeErr = c.stream.Close()

		s.mu.Lock()
		if s.conns[c.key] == c {
			delete(s.conns, c.key)
		}
		s.mu.Unlock()
		s.metrics.ForgetDevice(string(c.key))
	})
	return c.closeErr
}

func (c *conn) setTimer(t timectrl.Timer) {
	c.mu.Lock()
	c.timer = t
	c.mu.Unlock()
}

func (c *conn) stopTimer() {
	c.mu.Lock()
	t := c.timer
	c.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// newConfigID returns the non-zero nonce the device must echo in its
// ConfigComplete.
func newConfigID() uint32 {
	for {
		if id := rand.Uint32(); id != 0 {
			return id
		}
	}
}
