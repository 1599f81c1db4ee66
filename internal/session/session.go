// Package session wires the device registry, topology graph, analytics
// engine and connection supervisor into one explicit context object. It is
// what the bridge and the daemon talk to.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/signalsfoundry/meshgraph/core"
	"github.com/signalsfoundry/meshgraph/internal/analytics"
	"github.com/signalsfoundry/meshgraph/internal/logging"
	"github.com/signalsfoundry/meshgraph/internal/observability"
	"github.com/signalsfoundry/meshgraph/internal/supervisor"
	"github.com/signalsfoundry/meshgraph/internal/transport"
	"github.com/signalsfoundry/meshgraph/kb"
	"github.com/signalsfoundry/meshgraph/model"
	"github.com/signalsfoundry/meshgraph/timectrl"
)

// Re-exported so callers can match on session.* without importing the
// packages that own them.
var (
	ErrDeviceExists        = kb.ErrDeviceExists
	ErrDeviceNotFound      = kb.ErrDeviceNotFound
	ErrGraphNotInitialized = core.ErrGraphNotInitialized
	ErrStateNotInitialized = analytics.ErrStateNotInitialized
)

// NodeEdges is the current topology rendered as GeoJSON.
type NodeEdges struct {
	Nodes *geojson.FeatureCollection `json:"nodes"`
	Edges *geojson.FeatureCollection `json:"edges"`
}

// AnalyticsResult is an analytics run with snapshot indices mapped back to
// node ids. A disabled, empty or failed algorithm leaves its field empty.
type AnalyticsResult struct {
	APResult      []uint32                                `json:"ap_result"`
	MincutResult  [][2]uint32                             `json:"mincut_result"`
	DiffcenResult map[uint32]map[uint32]map[uint32]float64 `json:"diffcen_result"`
}

type settings struct {
	dialer        transport.Dialer
	logger        logging.Logger
	metrics       *observability.MeshCollector
	notifier      supervisor.Notifier
	clock         timectrl.Clock
	configTimeout time.Duration
	analytics     analytics.Options
}

// Option customises a Session.
type Option func(*settings)

// WithDialer sets the transport used by Connect. Without one, Connect fails.
func WithDialer(d transport.Dialer) Option {
	return func(s *settings) { s.dialer = d }
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithMetrics attaches the mesh metrics collector.
func WithMetrics(m *observability.MeshCollector) Option {
	return func(s *settings) { s.metrics = m }
}

// WithNotifier sets the receiver of device, graph and status events.
func WithNotifier(n supervisor.Notifier) Option {
	return func(s *settings) { s.notifier = n }
}

// WithClock replaces the clock driving configuration timeouts, snapshot
// times and sent message times.
func WithClock(c timectrl.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithConfigTimeout bounds the configuration handshake.
func WithConfigTimeout(d time.Duration) Option {
	return func(s *settings) { s.configTimeout = d }
}

// WithAnalyticsOptions sets snapshot history and diffusion parameters.
func WithAnalyticsOptions(o analytics.Options) Option {
	return func(s *settings) { s.analytics = o }
}

// Session is the application state shared by every entry point.
type Session struct {
	registry   *kb.Registry
	graph      *core.GraphStore
	analytics  *analytics.Store
	supervisor *supervisor.Supervisor
	dialer     transport.Dialer
	clock      timectrl.Clock
	log        logging.Logger
	metrics    *observability.MeshCollector
}

// New builds a Session. The graph and analytics state stay uninitialised
// until InitializeGraphState.
func New(opts ...Option) *Session {
	cfg := settings{analytics: analytics.DefaultOptions()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.Noop()
	}
	if cfg.clock == nil {
		cfg.clock = timectrl.Real()
	}
	if cfg.analytics.Metrics == nil {
		cfg.analytics.Metrics = cfg.metrics
	}

	registry := kb.NewRegistry()
	graph := core.NewGraphStore(cfg.clock)
	return &Session{
		registry:  registry,
		graph:     graph,
		analytics: analytics.NewStore(cfg.analytics),
		supervisor: supervisor.New(registry, graph, supervisor.Options{
			ConfigTimeout: cfg.configTimeout,
			Clock:         cfg.clock,
			Logger:        cfg.logger,
			Metrics:       cfg.metrics,
			Notifier:      cfg.notifier,
		}),
		dialer:  cfg.dialer,
		clock:   cfg.clock,
		log:     cfg.logger,
		metrics: cfg.metrics,
	}
}

// InitializeGraphState installs a fresh graph and analytics state,
// discarding any previous topology and snapshot history.
func (s *Session) InitializeGraphState(ctx context.Context) {
	s.graph.Init()
	s.analytics.Init()
	s.metrics.SetGraphCounts(0, 0)
	s.log.Info(ctx, "graph state initialized")
}

// Connect dials key and hands the stream to the supervisor.
func (s *Session) Connect(ctx context.Context, key model.DeviceKey) error {
	if s.dialer == nil {
		return fmt.Errorf("connect %s: no transport configured", key)
	}
	if _, err := s.registry.Get(key); err == nil {
		return fmt.Errorf("connect %s: %w", key, ErrDeviceExists)
	}
	stream, err := s.dialer.Dial(ctx, key)
	if err != nil {
		s.log.Warn(ctx, "dial failed", logging.Device(key), logging.Err(err))
		return &supervisor.ConnectionError{Key: key, Err: err}
	}
	return s.supervisor.Connect(ctx, key, stream)
}

// Drop disconnects key.
func (s *Session) Drop(ctx context.Context, key model.DeviceKey) error {
	return s.supervisor.Drop(ctx, key)
}

// DropAll disconnects every device.
func (s *Session) DropAll(ctx context.Context) error {
	return s.supervisor.DropAll(ctx)
}

// Device returns a copy of the device registered under key.
func (s *Session) Device(key model.DeviceKey) (*model.MeshDevice, error) {
	return s.registry.Get(key)
}

// Devices returns copies of every registered device, ordered by key.
func (s *Session) Devices() []*model.MeshDevice {
	keys := s.registry.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]*model.MeshDevice, 0, len(keys))
	for _, k := range keys {
		if d, err := s.registry.Get(k); err == nil {
			out = append(out, d)
		}
	}
	return out
}

// NodeEdges renders the current graph.
func (s *Session) NodeEdges() (NodeEdges, error) {
	var out NodeEdges
	err := s.graph.With(func(g *core.MeshGraph) error {
		out.Nodes = g.NodesGeoJSON()
		out.Edges = g.EdgesGeoJSON()
		return nil
	})
	return out, err
}

// CaptureSnapshot records the current graph in the analytics history
// without running any algorithm.
func (s *Session) CaptureSnapshot(ctx context.Context) error {
	snap, err := s.snapshot()
	if err != nil {
		return err
	}
	if err := s.analytics.With(func(st *analytics.State) error {
		st.AddSnapshot(snap)
		return nil
	}); err != nil {
		return err
	}
	s.log.Debug(ctx, "graph snapshot captured", logging.Int("nodes", snap.NodeCount()))
	return nil
}

// RunAlgorithms snapshots the graph, runs the selected algorithms and maps
// their results to node ids. When some algorithms fail, the result still
// carries the others and the error joins every AlgorithmError.
func (s *Session) RunAlgorithms(ctx context.Context, flags analytics.Flags) (AnalyticsResult, error) {
	snap, err := s.snapshot()
	if err != nil {
		return AnalyticsResult{}, err
	}

	var res analytics.Results
	err = s.analytics.With(func(st *analytics.State) error {
		st.AddSnapshot(snap)
		st.SetFlags(flags)
		res = st.Run(ctx)
		return nil
	})
	if err != nil {
		return AnalyticsResult{}, err
	}

	out := toAnalyticsResult(snap, res)
	algErr := res.Errors()
	if algErr != nil {
		s.log.Error(ctx, "graph analytics failed", logging.Err(algErr))
	}
	return out, algErr
}

// Close drops every device and waits for their goroutines.
func (s *Session) Close(ctx context.Context) error {
	return s.supervisor.Close(ctx)
}

// snapshot copies the graph, stamped with the session clock. The graph lock
// is released before the analytics lock is taken.
func (s *Session) snapshot() (core.GraphSnapshot, error) {
	return s.graph.Snapshot()
}

func toAnalyticsResult(snap core.GraphSnapshot, res analytics.Results) AnalyticsResult {
	var out AnalyticsResult
	if aps, ok := res.ArticulationPoints.Value(); ok {
		for _, i := range aps {
			if id, ok := snap.NodeID(i); ok {
				out.APResult = append(out.APResult, id)
			}
		}
	}
	if cut, ok := res.MinCut.Value(); ok {
		for _, e := range cut {
			u, okU := snap.NodeID(e.U)
			v, okV := snap.NodeID(e.V)
			if okU && okV {
				out.MincutResult = append(out.MincutResult, [2]uint32{u, v})
			}
		}
	}
	if scores, ok := res.DiffusionCentrality.Value(); ok {
		out.DiffcenResult = scores
	}
	return out
}

// IsNotInitialized reports whether err means InitializeGraphState has not
// been called yet.
func IsNotInitialized(err error) bool {
	return errors.Is(err, ErrGraphNotInitialized) || errors.Is(err, ErrStateNotInitialized)
}
