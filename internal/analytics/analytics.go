// Package analytics runs graph algorithms over a bounded history of
// topology snapshots: articulation points, the global minimum edge cut and
// temporal diffusion centrality.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/meshgraph/core"
	"github.com/signalsfoundry/meshgraph/internal/observability"
)

const (
	// DefaultMaxSnapshots bounds the snapshot history.
	DefaultMaxSnapshots = 100
	// DefaultDiffusionProbability is the per-hop diffusion probability q.
	DefaultDiffusionProbability = 0.5
	// MinDiffusionSnapshots is the history length diffusion needs.
	MinDiffusionSnapshots = 1
)

// Algorithm names, used in errors and metric labels.
const (
	AlgorithmArticulationPoints  = "articulation_points"
	AlgorithmMinCut              = "min_cut"
	AlgorithmDiffusionCentrality = "diffusion_centrality"
)

// ErrStateNotInitialized is returned by Store before Init.
var ErrStateNotInitialized = errors.New("analytics state not initialized")

// AlgorithmError reports the failure of a single algorithm.
type AlgorithmError struct {
	Algorithm string
	Err       error
}

func (e *AlgorithmError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Algorithm, e.Err)
}

func (e *AlgorithmError) Unwrap() error { return e.Err }

// Flags selects which algorithms Run executes.
type Flags struct {
	ArticulationPoints  bool `json:"ap"`
	MinCut              bool `json:"mincut"`
	DiffusionCentrality bool `json:"diffcen"`
}

// AllFlags enables every algorithm.
func AllFlags() Flags {
	return Flags{ArticulationPoints: true, MinCut: true, DiffusionCentrality: true}
}

// Results holds the latest outcome of each algorithm. Indices in
// ArticulationPoints and MinCut refer to the latest snapshot.
type Results struct {
	ArticulationPoints  Result[[]int]
	MinCut              Result[[]Edge]
	DiffusionCentrality Result[DiffusionScores]
}

func notRun() Results {
	return Results{
		ArticulationPoints:  Empty[[]int]("not run"),
		MinCut:              Empty[[]Edge]("not run"),
		DiffusionCentrality: Empty[DiffusionScores]("not run"),
	}
}

// Errors joins the errors of every failed algorithm, or returns nil.
func (r Results) Errors() error {
	var errs []error
	for _, err := range []error{r.ArticulationPoints.Err(), r.MinCut.Err(), r.DiffusionCentrality.Err()} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Options configures a State.
type Options struct {
	// MaxSnapshots bounds the history; 0 keeps every snapshot.
	MaxSnapshots int
	// DiffusionProbability is q in the diffusion recurrence.
	DiffusionProbability float64
	Metrics              *observability.MeshCollector
}

// DefaultOptions returns the standard analytics options.
func DefaultOptions() Options {
	return Options{
		MaxSnapshots:         DefaultMaxSnapshots,
		DiffusionProbability: DefaultDiffusionProbability,
	}
}

// State is the analytics engine. It is not safe for concurrent use; Store
// provides the guarded form.
type State struct {
	opts      Options
	snapshots []core.GraphSnapshot
	flags     Flags
	results   Results
}

// NewState returns an empty engine with every algorithm disabled.
func NewState(opts Options) *State {
	if opts.MaxSnapshots < 0 {
		opts.MaxSnapshots = 0
	}
	if opts.DiffusionProbability <= 0 {
		opts.DiffusionProbability = DefaultDiffusionProbability
	}
	return &State{opts: opts, results: notRun()}
}

// AddSnapshot appends a snapshot, evicting the oldest when the history is
// full.
func (s *State) AddSnapshot(snap core.GraphSnapshot) {
	s.snapshots = append(s.snapshots, snap)
	if limit := s.opts.MaxSnapshots; limit > 0 && len(s.snapshots) > limit {
		drop := len(s.snapshots) - limit
		s.snapshots = append(s.snapshots[:0:0], s.snapshots[drop:]...)
	}
}

// Snapshots returns the history length.
func (s *State) Snapshots() int { return len(s.snapshots) }

// SetFlags replaces the algorithm selection.
func (s *State) SetFlags(f Flags) { s.flags = f }

// Flags returns the algorithm selection.
func (s *State) Flags() Flags { return s.flags }

// Results returns the outcome of the last Run.
func (s *State) Results() Results { return s.results }

// Run executes the enabled algorithms. Articulation points and min cut use
// the latest snapshot; diffusion centrality uses the whole history. A
// failing algorithm never affects the others.
func (s *State) Run(ctx context.Context) Results {
	ctx, span := observability.StartSpan(ctx, "analytics.Run",
		attribute.Int("analytics.snapshots", len(s.snapshots)))
	defer span.End()
	start := time.Now()

	var latest core.GraphSnapshot
	if n := len(s.snapshots); n > 0 {
		latest = s.snapshots[n-1]
	}

	res := Results{
		ArticulationPoints:  Empty[[]int]("disabled"),
		MinCut:              Empty[[]Edge]("disabled"),
		DiffusionCentrality: Empty[DiffusionScores]("disabled"),
	}
	if s.flags.ArticulationPoints {
		res.ArticulationPoints = runAlgorithm(ctx, s.opts.Metrics, AlgorithmArticulationPoints, func() Result[[]int] {
			return articulationPoints(latest)
		})
	}
	if s.flags.MinCut {
		res.MinCut = runAlgorithm(ctx, s.opts.Metrics, AlgorithmMinCut, func() Result[[]Edge] {
			return minCut(latest)
		})
	}
	if s.flags.DiffusionCentrality {
		history := s.snapshots
		q := s.opts.DiffusionProbability
		res.DiffusionCentrality = runAlgorithm(ctx, s.opts.Metrics, AlgorithmDiffusionCentrality, func() Result[DiffusionScores] {
			return diffusionCentrality(history, q)
		})
	}

	if err := res.Errors(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.opts.Metrics.ObserveAnalyticsRun(time.Since(start))
	s.results = res
	return res
}

// runAlgorithm isolates fn: a panic becomes that algorithm's Failure.
func runAlgorithm[T any](ctx context.Context, metrics *observability.MeshCollector, name string, fn func() Result[T]) (res Result[T]) {
	_, span := observability.StartSpan(ctx, "analytics."+name, observability.AlgorithmAttr(name))
	defer func() {
		if r := recover(); r != nil {
			res = Failure[T](&AlgorithmError{Algorithm: name, Err: fmt.Errorf("panic: %v", r)})
		}
		if err := res.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("analytics.outcome", res.Outcome().String()))
		span.End()
		metrics.ObserveAlgorithm(name, res.Outcome().String())
	}()
	return fn()
}

// Store guards the session's analytics state. The state is absent until
// Init is called.
type Store struct {
	mu    sync.Mutex
	opts  Options
	state *State
}

// NewStore returns an uninitialised store that will build states with opts.
func NewStore(opts Options) *Store {
	return &Store{opts: opts}
}

// Init installs a fresh state, discarding any history.
func (s *Store) Init() {
	s.mu.Lock()
	s.state = NewState(s.opts)
	s.mu.Unlock()
}

// With runs fn with exclusive access to the state.
func (s *Store) With(fn func(st *State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return ErrStateNotInitialized
	}
	return fn(s.state)
}
