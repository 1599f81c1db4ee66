package core

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/meshgraph/model"
	"github.com/signalsfoundry/meshgraph/timectrl"
)

// ErrGraphNotInitialized is returned by graph operations attempted before
// the session created a graph.
var ErrGraphNotInitialized = errors.New("graph not initialized")

// GraphNode is one geolocated mesh node in the topology arena.
type GraphNode struct {
	ID           uint32    `json:"id"`
	Name         string    `json:"name"`
	Longitude    float64   `json:"longitude"`
	Latitude     float64   `json:"latitude"`
	Altitude     int32     `json:"altitude"`
	PositionTime time.Time `json:"position_time"`

	pos model.PositionMetric
}

// GraphEdge is an undirected link between two arena indices. U is always
// the lower index.
type GraphEdge struct {
	U           int         `json:"u"`
	V           int         `json:"v"`
	SNR         float64     `json:"snr"`
	ObservedAt  time.Time   `json:"observed_at"`
	DistanceKm  float64     `json:"distance_km"`
	LineOfSight bool        `json:"line_of_sight"`
	Quality     LinkQuality `json:"quality"`
}

// pairKey is an unordered node-id pair with A < B.
type pairKey struct {
	A, B uint32
}

func newPairKey(a, b uint32) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{A: a, B: b}
}

// observation is one SNR reading for a pair.
type observation struct {
	SNR float64
	At  time.Time
}

// newer reports whether o should replace cur: the later observation wins,
// and on equal timestamps the stronger one.
func (o observation) newer(cur observation) bool {
	if !o.At.Equal(cur.At) {
		return o.At.After(cur.At)
	}
	return o.SNR > cur.SNR
}

// contribution is what one device last reported into the graph.
type contribution struct {
	nodes map[uint32]GraphNode
	links map[pairKey]observation
}

// MeshGraph is the shared topology: an arena of nodes addressed by index,
// edges that refer to those indices, and the node-id -> index side table.
//
// Each device owns a contribution; Regenerate swaps the calling device's
// contribution and rebuilds the arena from all of them. Index assignment is
// in ascending node-id order, so a rebuild from unchanged input yields an
// identical graph.
type MeshGraph struct {
	nodes []GraphNode
	edges []GraphEdge
	index map[uint32]int

	contributions map[model.DeviceKey]contribution
}

// NewMeshGraph returns an empty graph.
func NewMeshGraph() *MeshGraph {
	g := &MeshGraph{}
	g.Reset()
	return g
}

// Reset drops every node, edge and device contribution.
func (g *MeshGraph) Reset() {
	g.nodes = nil
	g.edges = nil
	g.index = make(map[uint32]int)
	g.contributions = make(map[model.DeviceKey]contribution)
}

// NodeCount returns the number of nodes in the arena.
func (g *MeshGraph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges in the arena.
func (g *MeshGraph) EdgeCount() int { return len(g.edges) }

// Index returns the arena index for a node id.
func (g *MeshGraph) Index(id uint32) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// Node returns the node at an arena index.
func (g *MeshGraph) Node(i int) (GraphNode, bool) {
	if i < 0 || i >= len(g.nodes) {
		return GraphNode{}, false
	}
	return g.nodes[i], true
}

// Nodes returns a copy of the node arena.
func (g *MeshGraph) Nodes() []GraphNode { return append([]GraphNode(nil), g.nodes...) }

// Edges returns a copy of the edge list.
func (g *MeshGraph) Edges() []GraphEdge { return append([]GraphEdge(nil), g.edges...) }

func (g *MeshGraph) setContribution(key model.DeviceKey, c contribution) {
	g.contributions[key] = c
	g.rebuild()
}

// rebuild recomputes the arena from all contributions.
func (g *MeshGraph) rebuild() {
	keys := make([]model.DeviceKey, 0, len(g.contributions))
	for k := range g.contributions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	merged := make(map[uint32]GraphNode)
	links := make(map[pairKey]observation)
	for _, k := range keys {
		c := g.contributions[k]
		for id, n := range c.nodes {
			if cur, ok := merged[id]; !ok || n.PositionTime.After(cur.PositionTime) {
				merged[id] = n
			}
		}
		for pk, obs := range c.links {
			if cur, ok := links[pk]; !ok || obs.newer(cur) {
				links[pk] = obs
			}
		}
	}

	ids := make([]uint32, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	g.nodes = make([]GraphNode, len(ids))
	g.index = make(map[uint32]int, len(ids))
	for i, id := range ids {
		g.nodes[i] = merged[id]
		g.index[id] = i
	}

	g.edges = make([]GraphEdge, 0, len(links))
	for pk, obs := range links {
		u, okU := g.index[pk.A]
		v, okV := g.index[pk.B]
		if !okU || !okV {
			continue
		}
		g.edges = append(g.edges, g.newEdge(u, v, obs))
	}
	sort.Slice(g.edges, func(i, j int) bool {
		if g.edges[i].U != g.edges[j].U {
			return g.edges[i].U < g.edges[j].U
		}
		return g.edges[i].V < g.edges[j].V
	})
}

func (g *MeshGraph) newEdge(u, v int, obs observation) GraphEdge {
	a, b := g.nodes[u].pos, g.nodes[v].pos
	return GraphEdge{
		U:           u,
		V:           v,
		SNR:         obs.SNR,
		ObservedAt:  obs.At,
		DistanceKm:  PositionDistance(a, b),
		LineOfSight: LineOfSight(a, b),
		Quality:     ClassifySNR(obs.SNR),
	}
}

// GraphSnapshot is an immutable point-in-time copy of the graph. It owns
// its slices; later graph mutation never reaches it.
type GraphSnapshot struct {
	Nodes      []GraphNode `json:"nodes"`
	Edges      []GraphEdge `json:"edges"`
	CapturedAt time.Time   `json:"captured_at"`
}

// Snapshot copies the current graph, stamped with at.
func (g *MeshGraph) Snapshot(at time.Time) GraphSnapshot {
	return GraphSnapshot{
		Nodes:      g.Nodes(),
		Edges:      g.Edges(),
		CapturedAt: at,
	}
}

// NodeCount returns the number of nodes in the snapshot.
func (s GraphSnapshot) NodeCount() int { return len(s.Nodes) }

// NodeID maps an arena index back to its node id.
func (s GraphSnapshot) NodeID(i int) (uint32, bool) {
	if i < 0 || i >= len(s.Nodes) {
		return 0, false
	}
	return s.Nodes[i].ID, true
}

// GraphStore guards the session's graph. The graph is absent until
// Init is called. The zero value stamps snapshots with real time.
type GraphStore struct {
	clock timectrl.Clock

	mu    sync.Mutex
	graph *MeshGraph
}

// NewGraphStore returns an uninitialised store whose snapshots are stamped
// from clock.
func NewGraphStore(clock timectrl.Clock) *GraphStore {
	return &GraphStore{clock: clock}
}

// Init installs a fresh empty graph, replacing any previous one.
func (s *GraphStore) Init() {
	s.mu.Lock()
	s.graph = NewMeshGraph()
	s.mu.Unlock()
}

// With runs fn with exclusive access to the graph. fn must not block.
func (s *GraphStore) With(fn func(g *MeshGraph) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.graph == nil {
		return ErrGraphNotInitialized
	}
	return fn(s.graph)
}

// Snapshot copies the current graph under the lock.
func (s *GraphStore) Snapshot() (GraphSnapshot, error) {
	clock := s.clock
	if clock == nil {
		clock = timectrl.Real()
	}
	var snap GraphSnapshot
	err := s.With(func(g *MeshGraph) error {
		snap = g.Snapshot(clock.Now())
		return nil
	})
	return snap, err
}
