package core

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/meshgraph/model"
)

func TestNodesGeoJSON(t *testing.T) {
	g := NewMeshGraph()
	Regenerate(g, "tcp:radio", testDevice())

	fc := g.NodesGeoJSON()
	require.Len(t, fc.Features, 3)

	first := fc.Features[0]
	assert.Equal(t, "1", first.ID)
	pt, ok := first.Geometry.(orb.Point)
	require.True(t, ok, "node feature should be a Point")
	assert.InDelta(t, 8.0, pt.Lon(), 1e-6)
	assert.InDelta(t, 47.0, pt.Lat(), 1e-6)
	assert.Equal(t, uint32(1), first.Properties["num"])
}

func TestEdgesGeoJSON(t *testing.T) {
	g := NewMeshGraph()
	Regenerate(g, "tcp:radio", testDevice())

	fc := g.EdgesGeoJSON()
	require.Len(t, fc.Features, 2)

	f := fc.Features[0]
	assert.Equal(t, "1-2", f.ID)
	line, ok := f.Geometry.(orb.LineString)
	require.True(t, ok, "edge feature should be a LineString")
	require.Len(t, line, 2)
	assert.Equal(t, 6.5, f.Properties["snr"])

	raw, err := json.Marshal(fc)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"FeatureCollection"`)
}

func TestEdgesGeoJSONNeverEmitsZeroCoordinates(t *testing.T) {
	d := testDevice()
	// A node reporting 0/0 never made it into the arena.
	d.Nodes[5] = &model.MeshNode{
		Num:             5,
		SNR:             f64(3),
		PositionMetrics: []model.PositionMetric{{}},
	}
	d.Nodes[2].Neighbors = append(d.Nodes[2].Neighbors, model.Neighbor{NodeNum: 5, SNR: 2})

	g := NewMeshGraph()
	Regenerate(g, "tcp:radio", d)
	// Force one in through a stale arena entry as well.
	g.nodes = append(g.nodes, GraphNode{ID: 6})
	g.index[6] = len(g.nodes) - 1
	g.edges = append(g.edges, GraphEdge{U: 0, V: len(g.nodes) - 1, SNR: 1})

	for _, f := range g.EdgesGeoJSON().Features {
		line := f.Geometry.(orb.LineString)
		for _, p := range line {
			assert.False(t, p.Lon() == 0 || p.Lat() == 0, "edge %v has a zero endpoint", f.ID)
		}
	}
}
