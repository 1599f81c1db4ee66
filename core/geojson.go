package core

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// NodesGeoJSON renders one Point feature per graph node. The feature id is
// the stringified node id.
func (g *MeshGraph) NodesGeoJSON() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, n := range g.nodes {
		f := geojson.NewFeature(orb.Point{n.Longitude, n.Latitude})
		f.ID = fmt.Sprint(n.ID)
		f.Properties["num"] = n.ID
		f.Properties["name"] = n.Name
		f.Properties["altitude"] = n.Altitude
		fc.Append(f)
	}
	return fc
}

// EdgesGeoJSON renders one LineString feature per edge. Edges with an
// endpoint at a zero coordinate are left out: a zero means the node never
// had a real fix.
func (g *MeshGraph) EdgesGeoJSON() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, e := range g.edges {
		u, v := g.nodes[e.U], g.nodes[e.V]
		if zeroCoordinate(u) || zeroCoordinate(v) {
			continue
		}
		f := geojson.NewFeature(orb.LineString{
			{u.Longitude, u.Latitude},
			{v.Longitude, v.Latitude},
		})
		f.ID = fmt.Sprintf("%d-%d", u.ID, v.ID)
		f.Properties["snr"] = e.SNR
		f.Properties["num"] = []uint32{u.ID, v.ID}
		f.Properties["distance_km"] = e.DistanceKm
		f.Properties["line_of_sight"] = e.LineOfSight
		f.Properties["quality"] = string(e.Quality)
		fc.Append(f)
	}
	return fc
}

func zeroCoordinate(n GraphNode) bool {
	return n.Longitude == 0 || n.Latitude == 0
}
