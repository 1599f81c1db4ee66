package core

import (
	"github.com/signalsfoundry/meshgraph/model"
)

// Regenerate rebuilds the graph from one device's node table. The device's
// previous contribution is replaced; contributions from other devices are
// kept. Nodes without a valid position are left out, as is every link whose
// SNR is unknown or whose endpoints are not both geolocated.
//
// Links come from two sources: the device's own node to each directly heard
// node (SNR and LastHeard from the node table), and every neighbour table a
// node has reported.
func Regenerate(g *MeshGraph, key model.DeviceKey, device *model.MeshDevice) {
	c := contribution{
		nodes: make(map[uint32]GraphNode),
		links: make(map[pairKey]observation),
	}
	if device == nil {
		g.setContribution(key, c)
		return
	}

	for num, n := range device.Nodes {
		p, ok := n.LatestPosition()
		if !ok || !p.Valid() {
			continue
		}
		c.nodes[num] = GraphNode{
			ID:           num,
			Name:         n.DisplayName(),
			Longitude:    p.Longitude(),
			Latitude:     p.Latitude(),
			Altitude:     p.Altitude,
			PositionTime: p.Time,
			pos:          p,
		}
	}

	observe := func(a, b uint32, obs observation) {
		if a == b {
			return
		}
		if _, ok := c.nodes[a]; !ok {
			return
		}
		if _, ok := c.nodes[b]; !ok {
			return
		}
		pk := newPairKey(a, b)
		if cur, ok := c.links[pk]; !ok || obs.newer(cur) {
			c.links[pk] = obs
		}
	}

	if own, ok := device.OwnNode(); ok {
		for num, n := range device.Nodes {
			if n.SNR == nil || (n.HopsAway != nil && *n.HopsAway != 0) {
				continue
			}
			observe(own.Num, num, observation{SNR: *n.SNR, At: n.LastHeard})
		}
	}

	for num, n := range device.Nodes {
		for _, nb := range n.Neighbors {
			observe(num, nb.NodeNum, observation{SNR: nb.SNR, At: n.NeighborsReportedAt})
		}
	}

	g.setContribution(key, c)
}
