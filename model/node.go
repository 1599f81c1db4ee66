package model

import "time"

// PositionScale converts the scaled-integer coordinates reported by devices
// (1e-7 degrees) into floating point degrees.
const PositionScale = 1e-7

// PositionMetric is one historical position sample for a node.
type PositionMetric struct {
	LatitudeI  int32     `json:"latitude_i"`
	LongitudeI int32     `json:"longitude_i"`
	Altitude   int32     `json:"altitude"` // metres
	Time       time.Time `json:"time"`
}

// Latitude returns the latitude in degrees.
func (p PositionMetric) Latitude() float64 { return float64(p.LatitudeI) * PositionScale }

// Longitude returns the longitude in degrees.
func (p PositionMetric) Longitude() float64 { return float64(p.LongitudeI) * PositionScale }

// Valid reports whether the sample carries a usable fix. Devices without a
// GPS lock report 0/0, which is treated as "no position".
func (p PositionMetric) Valid() bool {
	if p.LatitudeI == 0 || p.LongitudeI == 0 {
		return false
	}
	lat, lon := p.Latitude(), p.Longitude()
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// SamePlace reports whether two samples describe the same fix, ignoring time.
func (p PositionMetric) SamePlace(other PositionMetric) bool {
	return p.LatitudeI == other.LatitudeI && p.LongitudeI == other.LongitudeI && p.Altitude == other.Altitude
}

// User is the identity a node broadcasts about itself.
type User struct {
	ID        string `json:"id"`
	LongName  string `json:"long_name"`
	ShortName string `json:"short_name"`
	HwModel   string `json:"hw_model,omitempty"`
}

// Neighbor is one entry of a node's reported neighbour table.
type Neighbor struct {
	NodeNum uint32  `json:"node_id"`
	SNR     float64 `json:"snr"`
}

// MeshNode is the last-known state of a remote node as seen by one device.
type MeshNode struct {
	Num       uint32    `json:"num"`
	User      *User     `json:"user,omitempty"`
	SNR       *float64  `json:"snr,omitempty"`
	LastHeard time.Time `json:"last_heard"`
	HopsAway  *uint32   `json:"hops_away,omitempty"`

	// PositionMetrics is append-only; the last sample is authoritative.
	PositionMetrics []PositionMetric `json:"position_metrics"`

	Neighbors           []Neighbor `json:"neighbors,omitempty"`
	NeighborsReportedAt time.Time  `json:"neighbors_reported_at"`
}

// LatestPosition returns the most recent position sample, if any.
func (n *MeshNode) LatestPosition() (PositionMetric, bool) {
	if n == nil || len(n.PositionMetrics) == 0 {
		return PositionMetric{}, false
	}
	return n.PositionMetrics[len(n.PositionMetrics)-1], true
}

// DisplayName returns the user's long name, falling back to the short name.
func (n *MeshNode) DisplayName() string {
	if n == nil || n.User == nil {
		return ""
	}
	if n.User.LongName != "" {
		return n.User.LongName
	}
	return n.User.ShortName
}

// Clone returns a deep copy of the node.
func (n *MeshNode) Clone() *MeshNode {
	if n == nil {
		return nil
	}
	cp := *n
	if n.User != nil {
		u := *n.User
		cp.User = &u
	}
	if n.SNR != nil {
		snr := *n.SNR
		cp.SNR = &snr
	}
	if n.HopsAway != nil {
		hops := *n.HopsAway
		cp.HopsAway = &hops
	}
	cp.PositionMetrics = append([]PositionMetric(nil), n.PositionMetrics...)
	cp.Neighbors = append([]Neighbor(nil), n.Neighbors...)
	return &cp
}
