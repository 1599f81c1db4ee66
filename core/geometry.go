package core

import (
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/meshgraph/model"
)

// EarthRadiusKm is the mean Earth radius used for all distance
// calculations in the topology layer (kilometres).
const EarthRadiusKm = 6371.0

// Vec3 is an ECEF-style vector in kilometres.
type Vec3 struct {
	X, Y, Z float64
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// HaversineKm returns the great-circle surface distance in kilometres
// between two points given in degrees.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	a := sinLat*sinLat + sinLon*sinLon*math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))
	// Rounding can push a a hair past 1 for antipodal points.
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// TotalDistance combines the surface distance with the altitude delta as
// sqrt(surface² + Δalt²).
//
// The altitude delta is used as given, in metres, against a surface distance
// in kilometres. Callers wanting a physical distance should convert
// altitudes to kilometres first.
func TotalDistance(lat1, lon1, alt1, lat2, lon2, alt2 float64) float64 {
	surface := HaversineKm(lat1, lon1, lat2, lon2)
	dAlt := alt1 - alt2
	return math.Sqrt(surface*surface + dAlt*dAlt)
}

// Distance returns the distance between the latest position samples of two
// nodes. It reports false when either node has no samples.
func Distance(a, b *model.MeshNode) (float64, bool) {
	posA, okA := a.LatestPosition()
	posB, okB := b.LatestPosition()
	if !okA || !okB {
		return 0, false
	}
	return PositionDistance(posA, posB), true
}

// PositionDistance is TotalDistance over two position samples.
func PositionDistance(a, b model.PositionMetric) float64 {
	return TotalDistance(
		a.Latitude(), a.Longitude(), float64(a.Altitude),
		b.Latitude(), b.Longitude(), float64(b.Altitude),
	)
}

// ToECEF converts a geodetic position sample into an ECEF vector in
// kilometres. go-satellite works in ECI, so the sample is projected at an
// arbitrary epoch and rotated back by the same sidereal angle.
func ToECEF(p model.PositionMetric) Vec3 {
	epoch := time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)
	jd := satellite.JDay(epoch.Year(), int(epoch.Month()), epoch.Day(), epoch.Hour(), epoch.Minute(), epoch.Second())
	ll := satellite.LatLong{
		Latitude:  toRadians(p.Latitude()),
		Longitude: toRadians(p.Longitude()),
	}
	eci := satellite.LLAToECI(ll, float64(p.Altitude)/1000.0, jd)
	ecef := satellite.ECIToECEF(eci, satellite.ThetaG_JD(jd))
	return Vec3{X: ecef.X, Y: ecef.Y, Z: ecef.Z}
}

// LineOfSight reports whether the straight chord between two positions
// clears the Earth. The Earth is approximated by a sphere through the lower
// of the two ground points, so the check works on the WGS84 ellipsoid that
// ToECEF projects onto. Terrain is ignored.
func LineOfSight(a, b model.PositionMetric) bool {
	groundA, groundB := a, b
	groundA.Altitude, groundB.Altitude = 0, 0
	radius := math.Min(ToECEF(groundA).Norm(), ToECEF(groundB).Norm())
	return chordClears(ToECEF(a), ToECEF(b), radius)
}

// chordClears reports whether the segment between p1 and p2 stays outside a
// sphere of the given radius centred on the origin. Positions are ECEF in
// kilometres.
func chordClears(p1, p2 Vec3, radius float64) bool {
	v := p2.Sub(p1)
	a := v.Dot(v)
	if a == 0 {
		// Degenerate case: same point. If it's outside Earth, treat as LoS;
		// if inside, treat as blocked.
		return p1.Dot(p1) > radius*radius
	}

	// Closest point on the segment to the Earth's centre (origin).
	t := -p1.Dot(v) / a
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	closest := Vec3{
		X: p1.X + v.X*t,
		Y: p1.Y + v.Y*t,
		Z: p1.Z + v.Z*t,
	}
	return closest.Dot(closest) > radius*radius
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180.0 }
