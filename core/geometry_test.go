package core

import (
	"math"
	"math/rand"
	"testing"

	"github.com/signalsfoundry/meshgraph/model"
)

func TestChordClears_NoObstruction(t *testing.T) {
	posA := Vec3{X: 8000, Y: 0, Z: 0}
	posB := Vec3{X: 8000, Y: 1000, Z: 0}

	if !chordClears(posA, posB, EarthRadiusKm) {
		t.Errorf("expected LoS between two points well outside the Earth")
	}
}

func TestChordClears_Obstructed(t *testing.T) {
	// Two points on opposite sides: the chord passes through the Earth.
	posA := Vec3{X: 7000, Y: 0, Z: 0}
	posB := Vec3{X: -7000, Y: 0, Z: 0}

	if chordClears(posA, posB, EarthRadiusKm) {
		t.Errorf("expected LoS to be blocked by Earth")
	}
}

func pos(lat, lon float64, alt int32) model.PositionMetric {
	return model.PositionMetric{
		LatitudeI:  int32(math.Round(lat / model.PositionScale)),
		LongitudeI: int32(math.Round(lon / model.PositionScale)),
		Altitude:   alt,
	}
}

func randomPos(r *rand.Rand) model.PositionMetric {
	return pos(r.Float64()*178-89, r.Float64()*358-179, int32(r.Intn(3000)))
}

func TestDistanceSymmetry(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		a, b := randomPos(r), randomPos(r)
		ab, ba := PositionDistance(a, b), PositionDistance(b, a)
		if math.Abs(ab-ba) > 1e-9 {
			t.Fatalf("distance(%v,%v) = %v, reverse = %v", a, b, ab, ba)
		}
	}
}

func TestDistanceToSelfIsZero(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 100; i++ {
		a := randomPos(r)
		if d := PositionDistance(a, a); d > 1e-9 {
			t.Fatalf("distance(%v, itself) = %v, want 0", a, d)
		}
	}
}

func TestHaversineBoundedByHalfCircumference(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	limit := math.Pi*EarthRadiusKm + 1e-9
	for i := 0; i < 500; i++ {
		a, b := randomPos(r), randomPos(r)
		if s := HaversineKm(a.Latitude(), a.Longitude(), b.Latitude(), b.Longitude()); s > limit {
			t.Fatalf("surface distance %v exceeds pi*R", s)
		}
	}
	if s := HaversineKm(0, 0, 0, 180); s > limit || s < limit-1e-6 {
		t.Fatalf("antipodal surface distance = %v, want pi*R", s)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// Zurich to Bern is roughly 95 km.
	got := HaversineKm(47.3769, 8.5417, 46.9480, 7.4474)
	if got < 93 || got > 97 {
		t.Fatalf("Zurich-Bern = %.1f km, want ~95", got)
	}
}

// The altitude delta is combined in metres with a surface distance in
// kilometres. This pins that behaviour so a unit fix is a deliberate change.
func TestTotalDistanceKeepsAltitudeInMetres(t *testing.T) {
	got := TotalDistance(47.0, 8.0, 0, 47.0, 8.0, 100)
	if math.Abs(got-100) > 1e-9 {
		t.Fatalf("same place, 100 m apart vertically = %v, want 100 (metres, unconverted)", got)
	}
}

func TestDistanceAbsentWithoutSamples(t *testing.T) {
	withPos := &model.MeshNode{Num: 1, PositionMetrics: []model.PositionMetric{pos(47, 8, 0)}}
	bare := &model.MeshNode{Num: 2}

	if _, ok := Distance(withPos, bare); ok {
		t.Fatalf("Distance with a node lacking samples reported ok")
	}
	if _, ok := Distance(nil, withPos); ok {
		t.Fatalf("Distance with nil node reported ok")
	}
	if d, ok := Distance(withPos, withPos); !ok || d != 0 {
		t.Fatalf("Distance(self) = %v, %v; want 0, true", d, ok)
	}
}

func TestDistanceUsesLatestSample(t *testing.T) {
	a := &model.MeshNode{Num: 1, PositionMetrics: []model.PositionMetric{pos(10, 10, 0), pos(47, 8, 0)}}
	b := &model.MeshNode{Num: 2, PositionMetrics: []model.PositionMetric{pos(47, 8, 0)}}
	if d, _ := Distance(a, b); d > 1e-9 {
		t.Fatalf("Distance = %v, want 0 using the latest samples", d)
	}
}

func TestToECEFOnEquator(t *testing.T) {
	v := ToECEF(pos(0.0000001, 0.0000001, 0))
	if math.Abs(v.Norm()-6378.137) > 0.5 {
		t.Fatalf("|ECEF| = %v, want about 6378 km", v.Norm())
	}
	if v.X < 6000 {
		t.Fatalf("ECEF X = %v, want the point on the +X axis", v.X)
	}
}

func TestLineOfSightBetweenGroundNodes(t *testing.T) {
	near1, near2 := pos(47.0, 8.0, 500), pos(47.1, 8.1, 500)
	if !LineOfSight(near1, near2) {
		t.Fatalf("expected LoS between nodes ~13 km apart")
	}
	far1, far2 := pos(47.0, 8.0, 0), pos(-33.9, 151.2, 0)
	if LineOfSight(far1, far2) {
		t.Fatalf("expected Earth to block Zurich-Sydney")
	}
}
