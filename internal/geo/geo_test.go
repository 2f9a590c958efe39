package geo

import (
	"math"
	"testing"

	"github.com/example/homeservice-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestDistanceKmKnownPair(t *testing.T) {
	// one degree of latitude is ~111.19 km on the mean sphere
	d := DistanceKm(models.Coord{Lat: 12, Lon: 77.6}, models.Coord{Lat: 13, Lon: 77.6})
	if math.Abs(d-111.19) > 0.1 {
		t.Fatalf("expected ~111.19km, got %f", d)
	}
}

func TestWithinRadius(t *testing.T) {
	origin := models.Coord{Lat: 12.90, Lon: 77.60}
	near := models.Coord{Lat: 12.90 + 1.2/111.19, Lon: 77.60}
	far := models.Coord{Lat: 12.90 + 3.5/111.19, Lon: 77.60}
	if !Within(origin, near, DispatchRadiusKm) {
		t.Fatalf("1.2km point should be inside radius, got %f", DistanceKm(origin, near))
	}
	if Within(origin, far, DispatchRadiusKm) {
		t.Fatalf("3.5km point should be outside radius, got %f", DistanceKm(origin, far))
	}
}

func TestBearingCardinal(t *testing.T) {
	o := models.Coord{Lat: 0, Lon: 0}
	if b := Bearing(o, models.Coord{Lat: 1, Lon: 0}); math.Abs(b) > 1e-6 {
		t.Fatalf("north expected 0, got %f", b)
	}
	if b := Bearing(o, models.Coord{Lat: 0, Lon: 1}); math.Abs(b-90) > 1e-6 {
		t.Fatalf("east expected 90, got %f", b)
	}
}
