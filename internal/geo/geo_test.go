package geo

import (
	"math"
	"testing"

	"github.com/example/trip-recorder/internal/models"
)

func TestDistanceZero(t *testing.T) {
	if d := DistanceMeters(0, 0, 0, 0); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestDistanceOneDegreeOfLatitude(t *testing.T) {
	d := DistanceMeters(0, 0, 1, 0)
	want := EarthRadiusMeters * math.Pi / 180
	if math.Abs(d-want) > 1 {
		t.Fatalf("expected ~%f, got %f", want, d)
	}
}

func TestPathLength(t *testing.T) {
	pts := []models.LocationPoint{
		{Latitude: 0, Longitude: 0},
		{Latitude: 1, Longitude: 0},
		{Latitude: 2, Longitude: 0},
	}
	got := PathLengthKm(pts)
	want := 2 * EarthRadiusMeters * math.Pi / 180 / 1000
	if math.Abs(got-want) > 0.01 {
		t.Fatalf("expected ~%f km, got %f", want, got)
	}
	if PathLengthKm(pts[:1]) != 0 || PathLengthKm(nil) != 0 {
		t.Fatalf("expected 0 for fewer than two points")
	}
}

func TestValidCoord(t *testing.T) {
	if !ValidCoord(-90, 180) || ValidCoord(91, 0) || ValidCoord(0, -181) {
		t.Fatalf("unexpected coordinate validation")
	}
}

func TestMetaKey(t *testing.T) {
	if got := metaKey(42); got != "trip:live:42" {
		t.Fatalf("unexpected meta key %q", got)
	}
	if parseFloat("") != nil || parseFloat("x") != nil || *parseFloat("81.5") != 81.5 {
		t.Fatalf("unexpected parseFloat behaviour")
	}
}
