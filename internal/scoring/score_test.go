package scoring

import (
	"math"
	"testing"

	"github.com/example/trip-recorder/internal/models"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestComputeAllZeroIsPerfect(t *testing.T) {
	if got := Compute(Inputs{}); got != 100.0 {
		t.Fatalf("expected 100, got %v", got)
	}
}

func TestComputeCrashOnly(t *testing.T) {
	if got := Compute(Inputs{CrashDetected: true}); got != 50.0 {
		t.Fatalf("expected 50, got %v", got)
	}
}

func TestComputeScenario(t *testing.T) {
	in := Inputs{
		HarshBrakingCount:       2,
		HarshAccelerationCount:  1,
		SpeedingDurationSeconds: 90,
		MaxSpeedOverLimit:       12,
		AverageSpeedKmh:         95,
	}
	if got := Compute(in); !approx(got, 78.1) {
		t.Fatalf("expected 78.1, got %v", got)
	}
}

func TestComputePenaltyCaps(t *testing.T) {
	cases := []struct {
		name string
		in   Inputs
		want float64
	}{
		{"speeding duration capped at 20", Inputs{SpeedingDurationSeconds: 100000}, 80},
		{"30 seconds speeding costs one point", Inputs{SpeedingDurationSeconds: 30}, 99},
		{"over limit capped at 10", Inputs{MaxSpeedOverLimit: 500}, 90},
		{"over limit ignored when not positive", Inputs{MaxSpeedOverLimit: -20}, 100},
		{"average speed at threshold is free", Inputs{AverageSpeedKmh: 90}, 100},
		{"average speed capped at 20", Inputs{AverageSpeedKmh: 400}, 80},
		{"infinite over limit still capped", Inputs{MaxSpeedOverLimit: math.Inf(1)}, 90},
		{"NaN average speed ignored", Inputs{AverageSpeedKmh: math.NaN()}, 100},
		{"floor at zero", Inputs{HarshBrakingCount: 1000, CrashDetected: true}, 0},
		{"negative counts ignored", Inputs{HarshBrakingCount: -3, HarshAccelerationCount: -1}, 100},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Compute(c.in); !approx(got, c.want) {
				t.Fatalf("Compute(%+v) = %v, want %v", c.in, got, c.want)
			}
		})
	}
}

func TestComputeBoundsAndMonotonicity(t *testing.T) {
	base := []Inputs{
		{},
		{HarshBrakingCount: 3, AverageSpeedKmh: 70},
		{HarshAccelerationCount: 7, CrashDetected: true, MaxSpeedOverLimit: 3},
		{SpeedingDurationSeconds: 600, AverageSpeedKmh: 130},
	}
	bumps := []func(Inputs) Inputs{
		func(in Inputs) Inputs { in.HarshBrakingCount++; return in },
		func(in Inputs) Inputs { in.HarshAccelerationCount++; return in },
		func(in Inputs) Inputs { in.CrashDetected = true; return in },
		func(in Inputs) Inputs { in.SpeedingDurationSeconds += 45; return in },
		func(in Inputs) Inputs { in.MaxSpeedOverLimit += 7.5; return in },
		func(in Inputs) Inputs { in.AverageSpeedKmh += 15; return in },
	}
	for _, in := range base {
		score := Compute(in)
		if score < MinScore || score > MaxScore || math.IsNaN(score) {
			t.Fatalf("score out of bounds for %+v: %v", in, score)
		}
		for i, bump := range bumps {
			if next := Compute(bump(in)); next > score {
				t.Fatalf("bump %d increased score for %+v: %v -> %v", i, in, score, next)
			}
		}
	}
}

func TestFromTrip(t *testing.T) {
	trip := models.Trip{
		HarshBrakingCount:       2,
		HarshAccelerationCount:  1,
		CrashDetected:           true,
		SpeedingDurationSeconds: 90,
		MaxSpeedOverLimit:       12,
		AverageSpeedKmh:         95,
		TotalDistanceKm:         40,
	}
	in := FromTrip(trip)
	if in.HarshBrakingCount != 2 || in.HarshAccelerationCount != 1 || !in.CrashDetected ||
		in.SpeedingDurationSeconds != 90 || in.MaxSpeedOverLimit != 12 || in.AverageSpeedKmh != 95 {
		t.Fatalf("unexpected inputs: %+v", in)
	}
	if got := Compute(in); !approx(got, 28.1) {
		t.Fatalf("expected 28.1, got %v", got)
	}
}
