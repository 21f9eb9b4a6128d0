// Package scoring turns a trip's aggregate driving signals into a safety score.
//
// The score starts at MaxScore and independent, additive penalties are
// subtracted for harsh events, crashes and speeding. The result is clamped to
// [MinScore, MaxScore].
package scoring

import (
	"math"

	"github.com/example/trip-recorder/internal/models"
)

const (
	MinScore = 0.0
	MaxScore = 100.0

	brakingPenalty      = 5.0
	accelerationPenalty = 4.0
	crashPenalty        = 50.0

	// one point per 30 seconds of speeding
	speedingMinutesPerPoint = 0.5
	speedingCap             = 20.0

	// one point per 5 km/h over the limit
	overLimitKmhPerPoint = 5.0
	overLimitCap         = 10.0

	highAverageSpeedKmh = 90.0
	averageSpeedPerKmh  = 0.5
	averageSpeedCap     = 20.0
)

// Inputs are the aggregate trip fields the score depends on.
type Inputs struct {
	HarshBrakingCount       int
	HarshAccelerationCount  int
	CrashDetected           bool
	SpeedingDurationSeconds int
	MaxSpeedOverLimit       float64
	AverageSpeedKmh         float64
}

// FromTrip extracts score inputs from a trip's current aggregates.
func FromTrip(t models.Trip) Inputs {
	return Inputs{
		HarshBrakingCount:       t.HarshBrakingCount,
		HarshAccelerationCount:  t.HarshAccelerationCount,
		CrashDetected:           t.CrashDetected,
		SpeedingDurationSeconds: t.SpeedingDurationSeconds,
		MaxSpeedOverLimit:       t.MaxSpeedOverLimit,
		AverageSpeedKmh:         t.AverageSpeedKmh,
	}
}

// Compute returns the safety score for in. It is pure and always finite.
// Negative counts and durations count as zero.
func Compute(in Inputs) float64 {
	score := MaxScore

	score -= float64(max(in.HarshBrakingCount, 0)) * brakingPenalty
	score -= float64(max(in.HarshAccelerationCount, 0)) * accelerationPenalty
	if in.CrashDetected {
		score -= crashPenalty
	}

	speedingMinutes := float64(max(in.SpeedingDurationSeconds, 0)) / 60.0
	score -= math.Min(speedingCap, speedingMinutes/speedingMinutesPerPoint)

	if over := finite(in.MaxSpeedOverLimit); over > 0 {
		score -= math.Min(overLimitCap, over/overLimitKmhPerPoint)
	}
	if avg := finite(in.AverageSpeedKmh); avg > highAverageSpeedKmh {
		score -= math.Min(averageSpeedCap, (avg-highAverageSpeedKmh)*averageSpeedPerKmh)
	}

	return math.Max(MinScore, math.Min(MaxScore, score))
}

// finite maps NaN to zero; infinities are absorbed by the penalty caps.
func finite(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
