package l3occupancy

import (
	"fmt"
	"math"
)

// Params configures quantisation and the occupancy evidence model.
// Probabilities are converted to log-odds once at map construction.
type Params struct {
	Resolution         float64 // cell edge length in metres, e.g. 0.1
	ProbHit            float64 // e.g. 0.7
	ProbMiss           float64 // e.g. 0.4
	ClampMin           float64 // e.g. 0.1192
	ClampMax           float64 // e.g. 0.971
	OccupancyThreshold float64 // e.g. 0.5
}

// DefaultParams returns the evidence model defaults at the given resolution.
func DefaultParams(resolution float64) Params {
	return Params{
		Resolution:         resolution,
		ProbHit:            0.7,
		ProbMiss:           0.4,
		ClampMin:           0.1192,
		ClampMax:           0.971,
		OccupancyThreshold: 0.5,
	}
}

// Validate checks that the probabilities are in (0,1) and ordered.
func (p Params) Validate() error {
	if !(p.Resolution > 0) || math.IsInf(p.Resolution, 0) {
		return fmt.Errorf("resolution must be positive, got %v", p.Resolution)
	}
	for name, v := range map[string]float64{
		"prob_hit":            p.ProbHit,
		"prob_miss":           p.ProbMiss,
		"clamp_min":           p.ClampMin,
		"clamp_max":           p.ClampMax,
		"occupancy_threshold": p.OccupancyThreshold,
	} {
		if v <= 0 || v >= 1 {
			return fmt.Errorf("%s must be in (0,1), got %v", name, v)
		}
	}
	if p.ClampMin >= p.ClampMax {
		return fmt.Errorf("clamp_min %v must be below clamp_max %v", p.ClampMin, p.ClampMax)
	}
	if p.ProbHit <= p.OccupancyThreshold {
		return fmt.Errorf("prob_hit %v must exceed occupancy_threshold %v", p.ProbHit, p.OccupancyThreshold)
	}
	if p.ProbMiss >= p.OccupancyThreshold {
		return fmt.Errorf("prob_miss %v must be below occupancy_threshold %v", p.ProbMiss, p.OccupancyThreshold)
	}
	return nil
}

// LogOdds converts a probability to log-odds.
func LogOdds(p float64) float32 {
	return float32(math.Log(p / (1 - p)))
}

// Probability converts log-odds back to a probability.
func Probability(l float32) float64 {
	return 1 - 1/(1+math.Exp(float64(l)))
}
