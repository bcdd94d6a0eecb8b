package scoring

import (
	"context"
	"math"
)

// Weights parameterizes the logistic scorer. Zero-value weights score
// a constant 0.5; use DefaultWeights for a useful baseline.
type Weights struct {
	Bias         float64
	Comfort      float64
	Price        float64
	Carbon       float64
	RelativeMove float64 // |powerDelta| / capacity
	Duration     float64
}

// DefaultWeights favours tolerant assets and penalizes large moves on
// expensive, carbon-heavy hours.
func DefaultWeights() Weights {
	return Weights{
		Bias:         0.4,
		Comfort:      3.0,
		Price:        1.2,
		Carbon:       0.8,
		RelativeMove: -1.5,
		Duration:     -0.1,
	}
}

// LogisticScorer is a deterministic Scorer built on a weighted logistic
// over normalized features. It stands in for the optimization model
// behind the Scorer interface.
type LogisticScorer struct {
	w Weights
}

// NewLogisticScorer creates a LogisticScorer with the given weights.
func NewLogisticScorer(w Weights) *LogisticScorer {
	return &LogisticScorer{w: w}
}

// Score implements Scorer. It never fails.
func (s *LogisticScorer) Score(_ context.Context, f FeatureVector) (float64, error) {
	relMove := 0.0
	if f.AssetCapacityKW != 0 {
		relMove = math.Abs(f.PowerDeltaKW) / math.Abs(f.AssetCapacityKW)
	}
	x := s.w.Bias +
		s.w.Comfort*(f.ComfortScore-0.5) +
		s.w.Price*math.Tanh(f.Price) +
		s.w.Carbon*math.Tanh(f.Carbon/100) +
		s.w.RelativeMove*relMove +
		s.w.Duration*f.DurationHours
	return 1 / (1 + math.Exp(-x)), nil
}
