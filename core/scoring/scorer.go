package scoring

import "context"

// FeatureVector is the fixed-shape feature record assembled for each
// request evaluation.
type FeatureVector struct {
	AssetCapacityKW  float64
	CurrentPowerKW   float64
	TargetPowerKW    float64
	Price            float64
	Carbon           float64
	TimeOfDay        float64 // hour / 24
	DayOfWeek        float64 // weekday / 7
	ComfortScore     float64
	PowerDeltaKW     float64
	TimeToStartHours float64
	DurationHours    float64
	PricingSignal    float64
}

// Scorer returns an accept/reject score in [0,1] for a feature vector.
// The model behind it is a black box.
type Scorer interface {
	Score(ctx context.Context, f FeatureVector) (float64, error)
}
