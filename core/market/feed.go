package market

import (
	"context"
	"time"

	"github.com/kilianp07/flexgrid/core/model"
)

// PriceFeed supplies current and predicted market prices. Predictions
// are chronological, one point per hour.
type PriceFeed interface {
	CurrentPrice(ctx context.Context) (float64, error)
	PredictPrices(ctx context.Context, hours int) ([]model.PricePoint, error)
}

// NearestPrice returns the price point closest in time to t. The scan
// is linear and ties resolve to the first point encountered. ok is
// false when the slice is empty.
func NearestPrice(points []model.PricePoint, t time.Time) (model.PricePoint, bool) {
	if len(points) == 0 {
		return model.PricePoint{}, false
	}
	best := points[0]
	bestDiff := absDuration(best.Timestamp.Sub(t))
	for _, p := range points[1:] {
		if d := absDuration(p.Timestamp.Sub(t)); d < bestDiff {
			bestDiff = d
			best = p
		}
	}
	return best, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
