package market

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/flexgrid/core/model"
)

// maxHistory bounds the number of observations retained.
const maxHistory = 1000

// HistoryFeed is a PriceFeed backed by an in-memory observation
// history. Predictions extrapolate a least-squares trend fitted over
// the observations and repeat the daily shape of the most recent
// 24 hours around it.
type HistoryFeed struct {
	currency string
	now      func() time.Time

	mu      sync.RWMutex
	history []model.PricePoint // chronological
}

// NewHistoryFeed creates an empty feed quoting the given currency.
func NewHistoryFeed(currency string) *HistoryFeed {
	return &HistoryFeed{currency: currency, now: time.Now}
}

// Observe records a price observation. Older entries are evicted once
// the history bound is reached.
func (f *HistoryFeed) Observe(p model.PricePoint) {
	f.mu.Lock()
	f.history = append(f.history, p)
	sort.Slice(f.history, func(i, j int) bool {
		return f.history[i].Timestamp.Before(f.history[j].Timestamp)
	})
	if len(f.history) > maxHistory {
		f.history = f.history[len(f.history)-maxHistory:]
	}
	f.mu.Unlock()
}

// CurrentPrice returns the most recent observation.
func (f *HistoryFeed) CurrentPrice(context.Context) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.history) == 0 {
		return 0, fmt.Errorf("no price history available")
	}
	return f.history[len(f.history)-1].Price, nil
}

// PredictPrices extrapolates hourly prices for the given horizon. The
// slice is chronological starting one hour from now.
func (f *HistoryFeed) PredictPrices(_ context.Context, hours int) ([]model.PricePoint, error) {
	if hours <= 0 {
		return nil, fmt.Errorf("horizon must be positive, got %d", hours)
	}
	f.mu.RLock()
	hist := append([]model.PricePoint(nil), f.history...)
	f.mu.RUnlock()
	if len(hist) == 0 {
		return nil, fmt.Errorf("no price history available")
	}

	now := f.now()
	alpha, beta := f.trend(hist, now)
	shape := f.dailyShape(hist)

	out := make([]model.PricePoint, 0, hours)
	for h := 1; h <= hours; h++ {
		ts := now.Add(time.Duration(h) * time.Hour)
		price := alpha + beta*float64(h) + shape[ts.Hour()]
		if price < 0 {
			price = 0
		}
		out = append(out, model.PricePoint{
			Timestamp: ts,
			Price:     price,
			Currency:  f.currency,
		})
	}
	return out, nil
}

// trend fits price = alpha + beta*hoursFromNow over the history. With a
// single observation the trend is flat at that price.
func (f *HistoryFeed) trend(hist []model.PricePoint, now time.Time) (alpha, beta float64) {
	if len(hist) < 2 {
		return hist[len(hist)-1].Price, 0
	}
	xs := make([]float64, len(hist))
	ys := make([]float64, len(hist))
	for i, p := range hist {
		xs[i] = p.Timestamp.Sub(now).Hours()
		ys[i] = p.Price
	}
	alpha, beta = stat.LinearRegression(xs, ys, nil, false)
	return alpha, beta
}

// dailyShape returns the mean deviation from the overall mean for each
// hour of day, computed over the history.
func (f *HistoryFeed) dailyShape(hist []model.PricePoint) [24]float64 {
	var shape [24]float64
	prices := make([]float64, len(hist))
	for i, p := range hist {
		prices[i] = p.Price
	}
	mean := stat.Mean(prices, nil)

	var sums, counts [24]float64
	for _, p := range hist {
		h := p.Timestamp.Hour()
		sums[h] += p.Price - mean
		counts[h]++
	}
	for h := range shape {
		if counts[h] > 0 {
			shape[h] = sums[h] / counts[h]
		}
	}
	return shape
}
