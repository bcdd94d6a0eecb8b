package market

import (
	"context"
	"testing"
	"time"

	"github.com/kilianp07/flexgrid/core/model"
)

func TestHistoryFeedCurrentPrice(t *testing.T) {
	f := NewHistoryFeed("EUR")
	if _, err := f.CurrentPrice(context.Background()); err == nil {
		t.Fatal("expected error on empty history")
	}
	now := time.Now()
	f.Observe(model.PricePoint{Timestamp: now.Add(-2 * time.Hour), Price: 0.10})
	f.Observe(model.PricePoint{Timestamp: now, Price: 0.30})
	f.Observe(model.PricePoint{Timestamp: now.Add(-time.Hour), Price: 0.20})
	p, err := f.CurrentPrice(context.Background())
	if err != nil {
		t.Fatalf("current price: %v", err)
	}
	if p != 0.30 {
		t.Fatalf("expected most recent observation 0.30, got %.2f", p)
	}
}

func TestHistoryFeedPredictChronological(t *testing.T) {
	f := NewHistoryFeed("EUR")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }
	for i := 0; i < 48; i++ {
		f.Observe(model.PricePoint{Timestamp: now.Add(-time.Duration(i) * time.Hour), Price: 0.20})
	}
	pts, err := f.PredictPrices(context.Background(), 24)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(pts) != 24 {
		t.Fatalf("expected 24 points got %d", len(pts))
	}
	for i := 1; i < len(pts); i++ {
		if !pts[i].Timestamp.After(pts[i-1].Timestamp) {
			t.Fatal("predictions not chronological")
		}
	}
	if pts[0].Timestamp != now.Add(time.Hour) {
		t.Fatalf("first prediction at %v", pts[0].Timestamp)
	}
	// Flat history predicts a flat price.
	for _, p := range pts {
		if p.Price < 0.19 || p.Price > 0.21 {
			t.Fatalf("flat history should predict ~0.20, got %.3f", p.Price)
		}
	}
}

func TestHistoryFeedPredictNonNegative(t *testing.T) {
	f := NewHistoryFeed("EUR")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }
	// Steeply falling prices would extrapolate below zero.
	for i := 0; i < 10; i++ {
		f.Observe(model.PricePoint{Timestamp: now.Add(-time.Duration(9-i) * time.Hour), Price: float64(9-i) * 0.05})
	}
	pts, err := f.PredictPrices(context.Background(), 12)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	for _, p := range pts {
		if p.Price < 0 {
			t.Fatalf("negative predicted price %.3f", p.Price)
		}
	}
}

func TestHistoryFeedPredictValidation(t *testing.T) {
	f := NewHistoryFeed("EUR")
	if _, err := f.PredictPrices(context.Background(), 0); err == nil {
		t.Fatal("expected error for non-positive horizon")
	}
	if _, err := f.PredictPrices(context.Background(), 4); err == nil {
		t.Fatal("expected error on empty history")
	}
}

func TestNearestPrice(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if _, ok := NearestPrice(nil, now); ok {
		t.Fatal("empty slice should report no point")
	}
	pts := []model.PricePoint{
		{Timestamp: now, Price: 1},
		{Timestamp: now.Add(time.Hour), Price: 2},
		{Timestamp: now.Add(3 * time.Hour), Price: 3},
	}
	p, ok := NearestPrice(pts, now.Add(70*time.Minute))
	if !ok || p.Price != 2 {
		t.Fatalf("expected price 2, got %+v", p)
	}
	// Ties resolve to the first point encountered.
	p, _ = NearestPrice(pts, now.Add(2*time.Hour))
	if p.Price != 2 {
		t.Fatalf("tie should keep first encountered, got %+v", p)
	}
}
