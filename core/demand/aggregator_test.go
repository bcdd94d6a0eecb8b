package demand

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

type sliceSource struct {
	samples []Sample
	err     error
}

func (s sliceSource) Samples(context.Context, []string, []string, time.Time, time.Time) ([]Sample, error) {
	return s.samples, s.err
}

func TestAggregateHourlyStats(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	src := sliceSource{samples: []Sample{
		{DeviceID: "d1", Metric: MetricDemand, Timestamp: start.Add(5 * time.Minute), Value: 10},
		{DeviceID: "d2", Metric: MetricDemand, Timestamp: start.Add(20 * time.Minute), Value: 20},
		{DeviceID: "d1", Metric: MetricDemand, Timestamp: start.Add(70 * time.Minute), Value: 30},
	}}
	agg := NewStatsAggregator(src)
	pts, err := agg.Aggregate(context.Background(), Query{
		Interval: time.Hour,
		Metrics:  []string{MetricDemand},
		Start:    start,
		End:      start.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(pts) != 2 {
		t.Fatalf("expected 2 buckets got %d", len(pts))
	}
	first := pts[0]
	if first.Min != 10 || first.Max != 20 || first.Sum != 30 || first.Count != 2 {
		t.Fatalf("bad first bucket: %+v", first)
	}
	if math.Abs(first.Avg-15) > 1e-9 {
		t.Fatalf("avg: %.3f", first.Avg)
	}
	if math.Abs(first.Quality-1) > 1e-9 {
		t.Fatalf("first bucket quality: %.3f", first.Quality)
	}
	second := pts[1]
	if second.Count != 1 || math.Abs(second.Quality-0.5) > 1e-9 {
		t.Fatalf("second bucket: %+v", second)
	}
	if !second.Timestamp.Equal(start.Add(time.Hour)) {
		t.Fatalf("second bucket timestamp: %v", second.Timestamp)
	}
}

func TestAggregateValidation(t *testing.T) {
	agg := NewStatsAggregator(sliceSource{})
	start := time.Now()
	if _, err := agg.Aggregate(context.Background(), Query{Interval: 0, Start: start, End: start.Add(time.Hour)}); err == nil {
		t.Fatal("expected interval error")
	}
	if _, err := agg.Aggregate(context.Background(), Query{Interval: time.Hour, Start: start, End: start}); err == nil {
		t.Fatal("expected range error")
	}
}

func TestAggregateSourceError(t *testing.T) {
	agg := NewStatsAggregator(sliceSource{err: errors.New("down")})
	start := time.Now()
	if _, err := agg.Aggregate(context.Background(), Query{Interval: time.Hour, Start: start, End: start.Add(time.Hour)}); err == nil {
		t.Fatal("expected source error")
	}
}

func TestAggregateEmpty(t *testing.T) {
	agg := NewStatsAggregator(sliceSource{})
	start := time.Now()
	pts, err := agg.Aggregate(context.Background(), Query{Interval: time.Hour, Start: start, End: start.Add(time.Hour)})
	if err != nil || pts != nil {
		t.Fatalf("expected empty result, got %v %v", pts, err)
	}
}
