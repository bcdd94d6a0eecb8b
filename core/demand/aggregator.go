package demand

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/flexgrid/core/model"
)

// Metric names understood by the aggregation pipeline.
const (
	MetricDemand     = "demand"
	MetricGeneration = "generation"
)

// Query describes an aggregation request. DeviceIDs may contain "*" to
// match every device.
type Query struct {
	Interval  time.Duration
	Metrics   []string
	DeviceIDs []string
	Start     time.Time
	End       time.Time
}

// Aggregator computes interval statistics over raw telemetry.
type Aggregator interface {
	Aggregate(ctx context.Context, q Query) ([]model.AggregatedPoint, error)
}

// Sample is a single raw telemetry reading.
type Sample struct {
	DeviceID  string
	Metric    string
	Timestamp time.Time
	Value     float64
}

// SampleSource provides raw telemetry readings for a time range.
type SampleSource interface {
	Samples(ctx context.Context, metrics, deviceIDs []string, start, end time.Time) ([]Sample, error)
}

// StatsAggregator buckets samples from a SampleSource into interval
// points with min/max/avg/sum/count statistics and a quality ratio of
// samples present versus expected.
type StatsAggregator struct {
	source SampleSource
}

// NewStatsAggregator creates a StatsAggregator over the given source.
func NewStatsAggregator(source SampleSource) *StatsAggregator {
	return &StatsAggregator{source: source}
}

// Aggregate implements Aggregator. Points are chronological; intervals
// without samples are omitted.
func (a *StatsAggregator) Aggregate(ctx context.Context, q Query) ([]model.AggregatedPoint, error) {
	if q.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if !q.End.After(q.Start) {
		return nil, fmt.Errorf("end must be after start")
	}
	samples, err := a.source.Samples(ctx, q.Metrics, q.DeviceIDs, q.Start, q.End)
	if err != nil {
		return nil, fmt.Errorf("fetch samples: %w", err)
	}
	if len(samples) == 0 {
		return nil, nil
	}

	// Expected samples per interval: one per device/metric series seen
	// in the range.
	series := make(map[string]struct{})
	for _, s := range samples {
		series[s.DeviceID+"/"+s.Metric] = struct{}{}
	}
	expected := float64(len(series))

	buckets := make(map[int64][]float64)
	for _, s := range samples {
		idx := s.Timestamp.Sub(q.Start) / q.Interval
		buckets[int64(idx)] = append(buckets[int64(idx)], s.Value)
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]model.AggregatedPoint, 0, len(keys))
	for _, k := range keys {
		vals := buckets[k]
		quality := float64(len(vals)) / expected
		if quality > 1 {
			quality = 1
		}
		out = append(out, model.AggregatedPoint{
			Timestamp: q.Start.Add(time.Duration(k) * q.Interval),
			Min:       floats.Min(vals),
			Max:       floats.Max(vals),
			Avg:       stat.Mean(vals, nil),
			Sum:       floats.Sum(vals),
			Count:     len(vals),
			Quality:   quality,
		})
	}
	return out, nil
}
