package metrics

import "time"

// RequestEvent is a request lifecycle transition to be recorded.
type RequestEvent struct {
	RequestID     string
	AssetID       string
	AssetType     string
	Status        string
	Priority      string
	TargetPowerKW float64
	Time          time.Time
}

// Settlement is a settled response to be recorded.
type Settlement struct {
	RequestID       string
	AssetID         string
	ActualPowerKW   float64
	EnergyImpactKWh float64
	CostImpact      float64
	Currency        string
	Status          string
	Time            time.Time
}

// MetricsSink records lifecycle events and settlements for
// observability purposes.
type MetricsSink interface {
	RecordRequestEvents(events []RequestEvent) error
	RecordSettlements(settlements []Settlement) error
}

// GridSignalEvent is a grid signal observation to be recorded.
type GridSignalEvent struct {
	SignalID string
	Type     string
	Region   string
	Value    float64
	Priority string
	Source   string
	Time     time.Time
}

// GridSignalRecorder is implemented by sinks that record raw grid
// signals in addition to lifecycle events.
type GridSignalRecorder interface {
	RecordGridSignal(ev GridSignalEvent) error
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordRequestEvents([]RequestEvent) error { return nil }
func (NopSink) RecordSettlements([]Settlement) error     { return nil }
