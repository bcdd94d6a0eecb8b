package metrics

import core "github.com/kilianp07/flexgrid/core/metrics"

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []core.MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...core.MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordRequestEvents forwards the events to all sinks, returning the
// first error encountered.
func (m *MultiSink) RecordRequestEvents(events []core.RequestEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordRequestEvents(events); err != nil {
			return err
		}
	}
	return nil
}

// RecordSettlements forwards the settlements to all sinks, returning
// the first error encountered.
func (m *MultiSink) RecordSettlements(settlements []core.Settlement) error {
	for _, s := range m.Sinks {
		if err := s.RecordSettlements(settlements); err != nil {
			return err
		}
	}
	return nil
}

// RecordGridSignal forwards the signal to sinks that support it.
func (m *MultiSink) RecordGridSignal(ev core.GridSignalEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(core.GridSignalRecorder); ok {
			if err := rec.RecordGridSignal(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
