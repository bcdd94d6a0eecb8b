package metrics

import (
	"context"
	"time"

	"github.com/kilianp07/flexgrid/core/events"
	core "github.com/kilianp07/flexgrid/core/metrics"
	"github.com/kilianp07/flexgrid/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records grid
// signals on sinks that support them. Request and settlement records
// are written by the lifecycle manager directly; only signal traffic
// flows through here. It stops when the context is canceled.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink core.MetricsSink) {
	if bus == nil || sink == nil {
		return
	}
	rec, ok := sink.(core.GridSignalRecorder)
	if !ok {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, open := <-sub:
				if !open {
					return
				}
				if e, isSig := ev.(events.SignalEvent); isSig {
					_ = rec.RecordGridSignal(core.GridSignalEvent{
						SignalID: e.Signal.ID,
						Type:     e.Signal.Type.String(),
						Region:   e.Signal.Region,
						Value:    e.Signal.Value,
						Priority: e.Signal.Priority.String(),
						Source:   e.Signal.Source,
						Time:     time.Now(),
					})
				}
			}
		}
	}()
}
