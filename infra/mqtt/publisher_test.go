package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/kilianp07/flexgrid/core/events"
	"github.com/kilianp07/flexgrid/infra/logger"
	"github.com/kilianp07/flexgrid/internal/eventbus"
)

func TestCommandForwarderRelaysPowerChanges(t *testing.T) {
	bus := eventbus.New(0)
	defer bus.Close()
	pub := NewMockPublisher()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartCommandForwarder(ctx, bus, pub, logger.NopLogger{})

	bus.Publish(events.PowerChangeEvent{AssetID: "bat-1", PowerKW: -5, Time: time.Now()})

	deadline := time.After(time.Second)
	for {
		if v, ok := pub.Setpoint("bat-1"); ok {
			if v != -5 {
				t.Fatalf("setpoint = %f, want -5", v)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("setpoint never published")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCommandForwarderIgnoresOtherEvents(t *testing.T) {
	bus := eventbus.New(0)
	defer bus.Close()
	pub := NewMockPublisher()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartCommandForwarder(ctx, bus, pub, logger.NopLogger{})

	bus.Publish(events.RequestEvent{RequestID: "r1"})
	time.Sleep(20 * time.Millisecond)
	if len(pub.Messages) != 0 {
		t.Fatalf("unexpected setpoints: %+v", pub.Messages)
	}
}
