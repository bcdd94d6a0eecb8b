package events

import (
	"time"

	"github.com/kilianp07/flexgrid/core/model"
)

// RequestEvent is published on every flexibility request status change.
type RequestEvent struct {
	RequestID string
	AssetID   string
	From      model.RequestStatus
	To        model.RequestStatus
	Err       error
	Time      time.Time
}

// SettlementEvent is published when an executed request is settled.
type SettlementEvent struct {
	Response model.FlexibilityResponse
	Time     time.Time
}

// PowerChangeEvent is published when a committed power change is
// applied to an asset.
type PowerChangeEvent struct {
	AssetID string
	PowerKW float64
	Time    time.Time
}

// SignalEvent is published when a new grid signal enters the hub.
type SignalEvent struct {
	Signal model.GridSignal
}
