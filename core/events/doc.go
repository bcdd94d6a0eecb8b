// Package events defines the lifecycle related events emitted on the
// event bus.
//
// Available event types:
//   - RequestEvent: flexibility request status change
//   - SettlementEvent: settled response for an executed request
//   - SignalEvent: grid signal received by the hub
package events
