package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/flexgrid/core/events"
	"github.com/kilianp07/flexgrid/infra/logger"
	"github.com/kilianp07/flexgrid/internal/eventbus"
)

// SetpointPublisher sends power setpoint commands to assets.
type SetpointPublisher interface {
	SendSetpoint(assetID string, powerKW float64) (string, error)
}

// CommandPublisher publishes setpoint commands over MQTT with
// exponential backoff retries.
type CommandPublisher struct {
	cli        pahoClient
	qos        map[string]byte
	maxRetries int
	backoff    time.Duration
	log        logger.Logger
}

// NewCommandPublisher wraps an already connected ingest client for
// outbound commands.
func NewCommandPublisher(ic *IngestClient) *CommandPublisher {
	return &CommandPublisher{
		cli:        ic.cli,
		qos:        ic.cfg.QoS,
		maxRetries: ic.cfg.MaxRetries,
		backoff:    time.Duration(ic.cfg.BackoffMS) * time.Millisecond,
		log:        logger.New("mqtt_publisher"),
	}
}

// SendSetpoint publishes the setpoint on the asset's command topic and
// returns the command identifier.
func (p *CommandPublisher) SendSetpoint(assetID string, powerKW float64) (string, error) {
	cmdID := uuid.NewString()
	cmd := struct {
		CommandID string  `json:"command_id"`
		AssetID   string  `json:"asset_id"`
		PowerKW   float64 `json:"power_kw"`
		Timestamp int64   `json:"timestamp"`
	}{
		CommandID: cmdID,
		AssetID:   assetID,
		PowerKW:   powerKW,
		Timestamp: time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return "", err
	}

	topic := fmt.Sprintf("assets/%s/command", assetID)
	qos := byte(0)
	if q, ok := p.qos["command"]; ok {
		qos = q
	}
	retries := p.maxRetries
	if retries <= 0 {
		retries = 3
	}
	backoff := p.backoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	var publishErr error
	for attempt := 0; attempt <= retries; attempt++ {
		token := p.cli.Publish(topic, qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			p.log.Infof("sent setpoint %s to %s", cmdID, topic)
			return cmdID, nil
		}
		p.log.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		time.Sleep(backoff * time.Duration(1<<attempt))
	}
	return "", publishErr
}

// StartCommandForwarder relays committed power changes from the event
// bus to asset command topics. It stops when the context is canceled.
func StartCommandForwarder(ctx context.Context, bus eventbus.EventBus, pub SetpointPublisher, log logger.Logger) {
	if bus == nil || pub == nil {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if e, isChange := ev.(events.PowerChangeEvent); isChange {
					if _, err := pub.SendSetpoint(e.AssetID, e.PowerKW); err != nil {
						log.Errorf("setpoint for asset %s failed: %v", e.AssetID, err)
					}
				}
			}
		}
	}()
}

// MockPublisher is a simple setpoint publisher used in tests.
type MockPublisher struct {
	mu       sync.Mutex
	Messages map[string]float64
	FailIDs  map[string]bool
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		Messages: make(map[string]float64),
		FailIDs:  make(map[string]bool),
	}
}

// SendSetpoint records the message or returns an error if configured
// to fail.
func (m *MockPublisher) SendSetpoint(assetID string, powerKW float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailIDs[assetID] {
		return "", fmt.Errorf("publish failed")
	}
	m.Messages[assetID] = powerKW
	return fmt.Sprintf("cmd-%s", assetID), nil
}

// Setpoint returns the last recorded setpoint for the asset.
func (m *MockPublisher) Setpoint(assetID string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.Messages[assetID]
	return v, ok
}
