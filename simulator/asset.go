package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// SimulatedAsset connects to MQTT, publishes telemetry and follows
// power setpoints received on its command topic.
type SimulatedAsset struct {
	ID       string
	Broker   string
	Battery  *Battery
	Interval time.Duration

	client paho.Client

	mu      sync.Mutex
	powerKW float64
}

// NewSimulatedAsset creates a new asset.
func NewSimulatedAsset(id, broker string, bat *Battery, interval time.Duration) *SimulatedAsset {
	return &SimulatedAsset{ID: id, Broker: broker, Battery: bat, Interval: interval}
}

// Run connects to the broker and simulates until ctx is done.
func (a *SimulatedAsset) Run(ctx context.Context) error {
	cli, err := connectBroker(a.Broker, a.ID)
	if err != nil {
		return err
	}
	a.client = cli
	topic := fmt.Sprintf("assets/%s/command", a.ID)
	if token := cli.Subscribe(topic, 0, a.onCommand); token.Wait() && token.Error() != nil {
		cli.Disconnect(250)
		return token.Error()
	}

	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			cli.Disconnect(250)
			return nil
		case <-ticker.C:
			a.step()
		}
	}
}

func (a *SimulatedAsset) onCommand(_ paho.Client, msg paho.Message) {
	var m struct {
		CommandID string  `json:"command_id"`
		AssetID   string  `json:"asset_id"`
		PowerKW   float64 `json:"power_kw"`
	}
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		log.Printf("%s: decode command: %v", a.ID, err)
		return
	}
	a.mu.Lock()
	a.powerKW = m.PowerKW
	a.mu.Unlock()
	log.Printf("%s: setpoint %s -> %.1f kW", a.ID, m.CommandID, m.PowerKW)
}

// step advances the battery by one interval and publishes telemetry.
func (a *SimulatedAsset) step() {
	a.mu.Lock()
	target := a.powerKW
	a.mu.Unlock()

	actual := a.Battery.ApplyPower(target, a.Interval)
	soc := a.Battery.StateOfCharge()

	payload, err := json.Marshal(map[string]any{
		"asset_id":        a.ID,
		"power_kw":        actual,
		"state_of_charge": soc,
		"timestamp":       time.Now().UnixMilli(),
	})
	if err != nil {
		log.Printf("%s: marshal telemetry: %v", a.ID, err)
		return
	}
	topic := fmt.Sprintf("assets/%s/telemetry", a.ID)
	if token := a.client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
		log.Printf("%s: publish telemetry: %v", a.ID, token.Error())
	}
}
