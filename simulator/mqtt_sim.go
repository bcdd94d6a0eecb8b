package main

import (
	"fmt"
	"log"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// connectBroker opens an MQTT session for a simulated asset. The
// session carries a last-will on the asset's status topic so the
// platform sees an ungraceful drop as "offline".
func connectBroker(broker, assetID string) (paho.Client, error) {
	statusTopic := fmt.Sprintf("assets/%s/status", assetID)
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("sim-"+assetID).
		SetConnectTimeout(10*time.Second).
		SetWill(statusTopic, `{"online":false}`, 0, true)
	opts.AutoReconnect = true
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Printf("%s: connection lost: %v", assetID, err)
	}

	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", broker, token.Error())
	}
	if token := cli.Publish(statusTopic, 0, true, `{"online":true}`); token.Wait() && token.Error() != nil {
		cli.Disconnect(250)
		return nil, token.Error()
	}
	return cli, nil
}
