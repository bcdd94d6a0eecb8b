package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/flexgrid/core/demand"
	"github.com/kilianp07/flexgrid/core/model"
	"github.com/kilianp07/flexgrid/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker         string          `json:"broker"`
	ClientID       string          `json:"client_id"`
	Username       string          `json:"username"`
	Password       string          `json:"password"`
	TelemetryTopic string          `json:"telemetry_topic"`
	SignalTopic    string          `json:"signal_topic"`
	UseTLS         bool            `json:"use_tls"`
	ClientCert     string          `json:"client_cert"`
	ClientKey      string          `json:"client_key"`
	CABundle       string          `json:"ca_bundle"`
	AuthMethod     string          `json:"auth_method"`
	QoS            map[string]byte `json:"qos"`
	LWTTopic       string          `json:"lwt_topic"`
	LWTPayload     string          `json:"lwt_payload"`
	LWTQoS         byte            `json:"lwt_qos"`
	LWTRetain      bool            `json:"lwt_retain"`
	MaxRetries     int             `json:"max_retries"`
	BackoffMS      int             `json:"backoff_ms"`
	TLSConfig      *tls.Config     `json:"-"`
}

// SetDefaults fills in topic defaults.
func (c *Config) SetDefaults() {
	if c.TelemetryTopic == "" {
		c.TelemetryTopic = "assets/+/telemetry"
	}
	if c.SignalTopic == "" {
		c.SignalTopic = "grid/signals"
	}
}

// AssetReader provides current asset state for partial telemetry
// merges.
type AssetReader interface {
	Get(id string) (model.FlexibilityAsset, bool)
	OnExternalUpdate(a model.FlexibilityAsset)
}

// SignalSink receives grid signals decoded from the wire.
type SignalSink interface {
	Publish(sig model.GridSignal)
}

// SampleRecorder persists raw telemetry readings for demand
// aggregation. May be nil to skip recording.
type SampleRecorder interface {
	RecordSample(ctx context.Context, s demand.Sample) error
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// IngestClient subscribes to asset telemetry and grid signal topics and
// feeds the decoded payloads into the registry and the signal hub.
type IngestClient struct {
	cli     pahoClient
	cfg     Config
	assets  AssetReader
	signals SignalSink
	samples SampleRecorder
	log     logger.Logger
}

// NewIngestClient connects to the MQTT broker and subscribes to the
// telemetry and signal topics.
func NewIngestClient(cfg Config, assets AssetReader, signals SignalSink, samples SampleRecorder) (*IngestClient, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_ingest")
	ic := &IngestClient{cfg: cfg, assets: assets, signals: signals, samples: samples, log: log}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if token := c.Subscribe(cfg.TelemetryTopic, ic.qos("telemetry"), ic.onTelemetry); token.Wait() && token.Error() != nil {
			log.Errorf("telemetry subscribe error: %v", token.Error())
		}
		if token := c.Subscribe(cfg.SignalTopic, ic.qos("signal"), ic.onSignal); token.Wait() && token.Error() != nil {
			log.Errorf("signal subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	ic.cli = c
	return ic, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the
// config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}
	return cfg, nil
}

func (ic *IngestClient) qos(key string) byte {
	if q, ok := ic.cfg.QoS[key]; ok {
		return q
	}
	return 0
}

// telemetryMessage is the wire format for asset telemetry. Omitted
// fields keep their registry value.
type telemetryMessage struct {
	AssetID       string   `json:"asset_id"`
	PowerKW       *float64 `json:"power_kw"`
	StateOfCharge *float64 `json:"state_of_charge"`
	Status        *string  `json:"status"`
	Timestamp     int64    `json:"timestamp"`
}

func (ic *IngestClient) onTelemetry(_ paho.Client, msg paho.Message) {
	var m telemetryMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		ic.log.Errorf("failed to decode telemetry: %v", err)
		return
	}
	asset, ok := ic.assets.Get(m.AssetID)
	if !ok {
		ic.log.Warnf("telemetry for unknown asset %s dropped", m.AssetID)
		return
	}
	if m.PowerKW != nil {
		asset.CurrentPowerKW = *m.PowerKW
		asset.Status = asset.DeriveStatus(*m.PowerKW)
		ic.recordSample(m.AssetID, *m.PowerKW, m.Timestamp)
	}
	if m.StateOfCharge != nil {
		asset.StateOfCharge = *m.StateOfCharge
	}
	if m.Status != nil {
		status, err := model.ParseAssetStatus(*m.Status)
		if err != nil {
			ic.log.Warnf("telemetry for asset %s: %v", m.AssetID, err)
		} else {
			asset.Status = status
		}
	}
	ic.assets.OnExternalUpdate(asset)
	ic.log.Debugf("telemetry applied for asset %s", m.AssetID)
}

// recordSample persists the power reading as a demand or generation
// sample. Positive power is consumption, negative is injection.
func (ic *IngestClient) recordSample(assetID string, powerKW float64, tsMillis int64) {
	if ic.samples == nil {
		return
	}
	ts := time.Now()
	if tsMillis > 0 {
		ts = time.Unix(0, tsMillis*int64(time.Millisecond)).UTC()
	}
	sm := demand.Sample{DeviceID: assetID, Timestamp: ts}
	if powerKW >= 0 {
		sm.Metric = demand.MetricDemand
		sm.Value = powerKW
	} else {
		sm.Metric = demand.MetricGeneration
		sm.Value = -powerKW
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ic.samples.RecordSample(ctx, sm); err != nil {
		ic.log.Errorf("record telemetry sample for %s: %v", assetID, err)
	}
}

// signalMessage is the wire format for grid signals.
type signalMessage struct {
	ID              string            `json:"id"`
	Type            string            `json:"type"`
	Timestamp       int64             `json:"timestamp"`
	Value           float64           `json:"value"`
	Unit            string            `json:"unit"`
	Region          string            `json:"region"`
	DurationSeconds int64             `json:"duration_seconds"`
	Priority        string            `json:"priority"`
	Source          string            `json:"source"`
	Metadata        map[string]string `json:"metadata"`
}

func (ic *IngestClient) onSignal(_ paho.Client, msg paho.Message) {
	var m signalMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		ic.log.Errorf("failed to decode signal: %v", err)
		return
	}
	typ, err := model.ParseSignalType(m.Type)
	if err != nil {
		ic.log.Warnf("signal %s dropped: %v", m.ID, err)
		return
	}
	prio, err := model.ParsePriority(m.Priority)
	if err != nil {
		ic.log.Warnf("signal %s dropped: %v", m.ID, err)
		return
	}
	ic.signals.Publish(model.GridSignal{
		ID:        m.ID,
		Type:      typ,
		Timestamp: time.Unix(0, m.Timestamp*int64(time.Millisecond)).UTC(),
		Value:     m.Value,
		Unit:      m.Unit,
		Region:    m.Region,
		Duration:  time.Duration(m.DurationSeconds) * time.Second,
		Priority:  prio,
		Source:    m.Source,
		Metadata:  m.Metadata,
	})
	ic.log.Debugf("signal %s ingested", m.ID)
}

// Disconnect gracefully closes the MQTT connection.
func (ic *IngestClient) Disconnect() {
	if ic.cli != nil && ic.cli.IsConnected() {
		ic.cli.Disconnect(250)
	}
}
