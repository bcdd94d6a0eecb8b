package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	core "github.com/kilianp07/flexgrid/core/metrics"
	"github.com/kilianp07/flexgrid/infra/logger"
)

// InfluxSink writes flexibility events to an InfluxDB instance using
// the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB
// endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg core.Config) core.MetricsSink {
	sink := NewInfluxSink(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return core.NopSink{}
	}
	return sink
}

// RecordRequestEvents writes request lifecycle events as line protocol.
func (s *InfluxSink) RecordRequestEvents(events []core.RequestEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, e := range events {
		p := write.NewPointWithMeasurement("flexibility_request").
			AddTag("request_id", e.RequestID).
			AddTag("asset_id", e.AssetID).
			AddTag("asset_type", e.AssetType).
			AddTag("status", e.Status).
			AddTag("priority", e.Priority).
			AddField("target_power_kw", round3(e.TargetPowerKW)).
			SetTime(e.Time)
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RecordSettlements writes settled responses as line protocol.
func (s *InfluxSink) RecordSettlements(settlements []core.Settlement) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, r := range settlements {
		p := write.NewPointWithMeasurement("flexibility_settlement").
			AddTag("request_id", r.RequestID).
			AddTag("asset_id", r.AssetID).
			AddTag("status", r.Status).
			AddTag("currency", r.Currency).
			AddField("actual_power_kw", round3(r.ActualPowerKW)).
			AddField("energy_impact_kwh", round3(r.EnergyImpactKWh)).
			AddField("cost_impact", round3(r.CostImpact)).
			SetTime(r.Time)
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RecordGridSignal writes a raw grid signal observation.
func (s *InfluxSink) RecordGridSignal(ev core.GridSignalEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("grid_signal").
		AddTag("signal_id", ev.SignalID).
		AddTag("type", ev.Type).
		AddTag("region", ev.Region).
		AddTag("priority", ev.Priority).
		AddTag("source", ev.Source).
		AddField("value", round3(ev.Value)).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
