package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	core "github.com/kilianp07/flexgrid/core/metrics"
)

// PromSink records flexibility lifecycle events in Prometheus metrics.
type PromSink struct {
	requests  *prometheus.CounterVec
	energy    *prometheus.CounterVec
	cost      *prometheus.CounterVec
	powerMove *prometheus.HistogramVec
}

// NewPromSink registers flexibility metrics on the provided Prometheus
// registerer. If reg is nil, the default registerer is used. If the
// collectors are already registered, the existing ones are reused.
func NewPromSink(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flexibility_request_events_total",
		Help: "Total number of flexibility request lifecycle events",
	}, []string{"asset_type", "status", "priority"})
	energy := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flexibility_settled_energy_kwh_total",
		Help: "Total energy moved by settled flexibility responses",
	}, []string{"asset_id", "status"})
	cost := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flexibility_settled_cost_total",
		Help: "Total cost impact of settled flexibility responses",
	}, []string{"asset_id", "status"})
	powerMove := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flexibility_settled_power_kw",
		Help:    "Distribution of settled power levels",
		Buckets: prometheus.LinearBuckets(-50, 10, 11),
	}, []string{"asset_id"})

	for i, c := range []prometheus.Collector{requests, energy, cost, powerMove} {
		if err := reg.Register(c); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return nil, err
			}
			switch i {
			case 0:
				requests = are.ExistingCollector.(*prometheus.CounterVec)
			case 1:
				energy = are.ExistingCollector.(*prometheus.CounterVec)
			case 2:
				cost = are.ExistingCollector.(*prometheus.CounterVec)
			case 3:
				powerMove = are.ExistingCollector.(*prometheus.HistogramVec)
			}
		}
	}
	return &PromSink{requests: requests, energy: energy, cost: cost, powerMove: powerMove}, nil
}

// RecordRequestEvents increments the lifecycle counter for each event.
func (s *PromSink) RecordRequestEvents(events []core.RequestEvent) error {
	for _, e := range events {
		s.requests.WithLabelValues(e.AssetType, e.Status, e.Priority).Inc()
	}
	return nil
}

// RecordSettlements accumulates energy and cost counters per asset.
func (s *PromSink) RecordSettlements(settlements []core.Settlement) error {
	for _, r := range settlements {
		s.energy.WithLabelValues(r.AssetID, r.Status).Add(r.EnergyImpactKWh)
		s.cost.WithLabelValues(r.AssetID, r.Status).Add(abs(r.CostImpact))
		s.powerMove.WithLabelValues(r.AssetID).Observe(r.ActualPowerKW)
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
