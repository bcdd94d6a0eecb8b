package flexibility

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsSubmitted  *prometheus.CounterVec
	requestTransitions *prometheus.CounterVec
	settledEnergyKWh   prometheus.Counter
	settledCost        prometheus.Counter
	evaluationScore    prometheus.Histogram
	scheduledJobsFired *prometheus.CounterVec
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, prometheus.Counter, prometheus.Counter, prometheus.Histogram, *prometheus.CounterVec) {
	sub := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flexibility_requests_submitted_total",
			Help: "Number of flexibility requests accepted by validation",
		},
		[]string{"asset_type"},
	)
	trans := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flexibility_request_transitions_total",
			Help: "Number of request status transitions",
		},
		[]string{"to"},
	)
	energy := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flexibility_settled_energy_kwh_total",
			Help: "Total settled energy impact in kWh",
		},
	)
	cost := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flexibility_settled_cost_total",
			Help: "Total settled cost impact",
		},
	)
	score := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flexibility_evaluation_score",
			Help:    "Optimization scores produced during evaluation",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)
	jobs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flexibility_scheduled_jobs_fired_total",
			Help: "Number of deferred jobs fired by the scheduler",
		},
		[]string{"kind"},
	)
	return sub, trans, energy, cost, score, jobs
}

func init() {
	requestsSubmitted, requestTransitions, settledEnergyKWh, settledCost, evaluationScore, scheduledJobsFired = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers lifecycle metrics on the provided
// registry. If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(requestsSubmitted, requestTransitions, settledEnergyKWh, settledCost, evaluationScore, scheduledJobsFired)
}

// ResetMetrics reinitializes metric collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	requestsSubmitted, requestTransitions, settledEnergyKWh, settledCost, evaluationScore, scheduledJobsFired = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
