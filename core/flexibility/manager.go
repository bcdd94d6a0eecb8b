package flexibility

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/flexgrid/core/demand"
	"github.com/kilianp07/flexgrid/core/events"
	"github.com/kilianp07/flexgrid/core/logger"
	"github.com/kilianp07/flexgrid/core/market"
	"github.com/kilianp07/flexgrid/core/metrics"
	"github.com/kilianp07/flexgrid/core/model"
	"github.com/kilianp07/flexgrid/core/monitoring"
	"github.com/kilianp07/flexgrid/core/registry"
	"github.com/kilianp07/flexgrid/core/scoring"
	"github.com/kilianp07/flexgrid/core/signals"
	"github.com/kilianp07/flexgrid/internal/eventbus"
)

// signalMaxAge bounds the staleness of signals considered during
// evaluation.
const signalMaxAge = 60 * time.Minute

// RequestStore persists flexibility requests in a durable store.
type RequestStore interface {
	SaveRequest(ctx context.Context, r model.FlexibilityRequest) error
	UpdateRequestStatus(ctx context.Context, id string, status model.RequestStatus) error
	Request(ctx context.Context, id string) (model.FlexibilityRequest, bool, error)
	// Requests returns requests most-recent-first by start time,
	// optionally filtered by status.
	Requests(ctx context.Context, status *model.RequestStatus) ([]model.FlexibilityRequest, error)
	// ActiveRequestsForAsset returns the asset's requests in a
	// non-terminal status.
	ActiveRequestsForAsset(ctx context.Context, assetID string) ([]model.FlexibilityRequest, error)
}

// ResponseStore persists settled flexibility responses.
type ResponseStore interface {
	SaveResponse(ctx context.Context, r model.FlexibilityResponse) error
	// Responses returns the responses for a request most-recent-first.
	Responses(ctx context.Context, requestID string) ([]model.FlexibilityResponse, error)
}

// Manager owns the flexibility request and response state machines. It
// validates, persists, evaluates, schedules, executes and settles
// individual requests.
type Manager struct {
	cfg       Config
	registry  *registry.Registry
	feed      signals.Feed
	prices    market.PriceFeed
	demand    demand.Aggregator
	scorer    scoring.Scorer
	requests  RequestStore
	responses ResponseStore
	scheduler *Scheduler
	sink      metrics.MetricsSink
	bus       eventbus.EventBus
	log       logger.Logger
	now       func() time.Time
}

// NewManager creates a Manager. The scheduler is created internally and
// exposed via Scheduler() so the caller can run it.
func NewManager(cfg Config, reg *registry.Registry, feed signals.Feed, prices market.PriceFeed, agg demand.Aggregator, scorer scoring.Scorer, requests RequestStore, responses ResponseStore, jobs JobStore, sink metrics.MetricsSink, bus eventbus.EventBus, log logger.Logger) (*Manager, error) {
	if reg == nil || feed == nil || prices == nil || agg == nil || scorer == nil || requests == nil || responses == nil || jobs == nil {
		return nil, fmt.Errorf("flexibility: nil parameter provided to NewManager")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("flexibility config: %w", err)
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	m := &Manager{
		cfg:       cfg,
		registry:  reg,
		feed:      feed,
		prices:    prices,
		demand:    agg,
		scorer:    scorer,
		requests:  requests,
		responses: responses,
		sink:      sink,
		bus:       bus,
		log:       log,
		now:       time.Now,
	}
	m.scheduler = NewScheduler(jobs, m.handleJob, log)
	return m, nil
}

// Scheduler returns the deferred-job scheduler owned by the manager.
// The caller runs it with Run.
func (m *Manager) Scheduler() *Scheduler { return m.scheduler }

// Submit validates the request, persists it as PENDING and evaluates it
// synchronously. The returned request carries the post-evaluation
// status. Validation failures return a *ValidationError and leave
// nothing persisted.
func (m *Manager) Submit(ctx context.Context, req model.FlexibilityRequest) (model.FlexibilityRequest, error) {
	asset, err := m.validate(ctx, req)
	if err != nil {
		return model.FlexibilityRequest{}, err
	}

	req.ID = uuid.NewString()
	req.Status = model.StatusPending
	if err := m.requests.SaveRequest(ctx, req); err != nil {
		return model.FlexibilityRequest{}, fmt.Errorf("persist request: %w", err)
	}
	requestsSubmitted.WithLabelValues(asset.Type.String()).Inc()
	m.publishEvent(req, model.StatusPending, model.StatusPending, nil)
	m.log.Infof("request %s submitted for asset %s (%.2f kW, %s)", req.ID, req.AssetID, req.TargetPowerKW, req.Priority)

	req.Status = m.evaluate(ctx, req, asset)
	return req, nil
}

// validate runs the submission checks in order, fail-fast.
func (m *Manager) validate(ctx context.Context, req model.FlexibilityRequest) (model.FlexibilityAsset, error) {
	asset, ok := m.registry.Get(req.AssetID)
	if !ok {
		return asset, validationErrorf("asset_id", "asset not found: %s", req.AssetID)
	}
	if req.TargetPowerKW > asset.MaxCapacityKW {
		return asset, validationErrorf("target_power", "%.2f kW exceeds asset maximum capacity %.2f kW", req.TargetPowerKW, asset.MaxCapacityKW)
	}
	if req.TargetPowerKW < asset.MinCapacityKW {
		return asset, validationErrorf("target_power", "%.2f kW is below asset minimum capacity %.2f kW", req.TargetPowerKW, asset.MinCapacityKW)
	}
	now := m.now()
	if !req.StartTime.After(now) {
		return asset, validationErrorf("start_time", "start time must be in the future")
	}
	if !req.EndTime.After(req.StartTime) {
		return asset, validationErrorf("end_time", "end time must be after start time")
	}
	lead := req.StartTime.Sub(now).Minutes()
	if lead < float64(m.cfg.MinResponseTimeMinutes) {
		return asset, validationErrorf("start_time", "response time %.1f minutes is below minimum %d minutes", lead, m.cfg.MinResponseTimeMinutes)
	}
	if lead > float64(m.cfg.MaxResponseTimeMinutes) {
		return asset, validationErrorf("start_time", "response time %.1f minutes is above maximum %d minutes", lead, m.cfg.MaxResponseTimeMinutes)
	}
	active, err := m.requests.ActiveRequestsForAsset(ctx, req.AssetID)
	if err != nil {
		return asset, fmt.Errorf("load active requests: %w", err)
	}
	for _, a := range active {
		if a.Overlaps(req.StartTime, req.EndTime) {
			return asset, validationErrorf("window", "overlaps request %s on asset %s", a.ID, req.AssetID)
		}
	}
	return asset, nil
}

// evaluate gathers features, scores the request and transitions it to
// ACCEPTED or REJECTED. Any collaborator failure degrades the request
// to REJECTED; a request never stays PENDING.
func (m *Manager) evaluate(ctx context.Context, req model.FlexibilityRequest, asset model.FlexibilityAsset) model.RequestStatus {
	score, err := m.scoreRequest(ctx, req, asset)
	if err != nil {
		m.log.Warnf("evaluation of request %s failed, rejecting: %v", req.ID, err)
		monitoring.CaptureException(err, map[string]string{"request_id": req.ID, "stage": "evaluation"})
		m.transition(ctx, req, model.StatusPending, model.StatusRejected, err)
		return model.StatusRejected
	}
	evaluationScore.Observe(score)
	m.log.Debugw("request evaluated", map[string]any{
		"request_id": req.ID,
		"score":      score,
	})

	if score > m.cfg.AcceptScore {
		m.transition(ctx, req, model.StatusPending, model.StatusAccepted, nil)
		if err := m.scheduleExecution(ctx, req); err != nil {
			m.log.Errorf("scheduling request %s failed: %v", req.ID, err)
			monitoring.CaptureException(err, map[string]string{"request_id": req.ID, "stage": "scheduling"})
			m.transition(ctx, req, model.StatusAccepted, model.StatusCancelled, err)
			return model.StatusCancelled
		}
		return model.StatusAccepted
	}
	m.transition(ctx, req, model.StatusPending, model.StatusRejected, nil)
	return model.StatusRejected
}

// scoreRequest assembles the feature vector and invokes the scorer.
func (m *Manager) scoreRequest(ctx context.Context, req model.FlexibilityRequest, asset model.FlexibilityAsset) (float64, error) {
	price, err := m.prices.CurrentPrice(ctx)
	if err != nil {
		return 0, &EvaluationError{Stage: "market price", Err: err}
	}

	sigs, err := m.feed.Signals(ctx, model.SignalFilter{
		Region:      "*",
		Types:       []model.SignalType{model.SignalPricing, model.SignalCapacity},
		MinPriority: model.PriorityLow,
		MaxAge:      signalMaxAge,
	})
	if err != nil {
		return 0, &EvaluationError{Stage: "grid signals", Err: err}
	}
	avgPricing := averageSignal(sigs, model.SignalPricing)
	avgCapacity := averageSignal(sigs, model.SignalCapacity)

	now := m.now()
	points, err := m.demand.Aggregate(ctx, demand.Query{
		Interval:  time.Hour,
		Metrics:   []string{demand.MetricDemand, demand.MetricGeneration},
		DeviceIDs: []string{"*"},
		Start:     now.Add(-24 * time.Hour),
		End:       now,
	})
	if err != nil {
		return 0, &EvaluationError{Stage: "demand aggregation", Err: err}
	}
	m.log.Debugw("demand window aggregated", map[string]any{
		"request_id": req.ID,
		"points":     len(points),
	})

	f := scoring.FeatureVector{
		AssetCapacityKW:  asset.CapacityKW,
		CurrentPowerKW:   asset.CurrentPowerKW,
		TargetPowerKW:    req.TargetPowerKW,
		Price:            price,
		Carbon:           avgCapacity,
		TimeOfDay:        float64(now.Hour()) / 24,
		DayOfWeek:        float64(now.Weekday()) / 7,
		ComfortScore:     comfortScore(asset, req, now),
		PowerDeltaKW:     req.TargetPowerKW - asset.CurrentPowerKW,
		TimeToStartHours: req.StartTime.Sub(now).Hours(),
		DurationHours:    req.Duration().Hours(),
		PricingSignal:    avgPricing,
	}
	score, err := m.scorer.Score(ctx, f)
	if err != nil {
		return 0, &EvaluationError{Stage: "scoring", Err: err}
	}
	return score, nil
}

// comfortScore estimates how tolerant the asset is of being overridden
// at the given time, in [0,1].
func comfortScore(asset model.FlexibilityAsset, req model.FlexibilityRequest, now time.Time) float64 {
	switch asset.Type {
	case model.AssetBattery:
		return asset.StateOfCharge / 100
	case model.AssetHeatPump, model.AssetHVAC:
		// Overrides hurt more during sleeping hours.
		h := now.Hour()
		if h >= 22 || h < 6 {
			return 0.3
		}
		return 0.8
	case model.AssetEV:
		wd := now.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			return 0.9
		}
		return 0.5
	case model.AssetWaterHeater:
		// Typical shower windows.
		h := now.Hour()
		if (h >= 7 && h < 9) || (h >= 18 && h < 20) {
			return 0.2
		}
		return 0.8
	case model.AssetIndustrialLoad:
		switch req.Priority {
		case model.PriorityLow:
			return 0.3
		case model.PriorityMedium:
			return 0.5
		case model.PriorityHigh:
			return 0.7
		case model.PriorityCritical:
			return 0.9
		}
	}
	return 0.5
}

// averageSignal returns the mean value of the signals of the given
// type, or 0 when there are none.
func averageSignal(sigs []model.GridSignal, t model.SignalType) float64 {
	sum, n := 0.0, 0
	for _, s := range sigs {
		if s.Type == t {
			sum += s.Value
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// scheduleExecution persists the deferred execute phase. The complete
// phase is scheduled at execution time, once the prior power level is
// known.
func (m *Manager) scheduleExecution(ctx context.Context, req model.FlexibilityRequest) error {
	return m.scheduler.Schedule(ctx, Job{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		Kind:      JobExecute,
		DueAt:     req.StartTime,
	})
}

// handleJob dispatches fired jobs to their phase.
func (m *Manager) handleJob(ctx context.Context, j Job) error {
	switch j.Kind {
	case JobExecute:
		return m.executeRequest(ctx, j)
	case JobComplete:
		return m.completeRequest(ctx, j)
	default:
		return fmt.Errorf("unknown job kind %d", j.Kind)
	}
}

// executeRequest applies the requested power change, settles the
// response and schedules the restore phase. Failures cancel the
// request; partially applied effects are not rolled back.
func (m *Manager) executeRequest(ctx context.Context, j Job) error {
	req, ok, err := m.requests.Request(ctx, j.RequestID)
	if err != nil {
		return fmt.Errorf("load request %s: %w", j.RequestID, err)
	}
	if !ok || req.Status != model.StatusAccepted {
		m.log.Warnf("skipping execution of request %s (status %s)", j.RequestID, req.Status)
		return nil
	}
	m.transition(ctx, req, model.StatusAccepted, model.StatusInProgress, nil)
	req.Status = model.StatusInProgress

	if err := m.settle(ctx, req); err != nil {
		execErr := &ExecutionError{RequestID: req.ID, Err: err}
		monitoring.CaptureException(execErr, map[string]string{"request_id": req.ID, "stage": "execution"})
		m.transition(ctx, req, model.StatusInProgress, model.StatusCancelled, execErr)
		return execErr
	}
	return nil
}

// settle computes the energy and cost impact, persists the response,
// commits the power change and schedules the restore phase.
func (m *Manager) settle(ctx context.Context, req model.FlexibilityRequest) error {
	asset, ok := m.registry.Get(req.AssetID)
	if !ok {
		return fmt.Errorf("asset not found: %s", req.AssetID)
	}
	priorPower := asset.CurrentPowerKW
	durationHours := req.Duration().Hours()
	powerDelta := req.TargetPowerKW - priorPower
	energyImpact := abs(powerDelta) * durationHours

	price, err := m.prices.CurrentPrice(ctx)
	if err != nil {
		return fmt.Errorf("market price: %w", err)
	}
	costImpact := energyImpact * price

	resp := model.FlexibilityResponse{
		RequestID:       req.ID,
		AssetID:         req.AssetID,
		ActualPowerKW:   req.TargetPowerKW,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		EnergyImpactKWh: energyImpact,
		CostImpact:      costImpact,
		Currency:        m.cfg.Currency,
		Status:          model.ResponseSuccess,
		Metadata: map[string]string{
			"prior_power_kw": fmt.Sprintf("%.3f", priorPower),
			"market_price":   fmt.Sprintf("%.4f", price),
		},
	}
	if err := m.responses.SaveResponse(ctx, resp); err != nil {
		return fmt.Errorf("persist response: %w", err)
	}
	if err := m.registry.ApplyPowerChange(ctx, req.AssetID, req.TargetPowerKW); err != nil {
		return err
	}
	if m.bus != nil {
		m.bus.Publish(events.PowerChangeEvent{AssetID: req.AssetID, PowerKW: req.TargetPowerKW, Time: m.now()})
	}
	if err := m.scheduler.Schedule(ctx, Job{
		ID:           uuid.NewString(),
		RequestID:    req.ID,
		Kind:         JobComplete,
		DueAt:        req.EndTime,
		PriorPowerKW: priorPower,
	}); err != nil {
		return err
	}

	settledEnergyKWh.Add(energyImpact)
	settledCost.Add(abs(costImpact))
	if m.bus != nil {
		m.bus.Publish(events.SettlementEvent{Response: resp, Time: m.now()})
	}
	if err := m.sink.RecordSettlements([]metrics.Settlement{{
		RequestID:       resp.RequestID,
		AssetID:         resp.AssetID,
		ActualPowerKW:   resp.ActualPowerKW,
		EnergyImpactKWh: resp.EnergyImpactKWh,
		CostImpact:      resp.CostImpact,
		Currency:        resp.Currency,
		Status:          resp.Status.String(),
		Time:            m.now(),
	}}); err != nil {
		m.log.Errorf("settlement metrics error: %v", err)
	}
	m.log.Infof("request %s executed: %.2f kWh at %.4f %s", req.ID, energyImpact, price, m.cfg.Currency)
	return nil
}

// completeRequest closes the window: the request is completed and the
// asset restored to its pre-request power. A failed restore is logged
// only; the status is not regressed since forward effects already
// occurred.
func (m *Manager) completeRequest(ctx context.Context, j Job) error {
	req, ok, err := m.requests.Request(ctx, j.RequestID)
	if err != nil {
		return fmt.Errorf("load request %s: %w", j.RequestID, err)
	}
	if !ok || req.Status != model.StatusInProgress {
		m.log.Warnf("skipping completion of request %s (status %s)", j.RequestID, req.Status)
		return nil
	}
	m.transition(ctx, req, model.StatusInProgress, model.StatusCompleted, nil)
	if err := m.registry.ApplyPowerChange(ctx, req.AssetID, j.PriorPowerKW); err != nil {
		m.log.Errorf("restore of asset %s after request %s failed: %v", req.AssetID, req.ID, err)
		monitoring.CaptureException(err, map[string]string{"request_id": req.ID, "stage": "completion"})
		return nil
	}
	if m.bus != nil {
		m.bus.Publish(events.PowerChangeEvent{AssetID: req.AssetID, PowerKW: j.PriorPowerKW, Time: m.now()})
	}
	return nil
}

// Cancel marks the request CANCELLED and flips the durable flag on its
// unfired jobs. Effects of already fired phases are not undone.
func (m *Manager) Cancel(ctx context.Context, requestID string) error {
	req, ok, err := m.requests.Request(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load request %s: %w", requestID, err)
	}
	if !ok {
		return fmt.Errorf("request not found: %s", requestID)
	}
	if !req.Status.CanTransition(model.StatusCancelled) {
		return fmt.Errorf("request %s cannot be cancelled from %s", requestID, req.Status)
	}
	if err := m.scheduler.Cancel(ctx, requestID); err != nil {
		return err
	}
	m.transition(ctx, req, req.Status, model.StatusCancelled, nil)
	return nil
}

// Requests returns requests most-recent-first, optionally filtered by
// status.
func (m *Manager) Requests(ctx context.Context, status *model.RequestStatus) ([]model.FlexibilityRequest, error) {
	return m.requests.Requests(ctx, status)
}

// Responses returns the settled responses for a request,
// most-recent-first.
func (m *Manager) Responses(ctx context.Context, requestID string) ([]model.FlexibilityResponse, error) {
	return m.responses.Responses(ctx, requestID)
}

// transition persists a status change and fans it out to the bus, the
// metrics sink and prometheus.
func (m *Manager) transition(ctx context.Context, req model.FlexibilityRequest, from, to model.RequestStatus, cause error) {
	if from != to && !from.CanTransition(to) {
		m.log.Errorf("illegal transition %s -> %s for request %s", from, to, req.ID)
		return
	}
	if err := m.requests.UpdateRequestStatus(ctx, req.ID, to); err != nil {
		m.log.Errorf("persist status %s for request %s: %v", to, req.ID, err)
	}
	requestTransitions.WithLabelValues(to.String()).Inc()
	m.publishEvent(req, from, to, cause)
	assetType := ""
	if asset, ok := m.registry.Get(req.AssetID); ok {
		assetType = asset.Type.String()
	}
	if err := m.sink.RecordRequestEvents([]metrics.RequestEvent{{
		RequestID:     req.ID,
		AssetID:       req.AssetID,
		AssetType:     assetType,
		Status:        to.String(),
		Priority:      req.Priority.String(),
		TargetPowerKW: req.TargetPowerKW,
		Time:          m.now(),
	}}); err != nil {
		m.log.Errorf("request metrics error: %v", err)
	}
}

func (m *Manager) publishEvent(req model.FlexibilityRequest, from, to model.RequestStatus, cause error) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.RequestEvent{
		RequestID: req.ID,
		AssetID:   req.AssetID,
		From:      from,
		To:        to,
		Err:       cause,
		Time:      m.now(),
	})
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
