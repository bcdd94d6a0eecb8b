package flexibility

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/flexgrid/core/demand"
	"github.com/kilianp07/flexgrid/core/model"
	"github.com/kilianp07/flexgrid/core/registry"
	"github.com/kilianp07/flexgrid/core/scoring"
	"github.com/kilianp07/flexgrid/infra/logger"
)

// memRequests is an in-memory RequestStore for tests.
type memRequests struct {
	mu    sync.Mutex
	items map[string]model.FlexibilityRequest
}

func newMemRequests() *memRequests {
	return &memRequests{items: map[string]model.FlexibilityRequest{}}
}

func (s *memRequests) SaveRequest(_ context.Context, r model.FlexibilityRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[r.ID] = r
	return nil
}

func (s *memRequests) UpdateRequestStatus(_ context.Context, id string, status model.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.items[id]
	r.Status = status
	s.items[id] = r
	return nil
}

func (s *memRequests) Request(_ context.Context, id string) (model.FlexibilityRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	return r, ok, nil
}

func (s *memRequests) Requests(_ context.Context, status *model.RequestStatus) ([]model.FlexibilityRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.FlexibilityRequest
	for _, r := range s.items {
		if status == nil || r.Status == *status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (s *memRequests) ActiveRequestsForAsset(_ context.Context, assetID string) ([]model.FlexibilityRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.FlexibilityRequest
	for _, r := range s.items {
		if r.AssetID == assetID && !r.Status.Terminal() {
			out = append(out, r)
		}
	}
	return out, nil
}

// memResponses is an in-memory ResponseStore for tests.
type memResponses struct {
	mu    sync.Mutex
	items []model.FlexibilityResponse
}

func (s *memResponses) SaveResponse(_ context.Context, r model.FlexibilityResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, r)
	return nil
}

func (s *memResponses) Responses(_ context.Context, requestID string) ([]model.FlexibilityResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.FlexibilityResponse
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].RequestID == requestID {
			out = append(out, s.items[i])
		}
	}
	return out, nil
}

// memJobs is an in-memory JobStore for tests.
type memJobs struct {
	mu    sync.Mutex
	items map[string]Job
}

func newMemJobs() *memJobs { return &memJobs{items: map[string]Job{}} }

func (s *memJobs) SaveJob(_ context.Context, j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[j.ID] = j
	return nil
}

func (s *memJobs) PendingJobs(context.Context) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, j := range s.items {
		if !j.Done && !j.Cancelled {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

func (s *memJobs) Job(_ context.Context, id string) (Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.items[id]
	return j, ok, nil
}

func (s *memJobs) MarkJobDone(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.items[id]
	j.Done = true
	s.items[id] = j
	return nil
}

func (s *memJobs) CancelJobs(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.items {
		if j.RequestID == requestID && !j.Done {
			j.Cancelled = true
			s.items[id] = j
		}
	}
	return nil
}

func (s *memJobs) byRequest(requestID string) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, j := range s.items {
		if j.RequestID == requestID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out
}

// memAssets is an in-memory registry.AssetStore for tests.
type memAssets struct {
	mu     sync.Mutex
	assets []model.FlexibilityAsset
}

func (s *memAssets) LoadAssets(context.Context) ([]model.FlexibilityAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.FlexibilityAsset(nil), s.assets...), nil
}

func (s *memAssets) SaveAsset(_ context.Context, a model.FlexibilityAsset) error {
	return nil
}

type stubPrices struct {
	price      float64
	err        error
	points     []model.PricePoint
	predictErr error
}

func (s *stubPrices) CurrentPrice(context.Context) (float64, error) { return s.price, s.err }

func (s *stubPrices) PredictPrices(context.Context, int) ([]model.PricePoint, error) {
	return s.points, s.predictErr
}

type stubFeed struct {
	signals []model.GridSignal
	err     error
}

func (s *stubFeed) Signals(context.Context, model.SignalFilter) ([]model.GridSignal, error) {
	return s.signals, s.err
}

type stubAggregator struct {
	points []model.AggregatedPoint
	err    error
}

func (s *stubAggregator) Aggregate(context.Context, demand.Query) ([]model.AggregatedPoint, error) {
	return s.points, s.err
}

type stubScorer struct {
	score float64
	err   error
	last  scoring.FeatureVector
}

func (s *stubScorer) Score(_ context.Context, f scoring.FeatureVector) (float64, error) {
	s.last = f
	return s.score, s.err
}

// testEnv bundles a Manager wired onto in-memory fakes with a frozen
// clock.
type testEnv struct {
	manager   *Manager
	registry  *registry.Registry
	requests  *memRequests
	responses *memResponses
	jobs      *memJobs
	prices    *stubPrices
	feed      *stubFeed
	scorer    *stubScorer
	now       time.Time
}

func newTestEnv(t interface{ Fatalf(string, ...any) }, assets ...model.FlexibilityAsset) *testEnv {
	ResetMetrics(nil)
	if len(assets) == 0 {
		assets = []model.FlexibilityAsset{{
			ID: "bat-1", Name: "site battery", Type: model.AssetBattery,
			CapacityKW: 10, MaxCapacityKW: 10, MinCapacityKW: -10,
			StateOfCharge: 85, CurrentPowerKW: 0,
		}}
	}
	reg := registry.New(&memAssets{assets: assets}, logger.NopLogger{})
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("load registry: %v", err)
	}

	env := &testEnv{
		registry:  reg,
		requests:  newMemRequests(),
		responses: &memResponses{},
		jobs:      newMemJobs(),
		prices:    &stubPrices{price: 0.25},
		feed:      &stubFeed{},
		scorer:    &stubScorer{score: 0.9},
		now:       time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
	}

	cfg := Config{}
	cfg.SetDefaults()
	m, err := NewManager(cfg, reg, env.feed, env.prices, &stubAggregator{}, env.scorer,
		env.requests, env.responses, env.jobs, nil, nil, logger.NopLogger{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	m.now = func() time.Time { return env.now }
	m.scheduler.now = m.now
	env.manager = m
	return env
}

// window returns a request window offset from the frozen clock.
func (e *testEnv) window(startOffset, duration time.Duration) (time.Time, time.Time) {
	start := e.now.Add(startOffset)
	return start, start.Add(duration)
}
