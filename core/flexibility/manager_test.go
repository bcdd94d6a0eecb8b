package flexibility

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kilianp07/flexgrid/core/model"
)

func TestSubmitAcceptsAndSchedulesExecution(t *testing.T) {
	env := newTestEnv(t)
	start, end := env.window(2*time.Hour, time.Hour)

	req, err := env.manager.Submit(context.Background(), model.FlexibilityRequest{
		AssetID:       "bat-1",
		Type:          model.RequestDecrease,
		TargetPowerKW: -5,
		StartTime:     start,
		EndTime:       end,
		Priority:      model.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.Status != model.StatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", req.Status)
	}
	if req.ID == "" {
		t.Fatalf("expected an assigned request ID")
	}

	jobs := env.jobs.byRequest(req.ID)
	if len(jobs) != 1 {
		t.Fatalf("scheduled jobs = %d, want 1", len(jobs))
	}
	if jobs[0].Kind != JobExecute || !jobs[0].DueAt.Equal(start) {
		t.Fatalf("unexpected execute job: %+v", jobs[0])
	}
}

func TestSubmitRejectsBelowScoreGate(t *testing.T) {
	env := newTestEnv(t)
	env.scorer.score = 0.7 // gate is strict: score must exceed it
	start, end := env.window(2*time.Hour, time.Hour)

	req, err := env.manager.Submit(context.Background(), model.FlexibilityRequest{
		AssetID: "bat-1", TargetPowerKW: -5, StartTime: start, EndTime: end,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.Status != model.StatusRejected {
		t.Fatalf("status = %s, want REJECTED", req.Status)
	}
	if jobs := env.jobs.byRequest(req.ID); len(jobs) != 0 {
		t.Fatalf("rejected request scheduled %d jobs", len(jobs))
	}
}

func TestSubmitValidationOrder(t *testing.T) {
	env := newTestEnv(t)
	start, end := env.window(2*time.Hour, time.Hour)

	cases := []struct {
		name  string
		req   model.FlexibilityRequest
		field string
	}{
		{
			name:  "unknown asset",
			req:   model.FlexibilityRequest{AssetID: "nope", TargetPowerKW: 1, StartTime: start, EndTime: end},
			field: "asset_id",
		},
		{
			name:  "above max capacity",
			req:   model.FlexibilityRequest{AssetID: "bat-1", TargetPowerKW: 11, StartTime: start, EndTime: end},
			field: "target_power",
		},
		{
			name:  "below min capacity",
			req:   model.FlexibilityRequest{AssetID: "bat-1", TargetPowerKW: -11, StartTime: start, EndTime: end},
			field: "target_power",
		},
		{
			name:  "start in the past",
			req:   model.FlexibilityRequest{AssetID: "bat-1", TargetPowerKW: 5, StartTime: env.now.Add(-time.Minute), EndTime: end},
			field: "start_time",
		},
		{
			name:  "end before start",
			req:   model.FlexibilityRequest{AssetID: "bat-1", TargetPowerKW: 5, StartTime: start, EndTime: start.Add(-time.Minute)},
			field: "end_time",
		},
		{
			name:  "lead time beyond maximum",
			req:   model.FlexibilityRequest{AssetID: "bat-1", TargetPowerKW: 5, StartTime: env.now.Add(48 * time.Hour), EndTime: env.now.Add(49 * time.Hour)},
			field: "start_time",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.manager.Submit(context.Background(), tc.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("field = %q, want %q", verr.Field, tc.field)
			}
		})
	}

	// Nothing persisted for failed validations.
	all, err := env.requests.Requests(context.Background(), nil)
	if err != nil {
		t.Fatalf("requests: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("persisted %d requests from failed validations", len(all))
	}
}

func TestSubmitRejectsShortLeadTime(t *testing.T) {
	env := newTestEnv(t)
	env.manager.cfg.MinResponseTimeMinutes = 5

	start, end := env.window(2*time.Minute, time.Hour)
	_, err := env.manager.Submit(context.Background(), model.FlexibilityRequest{
		AssetID: "bat-1", TargetPowerKW: 5, StartTime: start, EndTime: end,
	})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "start_time" {
		t.Fatalf("err = %v, want start_time validation error", err)
	}

	all, err := env.requests.Requests(context.Background(), nil)
	if err != nil {
		t.Fatalf("requests: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("persisted %d requests", len(all))
	}
}

func TestSubmitRejectsOverlappingWindow(t *testing.T) {
	env := newTestEnv(t)
	start, end := env.window(2*time.Hour, time.Hour)

	first, err := env.manager.Submit(context.Background(), model.FlexibilityRequest{
		AssetID: "bat-1", TargetPowerKW: -5, StartTime: start, EndTime: end,
	})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if first.Status != model.StatusAccepted {
		t.Fatalf("first status = %s", first.Status)
	}

	_, err = env.manager.Submit(context.Background(), model.FlexibilityRequest{
		AssetID: "bat-1", TargetPowerKW: 3, StartTime: start.Add(30 * time.Minute), EndTime: end.Add(30 * time.Minute),
	})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "window" {
		t.Fatalf("err = %v, want window validation error", err)
	}

	// An adjacent window is fine.
	if _, err := env.manager.Submit(context.Background(), model.FlexibilityRequest{
		AssetID: "bat-1", TargetPowerKW: 3, StartTime: end, EndTime: end.Add(time.Hour),
	}); err != nil {
		t.Fatalf("adjacent submit: %v", err)
	}
}

func TestEvaluationFailureRejects(t *testing.T) {
	env := newTestEnv(t)
	env.prices.err = errors.New("market unreachable")
	start, end := env.window(2*time.Hour, time.Hour)

	req, err := env.manager.Submit(context.Background(), model.FlexibilityRequest{
		AssetID: "bat-1", TargetPowerKW: -5, StartTime: start, EndTime: end,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if req.Status != model.StatusRejected {
		t.Fatalf("status = %s, want REJECTED on evaluation failure", req.Status)
	}
	stored, _, _ := env.requests.Request(context.Background(), req.ID)
	if stored.Status != model.StatusRejected {
		t.Fatalf("persisted status = %s, want REJECTED", stored.Status)
	}
}

func TestExecuteSettlesEnergyAndCost(t *testing.T) {
	env := newTestEnv(t)
	env.prices.price = 0.30
	start, end := env.window(2*time.Hour, 2*time.Hour)

	req, err := env.manager.Submit(context.Background(), model.FlexibilityRequest{
		AssetID: "bat-1", TargetPowerKW: -5, StartTime: start, EndTime: end,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	execJob := env.jobs.byRequest(req.ID)[0]
	if err := env.manager.handleJob(context.Background(), execJob); err != nil {
		t.Fatalf("execute: %v", err)
	}

	stored, _, _ := env.requests.Request(context.Background(), req.ID)
	if stored.Status != model.StatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", stored.Status)
	}
	resps, err := env.manager.Responses(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("responses: %v", err)
	}
	if len(resps) != 1 {
		t.Fatalf("responses = %d, want 1", len(resps))
	}
	// |(-5) - 0| kW over 2 h at 0.30.
	if math.Abs(resps[0].EnergyImpactKWh-10) > 1e-9 {
		t.Fatalf("energy = %f, want 10", resps[0].EnergyImpactKWh)
	}
	if math.Abs(resps[0].CostImpact-3) > 1e-9 {
		t.Fatalf("cost = %f, want 3", resps[0].CostImpact)
	}
	if resps[0].Status != model.ResponseSuccess {
		t.Fatalf("response status = %s", resps[0].Status)
	}

	asset, _ := env.registry.Get("bat-1")
	if asset.CurrentPowerKW != -5 {
		t.Fatalf("asset power = %f, want -5", asset.CurrentPowerKW)
	}
	if asset.Status != model.AssetDischarging {
		t.Fatalf("asset status = %s, want DISCHARGING", asset.Status)
	}

	jobs := env.jobs.byRequest(req.ID)
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want execute+complete", len(jobs))
	}
	complete := jobs[1]
	if complete.Kind != JobComplete || !complete.DueAt.Equal(end) || complete.PriorPowerKW != 0 {
		t.Fatalf("unexpected complete job: %+v", complete)
	}
}

func TestCompleteRestoresPriorPower(t *testing.T) {
	env := newTestEnv(t)
	start, end := env.window(2*time.Hour, time.Hour)

	req, err := env.manager.Submit(context.Background(), model.FlexibilityRequest{
		AssetID: "bat-1", TargetPowerKW: -5, StartTime: start, EndTime: end,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	for _, j := range env.jobs.byRequest(req.ID) {
		if err := env.manager.handleJob(context.Background(), j); err != nil {
			t.Fatalf("execute: %v", err)
		}
	}
	// Run the complete job created during execution.
	jobs := env.jobs.byRequest(req.ID)
	if err := env.manager.handleJob(context.Background(), jobs[1]); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stored, _, _ := env.requests.Request(context.Background(), req.ID)
	if stored.Status != model.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", stored.Status)
	}
	asset, _ := env.registry.Get("bat-1")
	if asset.CurrentPowerKW != 0 {
		t.Fatalf("asset power = %f, want restored 0", asset.CurrentPowerKW)
	}
	if asset.Status != model.AssetIdle {
		t.Fatalf("asset status = %s, want IDLE", asset.Status)
	}
}

func TestExecutionFailureCancelsWithoutRollback(t *testing.T) {
	env := newTestEnv(t)
	start, end := env.window(2*time.Hour, time.Hour)

	req, err := env.manager.Submit(context.Background(), model.FlexibilityRequest{
		AssetID: "bat-1", TargetPowerKW: -5, StartTime: start, EndTime: end,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	env.prices.err = errors.New("market down")
	execJob := env.jobs.byRequest(req.ID)[0]
	err = env.manager.handleJob(context.Background(), execJob)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("err = %v, want *ExecutionError", err)
	}

	stored, _, _ := env.requests.Request(context.Background(), req.ID)
	if stored.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", stored.Status)
	}
}

func TestCancelSuppressesUnfiredExecution(t *testing.T) {
	env := newTestEnv(t)
	start, end := env.window(2*time.Hour, time.Hour)

	req, err := env.manager.Submit(context.Background(), model.FlexibilityRequest{
		AssetID: "bat-1", TargetPowerKW: -5, StartTime: start, EndTime: end,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := env.manager.Cancel(context.Background(), req.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stored, _, _ := env.requests.Request(context.Background(), req.ID)
	if stored.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", stored.Status)
	}
	for _, j := range env.jobs.byRequest(req.ID) {
		if !j.Cancelled {
			t.Fatalf("job %s not flagged cancelled", j.ID)
		}
	}
	// A late fire of the stale in-memory job is a no-op.
	execJob := env.jobs.byRequest(req.ID)[0]
	if err := env.manager.handleJob(context.Background(), execJob); err != nil {
		t.Fatalf("late execute: %v", err)
	}
	if resps, _ := env.manager.Responses(context.Background(), req.ID); len(resps) != 0 {
		t.Fatalf("cancelled request produced %d responses", len(resps))
	}
	asset, _ := env.registry.Get("bat-1")
	if asset.CurrentPowerKW != 0 {
		t.Fatalf("cancelled request moved asset power to %f", asset.CurrentPowerKW)
	}
}

func TestCancelRejectsTerminalRequests(t *testing.T) {
	env := newTestEnv(t)
	env.scorer.score = 0.1
	start, end := env.window(2*time.Hour, time.Hour)

	req, err := env.manager.Submit(context.Background(), model.FlexibilityRequest{
		AssetID: "bat-1", TargetPowerKW: -5, StartTime: start, EndTime: end,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := env.manager.Cancel(context.Background(), req.ID); err == nil {
		t.Fatalf("expected error cancelling a rejected request")
	}
	if err := env.manager.Cancel(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error cancelling an unknown request")
	}
}

func TestRequestsFilterAndOrder(t *testing.T) {
	env := newTestEnv(t)

	for i := 1; i <= 3; i++ {
		start, end := env.window(time.Duration(i)*time.Hour, time.Hour)
		if _, err := env.manager.Submit(context.Background(), model.FlexibilityRequest{
			AssetID: "bat-1", TargetPowerKW: -5, StartTime: start, EndTime: end,
		}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	all, err := env.manager.Requests(context.Background(), nil)
	if err != nil {
		t.Fatalf("requests: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("requests = %d, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].StartTime.After(all[i-1].StartTime) {
			t.Fatalf("requests not most-recent-first")
		}
	}

	accepted := model.StatusAccepted
	got, err := env.manager.Requests(context.Background(), &accepted)
	if err != nil {
		t.Fatalf("filtered requests: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("accepted = %d, want 3", len(got))
	}
	rejected := model.StatusRejected
	if got, _ := env.manager.Requests(context.Background(), &rejected); len(got) != 0 {
		t.Fatalf("rejected = %d, want 0", len(got))
	}
}

func TestComfortScoreTable(t *testing.T) {
	day := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)   // Monday noon
	night := time.Date(2025, 6, 2, 23, 0, 0, 0, time.UTC) // Monday night
	weekend := time.Date(2025, 6, 7, 12, 0, 0, 0, time.UTC)
	shower := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		asset model.FlexibilityAsset
		req   model.FlexibilityRequest
		at    time.Time
		want  float64
	}{
		{"battery tracks soc", model.FlexibilityAsset{Type: model.AssetBattery, StateOfCharge: 85}, model.FlexibilityRequest{}, day, 0.85},
		{"heat pump daytime", model.FlexibilityAsset{Type: model.AssetHeatPump}, model.FlexibilityRequest{}, day, 0.8},
		{"heat pump night", model.FlexibilityAsset{Type: model.AssetHeatPump}, model.FlexibilityRequest{}, night, 0.3},
		{"hvac night", model.FlexibilityAsset{Type: model.AssetHVAC}, model.FlexibilityRequest{}, night, 0.3},
		{"ev weekday", model.FlexibilityAsset{Type: model.AssetEV}, model.FlexibilityRequest{}, day, 0.5},
		{"ev weekend", model.FlexibilityAsset{Type: model.AssetEV}, model.FlexibilityRequest{}, weekend, 0.9},
		{"water heater shower window", model.FlexibilityAsset{Type: model.AssetWaterHeater}, model.FlexibilityRequest{}, shower, 0.2},
		{"water heater off-peak", model.FlexibilityAsset{Type: model.AssetWaterHeater}, model.FlexibilityRequest{}, day, 0.8},
		{"industrial low priority", model.FlexibilityAsset{Type: model.AssetIndustrialLoad}, model.FlexibilityRequest{Priority: model.PriorityLow}, day, 0.3},
		{"industrial critical priority", model.FlexibilityAsset{Type: model.AssetIndustrialLoad}, model.FlexibilityRequest{Priority: model.PriorityCritical}, day, 0.9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := comfortScore(tc.asset, tc.req, tc.at); math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("comfort = %f, want %f", got, tc.want)
			}
		})
	}
}

func TestFeatureVectorAssembly(t *testing.T) {
	env := newTestEnv(t)
	env.prices.price = 0.30
	env.feed.signals = []model.GridSignal{
		{Type: model.SignalPricing, Value: 0.8, Timestamp: env.now},
		{Type: model.SignalCapacity, Value: 0.6, Timestamp: env.now},
		{Type: model.SignalCapacity, Value: 0.4, Timestamp: env.now},
	}
	start, end := env.window(3*time.Hour, 2*time.Hour)

	if _, err := env.manager.Submit(context.Background(), model.FlexibilityRequest{
		AssetID: "bat-1", TargetPowerKW: -5, StartTime: start, EndTime: end,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	f := env.scorer.last
	if f.Price != 0.30 {
		t.Fatalf("price = %f", f.Price)
	}
	if math.Abs(f.PricingSignal-0.8) > 1e-9 {
		t.Fatalf("pricing signal = %f", f.PricingSignal)
	}
	if math.Abs(f.Carbon-0.5) > 1e-9 {
		t.Fatalf("capacity signal mean = %f", f.Carbon)
	}
	if f.PowerDeltaKW != -5 {
		t.Fatalf("power delta = %f", f.PowerDeltaKW)
	}
	if math.Abs(f.TimeToStartHours-3) > 1e-9 {
		t.Fatalf("time to start = %f", f.TimeToStartHours)
	}
	if math.Abs(f.DurationHours-2) > 1e-9 {
		t.Fatalf("duration = %f", f.DurationHours)
	}
	if math.Abs(f.ComfortScore-0.85) > 1e-9 {
		t.Fatalf("comfort = %f", f.ComfortScore)
	}
}
