package scenarios

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilianp07/flexgrid/core/demand"
	"github.com/kilianp07/flexgrid/core/flexibility"
	"github.com/kilianp07/flexgrid/core/market"
	coremetrics "github.com/kilianp07/flexgrid/core/metrics"
	"github.com/kilianp07/flexgrid/core/model"
	"github.com/kilianp07/flexgrid/core/registry"
	"github.com/kilianp07/flexgrid/core/scoring"
	"github.com/kilianp07/flexgrid/core/signals"
	"github.com/kilianp07/flexgrid/infra/logger"
	"github.com/kilianp07/flexgrid/infra/store"
	"github.com/kilianp07/flexgrid/internal/eventbus"
)

type scenarioScorer struct{ score float64 }

func (s scenarioScorer) Score(context.Context, scoring.FeatureVector) (float64, error) {
	return s.score, nil
}

// RunScenario replays the scenario against a manager wired to a real
// durable store and asserts the resulting request statuses.
func RunScenario(t *testing.T, sc *Scenario) {
	flexibility.ResetMetrics(nil)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "scenario.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	for _, def := range sc.Assets {
		a, err := def.ToModel()
		if err != nil {
			t.Fatalf("asset %s: %v", def.ID, err)
		}
		if err := st.SaveAsset(ctx, a); err != nil {
			t.Fatalf("save asset %s: %v", def.ID, err)
		}
	}
	reg := registry.New(st, logger.NopLogger{})
	if err := reg.Load(ctx); err != nil {
		t.Fatalf("load registry: %v", err)
	}

	prices := market.NewHistoryFeed("EUR")
	prices.Observe(model.PricePoint{Timestamp: time.Now(), Price: sc.MarketPrice, Currency: "EUR"})

	hub := signals.NewHub(logger.NopLogger{}, nil)
	defer hub.Close()
	for _, def := range sc.Signals {
		sig, err := def.ToModel()
		if err != nil {
			t.Fatalf("signal: %v", err)
		}
		hub.Publish(sig)
	}

	cfg := flexibility.Config{}
	cfg.SetDefaults()
	bus := eventbus.New(0)
	defer bus.Close()
	mgr, err := flexibility.NewManager(cfg, reg, hub, prices,
		demand.NewStatsAggregator(st), scenarioScorer{score: sc.Score},
		st, st, st, coremetrics.NopSink{}, bus, logger.NopLogger{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	for i, def := range sc.Requests {
		req, err := def.ToModel(time.Now())
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		res, err := mgr.Submit(ctx, req)
		switch {
		case def.Expected == "INVALID":
			var verr *flexibility.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("request %d: expected validation failure, got status %v err %v", i, res.Status, err)
			}
		case err != nil:
			t.Errorf("request %d: submit: %v", i, err)
		default:
			if res.Status.String() != def.Expected {
				t.Errorf("request %d: status = %s, expected %s", i, res.Status, def.Expected)
			}
		}
	}
}
