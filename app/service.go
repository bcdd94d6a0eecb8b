package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	apiassets "github.com/kilianp07/flexgrid/api/assets"
	apirequests "github.com/kilianp07/flexgrid/api/requests"
	"github.com/kilianp07/flexgrid/config"
	"github.com/kilianp07/flexgrid/core/demand"
	"github.com/kilianp07/flexgrid/core/events"
	"github.com/kilianp07/flexgrid/core/flexibility"
	coremarket "github.com/kilianp07/flexgrid/core/market"
	coremetrics "github.com/kilianp07/flexgrid/core/metrics"
	"github.com/kilianp07/flexgrid/core/model"
	"github.com/kilianp07/flexgrid/core/registry"
	"github.com/kilianp07/flexgrid/core/scoring"
	"github.com/kilianp07/flexgrid/core/signals"
	"github.com/kilianp07/flexgrid/infra/logger"
	inframarket "github.com/kilianp07/flexgrid/infra/market"
	"github.com/kilianp07/flexgrid/infra/metrics"
	inframqtt "github.com/kilianp07/flexgrid/infra/mqtt"
	"github.com/kilianp07/flexgrid/infra/store"
	"github.com/kilianp07/flexgrid/internal/eventbus"
)

// Service wires the flexibility coordinator: registry, signal hub,
// market feed, lifecycle manager and optimizer over a shared durable
// store.
type Service struct {
	Registry  *registry.Registry
	Hub       *signals.Hub
	Prices    *coremarket.HistoryFeed
	Manager   *flexibility.Manager
	Optimizer *flexibility.Optimizer

	cfg          *config.Config
	store        *store.SQLiteStore
	marketClient *inframarket.Client
	ingest       *inframqtt.IngestClient
	sink         coremetrics.MetricsSink
	bus          eventbus.EventBus
	log          logger.Logger
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.New(64)
	reg := registry.New(st, logger.New("registry"))
	hub := signals.NewHub(logger.New("signals"), nil)
	prices := coremarket.NewHistoryFeed(cfg.Flexibility.Currency)
	agg := demand.NewStatsAggregator(st)
	scorer := scoring.NewLogisticScorer(scoring.DefaultWeights())

	var sinks []coremetrics.MetricsSink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink(nil)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(cfg.Metrics))
	}
	var sink coremetrics.MetricsSink
	switch len(sinks) {
	case 0:
		sink = coremetrics.NopSink{}
	case 1:
		sink = sinks[0]
	default:
		sink = metrics.NewMultiSink(sinks...)
	}

	mgr, err := flexibility.NewManager(cfg.Flexibility, reg, hub, prices, agg,
		scorer, st, st, st, sink, bus, logger.New("flexibility"))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("flexibility manager: %w", err)
	}
	opt, err := flexibility.NewOptimizer(cfg.Flexibility, reg, hub, prices, mgr,
		logger.New("optimizer"))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("optimizer: %w", err)
	}

	svc := &Service{
		Registry:  reg,
		Hub:       hub,
		Prices:    prices,
		Manager:   mgr,
		Optimizer: opt,
		cfg:       cfg,
		store:     st,
		sink:      sink,
		bus:       bus,
		log:       logg,
	}
	if cfg.Market.APIURL != "" {
		svc.marketClient = inframarket.NewClient(cfg.Market, prices)
	}
	if cfg.MQTT.Broker != "" {
		ingest, err := inframqtt.NewIngestClient(cfg.MQTT, reg, hub, st)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("mqtt ingest: %w", err)
		}
		svc.ingest = ingest
	}
	return svc, nil
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Registry.Load(ctx); err != nil {
		return fmt.Errorf("load assets: %w", err)
	}
	s.log.Infof("loaded %d assets", len(s.Registry.All()))

	go func() {
		if err := s.Manager.Scheduler().Run(ctx); err != nil {
			s.log.Errorf("scheduler: %v", err)
		}
	}()
	if s.marketClient != nil {
		go func() {
			if err := s.marketClient.Start(ctx); err != nil {
				s.log.Errorf("market client: %v", err)
			}
		}()
	}
	// Mirror ingested signals onto the event bus for sinks that record
	// raw signal traffic.
	s.Hub.Subscribe(model.SignalFilter{Region: "*"}, func(sig model.GridSignal) {
		s.bus.Publish(events.SignalEvent{Signal: sig})
	})
	metrics.StartEventCollector(ctx, s.bus, s.sink)
	if s.ingest != nil {
		inframqtt.StartCommandForwarder(ctx, s.bus, inframqtt.NewCommandPublisher(s.ingest), s.log)
	}
	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			addr := ":" + s.cfg.Metrics.PrometheusPort
			if err := metrics.StartPromServer(ctx, addr, s.log); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if s.cfg.API.Enabled {
		go s.serveAPI(ctx)
	}
	go s.optimizeLoop(ctx)

	<-ctx.Done()
	return nil
}

// serveAPI exposes the admin HTTP endpoints until the context is
// cancelled.
func (s *Service) serveAPI(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/api/assets", apiassets.NewListHandler(s.Registry))
	mux.Handle("/api/requests", apirequests.NewHandler(s.Manager, s.cfg.API.Token))
	mux.Handle("/api/requests/cancel", apirequests.NewCancelHandler(s.Manager, s.cfg.API.Token))
	mux.Handle("/api/responses", apirequests.NewResponseHandler(s.Manager, s.cfg.API.Token))

	srv := &http.Server{Addr: ":" + s.cfg.API.Port, Handler: mux}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	s.log.Infof("admin API listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Errorf("admin API: %v", err)
	}
}

// optimizeLoop sweeps every asset once an hour.
func (s *Service) optimizeLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids := make([]string, 0)
			for _, a := range s.Registry.All() {
				ids = append(ids, a.ID)
			}
			if len(ids) == 0 {
				continue
			}
			reqs, err := s.Optimizer.Optimize(ctx, ids, 0)
			if err != nil {
				s.log.Errorf("optimization sweep: %v", err)
				continue
			}
			s.log.Infof("optimization sweep submitted %d requests", len(reqs))
		}
	}
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.ingest != nil {
		s.ingest.Disconnect()
	}
	s.Hub.Close()
	s.bus.Close()
	return s.store.Close()
}
