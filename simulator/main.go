package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

func parseFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.Broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.IntVar(&cfg.Count, "count", 5, "number of simulated batteries")
	flag.DurationVar(&cfg.Interval, "interval", 10*time.Second, "telemetry publish interval")
	flag.Float64Var(&cfg.CapacityKWh, "capacity", 40, "battery capacity in kWh")
	flag.Float64Var(&cfg.RateKW, "rate", 10, "charge/discharge rate limit in kW")
	flag.Float64Var(&cfg.StartSoC, "soc", 80, "initial state of charge in percent")
	flag.BoolVar(&cfg.Verbose, "v", false, "verbose logging")
	flag.Parse()
	return cfg
}

func main() {
	cfg := parseFlags()
	if cfg.Count <= 0 {
		log.Fatalf("invalid count %d", cfg.Count)
	}
	if !cfg.Verbose {
		log.SetOutput(io.Discard)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Count; i++ {
		bat := &Battery{
			CapacityKWh:     cfg.CapacityKWh,
			Soc:             cfg.StartSoC,
			ChargeRateKW:    cfg.RateKW,
			DischargeRateKW: cfg.RateKW,
		}
		asset := NewSimulatedAsset(fmt.Sprintf("sim-bat-%d", i+1), cfg.Broker, bat, cfg.Interval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := asset.Run(ctx); err != nil {
				log.Printf("%s: %v", asset.ID, err)
			}
		}()
	}
	wg.Wait()
}
