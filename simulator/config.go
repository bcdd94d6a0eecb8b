package main

import "time"

// Config holds parameters for the simulator.
type Config struct {
	Broker      string
	Count       int
	Interval    time.Duration
	CapacityKWh float64
	RateKW      float64
	StartSoC    float64
	Verbose     bool
}
