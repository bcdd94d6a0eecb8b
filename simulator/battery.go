package main

import (
	"math"
	"sync"
	"time"
)

// Battery models a simple storage unit with charge/discharge limits.
// SoC is tracked in percent to match the telemetry wire format.
type Battery struct {
	CapacityKWh     float64 // total capacity
	Soc             float64 // state of charge [0,100]
	ChargeRateKW    float64 // maximum charging power
	DischargeRateKW float64 // maximum discharging power
	mu              sync.Mutex
}

// ApplyPower updates the SoC according to the requested power and duration.
// Positive power means charging, negative means discharging (injection).
// It returns the actual power applied after enforcing limits.
func (b *Battery) ApplyPower(powerKW float64, dt time.Duration) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	hours := dt.Hours()
	if hours <= 0 {
		return 0
	}

	actual := powerKW
	if powerKW > 0 { // charge
		if powerKW > b.ChargeRateKW {
			actual = b.ChargeRateKW
		}
		avail := (1 - b.Soc/100) * b.CapacityKWh
		needed := actual * hours
		if needed > avail {
			needed = avail
			actual = needed / hours
		}
		b.Soc += needed / b.CapacityKWh * 100
	} else if powerKW < 0 { // discharge
		p := math.Abs(powerKW)
		if p > b.DischargeRateKW {
			p = b.DischargeRateKW
		}
		maxEnergy := b.Soc / 100 * b.CapacityKWh
		needed := p * hours
		if needed > maxEnergy {
			needed = maxEnergy
			p = needed / hours
		}
		b.Soc -= needed / b.CapacityKWh * 100
		actual = -p
	}

	if b.Soc < 0 {
		b.Soc = 0
	}
	if b.Soc > 100 {
		b.Soc = 100
	}
	return actual
}

// StateOfCharge returns the current SoC in percent.
func (b *Battery) StateOfCharge() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Soc
}
