package model

import (
	"fmt"
	"time"
)

// SignalType defines the type of grid signal received.
type SignalType int

const (
	SignalPricing SignalType = iota
	SignalCapacity
	SignalCurtailment
)

// String returns a human-readable representation of the signal type.
func (t SignalType) String() string {
	switch t {
	case SignalPricing:
		return "PRICING"
	case SignalCapacity:
		return "CAPACITY"
	case SignalCurtailment:
		return "CURTAILMENT"
	default:
		return "unknown"
	}
}

// ParseSignalType converts a wire representation into a SignalType.
func ParseSignalType(s string) (SignalType, error) {
	switch s {
	case "PRICING":
		return SignalPricing, nil
	case "CAPACITY":
		return SignalCapacity, nil
	case "CURTAILMENT":
		return SignalCurtailment, nil
	default:
		return 0, fmt.Errorf("unknown signal type %q", s)
	}
}

// GridSignal is an external price, capacity or curtailment indicator
// used to decide whether flexing an asset is worthwhile.
type GridSignal struct {
	ID        string
	Type      SignalType
	Timestamp time.Time
	Value     float64
	Unit      string
	Region    string
	Duration  time.Duration
	Priority  Priority
	Source    string
	Metadata  map[string]string
}

// Age returns how old the signal is relative to now.
func (s GridSignal) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// SignalFilter selects grid signals by region, type, priority and age.
// The region "*" matches every region. An empty type set matches every
// type.
type SignalFilter struct {
	Region      string
	Types       []SignalType
	MinPriority Priority
	MaxAge      time.Duration
}

// Matches reports whether the signal passes all filter criteria at the
// given reference time.
func (f SignalFilter) Matches(s GridSignal, now time.Time) bool {
	if f.Region != "*" && f.Region != "" && s.Region != f.Region {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == s.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.Priority < f.MinPriority {
		return false
	}
	if f.MaxAge > 0 && s.Age(now) > f.MaxAge {
		return false
	}
	return true
}
