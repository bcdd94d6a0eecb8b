package model

import (
	"fmt"
	"time"
)

// ResponseStatus records the settlement outcome of an executed request.
type ResponseStatus int

const (
	ResponseSuccess ResponseStatus = iota
	ResponsePartial
	ResponseFailed
)

// String returns a human-readable representation of the response status.
func (s ResponseStatus) String() string {
	switch s {
	case ResponseSuccess:
		return "SUCCESS"
	case ResponsePartial:
		return "PARTIAL"
	case ResponseFailed:
		return "FAILED"
	default:
		return "unknown"
	}
}

// ParseResponseStatus converts a wire representation into a ResponseStatus.
func ParseResponseStatus(s string) (ResponseStatus, error) {
	switch s {
	case "SUCCESS":
		return ResponseSuccess, nil
	case "PARTIAL":
		return ResponsePartial, nil
	case "FAILED":
		return ResponseFailed, nil
	default:
		return 0, fmt.Errorf("unknown response status %q", s)
	}
}

// FlexibilityResponse settles the energy and cost impact of having
// executed a request. Written exactly once at execution time and
// read-only afterward.
type FlexibilityResponse struct {
	RequestID       string
	AssetID         string
	ActualPowerKW   float64
	StartTime       time.Time
	EndTime         time.Time
	EnergyImpactKWh float64
	CostImpact      float64
	Currency        string
	Status          ResponseStatus
	Metadata        map[string]string
}
