package model

import "time"

// PricePoint is a single market price observation or prediction.
type PricePoint struct {
	Timestamp time.Time
	Price     float64
	VolumeMW  float64
	Currency  string
}

// AggregatedPoint summarizes telemetry samples for one interval.
type AggregatedPoint struct {
	Timestamp time.Time
	Min       float64
	Max       float64
	Avg       float64
	Sum       float64
	Count     int
	// Quality is the ratio of samples present versus expected for the
	// interval, in [0,1].
	Quality float64
}
