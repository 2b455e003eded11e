package metric

import (
	"fmt"
	"time"
)

// Metric identifies one of the tracked dashboard values.
type Metric string

const (
	// Production is the current PV output.
	Production Metric = "pv_production"

	// Consumption is the current house load.
	Consumption Metric = "house_consumption"

	// Grid is the current grid flow. Positive values are export (feeding
	// in), negative values are import.
	Grid Metric = "grid_flow"
)

// All lists the tracked metrics in publish order.
var All = []Metric{Production, Consumption, Grid}

// Plausibility bounds in watts. A residential PV system far exceeding
// 100 kW on any channel is a parse artifact, not a reading.
const (
	maxAbsWatts = 100_000
)

// Reading is a single extraction result. Immutable once produced; it is
// consumed exactly once by the publisher and never persisted.
type Reading struct {
	Metric     Metric
	Value      float64 // watts, signed for Grid
	Unit       string  // always "W" after normalization
	CapturedAt time.Time

	// Suspect is set when the value parsed cleanly but falls outside the
	// physically plausible range. Suspect readings are still delivered;
	// callers decide how loudly to complain.
	Suspect bool
}

// NewReading constructs a Reading from a successfully parsed value and
// applies the plausibility check. It never substitutes a default: callers
// must only invoke it after a full, successful parse.
func NewReading(m Metric, watts float64, at time.Time) Reading {
	return Reading{
		Metric:     m,
		Value:      watts,
		Unit:       "W",
		CapturedAt: at,
		Suspect:    !plausible(m, watts),
	}
}

// plausible reports whether watts is inside the physically sensible range
// for the metric. Production and consumption cannot be negative; grid flow
// is signed in both directions.
func plausible(m Metric, watts float64) bool {
	switch m {
	case Production, Consumption:
		return watts >= 0 && watts <= maxAbsWatts
	case Grid:
		return watts >= -maxAbsWatts && watts <= maxAbsWatts
	default:
		return false
	}
}

// String implements fmt.Stringer for log output.
func (r Reading) String() string {
	return fmt.Sprintf("%s=%.0f%s", r.Metric, r.Value, r.Unit)
}
