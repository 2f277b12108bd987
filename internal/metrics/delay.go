package metrics

import "math"

// DelayedThresholdSeconds is the delay above which a departure counts as delayed.
// iRail reports delay in whole seconds and any positive value is a delay.
const DelayedThresholdSeconds = 0

// DelaySummary aggregates departure delays over a window.
type DelaySummary struct {
	Count         int     `json:"delayedDepartures"`
	MeanSeconds   float64 `json:"avgDelaySeconds"`
	StdDevSeconds float64 `json:"stdDevDelaySeconds"`
	MaxSeconds    int     `json:"maxDelaySeconds"`
}

// DelayAccumulator folds delay observations into a DelaySummary.
// Only delays above DelayedThresholdSeconds are counted.
type DelayAccumulator struct {
	state WelfordState
	max   int
}

// Add records one departure delay in seconds.
func (a *DelayAccumulator) Add(delaySeconds int) {
	if delaySeconds <= DelayedThresholdSeconds {
		return
	}
	a.state.Update(float64(delaySeconds))
	if delaySeconds > a.max {
		a.max = delaySeconds
	}
}

// Summary returns the current aggregate, with the mean rounded to two decimals.
func (a *DelayAccumulator) Summary() DelaySummary {
	return DelaySummary{
		Count:         a.state.Count,
		MeanSeconds:   round2(a.state.Mean),
		StdDevSeconds: round2(a.state.StdDev()),
		MaxSeconds:    a.max,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
