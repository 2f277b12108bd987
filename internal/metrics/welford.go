package metrics

import "math"

// WelfordState holds running statistics using Welford's online algorithm,
// so delay mean and spread can be folded row by row without buffering.
type WelfordState struct {
	Count int
	Mean  float64
	M2    float64 // sum of squared differences from mean
}

// Update adds a new observation.
func (w *WelfordState) Update(v float64) {
	w.Count++
	delta := v - w.Mean
	w.Mean += delta / float64(w.Count)
	w.M2 += delta * (v - w.Mean)
}

// StdDev returns the population standard deviation, 0 below two observations.
func (w *WelfordState) StdDev() float64 {
	if w.Count < 2 {
		return 0
	}
	return math.Sqrt(w.M2 / float64(w.Count))
}
