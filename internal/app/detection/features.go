// Package detection implements the two analysis engines that turn weekly
// observations into findings: the multi-factor signal engine and the
// threshold alert engine.
package detection

import (
	"math"

	"github.com/croplens/croplens/internal/domain/observations"
)

// Features are the summary indicators extracted from an ordered observation
// window. They feed both the scoring model and the signal type selection.
type Features struct {
	// Slope is the least-squares trend of the mean index per week.
	Slope float64 `json:"slope"`

	// Dispersion is the standard deviation of the mean index over the window.
	Dispersion float64 `json:"dispersion"`

	// BaselineDelta is the latest week's mean index minus its baseline.
	BaselineDelta float64 `json:"baseline_delta"`

	// MeanValidRatio is the average scene validity across the window.
	MeanValidRatio float64 `json:"mean_valid_ratio"`

	// WindowWeeks is how many observations the features were derived from.
	WindowWeeks int `json:"window_weeks"`
}

// extractFeatures derives Features from an ascending observation window.
// It returns false when the window is too short to carry a trend.
func extractFeatures(window []observations.Observation) (Features, bool) {
	if len(window) < 2 {
		return Features{}, false
	}

	n := float64(len(window))
	var sumX, sumY, sumXY, sumXX float64
	for i, obs := range window {
		x := float64(i)
		sumX += x
		sumY += obs.MeanIndex
		sumXY += x * obs.MeanIndex
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return Features{}, false
	}
	slope := (n*sumXY - sumX*sumY) / denom

	mean := sumY / n
	var sumSq float64
	for _, obs := range window {
		d := obs.MeanIndex - mean
		sumSq += d * d
	}
	dispersion := math.Sqrt(sumSq / n)

	var sumValid float64
	for _, obs := range window {
		sumValid += obs.ValidRatio
	}

	latest := window[len(window)-1]
	return Features{
		Slope:          slope,
		Dispersion:     dispersion,
		BaselineDelta:  latest.MeanIndex - latest.Baseline,
		MeanValidRatio: sumValid / n,
		WindowWeeks:    len(window),
	}, true
}
