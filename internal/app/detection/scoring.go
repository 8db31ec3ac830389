package detection

import (
	"math"

	"github.com/croplens/croplens/internal/domain/detection"
	"github.com/croplens/croplens/internal/domain/tenants"
)

// Partial score weights. They sum to 1 so the composite stays in [0,1]
// before clipping.
const (
	ruleScoreWeight   = 0.40
	changeScoreWeight = 0.35
	modelScoreWeight  = 0.25
)

// landUseSensitivity scales the rule score: managed vegetation reacts to
// intervention faster than pasture or forest, so the same trend is worth
// more attention there.
var landUseSensitivity = map[tenants.LandUse]float64{
	tenants.LandUseCropland: 1.0,
	tenants.LandUseOrchard:  0.9,
	tenants.LandUsePasture:  0.7,
	tenants.LandUseForestry: 0.5,
}

// ruleScore grades the window with land-use heuristics. A sustained trend
// in either direction and a latest week far from baseline are both evidence
// that the AOI deserves attention; declines count slightly more than
// improvements of the same size.
func ruleScore(landUse tenants.LandUse, f Features) float64 {
	sensitivity, ok := landUseSensitivity[landUse]
	if !ok {
		sensitivity = 0.7
	}

	// A slope of 0.03/week and a baseline gap of 0.15 saturate their
	// respective contributions.
	trend := math.Min(math.Abs(f.Slope)/0.03, 1)
	anomaly := math.Min(math.Abs(f.BaselineDelta)/0.15, 1)

	score := trend*0.6 + anomaly*0.4
	if f.Slope < 0 || f.BaselineDelta < 0 {
		score *= 1.1
	}
	return clip01(score * sensitivity)
}

// changeScore grades the change descriptor by magnitude, with a persistence
// bonus so multi-week runs outrank single-step moves.
func changeScore(change detection.ChangeDescriptor) float64 {
	if !change.Detected {
		return 0
	}
	magnitude := math.Min(change.Magnitude/0.30, 1)
	persistence := math.Min(float64(change.WeeksPersisted)/3.0, 1)
	return clip01(magnitude * (0.7 + 0.3*persistence))
}

// modelScore is a logistic combination of the trend features. It stands in
// for a trained model; the shape keeps the output smooth in the features
// and rewards strong, clean evidence over noisy windows.
func modelScore(f Features) float64 {
	logit := 80*math.Abs(f.Slope) + 8*math.Abs(f.BaselineDelta) - 4*f.Dispersion - 1.5
	return 1 / (1 + math.Exp(-logit))
}

// compositeScore combines the three partial scores with fixed weights.
func compositeScore(rule, change, model float64) float64 {
	return clip01(ruleScoreWeight*rule + changeScoreWeight*change + modelScoreWeight*model)
}

func clip01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
