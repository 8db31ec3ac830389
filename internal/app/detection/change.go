package detection

import (
	"math"

	"github.com/croplens/croplens/internal/domain/detection"
	"github.com/croplens/croplens/internal/domain/observations"
)

// Change detection strategy names accepted by NewDetector.
const (
	StrategyBFastLike = "BFastLike"
	StrategySimple    = "Simple"
)

// minWeeklyStep is the smallest week-over-week move counted as real change
// rather than sensor noise.
const minWeeklyStep = 0.02

// NewDetector selects a change detection strategy by its configured name.
// Unrecognized names fall back to the persistence-weighted strategy, the
// conservative default.
func NewDetector(strategy string, persistenceWeeks int) detection.ChangeDetector {
	if persistenceWeeks < 1 {
		persistenceWeeks = 1
	}
	switch strategy {
	case StrategySimple:
		return SimpleDetector{}
	default:
		return BFastLikeDetector{PersistenceWeeks: persistenceWeeks}
	}
}

// BFastLikeDetector flags a change only when the week-over-week movement
// keeps the same direction for a configured number of consecutive weeks at
// the end of the window. Single noisy weeks break the run and suppress the
// detection.
type BFastLikeDetector struct {
	PersistenceWeeks int
}

var _ detection.ChangeDetector = (*BFastLikeDetector)(nil)

func (d BFastLikeDetector) Detect(window []observations.Observation) detection.ChangeDescriptor {
	none := detection.ChangeDescriptor{Direction: detection.ChangeDirectionNone}
	if len(window) < 2 {
		return none
	}

	// Walk the trailing run of same-direction steps.
	var run int
	var total float64
	var sign float64
	for i := len(window) - 1; i > 0; i-- {
		step := window[i].MeanIndex - window[i-1].MeanIndex
		if math.Abs(step) < minWeeklyStep {
			break
		}
		stepSign := math.Copysign(1, step)
		if run == 0 {
			sign = stepSign
		} else if stepSign != sign {
			break
		}
		run++
		total += step
	}

	if run < d.PersistenceWeeks {
		return none
	}

	direction := detection.ChangeDirectionImprove
	if total < 0 {
		direction = detection.ChangeDirectionDecline
	}
	return detection.ChangeDescriptor{
		Detected:       true,
		Magnitude:      math.Abs(total),
		Direction:      direction,
		WeeksPersisted: run,
	}
}

// SimpleDetector compares only the two most recent weeks. It is cheap and
// sensitive, at the cost of flagging single noisy weeks as change.
type SimpleDetector struct{}

var _ detection.ChangeDetector = (*SimpleDetector)(nil)

func (SimpleDetector) Detect(window []observations.Observation) detection.ChangeDescriptor {
	none := detection.ChangeDescriptor{Direction: detection.ChangeDirectionNone}
	if len(window) < 2 {
		return none
	}

	step := window[len(window)-1].MeanIndex - window[len(window)-2].MeanIndex
	if math.Abs(step) < minWeeklyStep {
		return none
	}

	direction := detection.ChangeDirectionImprove
	if step < 0 {
		direction = detection.ChangeDirectionDecline
	}
	return detection.ChangeDescriptor{
		Detected:       true,
		Magnitude:      math.Abs(step),
		Direction:      direction,
		WeeksPersisted: 1,
	}
}
