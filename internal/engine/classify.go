package engine

import (
	"math"

	"github.com/marketwise/signalrun/internal/config"
	"github.com/marketwise/signalrun/internal/domain"
)

// Classify maps a composite score to an action and confidence. Stateless
// per call; the only state lives on the score axis.
//
// A score sitting exactly on a threshold resolves to hold: the boundary
// is closed on the hold side, so buy requires score strictly above the
// buy threshold and sell strictly below the negated sell threshold.
//
// Confidence is min(1, |score|): continuous, monotonically non-decreasing
// in |score|, and bounded to [0,1] for any finite score. Staleness does
// not deflate confidence; it is reported separately on the decision.
func Classify(score float64, cfg config.ClassifierConfig) (domain.Action, float64) {
	action := domain.ActionHold
	switch {
	case score > cfg.Buy:
		action = domain.ActionBuy
	case score < -cfg.Sell:
		action = domain.ActionSell
	}

	confidence := math.Min(1.0, math.Abs(score))
	return action, confidence
}
