package engine

import (
	"fmt"
	"sort"

	"github.com/marketwise/signalrun/internal/domain"
)

// Compose combines the available sub-scores into one weighted score.
// Weights are re-normalized over the sub-scores actually present, so a
// missing sub-score redistributes its weight instead of dragging the
// composite toward zero. Pure function; iteration runs over sorted keys
// so the result does not depend on map order.
func Compose(subScores, weights map[string]float64) (float64, error) {
	if len(subScores) == 0 {
		return 0, fmt.Errorf("%w: no sub-scores available", domain.ErrInsufficientData)
	}

	names := make([]string, 0, len(subScores))
	totalWeight := 0.0
	for name := range subScores {
		w, ok := weights[name]
		if !ok {
			return 0, fmt.Errorf("no weight configured for sub-score %q", name)
		}
		names = append(names, name)
		totalWeight += w
	}
	if totalWeight <= 0 {
		return 0, fmt.Errorf("available sub-scores carry zero total weight")
	}
	sort.Strings(names)

	score := 0.0
	for _, name := range names {
		score += weights[name] / totalWeight * subScores[name]
	}
	return score, nil
}
