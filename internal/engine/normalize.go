package engine

import (
	"fmt"

	"github.com/marketwise/signalrun/internal/config"
	"github.com/marketwise/signalrun/internal/domain"
)

// Normalizer maps raw indicator readings to bounded sub-scores in [-1, 1]
// using fixed rules. Thresholds come from configuration; nothing here is
// learned. Missing inputs fail the affected sub-score with
// ErrInsufficientData instead of silently scoring zero.
type Normalizer struct {
	cfg config.NormalizerConfig
}

// NewNormalizer creates a normalizer with the given thresholds.
func NewNormalizer(cfg config.NormalizerConfig) *Normalizer {
	return &Normalizer{cfg: cfg}
}

// SubScores computes every sub-score the snapshot supports. The first map
// holds the available sub-scores; the second holds the per-sub-score
// failures for the rest. At least one of the two is always non-empty.
func (n *Normalizer) SubScores(snap domain.IndicatorSnapshot) (map[string]float64, map[string]error) {
	scores := make(map[string]float64, 3)
	failures := make(map[string]error)

	if v, err := n.TrendScore(snap); err != nil {
		failures[domain.SubScoreTrend] = err
	} else {
		scores[domain.SubScoreTrend] = v
	}
	if v, err := n.MomentumScore(snap); err != nil {
		failures[domain.SubScoreMomentum] = err
	} else {
		scores[domain.SubScoreMomentum] = v
	}
	if v, err := n.ReversalScore(snap); err != nil {
		failures[domain.SubScoreReversal] = err
	} else {
		scores[domain.SubScoreReversal] = v
	}

	return scores, failures
}

// TrendScore is a three-way categorical signal, a deliberate
// simplification over a continuous blend: +1 when the moving averages are
// strictly stacked fast>mid>slow, trend strength clears the ADX floor, and
// price holds above the anchored VWAP; -1 on the full mirror condition;
// 0 otherwise.
func (n *Normalizer) TrendScore(snap domain.IndicatorSnapshot) (float64, error) {
	for name, v := range map[string]float64{
		"ema20":         snap.EMA20,
		"ema50":         snap.EMA50,
		"ema200":        snap.EMA200,
		"adx":           snap.ADX,
		"anchored_vwap": snap.AnchoredVWAP,
		"close":         snap.Close,
	} {
		if !domain.Has(v) {
			return 0, fmt.Errorf("%w: trend input %s missing", domain.ErrInsufficientData, name)
		}
	}

	strongTrend := snap.ADX > n.cfg.ADXTrendMin
	bullStack := snap.EMA20 > snap.EMA50 && snap.EMA50 > snap.EMA200
	bearStack := snap.EMA20 < snap.EMA50 && snap.EMA50 < snap.EMA200

	switch {
	case bullStack && strongTrend && snap.Close > snap.AnchoredVWAP:
		return 1, nil
	case bearStack && strongTrend && snap.Close < snap.AnchoredVWAP:
		return -1, nil
	default:
		return 0, nil
	}
}

// MomentumScore blends the crossover state with a z-scored oscillator:
// the cross contributes ±0.5, the z-score +0.3 while not yet overbought or
// -0.2 once overbought, clamped to [-1, 1].
func (n *Normalizer) MomentumScore(snap domain.IndicatorSnapshot) (float64, error) {
	if !domain.Has(snap.RSIZScore) {
		return 0, fmt.Errorf("%w: momentum input rsi_zscore missing", domain.ErrInsufficientData)
	}

	score := 0.0
	switch snap.MACDCross {
	case domain.CrossBullish:
		score += 0.5
	case domain.CrossBearish:
		score -= 0.5
	}

	if snap.RSIZScore < n.cfg.RSIZNotOverbought {
		score += 0.3
	} else if snap.RSIZScore > n.cfg.RSIZOverbought {
		score -= 0.2
	}

	return clamp(score, -1, 1), nil
}

// ReversalScore rewards a mean-reversion setup: a banded oscillator near
// its midline contributes +0.3 and band extremes -0.2, while the secondary
// oscillator (KDJ J) adds +0.2 below its low threshold and -0.2 above its
// high one. Clamped to [-1, 1].
func (n *Normalizer) ReversalScore(snap domain.IndicatorSnapshot) (float64, error) {
	if !domain.Has(snap.BBPosition) {
		return 0, fmt.Errorf("%w: reversal input bb_position missing", domain.ErrInsufficientData)
	}
	if !domain.Has(snap.KDJJ) {
		return 0, fmt.Errorf("%w: reversal input kdj_j missing", domain.ErrInsufficientData)
	}

	score := 0.0
	if snap.BBPosition >= n.cfg.BBMidlineLow && snap.BBPosition <= n.cfg.BBMidlineHigh {
		score += 0.3
	} else if snap.BBPosition < n.cfg.BBExtremeLow || snap.BBPosition > n.cfg.BBExtremeHigh {
		score -= 0.2
	}

	if snap.KDJJ < n.cfg.KDJLow {
		score += 0.2
	} else if snap.KDJJ > n.cfg.KDJHigh {
		score -= 0.2
	}

	return clamp(score, -1, 1), nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
