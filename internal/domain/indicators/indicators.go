// Package indicators computes the indicator snapshot the scoring engine
// consumes from a raw OHLCV series. All functions are deterministic, pure
// and allocation-light; fields a window cannot produce are set to NaN
// rather than zero so downstream consumers can tell "missing" from "flat".
package indicators

import (
	"fmt"
	"math"
	"time"

	"github.com/marketwise/signalrun/internal/domain"
)

// Standard periods. These mirror the common charting defaults and are not
// tunable: the normalizer thresholds are the configuration surface, not
// the indicator windows.
const (
	emaFastPeriod  = 20
	emaMidPeriod   = 50
	emaSlowPeriod  = 200
	rsiPeriod      = 14
	rsiZWindow     = 60
	atrPeriod      = 14
	adxPeriod      = 14
	bbPeriod       = 20
	bbStdDevMult   = 2.0
	kdjPeriod      = 9
	kdjSmooth      = 3
	macdFast       = 12
	macdSlow       = 26
	macdSignal     = 9
	swingLookback  = 20
	minBarsForSnap = macdSlow + macdSignal
)

// Compute builds an IndicatorSnapshot as of the newest bar. It fails with
// ErrInsufficientData when the series is too short for the core windows;
// longer-window fields (EMA200, RSI z-score) degrade to NaN individually.
func Compute(bars []domain.PriceBar) (domain.IndicatorSnapshot, error) {
	if len(bars) < minBarsForSnap {
		return domain.IndicatorSnapshot{}, fmt.Errorf(
			"%w: %d bars, need at least %d", domain.ErrInsufficientData, len(bars), minBarsForSnap)
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	last := bars[len(bars)-1]

	snap := domain.IndicatorSnapshot{
		Timestamp:    last.Timestamp,
		Close:        last.Close,
		EMA20:        lastOrNaN(EMA(closes, emaFastPeriod)),
		EMA50:        lastOrNaN(EMA(closes, emaMidPeriod)),
		EMA200:       lastOrNaN(EMA(closes, emaSlowPeriod)),
		ADX:          ADX(bars, adxPeriod),
		ATR:          ATR(bars, atrPeriod),
		BBPosition:   BollingerPosition(closes, bbPeriod, bbStdDevMult),
		KDJJ:         KDJJ(bars, kdjPeriod, kdjSmooth),
		AnchoredVWAP: AnchoredVWAP(bars, monthAnchor(last.Timestamp)),
	}

	rsi := RSISeries(closes, rsiPeriod)
	snap.RSI = lastOrNaN(rsi)
	snap.RSIZScore = ZScore(rsi, rsiZWindow)

	snap.MACDCross, snap.MACDHist = MACDCross(closes, macdFast, macdSlow, macdSignal)

	snap.RecentHigh, snap.RecentLow = SwingLevels(bars, swingLookback)

	return snap, nil
}

// EMA returns the exponential moving average series for the given period.
// The first period-1 entries are NaN while the window warms up.
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(values) < period {
		return out
	}

	// Seed with the SMA of the first window.
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	out[period-1] = ema

	alpha := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = ema*(1-alpha) + values[i]*alpha
		out[i] = ema
	}
	return out
}

// RSISeries returns the Wilder-smoothed RSI series. Entries before the
// window warms up are NaN.
func RSISeries(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(closes) < period+1 {
		return out
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiFromAverages(avgGain, avgLoss)

	alpha := 1.0 / float64(period)
	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = avgGain*(1-alpha) + gain*alpha
		avgLoss = avgLoss*(1-alpha) + loss*alpha
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

// ZScore returns how many standard deviations the newest value sits from
// the mean of the trailing window. NaN when the window has too few valid
// values or zero variance.
func ZScore(series []float64, window int) float64 {
	valid := make([]float64, 0, window)
	for i := len(series) - 1; i >= 0 && len(valid) < window; i-- {
		if !math.IsNaN(series[i]) {
			valid = append(valid, series[i])
		}
	}
	if len(valid) < 2 {
		return math.NaN()
	}

	mean := 0.0
	for _, v := range valid {
		mean += v
	}
	mean /= float64(len(valid))

	variance := 0.0
	for _, v := range valid {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(valid) - 1)
	if variance == 0 {
		return math.NaN()
	}

	return (valid[0] - mean) / math.Sqrt(variance)
}

// MACDCross reports the MACD line's state relative to its signal line on
// the newest bar: bullish when a cross up happened on that bar, bearish on
// a cross down, none otherwise. The histogram value is returned alongside.
func MACDCross(closes []float64, fast, slow, signal int) (domain.CrossState, float64) {
	if len(closes) < slow+signal {
		return domain.CrossNone, math.NaN()
	}

	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)

	macd := make([]float64, len(closes))
	for i := range macd {
		if math.IsNaN(emaFast[i]) || math.IsNaN(emaSlow[i]) {
			macd[i] = math.NaN()
		} else {
			macd[i] = emaFast[i] - emaSlow[i]
		}
	}

	// Signal line: EMA of the MACD values once they exist.
	start := slow - 1
	sig := EMA(macd[start:], signal)

	n := len(closes) - 1
	sn := n - start
	if sn < 1 || math.IsNaN(sig[sn]) || math.IsNaN(sig[sn-1]) {
		return domain.CrossNone, math.NaN()
	}

	hist := macd[n] - sig[sn]
	prevHist := macd[n-1] - sig[sn-1]

	switch {
	case prevHist <= 0 && hist > 0:
		return domain.CrossBullish, hist
	case prevHist >= 0 && hist < 0:
		return domain.CrossBearish, hist
	default:
		return domain.CrossNone, hist
	}
}

// BollingerPosition returns where the newest close sits inside the
// Bollinger band, 0 at the lower band and 1 at the upper. Values outside
// the band fall outside [0,1]; NaN when the band is degenerate.
func BollingerPosition(closes []float64, period int, stdDevMult float64) float64 {
	if len(closes) < period {
		return math.NaN()
	}

	window := closes[len(closes)-period:]
	mean := 0.0
	for _, v := range window {
		mean += v
	}
	mean /= float64(period)

	variance := 0.0
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(period)
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return math.NaN()
	}

	upper := mean + stdDevMult*stdDev
	lower := mean - stdDevMult*stdDev
	return (closes[len(closes)-1] - lower) / (upper - lower)
}

// KDJJ returns the KDJ oscillator's J value (3K - 2D) for the newest bar.
func KDJJ(bars []domain.PriceBar, period, smooth int) float64 {
	if len(bars) < period {
		return math.NaN()
	}

	k, d := 50.0, 50.0
	for i := period - 1; i < len(bars); i++ {
		high, low := bars[i].High, bars[i].Low
		for j := i - period + 1; j < i; j++ {
			high = math.Max(high, bars[j].High)
			low = math.Min(low, bars[j].Low)
		}
		rsv := 50.0
		if high > low {
			rsv = (bars[i].Close - low) / (high - low) * 100.0
		}
		k = (k*float64(smooth-1) + rsv) / float64(smooth)
		d = (d*float64(smooth-1) + k) / float64(smooth)
	}
	return 3*k - 2*d
}

// ATR returns the Wilder-smoothed Average True Range for the newest bar.
// Zero when the window has not warmed up.
func ATR(bars []domain.PriceBar, period int) float64 {
	if len(bars) < period+1 {
		return 0.0
	}

	trueRanges := make([]float64, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		trueRanges[i-1] = trueRange(bars[i], bars[i-1].Close)
	}

	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)

	alpha := 1.0 / float64(period)
	for i := period; i < len(trueRanges); i++ {
		atr = atr*(1-alpha) + trueRanges[i]*alpha
	}
	return atr
}

func trueRange(bar domain.PriceBar, prevClose float64) float64 {
	hl := bar.High - bar.Low
	hc := math.Abs(bar.High - prevClose)
	lc := math.Abs(bar.Low - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}

// ADX returns the Average Directional Index for the newest bar, a trend
// strength reading in [0,100]. NaN when the series is too short.
func ADX(bars []domain.PriceBar, period int) float64 {
	if len(bars) < period*2+1 {
		return math.NaN()
	}

	trueRanges := make([]float64, len(bars)-1)
	plusDM := make([]float64, len(bars)-1)
	minusDM := make([]float64, len(bars)-1)

	for i := 1; i < len(bars); i++ {
		trueRanges[i-1] = trueRange(bars[i], bars[i-1].Close)

		plusMove := bars[i].High - bars[i-1].High
		minusMove := bars[i-1].Low - bars[i].Low
		if plusMove > minusMove && plusMove > 0 {
			plusDM[i-1] = plusMove
		}
		if minusMove > plusMove && minusMove > 0 {
			minusDM[i-1] = minusMove
		}
	}

	smoothedTR, smoothedPlus, smoothedMinus := 0.0, 0.0, 0.0
	for i := 0; i < period; i++ {
		smoothedTR += trueRanges[i]
		smoothedPlus += plusDM[i]
		smoothedMinus += minusDM[i]
	}

	alpha := 1.0 / float64(period)
	dxSum, dxCount := 0.0, 0
	for i := period; i < len(trueRanges); i++ {
		smoothedTR = smoothedTR*(1-alpha) + trueRanges[i]*alpha
		smoothedPlus = smoothedPlus*(1-alpha) + plusDM[i]*alpha
		smoothedMinus = smoothedMinus*(1-alpha) + minusDM[i]*alpha

		if smoothedTR <= 0 {
			continue
		}
		pdi := 100.0 * smoothedPlus / smoothedTR
		mdi := 100.0 * smoothedMinus / smoothedTR
		if pdi+mdi > 0 {
			dx := 100.0 * math.Abs(pdi-mdi) / (pdi + mdi)
			// Wilder smoothing over the DX stream.
			if dxCount == 0 {
				dxSum = dx
			} else {
				dxSum = dxSum*(1-alpha) + dx*alpha
			}
			dxCount++
		}
	}
	if dxCount == 0 {
		return math.NaN()
	}
	return dxSum
}

// AnchoredVWAP returns the volume-weighted average price of all bars at or
// after the anchor timestamp. NaN when no volume traded since the anchor.
func AnchoredVWAP(bars []domain.PriceBar, anchor time.Time) float64 {
	var pv, vol float64
	for _, b := range bars {
		if b.Timestamp.Before(anchor) {
			continue
		}
		typical := (b.High + b.Low + b.Close) / 3.0
		pv += typical * b.Volume
		vol += b.Volume
	}
	if vol == 0 {
		return math.NaN()
	}
	return pv / vol
}

// SwingLevels returns the highest high and lowest low over the trailing
// lookback window, excluding the newest (possibly still forming) bar when
// enough history exists.
func SwingLevels(bars []domain.PriceBar, lookback int) (high, low float64) {
	window := bars
	if len(bars) > 1 {
		window = bars[:len(bars)-1]
	}
	if len(window) > lookback {
		window = window[len(window)-lookback:]
	}

	high, low = window[0].High, window[0].Low
	for _, b := range window[1:] {
		high = math.Max(high, b.High)
		low = math.Min(low, b.Low)
	}
	return high, low
}

// monthAnchor is the first instant of the month containing ts, in UTC.
func monthAnchor(ts time.Time) time.Time {
	t := ts.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func lastOrNaN(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}
