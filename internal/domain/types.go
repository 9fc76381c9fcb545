package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Timeframe identifies the bar interval of a price series.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe1d  Timeframe = "1d"
)

// ParseTimeframe validates a timeframe string from a flag or config file.
func ParseTimeframe(s string) (Timeframe, error) {
	switch tf := Timeframe(s); tf {
	case Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe1d:
		return tf, nil
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// Action is the stance a decision takes on a ticker.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Direction filters scan candidates by trade side.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionAll   Direction = "all"
)

// ParseDirection validates a direction string from a flag or config file.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case DirectionLong, DirectionShort, DirectionAll:
		return d, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// Matches reports whether an action satisfies the direction filter.
// Hold never matches any direction.
func (d Direction) Matches(action Action) bool {
	switch d {
	case DirectionLong:
		return action == ActionBuy
	case DirectionShort:
		return action == ActionSell
	case DirectionAll:
		return action == ActionBuy || action == ActionSell
	}
	return false
}

// PriceBar is one OHLCV bar. Series are ordered by strictly increasing
// timestamp with no duplicates; only the newest (possibly still forming)
// bar may be replaced in place.
type PriceBar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// CrossState describes a crossover signal such as MACD vs its signal line.
type CrossState string

const (
	CrossBullish CrossState = "bullish"
	CrossBearish CrossState = "bearish"
	CrossNone    CrossState = "none"
)

// IndicatorSnapshot holds indicator readings computed as of one bar
// timestamp. Numeric fields use NaN to mark a value the indicator window
// could not produce; consumers must check with Has rather than treating
// NaN as zero.
type IndicatorSnapshot struct {
	Timestamp    time.Time  `json:"timestamp"`
	Close        float64    `json:"close"`
	EMA20        float64    `json:"ema20"`
	EMA50        float64    `json:"ema50"`
	EMA200       float64    `json:"ema200"`
	ADX          float64    `json:"adx"`
	RSI          float64    `json:"rsi"`
	RSIZScore    float64    `json:"rsi_zscore"`
	MACDCross    CrossState `json:"macd_cross"`
	MACDHist     float64    `json:"macd_hist"`
	BBPosition   float64    `json:"bb_position"`
	KDJJ         float64    `json:"kdj_j"`
	ATR          float64    `json:"atr"`
	AnchoredVWAP float64    `json:"anchored_vwap"`
	RecentHigh   float64    `json:"recent_high"`
	RecentLow    float64    `json:"recent_low"`
}

// Has reports whether a snapshot field carries a usable value.
func Has(v float64) bool {
	return !math.IsNaN(v)
}

// Sub-score names used across the normalizer, scorer, and configuration.
const (
	SubScoreTrend    = "trend"
	SubScoreMomentum = "momentum"
	SubScoreReversal = "reversal"
)

// PriceRange is an inclusive price band.
type PriceRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// TradePlan carries executable price levels for a non-hold decision.
// Targets are strictly monotonic in the trade direction: ascending for
// buy, descending for sell.
type TradePlan struct {
	Entry      float64     `json:"entry"`
	EntryRange *PriceRange `json:"entry_range,omitempty"`
	Stop       float64     `json:"stop"`
	Targets    []float64   `json:"targets"`
}

// Decision is the result of evaluating one ticker on one timeframe.
// It is immutable once returned and never persisted by the engine itself.
type Decision struct {
	Ticker         string             `json:"ticker"`
	Timeframe      Timeframe          `json:"timeframe"`
	AsOf           time.Time          `json:"as_of"`
	Action         Action             `json:"action"`
	Confidence     float64            `json:"confidence"`
	Score          float64            `json:"score"`
	Parts          map[string]float64 `json:"parts"`
	Plan           *TradePlan         `json:"plan,omitempty"`
	Rationale      []string           `json:"rationale"`
	RiskNotes      []string           `json:"risk_notes,omitempty"`
	ReferencePrice float64            `json:"reference_price"`
	ATR            float64            `json:"atr"`
	Stale          bool               `json:"stale"`
}

// Candidate is one ranked entry in a scan result.
type Candidate struct {
	Ticker     string   `json:"ticker"`
	Action     Action   `json:"action"`
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Rationale  []string `json:"rationale"`
}

// TickerFailure records a per-ticker error that was recovered locally
// during a scan.
type TickerFailure struct {
	Ticker string `json:"ticker"`
	Reason string `json:"reason"`
}

// ScanReport is the outcome of one batch scan. Partial is set when the
// wall-clock budget expired before every ticker finished.
type ScanReport struct {
	RunID       string          `json:"run_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Timeframe   Timeframe       `json:"timeframe"`
	Direction   Direction       `json:"direction"`
	Candidates  []Candidate     `json:"candidates"`
	Failed      []TickerFailure `json:"failed"`
	Partial     bool            `json:"partial"`
	Elapsed     time.Duration   `json:"elapsed"`
}

// NormalizeTicker canonicalizes a ticker symbol for use as a cache and
// scan key.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}
