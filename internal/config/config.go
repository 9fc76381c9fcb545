// Package config loads and validates engine configuration from YAML.
// Indicator weights and thresholds are static configuration, never learned
// parameters; invalid weight sets are rejected at load time rather than
// auto-normalized.
package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marketwise/signalrun/internal/domain"
)

// WeightSumTolerance bounds how far sub-score weights may drift from 1.0.
const WeightSumTolerance = 1e-9

// Config is the full engine configuration.
type Config struct {
	Weights    Weights          `yaml:"weights"`
	Normalizer NormalizerConfig `yaml:"normalizer"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Planner    PlannerConfig    `yaml:"planner"`
	Cache      CacheConfig      `yaml:"cache"`
	Scanner    ScannerConfig    `yaml:"scanner"`
}

// Weights are the composite-score weights per sub-score. They must sum
// to 1.0; re-normalization over available sub-scores happens at scoring
// time, not here.
type Weights struct {
	Trend    float64 `yaml:"trend"`
	Momentum float64 `yaml:"momentum"`
	Reversal float64 `yaml:"reversal"`
}

// Map returns the weights keyed by sub-score name.
func (w Weights) Map() map[string]float64 {
	return map[string]float64{
		domain.SubScoreTrend:    w.Trend,
		domain.SubScoreMomentum: w.Momentum,
		domain.SubScoreReversal: w.Reversal,
	}
}

// NormalizerConfig holds the thresholds the indicator normalizer applies
// when mapping raw readings to bounded sub-scores.
type NormalizerConfig struct {
	ADXTrendMin float64 `yaml:"adx_trend_min"` // trend strength floor for a ±1 trend call

	RSIZNotOverbought float64 `yaml:"rsi_z_not_overbought"` // below: +0.3 momentum
	RSIZOverbought    float64 `yaml:"rsi_z_overbought"`     // above: -0.2 momentum

	BBMidlineLow  float64 `yaml:"bb_midline_low"`  // midline band lower edge
	BBMidlineHigh float64 `yaml:"bb_midline_high"` // midline band upper edge
	BBExtremeLow  float64 `yaml:"bb_extreme_low"`  // below: band extreme
	BBExtremeHigh float64 `yaml:"bb_extreme_high"` // above: band extreme

	KDJLow  float64 `yaml:"kdj_low"`  // below: +0.2 reversal
	KDJHigh float64 `yaml:"kdj_high"` // above: -0.2 reversal
}

// ClassifierConfig maps composite scores to actions. Both thresholds are
// positive magnitudes; sell triggers below -Sell.
type ClassifierConfig struct {
	Buy  float64 `yaml:"buy"`
	Sell float64 `yaml:"sell"`
}

// PlannerConfig sizes stops and targets relative to ATR.
type PlannerConfig struct {
	StopATRMult   float64 `yaml:"stop_atr_mult"`
	TargetATRMult float64 `yaml:"target_atr_mult"`
}

// CacheConfig governs the freshness-aware cache gate. Durations are plain
// integers with the unit in the field name, matching the rest of the
// configuration surface.
type CacheConfig struct {
	// TTLSecs bounds the age of a fetch before the entry needs
	// refreshing even when the last bar is recent.
	TTLSecs map[domain.Timeframe]int `yaml:"ttl_secs"`
	// StalenessSecs bounds the age of the most recent bar per timeframe.
	StalenessSecs map[domain.Timeframe]int `yaml:"staleness_secs"`
	// LookbackDays is how much history a full (cold) fetch requests.
	LookbackDays map[domain.Timeframe]int `yaml:"lookback_days"`
	// AllowStaleDuringRefresh lets callers read the last snapshot while
	// another caller's refresh is in flight instead of waiting on it.
	AllowStaleDuringRefresh bool `yaml:"allow_stale_during_refresh"`
	// RefreshTimeoutSecs bounds a single detached refresh.
	RefreshTimeoutSecs int `yaml:"refresh_timeout_secs"`
}

// TTLFor returns the fetch TTL for a timeframe, defaulting to 24h.
func (c CacheConfig) TTLFor(tf domain.Timeframe) time.Duration {
	if secs, ok := c.TTLSecs[tf]; ok {
		return time.Duration(secs) * time.Second
	}
	return 24 * time.Hour
}

// StalenessFor returns the last-bar staleness threshold for a timeframe,
// defaulting to 24h.
func (c CacheConfig) StalenessFor(tf domain.Timeframe) time.Duration {
	if secs, ok := c.StalenessSecs[tf]; ok {
		return time.Duration(secs) * time.Second
	}
	return 24 * time.Hour
}

// LookbackFor returns the cold-fetch lookback window for a timeframe,
// defaulting to one year.
func (c CacheConfig) LookbackFor(tf domain.Timeframe) time.Duration {
	if days, ok := c.LookbackDays[tf]; ok {
		return time.Duration(days) * 24 * time.Hour
	}
	return 365 * 24 * time.Hour
}

// RefreshTimeout returns the per-refresh deadline.
func (c CacheConfig) RefreshTimeout() time.Duration {
	return time.Duration(c.RefreshTimeoutSecs) * time.Second
}

// RankBy selects the scanner's ranking criterion.
type RankBy string

const (
	RankByScore      RankBy = "score"
	RankByConfidence RankBy = "confidence"
)

// ScannerConfig governs batch scanning.
type ScannerConfig struct {
	TopN          int     `yaml:"top_n"`
	MaxWorkers    int     `yaml:"max_workers"`
	BudgetSecs    int     `yaml:"budget_secs"`
	RankBy        RankBy  `yaml:"rank_by"`
	MinConfidence float64 `yaml:"min_confidence"`
	// MinAbsScore is the |score| floor applied when direction is "all".
	MinAbsScore float64 `yaml:"min_abs_score"`
}

// Budget returns the scan wall-clock budget.
func (c ScannerConfig) Budget() time.Duration {
	return time.Duration(c.BudgetSecs) * time.Second
}

// Default returns the built-in configuration. It mirrors the shipped
// config/signalrun.yaml and always validates.
func Default() Config {
	return Config{
		Weights: Weights{Trend: 0.5, Momentum: 0.3, Reversal: 0.2},
		Normalizer: NormalizerConfig{
			ADXTrendMin:       20,
			RSIZNotOverbought: 1.0,
			RSIZOverbought:    2.0,
			BBMidlineLow:      0.3,
			BBMidlineHigh:     0.7,
			BBExtremeLow:      0.1,
			BBExtremeHigh:     0.9,
			KDJLow:            90,
			KDJHigh:           110,
		},
		Classifier: ClassifierConfig{Buy: 0.4, Sell: 0.4},
		Planner:    PlannerConfig{StopATRMult: 1.5, TargetATRMult: 1.5},
		Cache: CacheConfig{
			TTLSecs: map[domain.Timeframe]int{
				domain.Timeframe1m:  180,
				domain.Timeframe5m:  600,
				domain.Timeframe15m: 1200,
				domain.Timeframe1h:  3600,
				domain.Timeframe1d:  21600,
			},
			StalenessSecs: map[domain.Timeframe]int{
				domain.Timeframe1m:  60,
				domain.Timeframe5m:  300,
				domain.Timeframe15m: 900,
				domain.Timeframe1h:  3600,
				domain.Timeframe1d:  86400,
			},
			LookbackDays: map[domain.Timeframe]int{
				domain.Timeframe1m:  2,
				domain.Timeframe5m:  10,
				domain.Timeframe15m: 30,
				domain.Timeframe1h:  90,
				domain.Timeframe1d:  730,
			},
			AllowStaleDuringRefresh: false,
			RefreshTimeoutSecs:      30,
		},
		Scanner: ScannerConfig{
			TopN:          10,
			MaxWorkers:    8,
			BudgetSecs:    60,
			RankBy:        RankByScore,
			MinConfidence: 0.55,
			MinAbsScore:   0.35,
		},
	}
}

// LoadFromFile reads a YAML config file, layering it over the defaults,
// and validates the result.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	sum := c.Weights.Trend + c.Weights.Momentum + c.Weights.Reversal
	if math.Abs(sum-1.0) > WeightSumTolerance {
		return fmt.Errorf("weights sum to %.12f, expected 1.0 ± %g", sum, WeightSumTolerance)
	}
	for name, w := range c.Weights.Map() {
		if w < 0 {
			return fmt.Errorf("weight %s is negative: %f", name, w)
		}
	}

	if c.Classifier.Buy <= 0 || c.Classifier.Sell <= 0 {
		return fmt.Errorf("classifier thresholds must be positive, got buy=%f sell=%f",
			c.Classifier.Buy, c.Classifier.Sell)
	}

	n := c.Normalizer
	if n.ADXTrendMin < 0 {
		return fmt.Errorf("adx_trend_min must be non-negative, got %f", n.ADXTrendMin)
	}
	if n.RSIZNotOverbought > n.RSIZOverbought {
		return fmt.Errorf("rsi_z_not_overbought (%f) above rsi_z_overbought (%f)",
			n.RSIZNotOverbought, n.RSIZOverbought)
	}
	if !(n.BBExtremeLow <= n.BBMidlineLow && n.BBMidlineLow <= n.BBMidlineHigh && n.BBMidlineHigh <= n.BBExtremeHigh) {
		return fmt.Errorf("bollinger bands out of order: extreme_low=%f midline=[%f,%f] extreme_high=%f",
			n.BBExtremeLow, n.BBMidlineLow, n.BBMidlineHigh, n.BBExtremeHigh)
	}
	if n.KDJLow > n.KDJHigh {
		return fmt.Errorf("kdj_low (%f) above kdj_high (%f)", n.KDJLow, n.KDJHigh)
	}

	if c.Planner.StopATRMult <= 0 {
		return fmt.Errorf("stop_atr_mult must be positive, got %f", c.Planner.StopATRMult)
	}
	if c.Planner.TargetATRMult <= 0 {
		return fmt.Errorf("target_atr_mult must be positive, got %f", c.Planner.TargetATRMult)
	}

	if c.Scanner.TopN < 1 {
		return fmt.Errorf("scanner top_n must be at least 1, got %d", c.Scanner.TopN)
	}
	if c.Scanner.MaxWorkers < 1 {
		return fmt.Errorf("scanner max_workers must be at least 1, got %d", c.Scanner.MaxWorkers)
	}
	if c.Scanner.BudgetSecs <= 0 {
		return fmt.Errorf("scanner budget_secs must be positive, got %d", c.Scanner.BudgetSecs)
	}
	switch c.Scanner.RankBy {
	case RankByScore, RankByConfidence:
	default:
		return fmt.Errorf("scanner rank_by must be %q or %q, got %q",
			RankByScore, RankByConfidence, c.Scanner.RankBy)
	}
	if c.Scanner.MinConfidence < 0 || c.Scanner.MinConfidence > 1 {
		return fmt.Errorf("scanner min_confidence must be in [0,1], got %f", c.Scanner.MinConfidence)
	}

	if c.Cache.RefreshTimeoutSecs <= 0 {
		return fmt.Errorf("cache refresh_timeout_secs must be positive, got %d", c.Cache.RefreshTimeoutSecs)
	}
	for tf, secs := range c.Cache.TTLSecs {
		if secs <= 0 {
			return fmt.Errorf("cache ttl_secs for %s must be positive, got %d", tf, secs)
		}
	}
	for tf, secs := range c.Cache.StalenessSecs {
		if secs <= 0 {
			return fmt.Errorf("cache staleness_secs for %s must be positive, got %d", tf, secs)
		}
	}

	return nil
}
