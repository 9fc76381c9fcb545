package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketwise/signalrun/internal/domain"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.5, cfg.Weights.Trend)
	assert.Equal(t, 0.3, cfg.Weights.Momentum)
	assert.Equal(t, 0.2, cfg.Weights.Reversal)
	assert.Equal(t, 0.4, cfg.Classifier.Buy)
	assert.Equal(t, 10, cfg.Scanner.TopN)
	assert.Equal(t, RankByScore, cfg.Scanner.RankBy)
}

func TestValidateRejectsNonNormalizedWeights(t *testing.T) {
	cfg := Default()
	cfg.Weights = Weights{Trend: 0.5, Momentum: 0.3, Reversal: 0.3}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights sum")
}

func TestValidateWeightSumTolerance(t *testing.T) {
	// Drift inside the tolerance window is accepted.
	cfg := Default()
	cfg.Weights = Weights{Trend: 0.5, Momentum: 0.3, Reversal: 0.2 + 5e-10}
	assert.NoError(t, cfg.Validate())

	cfg.Weights.Reversal = 0.2 + 1e-6
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNegativeWeight(t *testing.T) {
	cfg := Default()
	cfg.Weights = Weights{Trend: 1.2, Momentum: -0.4, Reversal: 0.2}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadRankBy(t *testing.T) {
	cfg := Default()
	cfg.Scanner.RankBy = "alphabetical"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rank_by")
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero buy threshold", func(c *Config) { c.Classifier.Buy = 0 }},
		{"negative sell threshold", func(c *Config) { c.Classifier.Sell = -0.4 }},
		{"zero stop mult", func(c *Config) { c.Planner.StopATRMult = 0 }},
		{"zero top_n", func(c *Config) { c.Scanner.TopN = 0 }},
		{"zero workers", func(c *Config) { c.Scanner.MaxWorkers = 0 }},
		{"zero budget", func(c *Config) { c.Scanner.BudgetSecs = 0 }},
		{"inverted rsi z", func(c *Config) { c.Normalizer.RSIZNotOverbought = 3.0 }},
		{"inverted bollinger bands", func(c *Config) { c.Normalizer.BBMidlineLow = 0.95 }},
		{"inverted kdj", func(c *Config) { c.Normalizer.KDJLow = 120 }},
		{"bad ttl", func(c *Config) { c.Cache.TTLSecs[domain.Timeframe1d] = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFileLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signalrun.yaml")
	data := []byte(`
weights:
  trend: 0.6
  momentum: 0.25
  reversal: 0.15
scanner:
  top_n: 5
  rank_by: confidence
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 0.6, cfg.Weights.Trend)
	assert.Equal(t, 5, cfg.Scanner.TopN)
	assert.Equal(t, RankByConfidence, cfg.Scanner.RankBy)
	// Untouched sections keep defaults.
	assert.Equal(t, 0.4, cfg.Classifier.Buy)
	assert.Equal(t, time.Minute, cfg.Cache.StalenessFor(domain.Timeframe1m))
}

func TestLoadFromFileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signalrun.yaml")
	data := []byte(`
weights:
  trend: 0.9
  momentum: 0.3
  reversal: 0.2
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights sum")
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestCacheDurationFallbacks(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTLFor(domain.Timeframe("1w")))
	assert.Equal(t, 24*time.Hour, cfg.Cache.StalenessFor(domain.Timeframe("1w")))
	assert.Equal(t, 365*24*time.Hour, cfg.Cache.LookbackFor(domain.Timeframe("1w")))
	assert.Equal(t, 6*time.Hour, cfg.Cache.TTLFor(domain.Timeframe1d))
}
