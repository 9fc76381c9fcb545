// Package engine turns a price series into an explainable trade decision:
// indicator sub-scores, a weighted composite, an action with confidence,
// and price levels. Stages run strictly in the order series gate →
// normalizer → scorer → classifier → planner.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketwise/signalrun/internal/config"
	"github.com/marketwise/signalrun/internal/domain"
	"github.com/marketwise/signalrun/internal/metrics"
)

// SeriesSource supplies the time-ordered bar series for a key. The stale
// flag is set when the source fell back to cached data after a refresh
// failure. Implemented by the cache gate.
type SeriesSource interface {
	Series(ctx context.Context, ticker string, tf domain.Timeframe) (bars []domain.PriceBar, stale bool, err error)
}

// ComputeFunc computes an indicator snapshot from a bar series. Assumed
// deterministic and pure.
type ComputeFunc func(bars []domain.PriceBar) (domain.IndicatorSnapshot, error)

// Engine evaluates tickers. Safe for concurrent use; all mutable state
// lives behind the series source.
type Engine struct {
	cfg     config.Config
	source  SeriesSource
	compute ComputeFunc
	norm    *Normalizer
	planner *Planner
	metrics *metrics.Metrics
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithMetrics attaches prometheus collectors to the engine.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an engine. The config must already be validated.
func New(cfg config.Config, source SeriesSource, compute ComputeFunc, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		source:  source,
		compute: compute,
		norm:    NewNormalizer(cfg.Normalizer),
		planner: NewPlanner(cfg.Planner),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate scores one ticker on one timeframe and returns an immutable
// decision. Evaluating twice within the TTL window without new bars
// produces identical output: the decision is a pure function of the
// cached series.
func (e *Engine) Evaluate(ctx context.Context, ticker string, tf domain.Timeframe) (*domain.Decision, error) {
	started := time.Now()
	ticker = domain.NormalizeTicker(ticker)
	if ticker == "" {
		return nil, fmt.Errorf("ticker is required")
	}

	bars, stale, err := e.source.Series(ctx, ticker, tf)
	if err != nil {
		return nil, fmt.Errorf("series for %s %s: %w", ticker, tf, err)
	}

	snap, err := e.compute(bars)
	if err != nil {
		return nil, fmt.Errorf("indicators for %s %s: %w", ticker, tf, err)
	}

	subScores, failures := e.norm.SubScores(snap)
	if len(subScores) == 0 {
		return nil, fmt.Errorf("no sub-score computable for %s %s: %w", ticker, tf, firstFailure(failures))
	}

	score, err := Compose(subScores, e.cfg.Weights.Map())
	if err != nil {
		return nil, fmt.Errorf("composite score for %s %s: %w", ticker, tf, err)
	}

	action, confidence := Classify(score, e.cfg.Classifier)

	plan, planErr := e.planner.Build(action, snap)
	if planErr != nil {
		// Degenerate levels kill the plan, never the decision.
		log.Debug().Str("ticker", ticker).Str("timeframe", string(tf)).
			Err(planErr).Msg("trade plan dropped")
		plan = nil
	}

	decision := &domain.Decision{
		Ticker:         ticker,
		Timeframe:      tf,
		AsOf:           snap.Timestamp,
		Action:         action,
		Confidence:     confidence,
		Score:          score,
		Parts:          subScores,
		Plan:           plan,
		Rationale:      buildRationale(action, score, snap, failures, stale, planErr),
		RiskNotes:      buildRiskNotes(action, subScores, snap),
		ReferencePrice: zeroIfMissing(snap.Close),
		ATR:            zeroIfMissing(snap.ATR),
		Stale:          stale,
	}

	if e.metrics != nil {
		e.metrics.ObserveEvaluate(string(action), time.Since(started))
	}
	log.Debug().Str("ticker", ticker).Str("timeframe", string(tf)).
		Str("action", string(action)).Float64("score", score).
		Float64("confidence", confidence).Bool("stale", stale).
		Msg("decision computed")

	return decision, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() config.Config {
	return e.cfg
}

func buildRationale(
	action domain.Action,
	score float64,
	snap domain.IndicatorSnapshot,
	failures map[string]error,
	stale bool,
	planErr error,
) []string {
	var reasons []string

	if domain.Has(snap.EMA20) && domain.Has(snap.EMA50) && domain.Has(snap.EMA200) {
		if snap.EMA20 > snap.EMA50 && snap.EMA50 > snap.EMA200 {
			reasons = append(reasons, "EMAs stacked bullishly (20>50>200)")
		} else if snap.EMA20 < snap.EMA50 && snap.EMA50 < snap.EMA200 {
			reasons = append(reasons, "EMAs stacked bearishly (20<50<200)")
		}
	}

	if domain.Has(snap.ADX) {
		if snap.ADX >= 25 {
			reasons = append(reasons, fmt.Sprintf("ADX %.1f confirms trend strength", snap.ADX))
		} else if snap.ADX <= 18 {
			reasons = append(reasons, fmt.Sprintf("ADX %.1f shows a weak trend", snap.ADX))
		}
	}

	switch snap.MACDCross {
	case domain.CrossBullish:
		reasons = append(reasons, "MACD crossed up, momentum building")
	case domain.CrossBearish:
		reasons = append(reasons, "MACD crossed down, momentum fading")
	}

	if domain.Has(snap.RSI) {
		reasons = append(reasons, fmt.Sprintf("RSI at %.1f", snap.RSI))
	}
	if domain.Has(snap.BBPosition) {
		reasons = append(reasons, fmt.Sprintf("price at %.2f of the Bollinger band", snap.BBPosition))
	}

	// Name sub-scores that could not be computed; their weight was
	// redistributed.
	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		reasons = append(reasons, fmt.Sprintf("%s signal unavailable, weight redistributed", name))
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "signals are neutral, stand aside or size small")
	}

	if action == domain.ActionHold && score > -0.1 {
		reasons = append([]string{"composite signal has no clear direction yet"}, reasons...)
	}
	if stale {
		reasons = append(reasons, "data source unavailable, decision based on last cached series")
	}
	if planErr != nil {
		reasons = append(reasons, "no trade plan: ATR is zero or unavailable")
	}

	return reasons
}

func buildRiskNotes(action domain.Action, subScores map[string]float64, snap domain.IndicatorSnapshot) []string {
	var risks []string

	if domain.Has(snap.RSI) {
		if snap.RSI > 70 {
			risks = append(risks, "RSI overbought, pullback risk")
		} else if snap.RSI < 30 {
			risks = append(risks, "RSI oversold, bounce risk")
		}
	}

	if domain.Has(snap.BBPosition) {
		if snap.BBPosition > 0.95 {
			risks = append(risks, "price pressed against the upper Bollinger band")
		} else if snap.BBPosition < 0.1 {
			risks = append(risks, "price near the lower Bollinger band, downside can accelerate")
		}
	}

	if domain.Has(snap.KDJJ) && snap.KDJJ > 110 {
		risks = append(risks, "KDJ J extremely high, momentum overextended")
	}

	if trend, ok := subScores[domain.SubScoreTrend]; ok {
		if action == domain.ActionBuy && trend < 0 {
			risks = append(risks, "buying against a bearish EMA stack, cut losses quickly")
		}
		if action == domain.ActionSell && trend > 0 {
			risks = append(risks, "shorting against a bullish EMA stack, keep the stop tight")
		}
	}

	return risks
}

func firstFailure(failures map[string]error) error {
	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return domain.ErrInsufficientData
	}
	return failures[names[0]]
}

func zeroIfMissing(v float64) float64 {
	if !domain.Has(v) {
		return 0
	}
	return v
}
