// Package scan fans the evaluation pipeline out over a ticker universe
// under a wall-clock budget and ranks the survivors.
package scan

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/marketwise/signalrun/internal/config"
	"github.com/marketwise/signalrun/internal/domain"
	sclog "github.com/marketwise/signalrun/internal/log"
	"github.com/marketwise/signalrun/internal/metrics"
)

// Evaluator runs the per-ticker pipeline. Implemented by engine.Engine.
type Evaluator interface {
	Evaluate(ctx context.Context, ticker string, tf domain.Timeframe) (*domain.Decision, error)
}

// Scanner runs batch scans with bounded parallelism. Ticker pipelines
// share no mutable state; results come back tagged with their ticker, not
// correlated by completion order.
type Scanner struct {
	cfg     config.ScannerConfig
	eval    Evaluator
	metrics *metrics.Metrics
}

// Option configures optional scanner collaborators.
type Option func(*Scanner)

// WithMetrics attaches prometheus collectors to the scanner.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) { s.metrics = m }
}

// New creates a scanner around an evaluator.
func New(cfg config.ScannerConfig, eval Evaluator, opts ...Option) *Scanner {
	s := &Scanner{cfg: cfg, eval: eval}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type tickerResult struct {
	ticker   string
	decision *domain.Decision
	err      error
}

// Scan evaluates every ticker in the pool concurrently, filters to the
// requested direction, ranks, and truncates to top-N. A single ticker's
// failure lands in the Failed list and never aborts the batch. When the
// budget expires the report carries whatever completed plus Partial=true;
// in-flight work is abandoned, not awaited.
func (s *Scanner) Scan(
	ctx context.Context,
	tickers []string,
	tf domain.Timeframe,
	direction domain.Direction,
	budget time.Duration,
) (*domain.ScanReport, error) {
	started := time.Now()
	if budget <= 0 {
		budget = s.cfg.Budget()
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	pool := dedupe(tickers)
	report := &domain.ScanReport{
		RunID:       uuid.NewString(),
		GeneratedAt: started.UTC(),
		Timeframe:   tf,
		Direction:   direction,
		Candidates:  []domain.Candidate{},
		Failed:      []domain.TickerFailure{},
	}
	if len(pool) == 0 {
		report.Elapsed = time.Since(started)
		return report, nil
	}

	log.Info().Str("run_id", report.RunID).Int("tickers", len(pool)).
		Str("timeframe", string(tf)).Str("direction", string(direction)).
		Dur("budget", budget).Msg("scan started")

	workers := s.cfg.MaxWorkers
	if workers > len(pool) {
		workers = len(pool)
	}

	jobs := make(chan string)
	results := make(chan tickerResult, len(pool))
	progress := sclog.NewProgress("scan "+report.RunID, len(pool))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ticker := range jobs {
				decision, err := s.eval.Evaluate(ctx, ticker, tf)
				progress.Step(err != nil)
				results <- tickerResult{ticker: ticker, decision: decision, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, ticker := range pool {
			select {
			case jobs <- ticker:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	collected := 0
collect:
	for {
		select {
		case res, ok := <-results:
			if !ok {
				break collect
			}
			collected++
			s.fold(report, direction, res)
		case <-ctx.Done():
			// Budget exhausted: keep what finished, abandon the rest.
			report.Partial = true
			for {
				select {
				case res, ok := <-results:
					if !ok {
						break collect
					}
					collected++
					s.fold(report, direction, res)
				default:
					break collect
				}
			}
		}
	}
	if collected < len(pool) {
		report.Partial = true
	}

	s.rank(report)
	report.Elapsed = time.Since(started)

	if s.metrics != nil {
		s.metrics.ObserveScan(report.Elapsed, report.Partial)
	}
	log.Info().Str("run_id", report.RunID).
		Int("candidates", len(report.Candidates)).Int("failed", len(report.Failed)).
		Bool("partial", report.Partial).Dur("elapsed", report.Elapsed).
		Msg("scan finished")

	return report, nil
}

// fold merges one ticker result into the report.
func (s *Scanner) fold(report *domain.ScanReport, direction domain.Direction, res tickerResult) {
	if res.err != nil {
		report.Failed = append(report.Failed, domain.TickerFailure{
			Ticker: res.ticker,
			Reason: res.err.Error(),
		})
		return
	}
	d := res.decision
	if !direction.Matches(d.Action) {
		return
	}
	if !s.qualifies(direction, d) {
		return
	}
	report.Candidates = append(report.Candidates, domain.Candidate{
		Ticker:     d.Ticker,
		Action:     d.Action,
		Score:      d.Score,
		Confidence: d.Confidence,
		Rationale:  d.Rationale,
	})
}

// qualifies applies the opportunity thresholds on top of the direction
// filter: confident enough, and for "all" also far enough from neutral.
func (s *Scanner) qualifies(direction domain.Direction, d *domain.Decision) bool {
	if d.Confidence < s.cfg.MinConfidence {
		return false
	}
	if direction == domain.DirectionAll && math.Abs(d.Score) < s.cfg.MinAbsScore {
		return false
	}
	return true
}

// rank orders candidates by the configured criterion, strongest first,
// breaking ties by ticker so output is deterministic, then truncates.
func (s *Scanner) rank(report *domain.ScanReport) {
	keyOf := func(c domain.Candidate) float64 {
		if s.cfg.RankBy == config.RankByConfidence {
			return c.Confidence
		}
		return math.Abs(c.Score)
	}
	sort.Slice(report.Candidates, func(i, j int) bool {
		ki, kj := keyOf(report.Candidates[i]), keyOf(report.Candidates[j])
		if ki != kj {
			return ki > kj
		}
		return report.Candidates[i].Ticker < report.Candidates[j].Ticker
	})
	if len(report.Candidates) > s.cfg.TopN {
		report.Candidates = report.Candidates[:s.cfg.TopN]
	}

	sort.Slice(report.Failed, func(i, j int) bool {
		return report.Failed[i].Ticker < report.Failed[j].Ticker
	})
}

// dedupe case-normalizes the pool, drops blanks and duplicates, and sorts
// so job order is deterministic.
func dedupe(tickers []string) []string {
	seen := make(map[string]struct{}, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		norm := domain.NormalizeTicker(t)
		if norm == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	sort.Strings(out)
	return out
}
