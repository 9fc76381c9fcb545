// Package scheduler runs periodic scans of a configured universe and
// publishes the results to the journal and snapshot cache collaborators.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/marketwise/signalrun/internal/data"
	"github.com/marketwise/signalrun/internal/domain"
	"github.com/marketwise/signalrun/internal/scan"
)

// ReportSink persists finished scan reports. Implemented by the postgres
// journal.
type ReportSink interface {
	SaveScanRun(ctx context.Context, report *domain.ScanReport) error
}

// Scheduler triggers scans on a cron spec.
type Scheduler struct {
	cron      *cron.Cron
	scanner   *scan.Scanner
	universe  []string
	timeframe domain.Timeframe
	direction domain.Direction
	budget    time.Duration

	sink  ReportSink
	cache *data.SnapshotCache
}

// Option configures optional scheduler collaborators.
type Option func(*Scheduler)

// WithSink journals every finished report.
func WithSink(sink ReportSink) Option {
	return func(s *Scheduler) { s.sink = sink }
}

// WithSnapshotCache publishes every finished report to Redis.
func WithSnapshotCache(cache *data.SnapshotCache) Option {
	return func(s *Scheduler) { s.cache = cache }
}

// New creates a scheduler that scans universe on the given cron spec.
func New(
	scanner *scan.Scanner,
	universe []string,
	tf domain.Timeframe,
	direction domain.Direction,
	budget time.Duration,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		cron:      cron.New(),
		scanner:   scanner,
		universe:  universe,
		timeframe: tf,
		direction: direction,
		budget:    budget,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the cron entry and begins scheduling.
func (s *Scheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return fmt.Errorf("cron spec %q: %w", spec, err)
	}
	s.cron.Start()
	log.Info().Str("spec", spec).Int("universe", len(s.universe)).
		Str("timeframe", string(s.timeframe)).Msg("scheduler started")
	return nil
}

// Stop halts scheduling and waits for a running scan to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce triggers one scheduled scan immediately, outside the cron
// cadence.
func (s *Scheduler) RunOnce() {
	s.runOnce()
}

func (s *Scheduler) runOnce() {
	if len(s.universe) == 0 {
		log.Info().Msg("scheduled scan skipped, universe is empty")
		return
	}

	ctx := context.Background()
	report, err := s.scanner.Scan(ctx, s.universe, s.timeframe, s.direction, s.budget)
	if err != nil {
		log.Error().Err(err).Msg("scheduled scan failed")
		return
	}

	if s.sink != nil {
		if err := s.sink.SaveScanRun(ctx, report); err != nil {
			log.Warn().Err(err).Str("run_id", report.RunID).Msg("failed to journal scan run")
		}
	}
	if s.cache != nil {
		if err := s.cache.PutReport(ctx, report); err != nil {
			log.Warn().Err(err).Str("run_id", report.RunID).Msg("failed to publish scan report")
		}
	}
}
