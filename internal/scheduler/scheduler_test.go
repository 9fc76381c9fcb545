package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketwise/signalrun/internal/config"
	"github.com/marketwise/signalrun/internal/domain"
	"github.com/marketwise/signalrun/internal/scan"
)

type fixedEvaluator struct{}

func (fixedEvaluator) Evaluate(_ context.Context, ticker string, tf domain.Timeframe) (*domain.Decision, error) {
	return &domain.Decision{
		Ticker:     domain.NormalizeTicker(ticker),
		Timeframe:  tf,
		Action:     domain.ActionBuy,
		Score:      0.84,
		Confidence: 0.84,
		Rationale:  []string{"fixture"},
	}, nil
}

type recordingSink struct {
	mu      sync.Mutex
	reports []*domain.ScanReport
}

func (s *recordingSink) SaveScanRun(_ context.Context, report *domain.ScanReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func TestRunOnceJournalsReport(t *testing.T) {
	scanner := scan.New(config.Default().Scanner, fixedEvaluator{})
	sink := &recordingSink{}
	s := New(scanner, []string{"AAPL", "MSFT"}, domain.Timeframe1d, domain.DirectionLong,
		time.Second, WithSink(sink))

	s.RunOnce()

	require.Equal(t, 1, sink.count())
	report := sink.reports[0]
	assert.Equal(t, domain.Timeframe1d, report.Timeframe)
	assert.Len(t, report.Candidates, 2)
	assert.False(t, report.Partial)
}

func TestRunOnceSkipsEmptyUniverse(t *testing.T) {
	scanner := scan.New(config.Default().Scanner, fixedEvaluator{})
	sink := &recordingSink{}
	s := New(scanner, nil, domain.Timeframe1d, domain.DirectionLong, time.Second, WithSink(sink))

	s.RunOnce()

	assert.Zero(t, sink.count())
}

func TestStartRejectsBadCronSpec(t *testing.T) {
	scanner := scan.New(config.Default().Scanner, fixedEvaluator{})
	s := New(scanner, []string{"AAPL"}, domain.Timeframe1d, domain.DirectionAll, time.Second)

	err := s.Start("not a cron spec")
	assert.Error(t, err)
}
