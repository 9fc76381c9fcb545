// Package data owns the mutable state between the engine and its data
// source: the freshness-aware cache gate, the guarded fetcher, and the
// optional Redis snapshot tier.
package data

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketwise/signalrun/internal/config"
	"github.com/marketwise/signalrun/internal/domain"
	"github.com/marketwise/signalrun/internal/metrics"
)

// FetchFunc backfills bars for a key from the data source, returning bars
// at or after since. Supplied by the caller's data-fetch collaborator.
type FetchFunc func(ctx context.Context, ticker string, tf domain.Timeframe, since time.Time) ([]domain.PriceBar, error)

// Freshness classifies a cache entry at read time.
type Freshness string

const (
	// Fresh means the cached series is usable as-is.
	Fresh Freshness = "fresh"
	// StalePartial means the entry exists but needs a tail backfill
	// from the last bar forward.
	StalePartial Freshness = "stale_partial"
	// StaleFull means no usable cache exists; a full lookback window
	// must be fetched.
	StaleFull Freshness = "stale_full"
)

// Gate is the freshness-aware cache gate. It holds one entry per
// (ticker, timeframe) key and guarantees at most one refresh in flight
// per key: concurrent callers for a stale key wait on the one running
// refresh and share its result (or, with AllowStaleDuringRefresh, read
// the last snapshot immediately).
//
// Refreshes run detached from caller contexts with their own timeout, so
// a caller that gives up waiting never corrupts the entry: the refresh
// completes and updates the cache for future callers.
//
// Entries use per-key locks; unrelated tickers never serialize on each
// other.
type Gate struct {
	cfg     config.CacheConfig
	fetch   FetchFunc
	now     func() time.Time
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[gateKey]*gateEntry
}

type gateKey struct {
	ticker string
	tf     domain.Timeframe
}

type gateEntry struct {
	mu        sync.Mutex
	bars      []domain.PriceBar
	fetchedAt time.Time
	inflight  *refresh
}

type refresh struct {
	done chan struct{}
	err  error // written before done is closed
}

// GateOption configures optional gate collaborators.
type GateOption func(*Gate)

// WithGateMetrics attaches prometheus collectors to the gate.
func WithGateMetrics(m *metrics.Metrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// WithClock overrides the gate's time source, for tests.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a cache gate around a fetch collaborator.
func NewGate(cfg config.CacheConfig, fetch FetchFunc, opts ...GateOption) *Gate {
	g := &Gate{
		cfg:     cfg,
		fetch:   fetch,
		now:     time.Now,
		entries: make(map[gateKey]*gateEntry),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// State reports the freshness of a key without triggering a refresh.
func (g *Gate) State(ticker string, tf domain.Timeframe) Freshness {
	e := g.entry(ticker, tf)
	e.mu.Lock()
	defer e.mu.Unlock()
	return g.freshness(e, tf)
}

// Series returns the bar series for a key, refreshing it first when it is
// stale. The stale return flag is set only on the fallback path: the
// refresh failed and the last cached series was returned instead. With no
// cache and a failed refresh the call fails with ErrNoDataAvailable.
func (g *Gate) Series(ctx context.Context, ticker string, tf domain.Timeframe) ([]domain.PriceBar, bool, error) {
	ticker = domain.NormalizeTicker(ticker)
	e := g.entry(ticker, tf)

	e.mu.Lock()
	state := g.freshness(e, tf)
	if state == Fresh {
		bars := copyBars(e.bars)
		e.mu.Unlock()
		g.observeGate(string(Fresh))
		return bars, false, nil
	}
	g.observeGate(string(state))

	if e.inflight == nil {
		e.inflight = &refresh{done: make(chan struct{})}
		go g.runRefresh(e, ticker, tf, g.refreshSince(e, tf, state))
	}
	if g.cfg.AllowStaleDuringRefresh && len(e.bars) > 0 {
		// Non-blocking policy: hand back the last snapshot instead of
		// waiting on the in-flight refresh.
		bars := copyBars(e.bars)
		e.mu.Unlock()
		return bars, true, nil
	}
	r := e.inflight
	e.mu.Unlock()

	select {
	case <-ctx.Done():
		// Abandon the wait; the detached refresh keeps running and
		// will update the entry for future callers.
		return nil, false, fmt.Errorf("awaiting refresh for %s %s: %w", ticker, tf, ctx.Err())
	case <-r.done:
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if r.err == nil {
		return copyBars(e.bars), false, nil
	}
	if len(e.bars) > 0 {
		log.Warn().Str("ticker", ticker).Str("timeframe", string(tf)).
			Err(r.err).Msg("refresh failed, serving last cached series")
		g.observeGate("stale_fallback")
		return copyBars(e.bars), true, nil
	}
	return nil, false, fmt.Errorf("%w: %s %s: %v", domain.ErrNoDataAvailable, ticker, tf, r.err)
}

// entry returns the singleton entry for a key, creating it on first use.
func (g *Gate) entry(ticker string, tf domain.Timeframe) *gateEntry {
	k := gateKey{ticker: domain.NormalizeTicker(ticker), tf: tf}
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[k]
	if !ok {
		e = &gateEntry{}
		g.entries[k] = e
	}
	return e
}

// freshness classifies an entry. Caller holds e.mu.
func (g *Gate) freshness(e *gateEntry, tf domain.Timeframe) Freshness {
	if len(e.bars) == 0 {
		return StaleFull
	}
	now := g.now()
	lastBar := e.bars[len(e.bars)-1].Timestamp
	if now.Sub(lastBar) <= g.cfg.StalenessFor(tf) && now.Sub(e.fetchedAt) <= g.cfg.TTLFor(tf) {
		return Fresh
	}
	return StalePartial
}

// refreshSince picks the fetch window. A partial refresh re-requests from
// the last bar inclusive so a still-forming bar gets replaced; a full
// refresh requests the whole lookback window. Caller holds e.mu.
func (g *Gate) refreshSince(e *gateEntry, tf domain.Timeframe, state Freshness) time.Time {
	if state == StalePartial && len(e.bars) > 0 {
		return e.bars[len(e.bars)-1].Timestamp
	}
	return g.now().Add(-g.cfg.LookbackFor(tf))
}

// runRefresh executes one detached refresh and publishes its result.
func (g *Gate) runRefresh(e *gateEntry, ticker string, tf domain.Timeframe, since time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.RefreshTimeout())
	defer cancel()

	fetched, err := g.fetch(ctx, ticker, tf, since)
	if err == nil {
		err = validateSeries(fetched)
	}

	e.mu.Lock()
	r := e.inflight
	if err != nil {
		r.err = fmt.Errorf("%w: %v", domain.ErrDataSource, err)
		if g.metrics != nil {
			g.metrics.ObserveRefresh("error")
			g.metrics.ObserveFetchFailure()
		}
	} else {
		e.bars = mergeBars(e.bars, fetched)
		e.fetchedAt = g.now()
		if g.metrics != nil {
			g.metrics.ObserveRefresh("ok")
		}
	}
	e.inflight = nil
	e.mu.Unlock()
	close(r.done)
}

func (g *Gate) observeGate(state string) {
	if g.metrics != nil {
		g.metrics.ObserveGate(state)
	}
}

// validateSeries rejects fetched series that are not strictly ordered.
func validateSeries(bars []domain.PriceBar) error {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("bars out of order at index %d", i)
		}
	}
	return nil
}

// mergeBars combines a cached series with freshly fetched bars. The
// series is append-only except on timestamp collision, where the fetched
// bar wins: the newest cached bar may have still been forming when it was
// stored.
func mergeBars(cached, fetched []domain.PriceBar) []domain.PriceBar {
	if len(cached) == 0 {
		return copyBars(fetched)
	}
	if len(fetched) == 0 {
		return cached
	}

	byTime := make(map[time.Time]domain.PriceBar, len(cached)+len(fetched))
	for _, b := range cached {
		byTime[b.Timestamp] = b
	}
	for _, b := range fetched {
		byTime[b.Timestamp] = b
	}

	merged := make([]domain.PriceBar, 0, len(byTime))
	for _, b := range byTime {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}

func copyBars(bars []domain.PriceBar) []domain.PriceBar {
	out := make([]domain.PriceBar, len(bars))
	copy(out, bars)
	return out
}
