package data

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketwise/signalrun/internal/config"
	"github.com/marketwise/signalrun/internal/domain"
)

// fakeClock is a settable time source safe for use from the detached
// refresh goroutine.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testEpoch = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func barAt(ts time.Time, close float64) domain.PriceBar {
	return domain.PriceBar{
		Timestamp: ts,
		Open:      close,
		High:      close + 1,
		Low:       close - 1,
		Close:     close,
		Volume:    1000,
	}
}

// dailyBars builds n strictly ordered daily bars ending at the epoch.
func dailyBars(n int) []domain.PriceBar {
	bars := make([]domain.PriceBar, 0, n)
	for i := 0; i < n; i++ {
		ts := testEpoch.Add(-time.Duration(n-1-i) * 24 * time.Hour)
		bars = append(bars, barAt(ts, 100+float64(i)))
	}
	return bars
}

func testCacheConfig() config.CacheConfig {
	return config.CacheConfig{
		TTLSecs:            map[domain.Timeframe]int{domain.Timeframe1d: 21600},
		StalenessSecs:      map[domain.Timeframe]int{domain.Timeframe1d: 86400},
		LookbackDays:       map[domain.Timeframe]int{domain.Timeframe1d: 730},
		RefreshTimeoutSecs: 5,
	}
}

func countingFetch(bars []domain.PriceBar, calls *int32) FetchFunc {
	return func(_ context.Context, _ string, _ domain.Timeframe, since time.Time) ([]domain.PriceBar, error) {
		atomic.AddInt32(calls, 1)
		out := make([]domain.PriceBar, 0, len(bars))
		for _, b := range bars {
			if !b.Timestamp.Before(since) {
				out = append(out, b)
			}
		}
		return out, nil
	}
}

func TestSeriesColdFetchesFullLookback(t *testing.T) {
	clock := newFakeClock(testEpoch)
	var calls int32
	var gotSince time.Time
	fetch := func(_ context.Context, ticker string, tf domain.Timeframe, since time.Time) ([]domain.PriceBar, error) {
		atomic.AddInt32(&calls, 1)
		gotSince = since
		assert.Equal(t, "AAPL", ticker)
		assert.Equal(t, domain.Timeframe1d, tf)
		return dailyBars(40), nil
	}
	g := NewGate(testCacheConfig(), fetch, WithClock(clock.Now))

	assert.Equal(t, StaleFull, g.State("AAPL", domain.Timeframe1d))

	bars, stale, err := g.Series(context.Background(), "aapl", domain.Timeframe1d)
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Len(t, bars, 40)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, testEpoch.Add(-730*24*time.Hour), gotSince)
	assert.Equal(t, Fresh, g.State("AAPL", domain.Timeframe1d))
}

func TestSeriesFreshHitSkipsFetch(t *testing.T) {
	clock := newFakeClock(testEpoch)
	var calls int32
	g := NewGate(testCacheConfig(), countingFetch(dailyBars(40), &calls), WithClock(clock.Now))

	_, _, err := g.Series(context.Background(), "AAPL", domain.Timeframe1d)
	require.NoError(t, err)

	bars, stale, err := g.Series(context.Background(), "AAPL", domain.Timeframe1d)
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Len(t, bars, 40)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "fresh hit must not fetch")
}

func TestSeriesPartialRefreshReplacesFormingBar(t *testing.T) {
	clock := newFakeClock(testEpoch)
	cached := dailyBars(40)
	last := cached[len(cached)-1]

	var sinces []time.Time
	fetch := func(_ context.Context, _ string, _ domain.Timeframe, since time.Time) ([]domain.PriceBar, error) {
		sinces = append(sinces, since)
		if len(sinces) == 1 {
			return cached, nil
		}
		// Tail backfill: the last bar re-fetched with its final close,
		// plus one new bar.
		finished := barAt(last.Timestamp, last.Close+5)
		next := barAt(last.Timestamp.Add(24*time.Hour), last.Close+6)
		return []domain.PriceBar{finished, next}, nil
	}
	g := NewGate(testCacheConfig(), fetch, WithClock(clock.Now))

	_, _, err := g.Series(context.Background(), "AAPL", domain.Timeframe1d)
	require.NoError(t, err)

	clock.Advance(30 * time.Hour) // past the 24h staleness bound
	assert.Equal(t, StalePartial, g.State("AAPL", domain.Timeframe1d))

	bars, stale, err := g.Series(context.Background(), "AAPL", domain.Timeframe1d)
	require.NoError(t, err)
	assert.False(t, stale)

	require.Len(t, sinces, 2)
	assert.Equal(t, last.Timestamp, sinces[1], "partial refresh starts at the last bar inclusive")

	require.Len(t, bars, 41)
	assert.Equal(t, last.Close+5, bars[39].Close, "forming bar replaced by its finished version")
	assert.Equal(t, last.Close+6, bars[40].Close)
}

func TestSeriesSingleFlight(t *testing.T) {
	clock := newFakeClock(testEpoch)
	release := make(chan struct{})
	var calls int32
	fetch := func(_ context.Context, _ string, _ domain.Timeframe, _ time.Time) ([]domain.PriceBar, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return dailyBars(40), nil
	}
	g := NewGate(testCacheConfig(), fetch, WithClock(clock.Now))

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	lens := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bars, _, err := g.Series(context.Background(), "AAPL", domain.Timeframe1d)
			errs[i] = err
			lens[i] = len(bars)
		}(i)
	}

	time.Sleep(50 * time.Millisecond) // let every caller reach the wait
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "one refresh serves all concurrent callers")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 40, lens[i])
	}
}

func TestSeriesRefreshFailureFallsBackToCache(t *testing.T) {
	clock := newFakeClock(testEpoch)
	var calls int32
	fetch := func(_ context.Context, _ string, _ domain.Timeframe, _ time.Time) ([]domain.PriceBar, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return dailyBars(40), nil
		}
		return nil, errors.New("upstream 503")
	}
	g := NewGate(testCacheConfig(), fetch, WithClock(clock.Now))

	_, _, err := g.Series(context.Background(), "AAPL", domain.Timeframe1d)
	require.NoError(t, err)

	clock.Advance(30 * time.Hour)

	bars, stale, err := g.Series(context.Background(), "AAPL", domain.Timeframe1d)
	require.NoError(t, err)
	assert.True(t, stale, "failed refresh serves the last cached series flagged stale")
	assert.Len(t, bars, 40)
}

func TestSeriesRefreshFailureWithoutCacheFails(t *testing.T) {
	clock := newFakeClock(testEpoch)
	fetch := func(_ context.Context, _ string, _ domain.Timeframe, _ time.Time) ([]domain.PriceBar, error) {
		return nil, errors.New("upstream 503")
	}
	g := NewGate(testCacheConfig(), fetch, WithClock(clock.Now))

	_, _, err := g.Series(context.Background(), "AAPL", domain.Timeframe1d)
	assert.ErrorIs(t, err, domain.ErrNoDataAvailable)
}

func TestSeriesAllowStaleDuringRefresh(t *testing.T) {
	clock := newFakeClock(testEpoch)
	release := make(chan struct{})
	var calls int32
	fetch := func(_ context.Context, _ string, _ domain.Timeframe, _ time.Time) ([]domain.PriceBar, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return dailyBars(40), nil
		}
		<-release
		return dailyBars(41), nil
	}
	cfg := testCacheConfig()
	cfg.AllowStaleDuringRefresh = true
	g := NewGate(cfg, fetch, WithClock(clock.Now))

	_, _, err := g.Series(context.Background(), "AAPL", domain.Timeframe1d)
	require.NoError(t, err)

	clock.Advance(30 * time.Hour)

	// The refresh is now in flight but the caller gets the old snapshot
	// immediately instead of waiting on it.
	bars, stale, err := g.Series(context.Background(), "AAPL", domain.Timeframe1d)
	require.NoError(t, err)
	assert.True(t, stale)
	assert.Len(t, bars, 40)

	close(release)
}

func TestSeriesCallerTimeoutDoesNotCorruptEntry(t *testing.T) {
	clock := newFakeClock(testEpoch)
	release := make(chan struct{})
	fetch := func(_ context.Context, _ string, _ domain.Timeframe, _ time.Time) ([]domain.PriceBar, error) {
		<-release
		return dailyBars(40), nil
	}
	g := NewGate(testCacheConfig(), fetch, WithClock(clock.Now))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := g.Series(ctx, "AAPL", domain.Timeframe1d)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned refresh still completes and lands in the cache.
	close(release)
	require.Eventually(t, func() bool {
		return g.State("AAPL", domain.Timeframe1d) == Fresh
	}, time.Second, 10*time.Millisecond)

	bars, stale, err := g.Series(context.Background(), "AAPL", domain.Timeframe1d)
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Len(t, bars, 40)
}

func TestSeriesRejectsUnorderedFetch(t *testing.T) {
	clock := newFakeClock(testEpoch)
	bars := dailyBars(3)
	bars[1], bars[2] = bars[2], bars[1]
	fetch := func(_ context.Context, _ string, _ domain.Timeframe, _ time.Time) ([]domain.PriceBar, error) {
		return bars, nil
	}
	g := NewGate(testCacheConfig(), fetch, WithClock(clock.Now))

	_, _, err := g.Series(context.Background(), "AAPL", domain.Timeframe1d)
	assert.ErrorIs(t, err, domain.ErrNoDataAvailable)
}

func TestSeriesKeysAreIndependent(t *testing.T) {
	clock := newFakeClock(testEpoch)
	var calls int32
	g := NewGate(testCacheConfig(), countingFetch(dailyBars(40), &calls), WithClock(clock.Now))

	for _, ticker := range []string{"AAPL", "MSFT", "AAPL"} {
		_, _, err := g.Series(context.Background(), ticker, domain.Timeframe1d)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "one cold fetch per key")
}

func TestSeriesReturnsDefensiveCopy(t *testing.T) {
	clock := newFakeClock(testEpoch)
	var calls int32
	g := NewGate(testCacheConfig(), countingFetch(dailyBars(5), &calls), WithClock(clock.Now))

	first, _, err := g.Series(context.Background(), "AAPL", domain.Timeframe1d)
	require.NoError(t, err)
	first[0].Close = -1

	second, _, err := g.Series(context.Background(), "AAPL", domain.Timeframe1d)
	require.NoError(t, err)
	assert.NotEqual(t, -1.0, second[0].Close, "callers cannot mutate the cached series")
}

func TestMergeBarsFetchedWinsOnCollision(t *testing.T) {
	cached := dailyBars(3)
	finished := barAt(cached[2].Timestamp, 999)

	merged := mergeBars(cached, []domain.PriceBar{finished})
	require.Len(t, merged, 3)
	assert.Equal(t, 999.0, merged[2].Close)
	for i := 1; i < len(merged); i++ {
		assert.True(t, merged[i].Timestamp.After(merged[i-1].Timestamp))
	}
}

func TestValidateSeries(t *testing.T) {
	assert.NoError(t, validateSeries(nil))
	assert.NoError(t, validateSeries(dailyBars(5)))

	dup := dailyBars(3)
	dup[2].Timestamp = dup[1].Timestamp
	err := validateSeries(dup)
	assert.EqualError(t, err, fmt.Sprintf("bars out of order at index %d", 2))
}
