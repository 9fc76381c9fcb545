package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/marketwise/signalrun/internal/domain"
)

// SnapshotCache is an optional shared cache tier in Redis: the latest
// decision per key and the latest scan report per (timeframe, direction),
// so sibling processes (ops dashboards, other engine instances) can read
// results without re-scoring. The in-process cache gate stays
// authoritative for bar series and single-flight; this tier only ever
// holds finished outputs.
type SnapshotCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewSnapshotCache creates a snapshot cache with the given entry TTL.
func NewSnapshotCache(client redis.Cmdable, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, ttl: ttl}
}

func decisionKey(ticker string, tf domain.Timeframe) string {
	return fmt.Sprintf("signalrun:decision:%s:%s", domain.NormalizeTicker(ticker), tf)
}

func reportKey(tf domain.Timeframe, dir domain.Direction) string {
	return fmt.Sprintf("signalrun:scan:%s:%s", tf, dir)
}

// PutDecision stores the latest decision for its key.
func (c *SnapshotCache) PutDecision(ctx context.Context, d *domain.Decision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	if err := c.client.Set(ctx, decisionKey(d.Ticker, d.Timeframe), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("store decision: %w", err)
	}
	return nil
}

// Decision returns the cached decision for a key, or ok=false on a miss.
func (c *SnapshotCache) Decision(ctx context.Context, ticker string, tf domain.Timeframe) (*domain.Decision, bool, error) {
	data, err := c.client.Get(ctx, decisionKey(ticker, tf)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load decision: %w", err)
	}

	var d domain.Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, false, fmt.Errorf("decode decision: %w", err)
	}
	return &d, true, nil
}

// PutReport stores the latest scan report for its timeframe/direction.
func (c *SnapshotCache) PutReport(ctx context.Context, report *domain.ScanReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal scan report: %w", err)
	}
	if err := c.client.Set(ctx, reportKey(report.Timeframe, report.Direction), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("store scan report: %w", err)
	}
	return nil
}

// Report returns the latest cached scan report, or ok=false on a miss.
func (c *SnapshotCache) Report(ctx context.Context, tf domain.Timeframe, dir domain.Direction) (*domain.ScanReport, bool, error) {
	data, err := c.client.Get(ctx, reportKey(tf, dir)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load scan report: %w", err)
	}

	var report domain.ScanReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, false, fmt.Errorf("decode scan report: %w", err)
	}
	return &report, true, nil
}
