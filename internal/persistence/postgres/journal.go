// Package postgres persists decisions and scan runs to a journal table.
// This is collaborator glue: the engine never writes here itself; the
// scheduler and CLI own when a result is worth keeping.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/marketwise/signalrun/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id              BIGSERIAL PRIMARY KEY,
	ticker          TEXT        NOT NULL,
	timeframe       TEXT        NOT NULL,
	as_of           TIMESTAMPTZ NOT NULL,
	action          TEXT        NOT NULL,
	score           DOUBLE PRECISION NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	stale           BOOLEAN     NOT NULL,
	payload         JSONB       NOT NULL,
	recorded_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_decisions_key
	ON decisions (ticker, timeframe, as_of DESC);

CREATE TABLE IF NOT EXISTS scan_runs (
	run_id          TEXT        PRIMARY KEY,
	generated_at    TIMESTAMPTZ NOT NULL,
	timeframe       TEXT        NOT NULL,
	direction       TEXT        NOT NULL,
	candidates      INT         NOT NULL,
	failed          INT         NOT NULL,
	partial         BOOLEAN     NOT NULL,
	elapsed_ms      BIGINT      NOT NULL,
	payload         JSONB       NOT NULL
);
`

// Journal writes decisions and scan reports to postgres.
type Journal struct {
	db *sqlx.DB
}

// Open connects to postgres and ensures the journal schema exists.
func Open(ctx context.Context, dsn string) (*Journal, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	j := &Journal{db: db}
	if err := j.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// NewJournal wraps an existing connection, for tests.
func NewJournal(db *sqlx.DB) *Journal {
	return &Journal{db: db}
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) ensureSchema(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}

// SaveDecision appends one decision to the journal.
func (j *Journal) SaveDecision(ctx context.Context, d *domain.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}

	const q = `
		INSERT INTO decisions (ticker, timeframe, as_of, action, score, confidence, stale, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := j.db.ExecContext(ctx, q,
		d.Ticker, string(d.Timeframe), d.AsOf, string(d.Action),
		d.Score, d.Confidence, d.Stale, payload); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// SaveScanRun appends one scan report to the journal.
func (j *Journal) SaveScanRun(ctx context.Context, report *domain.ScanReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal scan report: %w", err)
	}

	const q = `
		INSERT INTO scan_runs (run_id, generated_at, timeframe, direction, candidates, failed, partial, elapsed_ms, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO NOTHING`
	if _, err := j.db.ExecContext(ctx, q,
		report.RunID, report.GeneratedAt, string(report.Timeframe), string(report.Direction),
		len(report.Candidates), len(report.Failed), report.Partial,
		report.Elapsed.Milliseconds(), payload); err != nil {
		return fmt.Errorf("insert scan run: %w", err)
	}
	return nil
}

// DecisionRow is one journalled decision header.
type DecisionRow struct {
	Ticker     string    `db:"ticker"`
	Timeframe  string    `db:"timeframe"`
	AsOf       time.Time `db:"as_of"`
	Action     string    `db:"action"`
	Score      float64   `db:"score"`
	Confidence float64   `db:"confidence"`
	Stale      bool      `db:"stale"`
	RecordedAt time.Time `db:"recorded_at"`
}

// RecentDecisions returns the newest journalled decisions for a key.
func (j *Journal) RecentDecisions(ctx context.Context, ticker string, tf domain.Timeframe, limit int) ([]DecisionRow, error) {
	const q = `
		SELECT ticker, timeframe, as_of, action, score, confidence, stale, recorded_at
		FROM decisions
		WHERE ticker = $1 AND timeframe = $2
		ORDER BY as_of DESC
		LIMIT $3`

	var rows []DecisionRow
	if err := j.db.SelectContext(ctx, &rows, q, domain.NormalizeTicker(ticker), string(tf), limit); err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	log.Debug().Str("ticker", ticker).Int("rows", len(rows)).Msg("journal read")
	return rows, nil
}
