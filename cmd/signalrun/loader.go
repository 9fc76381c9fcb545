package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/marketwise/signalrun/internal/data"
	"github.com/marketwise/signalrun/internal/domain"
)

// csvFetch adapts local CSV files as the fetch collaborator so the CLI
// works without a live data source. Files are named
// <TICKER>_<timeframe>.csv with a header row and columns
// timestamp,open,high,low,close,volume (RFC 3339 timestamps).
func csvFetch(dir string) data.FetchFunc {
	return func(_ context.Context, ticker string, tf domain.Timeframe, since time.Time) ([]domain.PriceBar, error) {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.csv", domain.NormalizeTicker(ticker), tf))
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open bars file: %w", err)
		}
		defer f.Close()

		rows, err := csv.NewReader(f).ReadAll()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if len(rows) < 2 {
			return nil, fmt.Errorf("%s has no bar rows", path)
		}

		bars := make([]domain.PriceBar, 0, len(rows)-1)
		for i, row := range rows[1:] {
			bar, err := parseBar(row)
			if err != nil {
				return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
			}
			if bar.Timestamp.Before(since) {
				continue
			}
			bars = append(bars, bar)
		}
		return bars, nil
	}
}

func parseBar(row []string) (domain.PriceBar, error) {
	if len(row) < 6 {
		return domain.PriceBar{}, fmt.Errorf("expected 6 columns, got %d", len(row))
	}

	ts, err := time.Parse(time.RFC3339, row[0])
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("bad timestamp %q: %w", row[0], err)
	}

	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return domain.PriceBar{}, fmt.Errorf("bad number %q: %w", row[i+1], err)
		}
		vals[i] = v
	}

	return domain.PriceBar{
		Timestamp: ts.UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}
