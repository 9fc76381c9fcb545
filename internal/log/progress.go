// Package log carries shared logging helpers for long-running batch work.
package log

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Progress reports batch completion at a bounded rate so a large scan
// logs a handful of lines instead of one per ticker.
type Progress struct {
	mu       sync.Mutex
	name     string
	total    int
	done     int
	failed   int
	started  time.Time
	lastLog  time.Time
	interval time.Duration
}

// NewProgress creates a reporter for a batch of the given size.
func NewProgress(name string, total int) *Progress {
	return &Progress{
		name:     name,
		total:    total,
		started:  time.Now(),
		lastLog:  time.Now(),
		interval: 2 * time.Second,
	}
}

// Step records one finished unit and logs at most every interval.
func (p *Progress) Step(failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	if failed {
		p.failed++
	}

	if time.Since(p.lastLog) < p.interval && p.done < p.total {
		return
	}
	p.lastLog = time.Now()

	log.Info().Str("batch", p.name).
		Int("done", p.done).Int("total", p.total).Int("failed", p.failed).
		Dur("elapsed", time.Since(p.started)).
		Msg("batch progress")
}

// Done returns how many units completed so far.
func (p *Progress) Done() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}
