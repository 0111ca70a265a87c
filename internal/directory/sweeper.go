package directory

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Sweeper periodically runs a full clean of the directory. It is the only
// timer-driven expiry; lookups and announcements still expire lazily.
type Sweeper struct {
	dir     *Directory
	metrics *Metrics
	every   time.Duration
	clock   clock.Clock
	log     zerolog.Logger

	quit     chan struct{}
	stopOnce sync.Once
}

// NewSweeper returns a sweeper firing every interval. clk may be nil.
func NewSweeper(dir *Directory, metrics *Metrics, every time.Duration, clk clock.Clock, logger zerolog.Logger) *Sweeper {
	if clk == nil {
		clk = clock.New()
	}
	return &Sweeper{
		dir:     dir,
		metrics: metrics,
		every:   every,
		clock:   clk,
		log:     logger,
		quit:    make(chan struct{}),
	}
}

// Run blocks until ctx is done or Close is called.
func (s *Sweeper) Run(ctx context.Context) {
	if s.every <= 0 {
		return
	}
	ticker := s.clock.Ticker(s.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case <-ticker.C:
			before, after := s.dir.Sweep()
			if s.metrics != nil {
				s.metrics.Sweeps.Inc()
			}
			if before != after {
				s.log.Debug().Int("buckets_before", before).Int("buckets_after", after).Msg("sweep")
			}
		}
	}
}

// Close stops Run.
func (s *Sweeper) Close() {
	s.stopOnce.Do(func() { close(s.quit) })
}
