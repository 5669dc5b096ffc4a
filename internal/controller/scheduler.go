package controller

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// Scheduler paces detection cycles to the display refresh.
type Scheduler interface {
	// Wait blocks until the next refresh or until ctx is done.
	Wait(ctx context.Context) error
}

// TickScheduler fires at a fixed refresh rate. Ticks that nobody waits for
// are dropped, so a slow cycle never queues a burst of catch-up cycles.
type TickScheduler struct {
	ticker *clock.Ticker
}

// NewTickScheduler creates a scheduler ticking every interval on clk.
func NewTickScheduler(clk clock.Clock, interval time.Duration) *TickScheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &TickScheduler{ticker: clk.Ticker(interval)}
}

// RefreshInterval converts a rate in Hz to a tick period.
func RefreshInterval(hz int) time.Duration {
	if hz <= 0 {
		hz = 30
	}
	return time.Second / time.Duration(hz)
}

func (s *TickScheduler) Wait(ctx context.Context) error {
	select {
	case <-s.ticker.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop releases the ticker.
func (s *TickScheduler) Stop() {
	s.ticker.Stop()
}
