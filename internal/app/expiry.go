package app

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Sweeper evicts aged state and reports how much it removed.
type Sweeper interface {
	Sweep() int
}

// ExpiryScheduler sweeps once per Interval. Missed ticks are not caught up.
type ExpiryScheduler struct {
	Interval time.Duration
	Clock    clock.Clock
	Sweeper  Sweeper
	Log      *zap.SugaredLogger
}

func (s *ExpiryScheduler) Run(ctx context.Context) error {
	ticker := s.Clock.Ticker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweeper.Sweep(); n > 0 && s.Log != nil {
				s.Log.Debugw("swept neighbour cache", zap.Int("evicted", n))
			}
		}
	}
}
