package grant

import (
	"context"
	"time"

	"wardkey.org/internal/obs"
)

const defaultSweepInterval = time.Minute

// Sweeper periodically promotes due approved grants to expired. Expiry is
// also detected lazily on every access check; the sweep just keeps stored
// state from drifting behind the clock.
type Sweeper struct {
	service  *Service
	interval time.Duration
}

// NewSweeper creates a sweeper over the lifecycle service.
func NewSweeper(service *Service, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{service: service, interval: interval}
}

// Run blocks, sweeping on each tick until the context is cancelled.
// Sweeps are idempotent: the underlying transition only touches approved
// rows past their deadline, so overlapping runs cause no double effects.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.service.ExpireDue(ctx)
			if err != nil {
				obs.LogEvent(map[string]any{
					"level": "error",
					"msg":   "expiry sweep failed",
					"error": err.Error(),
				})
				continue
			}
			if n > 0 {
				obs.LogEvent(map[string]any{
					"level":   "info",
					"msg":     "expiry sweep",
					"expired": n,
				})
			}
		}
	}
}
