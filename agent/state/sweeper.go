package state

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RunSweeper calls s.Sweep every interval until ctx is done.
func RunSweeper(ctx context.Context, s Sweeper, interval time.Duration) {
	if s == nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("state sweep failed")
				continue
			}
			if n > 0 {
				log.Debug().Int("removed", n).Msg("expired call state swept")
			}
		}
	}
}
