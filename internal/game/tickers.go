package game

import (
	"context"
	"time"

	"github.com/yonatanbiwix/simon-game-app/internal/logger"
)

// Sweeper periodically closes idle rooms. It covers rooms whose presence
// timers were lost, for example across a restart once Recover has reset
// their connections.
type Sweeper struct {
	lobby    *Lobby
	interval time.Duration
}

func NewSweeper(lobby *Lobby, interval time.Duration) *Sweeper {
	return &Sweeper{lobby: lobby, interval: interval}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := s.lobby.Sweep(ctx, now); err != nil {
				logger.Errorf("[Sweeper] sweep failed: %v", err)
			}
		}
	}
}
