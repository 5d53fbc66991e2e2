package app

import (
	"context"
	"log"
	"time"
)

// Sweeper periodically reclaims expired and idle sessions so attempts finish
// even when the client never comes back. It reuses Engine.Sweep, which runs
// the same completion path as client traffic.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
}

func NewSweeper(engine *Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{engine: engine, interval: interval}
}

// Run blocks until ctx is canceled, sweeping on a fixed interval. A failing
// tick is logged and the loop continues; nothing here is fatal.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			completed, err := s.engine.Sweep(ctx)
			if err != nil {
				log.Printf("sweeper: %v", err)
				continue
			}
			if completed > 0 {
				log.Printf("sweeper: reclaimed %d sessions", completed)
			}
		}
	}
}
