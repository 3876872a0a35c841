package game

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ActivityMonitor periodically sweeps the registry for idle participants.
// It only removes participants; round state is never touched beyond the
// smaller population the next majority check sees.
type ActivityMonitor struct {
	coordinator *Coordinator
	clock       clockwork.Clock
	interval    time.Duration
}

// NewActivityMonitor creates a monitor sweeping at the given interval.
func NewActivityMonitor(c *Coordinator, clock clockwork.Clock, interval time.Duration) *ActivityMonitor {
	return &ActivityMonitor{
		coordinator: c,
		clock:       clock,
		interval:    interval,
	}
}

// Run ticks until the context is cancelled.
func (m *ActivityMonitor) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", m.interval).Msg("activity monitor started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("activity monitor shutting down")
			return
		case <-ticker.Chan():
			if n := m.coordinator.EvictIdle(); n > 0 {
				log.Info().Int("evicted", n).Msg("idle sweep evicted participants")
			}
		}
	}
}
