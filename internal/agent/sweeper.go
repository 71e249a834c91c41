package agent

import (
	"context"
	"time"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/hooks"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/logging"
)

// Sweeper periodically evicts idle sessions from a SessionStore.
type Sweeper struct {
	store    SessionStore
	idle     time.Duration
	interval time.Duration
	hooks    *hooks.Manager
	log      *logging.Logger
	now      func() time.Time
}

// NewSweeper creates a sweeper that drops sessions idle for longer than
// idle, checking every interval.
func NewSweeper(store SessionStore, idle, interval time.Duration, hm *hooks.Manager, log *logging.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		idle:     idle,
		interval: interval,
		hooks:    hm,
		log:      log.Sub("sweeper"),
		now:      time.Now,
	}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one eviction pass and returns the evicted session ids.
func (s *Sweeper) Sweep(ctx context.Context) []string {
	if s.idle <= 0 {
		return nil
	}
	evicted, err := s.store.EvictIdle(ctx, s.now().Add(-s.idle))
	if err != nil {
		s.log.Warn().Err(err).Msg("session sweep failed")
		return nil
	}
	for _, id := range evicted {
		s.hooks.Emit(ctx, hooks.EventSessionEvicted, map[string]any{"sessionId": id})
	}
	if len(evicted) > 0 {
		s.log.Info().Int("evicted", len(evicted)).Msg("evicted idle sessions")
	}
	return evicted
}
