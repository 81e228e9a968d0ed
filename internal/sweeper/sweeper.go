package sweeper

import (
	"context"
	"fmt"
	"log"
	"time"

	"relay-service/internal/observability"
	"relay-service/internal/repositories"
	"relay-service/internal/telemetry"
)

// Sweeper periodically evicts messages older than the retention horizon.
// The cutoff is computed once at the start of each sweep, so messages
// appended while a sweep runs are never eligible for that sweep. A failed
// sweep is logged and retried on the next tick.
type Sweeper struct {
	messages repositories.MessageRepository
	emitter  *telemetry.AuditEmitter
	interval time.Duration
	horizon  time.Duration
	now      func() time.Time
}

// New constructs a Sweeper. The emitter may be nil.
func New(messages repositories.MessageRepository, emitter *telemetry.AuditEmitter, interval, horizon time.Duration) *Sweeper {
	return &Sweeper{
		messages: messages,
		emitter:  emitter,
		interval: interval,
		horizon:  horizon,
		now:      time.Now,
	}
}

// Run ticks until the context is cancelled. It never blocks request traffic;
// the store performs the deletion without holding process-level locks.
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("retention sweeper started interval=%s horizon=%s", s.interval, s.horizon)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("retention sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep against a cutoff fixed at its start.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	cutoff := s.now().Add(-s.horizon)
	deleted, err := s.messages.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		log.Printf("retention sweep failed cutoff=%s err=%v", cutoff.Format(time.RFC3339), err)
		observability.ObserveSweep("error", 0)
		s.emitter.Emit(ctx, "ERROR", fmt.Sprintf("retention sweep failed: %v", err), "", nil)
		return
	}

	log.Printf("retention sweep done cutoff=%s deleted=%d", cutoff.Format(time.RFC3339), deleted)
	observability.ObserveSweep("ok", deleted)
	if deleted > 0 {
		s.emitter.Emit(ctx, "INFO", fmt.Sprintf("retention sweep deleted %d messages", deleted), "", nil)
	}
}
