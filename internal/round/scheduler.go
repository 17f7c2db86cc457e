package round

import (
	"context"
	"log/slog"
	"time"

	"github.com/quizroyale/backend/internal/errors"
)

const defaultTickInterval = time.Second

// SchedulerStore lists the sessions the scheduler has to look at.
type SchedulerStore interface {
	DueSessions(ctx context.Context, now time.Time) ([]string, error)
	ActiveSessions(ctx context.Context) ([]string, error)
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type SchedulerConfig struct {
	Service       *Service
	Store         SchedulerStore
	TickInterval  time.Duration
	NewTickerFunc func(d time.Duration) Ticker
	Now           func() time.Time
}

// Scheduler drives rounds on a single recurring tick: due sessions get their
// next elimination round, every active session gets the offline/zero-health
// sweep. One timer per server instance, not one per participant.
type Scheduler struct {
	svc       *Service
	store     SchedulerStore
	interval  time.Duration
	newTicker func(d time.Duration) Ticker
	now       func() time.Time
}

func NewScheduler(c SchedulerConfig) *Scheduler {
	s := &Scheduler{
		svc:       c.Service,
		store:     c.Store,
		interval:  c.TickInterval,
		newTicker: c.NewTickerFunc,
		now:       c.Now,
	}

	if s.interval <= 0 {
		s.interval = defaultTickInterval
	}
	if s.newTicker == nil {
		s.newTicker = newTicker
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// Run blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	t := s.newTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	active, err := s.store.ActiveSessions(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "scheduler: list active sessions failed", "error", err)
		return
	}

	for _, id := range active {
		if _, err := s.svc.CheckAutomaticEliminations(ctx, CheckAutomaticEliminationsRequest{SessionID: id}); err != nil {
			slog.ErrorContext(ctx, "scheduler: automatic elimination sweep failed",
				"session", id,
				"error", err,
			)
		}
	}

	due, err := s.store.DueSessions(ctx, s.now())
	if err != nil {
		slog.ErrorContext(ctx, "scheduler: list due sessions failed", "error", err)
		return
	}

	for _, id := range due {
		_, err := s.svc.ProcessRound(ctx, ProcessRoundRequest{SessionID: id})
		if errors.Is(err, errors.CodeAborted) {
			// Another instance won this round.
			continue
		}
		if err != nil {
			slog.ErrorContext(ctx, "scheduler: process round failed",
				"session", id,
				"error", err,
			)
		}
	}
}

type tickerWrapper struct {
	t *time.Ticker
}

func newTicker(d time.Duration) Ticker {
	return tickerWrapper{t: time.NewTicker(d)}
}

func (w tickerWrapper) C() <-chan time.Time { return w.t.C }

func (w tickerWrapper) Stop() { w.t.Stop() }
