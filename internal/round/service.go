// Package round orchestrates elimination rounds: ranking the field, applying
// the elimination policy, detecting the win condition and emitting the
// notifications observers need to render the match.
package round

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quizroyale/backend/internal/domain"
	"github.com/quizroyale/backend/internal/elimination"
	"github.com/quizroyale/backend/internal/errors"
	"github.com/quizroyale/backend/internal/event"
	"github.com/quizroyale/backend/internal/telemetry"
)

const (
	// offlineTimeout is how long a participant may stay offline before the
	// automatic sweep force-eliminates them.
	offlineTimeout = 3 * time.Minute

	// leaseTTL bounds how long a crashed instance can hold a session's
	// round lease.
	leaseTTL = 10 * time.Second
)

type Store interface {
	Session(ctx context.Context, sessionID string) (*domain.Session, error)
	ActiveParticipants(ctx context.Context, sessionID string) ([]*domain.Participant, error)
	EliminateParticipant(ctx context.Context, sessionID, participantID string, round, position int) error
	AdvanceRound(ctx context.Context, sessionID string, fromRound int, nextRoundAt time.Time) error
	EndSession(ctx context.Context, sessionID, winnerID string, now time.Time) error
}

type Config struct {
	EventBus *event.Bus
	Store    Store
	// Redis backs the cross-instance round lease. Optional; single-instance
	// deployments and tests are already covered by the in-process lock and
	// the store's round compare-and-set.
	Redis  redis.UniversalClient
	Prefix string
	Now    func() time.Time
}

type Service struct {
	eb     *event.Bus
	store  Store
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		store:  c.Store,
		redis:  c.Redis,
		prefix: c.Prefix,
		now:    c.Now,
		locks:  make(map[string]*sync.Mutex),
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

type ProcessRoundRequest struct {
	SessionID string
}

// Result is the outcome of one elimination round.
type Result struct {
	SessionID  string
	Round      int
	NextRound  int
	Eliminated []string
	Remaining  int
	GameOver   bool
	WinnerID   string
}

// ProcessRound runs one elimination cycle. Round processing is a per-session
// serialization point: the in-process lock and redis lease keep the common
// path quiet, and the store's round compare-and-set is the authority when two
// triggers still race. Notifications go out only after state is committed.
func (s *Service) ProcessRound(ctx context.Context, req ProcessRoundRequest) (*Result, error) {
	lock := s.sessionLock(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	release, err := s.acquireLease(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	ss, err := s.store.Session(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	switch ss.Status {
	case domain.SessionWaiting:
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session %s has not started", ss.SessionID))
	case domain.SessionEnded:
		// Duplicate trigger after the match ended, e.g. a redelivered
		// scheduler tick. Safe to ignore.
		slog.WarnContext(ctx, "round: process round on ended session",
			"session", ss.SessionID)
		return &Result{
			SessionID: ss.SessionID,
			Round:     ss.CurrentRound,
			GameOver:  true,
			WinnerID:  ss.WinnerID,
		}, nil
	}

	active, err := s.store.ActiveParticipants(ctx, ss.SessionID)
	if err != nil {
		return nil, err
	}

	if len(active) <= 1 {
		return s.endSession(ctx, ss, active)
	}

	dec := elimination.Decide(active)

	if err := s.store.AdvanceRound(ctx, ss.SessionID, ss.CurrentRound, s.now().Add(ss.EliminationInterval)); err != nil {
		// Lost the race: another trigger already advanced this round. Abort
		// without re-emitting anything.
		return nil, err
	}

	total := len(active)
	eliminated := make([]string, 0, dec.Count)
	for i, p := range dec.Eliminated {
		position := total - i
		if err := s.store.EliminateParticipant(ctx, ss.SessionID, p.ParticipantID, ss.CurrentRound, position); err != nil {
			// Partial success is expected under concurrent delivery, e.g.
			// the sweep force-eliminated this participant first. Skip.
			slog.WarnContext(ctx, "round: eliminate participant failed",
				"session", ss.SessionID,
				"participant", p.ParticipantID,
				"error", err,
			)
			continue
		}

		eliminated = append(eliminated, p.ParticipantID)
		telemetry.Eliminations.WithLabelValues("round").Inc()
		s.eb.Publish(ctx, domain.EventParticipantEliminated{
			SessionID:     ss.SessionID,
			ParticipantID: p.ParticipantID,
			DisplayName:   p.DisplayName,
			Round:         ss.CurrentRound,
			FinalPosition: position,
		})
	}

	telemetry.RoundsProcessed.Inc()

	res := &Result{
		SessionID:  ss.SessionID,
		Round:      ss.CurrentRound,
		NextRound:  ss.CurrentRound + 1,
		Eliminated: eliminated,
		Remaining:  total - len(eliminated),
	}

	s.eb.Publish(ctx, domain.EventRoundCompleted{
		SessionID:  ss.SessionID,
		Round:      ss.CurrentRound,
		NextRound:  res.NextRound,
		Eliminated: eliminated,
		Remaining:  res.Remaining,
	})

	return res, nil
}

func (s *Service) endSession(ctx context.Context, ss *domain.Session, active []*domain.Participant) (*Result, error) {
	var winner string
	if len(active) == 1 {
		winner = active[0].ParticipantID
	}

	if err := s.store.EndSession(ctx, ss.SessionID, winner, s.now()); err != nil {
		if errors.Is(err, errors.CodeFailedPrecondition) {
			// Someone else ended it first; no events to re-fire.
			slog.WarnContext(ctx, "round: session already ended",
				"session", ss.SessionID)
			return &Result{SessionID: ss.SessionID, Round: ss.CurrentRound, GameOver: true, WinnerID: ss.WinnerID}, nil
		}
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventSessionEnded{
		SessionID: ss.SessionID,
		WinnerID:  winner,
		Round:     ss.CurrentRound,
	})

	return &Result{
		SessionID: ss.SessionID,
		Round:     ss.CurrentRound,
		Remaining: len(active),
		GameOver:  true,
		WinnerID:  winner,
	}, nil
}

type CheckAutomaticEliminationsRequest struct {
	SessionID string
}

// CheckAutomaticEliminations force-eliminates active participants who are out
// of health or have been offline past the timeout. Forced eliminations use
// the current round number and do not advance the round; they emit the same
// per-participant notification as a regular elimination.
func (s *Service) CheckAutomaticEliminations(ctx context.Context, req CheckAutomaticEliminationsRequest) ([]*domain.Participant, error) {
	lock := s.sessionLock(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	ss, err := s.store.Session(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if ss.Status != domain.SessionActive {
		return nil, nil
	}

	active, err := s.store.ActiveParticipants(ctx, ss.SessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	remaining := len(active)

	var out []*domain.Participant
	for _, p := range active {
		if p.Health > 0 && !p.IdleSince(now, offlineTimeout) {
			continue
		}

		if err := s.store.EliminateParticipant(ctx, ss.SessionID, p.ParticipantID, ss.CurrentRound, remaining); err != nil {
			slog.WarnContext(ctx, "round: force-eliminate participant failed",
				"session", ss.SessionID,
				"participant", p.ParticipantID,
				"error", err,
			)
			continue
		}

		p.Eliminate(ss.CurrentRound, remaining)
		remaining--

		telemetry.Eliminations.WithLabelValues("forced").Inc()
		s.eb.Publish(ctx, domain.EventParticipantEliminated{
			SessionID:     ss.SessionID,
			ParticipantID: p.ParticipantID,
			DisplayName:   p.DisplayName,
			Round:         ss.CurrentRound,
			FinalPosition: p.FinalPosition,
			Forced:        true,
		})

		out = append(out, p)
	}

	return out, nil
}

func (s *Service) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[sessionID]
	if !ok {
		l = new(sync.Mutex)
		s.locks[sessionID] = l
	}
	return l
}

// acquireLease takes the cross-instance round lease for a session. The
// returned release is safe to call even when the lease expired underneath.
func (s *Service) acquireLease(ctx context.Context, sessionID string) (func(), error) {
	if s.redis == nil {
		return func() {}, nil
	}

	key := fmt.Sprintf("%s:%s:round-lock", s.prefix, sessionID)
	ok, err := s.redis.SetNX(ctx, key, 1, leaseTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("round: acquire lease: %w", err)
	}
	if !ok {
		return nil, errors.New(errors.CodeAborted,
			errors.WithMessagef("round already in flight for session %s", sessionID))
	}

	return func() {
		if err := s.redis.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
			slog.WarnContext(ctx, "round: release lease failed",
				"session", sessionID,
				"error", err,
			)
		}
	}, nil
}
