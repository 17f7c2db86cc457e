// Package leaderboard produces the read-optimized, cached ranking of a
// session's participants. The projection is recomputed per round and cached
// briefly in redis, since reads vastly outnumber round advances.
package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quizroyale/backend/internal/domain"
	"github.com/quizroyale/backend/internal/errors"
	"github.com/quizroyale/backend/internal/event"
)

const (
	defaultCacheTTL = 3 * time.Second

	// publishInterval throttles leaderboard.updated events while scores
	// churn during a question.
	publishInterval = 200 * time.Millisecond
)

type Store interface {
	Session(ctx context.Context, sessionID string) (*domain.Session, error)
	Participants(ctx context.Context, sessionID string) ([]*domain.Participant, error)
}

type Config struct {
	EventBus *event.Bus
	Store    Store
	Redis    redis.UniversalClient
	Prefix   string
	CacheTTL time.Duration
}

type Service struct {
	eb     *event.Bus
	store  Store
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		store:  c.Store,
		redis:  c.Redis,
		prefix: c.Prefix,
		ttl:    c.CacheTTL,
	}

	if s.ttl <= 0 {
		s.ttl = defaultCacheTTL
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.onScoreUpdated(ctx, e.(domain.EventScoreUpdated))
	})
	s.eb.Subscribe(domain.EventNameParticipantEliminated, func(ctx context.Context, e event.Event) error {
		return s.onEliminated(ctx, e.(domain.EventParticipantEliminated))
	})
	s.eb.Subscribe(domain.EventNameRoundCompleted, func(ctx context.Context, e event.Event) error {
		return s.invalidate(ctx, e.(domain.EventRoundCompleted).SessionID, e.(domain.EventRoundCompleted).Round)
	})

	return s
}

type GetLeaderboardRequest struct {
	SessionID string
}

// GetLeaderboard returns the position-ranked view of all participants,
// serving the cached projection when one exists for the current round.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	ss, err := s.store.Session(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	key := s.cacheKey(ss.SessionID, ss.CurrentRound)

	if raw, err := s.redis.Get(ctx, key).Bytes(); err == nil {
		var l domain.Leaderboard
		if err := json.Unmarshal(raw, &l); err == nil {
			return &l, nil
		}
		// Corrupt cache entry; fall through and recompute.
	}

	l, err := s.project(ctx, ss)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(l); err == nil {
		if err := s.redis.Set(ctx, key, raw, s.ttl).Err(); err != nil {
			return l, fmt.Errorf("cache leaderboard: %w", err)
		}
	}

	return l, nil
}

// project orders active participants first (score descending, most recent
// activity breaking ties), then eliminated ones in reverse elimination order:
// surviving longer is itself a competitive signal.
func (s *Service) project(ctx context.Context, ss *domain.Session) (*domain.Leaderboard, error) {
	ps, err := s.store.Participants(ctx, ss.SessionID)
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no participants in session %s", ss.SessionID))
	}

	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.Eliminated != b.Eliminated {
			return !a.Eliminated
		}
		if a.Eliminated {
			if a.FinalPosition != b.FinalPosition {
				return a.FinalPosition < b.FinalPosition
			}
			return a.EliminationRound > b.EliminationRound
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.LastActivity.After(b.LastActivity)
	})

	l := &domain.Leaderboard{
		SessionID: ss.SessionID,
		Round:     ss.CurrentRound,
		Entries:   make([]domain.LeaderboardEntry, 0, len(ps)),
	}

	for i, p := range ps {
		entry := domain.LeaderboardEntry{
			Position:      i + 1,
			ParticipantID: p.ParticipantID,
			DisplayName:   p.DisplayName,
			Avatar:        p.Avatar,
			Score:         p.Score,
			Health:        p.Health,
			Streak:        p.Streak,
			Eliminated:    p.Eliminated,
		}
		if p.Eliminated {
			entry.EliminationRound = p.EliminationRound
		}
		l.Entries = append(l.Entries, entry)
	}

	return l, nil
}

type GetRankRequest struct {
	SessionID     string
	ParticipantID string
}

type GetRankResponse struct {
	Rank  int64
	Score int64
}

// GetRank answers "what place am I in" from the live score board without
// materializing the whole projection.
func (s *Service) GetRank(ctx context.Context, req GetRankRequest) (*GetRankResponse, error) {
	key := s.scoreBoardKey(req.SessionID)

	rank, err := s.redis.ZRevRank(ctx, key, req.ParticipantID).Result()
	if err == redis.Nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("participant not on score board: session=%s participant=%s", req.SessionID, req.ParticipantID))
	}
	if err != nil {
		return nil, fmt.Errorf("get rank: %w", err)
	}

	score, err := s.redis.ZScore(ctx, key, req.ParticipantID).Result()
	if err != nil {
		return nil, fmt.Errorf("get score: %w", err)
	}

	return &GetRankResponse{
		Rank:  rank + 1,
		Score: int64(score),
	}, nil
}

// onScoreUpdated keeps the live score board current, invalidates the cached
// projection and schedules a throttled leaderboard.updated event.
func (s *Service) onScoreUpdated(ctx context.Context, e domain.EventScoreUpdated) error {
	sc := e.Score

	if err := s.redis.ZAdd(ctx, s.scoreBoardKey(sc.SessionID), redis.Z{
		Score:  float64(sc.TotalScore),
		Member: sc.ParticipantID,
	}).Err(); err != nil {
		return fmt.Errorf("update score board: %w", err)
	}

	if err := s.invalidate(ctx, sc.SessionID, sc.Round); err != nil {
		return err
	}

	return s.schedulePublish(ctx, sc.SessionID)
}

// onEliminated drops the participant from the live score board and
// invalidates the cached projection, so an eliminated player never shows as
// active for a whole TTL.
func (s *Service) onEliminated(ctx context.Context, e domain.EventParticipantEliminated) error {
	if err := s.redis.ZRem(ctx, s.scoreBoardKey(e.SessionID), e.ParticipantID).Err(); err != nil {
		return fmt.Errorf("remove from score board: %w", err)
	}

	return s.invalidate(ctx, e.SessionID, e.Round)
}

func (s *Service) invalidate(ctx context.Context, sessionID string, round int) error {
	if err := s.redis.Del(ctx, s.cacheKey(sessionID, round)).Err(); err != nil {
		return fmt.Errorf("invalidate leaderboard cache: %w", err)
	}
	return nil
}

// schedulePublish publishes a leaderboard.updated event at most once per
// publishInterval per session, so a burst of submissions becomes one event.
// The SetNX also keeps multiple instances from publishing the same change.
func (s *Service) schedulePublish(ctx context.Context, sessionID string) error {
	ok, err := s.redis.SetNX(ctx, s.publishKey(sessionID), 1, publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return nil
	}

	ss, err := s.store.Session(ctx, sessionID)
	if err != nil {
		return err
	}

	l, err := s.project(ctx, ss)
	if err != nil {
		return fmt.Errorf("project leaderboard: session=%s: %w", sessionID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

func (s *Service) cacheKey(sessionID string, round int) string {
	return fmt.Sprintf("%s:%s:%d:leaderboard", s.prefix, sessionID, round)
}

func (s *Service) scoreBoardKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:scores", s.prefix, sessionID)
}

func (s *Service) publishKey(sessionID string) string {
	return fmt.Sprintf("%s:%s:publish", s.prefix, sessionID)
}
