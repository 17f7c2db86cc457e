package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizroyale/backend/internal/domain"
	"github.com/quizroyale/backend/internal/errors"
	"github.com/quizroyale/backend/internal/event"
	"github.com/quizroyale/backend/internal/leaderboard"
)

type fakeStore struct {
	mu           sync.Mutex
	session      *domain.Session
	participants []*domain.Participant
}

func (f *fakeStore) Session(_ context.Context, sessionID string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.session == nil || f.session.SessionID != sessionID {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: %s", sessionID))
	}
	ss := *f.session
	return &ss, nil
}

func (f *fakeStore) Participants(_ context.Context, sessionID string) ([]*domain.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*domain.Participant
	for _, p := range f.participants {
		if p.SessionID == sessionID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) setScore(participantID string, score int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range f.participants {
		if p.ParticipantID == participantID {
			p.Score = score
		}
	}
}

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func player(id string, score int64) *domain.Participant {
	p := domain.NewParticipant(id, "s1", "Player "+id, "", baseTime)
	p.Score = score
	return p
}

type fixture struct {
	store *fakeStore
	eb    *event.Bus
	mr    *miniredis.Miniredis
	svc   *leaderboard.Service
}

func newFixture(t *testing.T, ps ...*domain.Participant) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := &fakeStore{
		session: &domain.Session{
			SessionID:    "s1",
			QuizID:       "quiz1",
			Status:       domain.SessionActive,
			CurrentRound: 2,
		},
		participants: ps,
	}

	eb := event.NewBus()
	svc := leaderboard.NewService(leaderboard.Config{
		EventBus: eb,
		Store:    store,
		Redis:    rdb,
		Prefix:   "test",
	})
	t.Cleanup(eb.Stop)

	return &fixture{store: store, eb: eb, mr: mr, svc: svc}
}

func TestService_GetLeaderboard(t *testing.T) {
	t.Parallel()

	t.Run("active first then eliminated in reverse order", func(t *testing.T) {
		t.Parallel()

		a := player("a", 300)
		b := player("b", 500)
		c := player("c", 1000)
		c.Eliminate(1, 5)
		d := player("d", 50)
		d.Eliminate(2, 4)

		fx := newFixture(t, a, b, c, d)

		l, err := fx.svc.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{SessionID: "s1"})
		require.NoError(t, err)

		require.Len(t, l.Entries, 4)
		assert.Equal(t, "s1", l.SessionID)
		assert.Equal(t, 2, l.Round)

		// Survivors outrank the eliminated regardless of raw score.
		assert.Equal(t, []string{"b", "a", "d", "c"}, entryIDs(l))
		for i, e := range l.Entries {
			assert.Equal(t, i+1, e.Position)
		}
		assert.False(t, l.Entries[0].Eliminated)
		assert.True(t, l.Entries[2].Eliminated)
		assert.Equal(t, 2, l.Entries[2].EliminationRound)
	})

	t.Run("activity breaks score ties", func(t *testing.T) {
		t.Parallel()

		a := player("a", 500)
		b := player("b", 500)
		b.LastActivity = baseTime.Add(time.Second)

		fx := newFixture(t, a, b)

		l, err := fx.svc.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{SessionID: "s1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, entryIDs(l))
	})

	t.Run("serves the cached projection within the ttl", func(t *testing.T) {
		t.Parallel()

		fx := newFixture(t, player("a", 300), player("b", 500))

		l, err := fx.svc.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{SessionID: "s1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, entryIDs(l))

		fx.store.setScore("a", 900)

		l, err = fx.svc.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{SessionID: "s1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, entryIDs(l), "stale within the ttl")

		fx.mr.FastForward(5 * time.Second)

		l, err = fx.svc.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{SessionID: "s1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, entryIDs(l), "recomputed after the ttl")
	})

	t.Run("score update invalidates the cache", func(t *testing.T) {
		t.Parallel()

		fx := newFixture(t, player("a", 300), player("b", 500))

		_, err := fx.svc.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{SessionID: "s1"})
		require.NoError(t, err)

		fx.store.setScore("a", 900)
		fx.eb.Publish(context.Background(), domain.EventScoreUpdated{Score: domain.Score{
			SessionID:     "s1",
			ParticipantID: "a",
			Round:         2,
			Points:        600,
			TotalScore:    900,
		}})

		require.Eventually(t, func() bool {
			l, err := fx.svc.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{SessionID: "s1"})
			return err == nil && entryIDs(l)[0] == "a"
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("no participants", func(t *testing.T) {
		t.Parallel()

		fx := newFixture(t)

		_, err := fx.svc.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{SessionID: "s1"})
		assert.True(t, errors.Is(err, errors.CodeNotFound))
	})
}

func TestService_GetRank(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, player("a", 100), player("b", 500))

	publishScore := func(id string, total int64) {
		fx.eb.Publish(context.Background(), domain.EventScoreUpdated{Score: domain.Score{
			SessionID:     "s1",
			ParticipantID: id,
			Round:         2,
			TotalScore:    total,
		}})
	}

	publishScore("a", 100)
	publishScore("b", 500)

	require.Eventually(t, func() bool {
		r, err := fx.svc.GetRank(context.Background(), leaderboard.GetRankRequest{SessionID: "s1", ParticipantID: "b"})
		return err == nil && r.Rank == 1 && r.Score == 500
	}, time.Second, 10*time.Millisecond)

	r, err := fx.svc.GetRank(context.Background(), leaderboard.GetRankRequest{SessionID: "s1", ParticipantID: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), r.Rank)

	_, err = fx.svc.GetRank(context.Background(), leaderboard.GetRankRequest{SessionID: "s1", ParticipantID: "nobody"})
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	// Elimination drops the participant off the score board.
	fx.eb.Publish(context.Background(), domain.EventParticipantEliminated{
		SessionID:     "s1",
		ParticipantID: "a",
		Round:         2,
		FinalPosition: 2,
	})

	require.Eventually(t, func() bool {
		_, err := fx.svc.GetRank(context.Background(), leaderboard.GetRankRequest{SessionID: "s1", ParticipantID: "a"})
		return errors.Is(err, errors.CodeNotFound)
	}, time.Second, 10*time.Millisecond)
}

func TestService_PublishThrottling(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, player("a", 100), player("b", 500))

	var mu sync.Mutex
	var updates []domain.EventLeaderboardUpdated
	fx.eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, e.(domain.EventLeaderboardUpdated))
		return nil
	})

	// A burst of submissions inside one throttle window becomes one event.
	for i := 0; i < 5; i++ {
		fx.eb.Publish(context.Background(), domain.EventScoreUpdated{Score: domain.Score{
			SessionID:     "s1",
			ParticipantID: "a",
			Round:         2,
			TotalScore:    int64(100 + i),
		}})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) == 1
	}, time.Second, 10*time.Millisecond)

	fx.eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, updates, 1)
	assert.Equal(t, "s1", updates[0].Leaderboard.SessionID)
}

func entryIDs(l *domain.Leaderboard) []string {
	out := make([]string, 0, len(l.Entries))
	for _, e := range l.Entries {
		out = append(out, e.ParticipantID)
	}
	return out
}
