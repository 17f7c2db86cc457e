package api_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizroyale/backend/internal/api"
	"github.com/quizroyale/backend/internal/domain"
	"github.com/quizroyale/backend/internal/event"
)

func TestNotifications(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	gin.SetMode(gin.TestMode)
	eb := event.NewBus()
	api.New(api.Config{
		Router:       gin.New(),
		EventBus:     eb,
		Redis:        rdb,
		PubsubPrefix: "test",
	})

	sessionCh := subscribe(t, rdb, "test:session:s1")
	participantCh := subscribe(t, rdb, "test:participant:p1")

	ctx := context.Background()
	eb.Publish(ctx, domain.EventScoreUpdated{Score: domain.Score{
		SessionID:     "s1",
		ParticipantID: "p1",
		Round:         2,
		Points:        4500,
		TotalScore:    9000,
	}})
	eb.Publish(ctx, domain.EventParticipantEliminated{
		SessionID:     "s1",
		ParticipantID: "p1",
		DisplayName:   "Ada",
		Round:         2,
		FinalPosition: 8,
	})
	eb.Publish(ctx, domain.EventParticipantEliminated{
		SessionID:     "s1",
		ParticipantID: "p2",
		DisplayName:   "Grace",
		Round:         2,
		FinalPosition: 7,
	})
	eb.Publish(ctx, domain.EventRoundCompleted{
		SessionID:  "s1",
		Round:      2,
		NextRound:  3,
		Eliminated: []string{"p1", "p2"},
		Remaining:  6,
	})
	eb.Publish(ctx, domain.EventPowerUpUsed{
		SessionID:     "s1",
		ParticipantID: "p1",
		PowerUp:       domain.PowerUpTimeFreeze,
	})
	defer eb.Stop()

	// The notifier runs on one shared queue, so the session channel sees
	// notifications in publish order: score, eliminations worst-to-best,
	// then the round summary.
	session := receiveN(t, sessionCh, 4)
	require.Equal(t, []string{
		domain.EventNameScoreUpdated,
		domain.EventNameParticipantEliminated,
		domain.EventNameParticipantEliminated,
		domain.EventNameRoundCompleted,
	}, []string{session[0].Event, session[1].Event, session[2].Event, session[3].Event})

	var score api.ScoreNotice
	require.NoError(t, json.Unmarshal(session[0].Data, &score))
	assert.Equal(t, int64(9000), score.TotalScore)

	var first, second api.EliminationNotice
	require.NoError(t, json.Unmarshal(session[1].Data, &first))
	require.NoError(t, json.Unmarshal(session[2].Data, &second))
	assert.Equal(t, "p1", first.ParticipantID)
	assert.Equal(t, 8, first.FinalPosition)
	assert.False(t, first.Forced)
	assert.Equal(t, "p2", second.ParticipantID)

	var summary api.RoundSummary
	require.NoError(t, json.Unmarshal(session[3].Data, &summary))
	assert.Equal(t, []string{"p1", "p2"}, summary.Eliminated)
	assert.Equal(t, 6, summary.Remaining)

	// The eliminated participant's own channel gets their notice plus the
	// power-up use; p2's elimination stays off it.
	personal := receiveN(t, participantCh, 2)
	names := []string{personal[0].Event, personal[1].Event}
	assert.ElementsMatch(t, []string{
		domain.EventNameParticipantEliminated,
		domain.EventNamePowerUpUsed,
	}, names)
	for _, n := range personal {
		if n.Event != domain.EventNameParticipantEliminated {
			continue
		}
		var e api.EliminationNotice
		require.NoError(t, json.Unmarshal(n.Data, &e))
		assert.Equal(t, "p1", e.ParticipantID)
	}
}

type notification struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func subscribe(t *testing.T, rdb redis.UniversalClient, channel string) <-chan *redis.Message {
	t.Helper()

	sub := rdb.Subscribe(context.Background(), channel)
	t.Cleanup(func() { _ = sub.Close() })

	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	return sub.Channel()
}

func receiveN(t *testing.T, ch <-chan *redis.Message, n int) []notification {
	t.Helper()

	out := make([]notification, 0, n)
	for len(out) < n {
		select {
		case msg := <-ch:
			var nt notification
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &nt))
			out = append(out, nt)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for notification %d of %d", len(out)+1, n)
		}
	}
	return out
}
