package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/quizroyale/backend/internal/domain"
	"github.com/quizroyale/backend/internal/event"
	"github.com/quizroyale/backend/internal/telemetry"
)

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Notification is the wire envelope on every pub/sub channel.
type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type ScoreNotice struct {
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
	Round         int    `json:"round"`
	Points        int64  `json:"points"`
	TotalScore    int64  `json:"total_score"`
}

type EliminationNotice struct {
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Round         int    `json:"round"`
	FinalPosition int    `json:"final_position"`
	Forced        bool   `json:"forced"`
}

type RoundSummary struct {
	SessionID  string   `json:"session_id"`
	Round      int      `json:"round"`
	NextRound  int      `json:"next_round"`
	Eliminated []string `json:"eliminated"`
	Remaining  int      `json:"remaining"`
}

type SessionEndedNotice struct {
	SessionID string `json:"session_id"`
	WinnerID  string `json:"winner_id"`
	Round     int    `json:"round"`
}

// registerNotifications bridges domain events onto redis pub/sub. All event
// names share one queue, so observers on the session channel see
// notifications in publish order: a round's eliminations worst-to-best,
// followed by the round summary.
func (a *API) registerNotifications(eb *event.Bus) {
	eb.SubscribeAll(a.notify,
		domain.EventNameScoreUpdated,
		domain.EventNameParticipantEliminated,
		domain.EventNameRoundCompleted,
		domain.EventNameSessionEnded,
		domain.EventNameLeaderboardUpdated,
		domain.EventNamePowerUpUsed,
	)
}

func (a *API) notify(ctx context.Context, e event.Event) error {
	switch ev := e.(type) {
	case domain.EventScoreUpdated:
		sc := ev.Score
		return a.publishNotification(ctx, a.sessionChannel(sc.SessionID), ev.Name(), ScoreNotice{
			SessionID:     sc.SessionID,
			ParticipantID: sc.ParticipantID,
			Round:         sc.Round,
			Points:        sc.Points,
			TotalScore:    sc.TotalScore,
		})
	case domain.EventParticipantEliminated:
		return a.publishEliminated(ctx, ev)
	case domain.EventRoundCompleted:
		return a.publishNotification(ctx, a.sessionChannel(ev.SessionID), ev.Name(), RoundSummary{
			SessionID:  ev.SessionID,
			Round:      ev.Round,
			NextRound:  ev.NextRound,
			Eliminated: ev.Eliminated,
			Remaining:  ev.Remaining,
		})
	case domain.EventSessionEnded:
		return a.publishNotification(ctx, a.sessionChannel(ev.SessionID), ev.Name(), SessionEndedNotice{
			SessionID: ev.SessionID,
			WinnerID:  ev.WinnerID,
			Round:     ev.Round,
		})
	case domain.EventLeaderboardUpdated:
		return a.publishNotification(ctx, a.sessionChannel(ev.Leaderboard.SessionID), ev.Name(), ev.Leaderboard)
	case domain.EventPowerUpUsed:
		return a.publishNotification(ctx, a.participantChannel(ev.ParticipantID), ev.Name(), ev)
	default:
		return fmt.Errorf("pubsub: unhandled event %s", e.Name())
	}
}

// publishEliminated notifies the session channel and the eliminated
// participant's own channel.
func (a *API) publishEliminated(ctx context.Context, ev domain.EventParticipantEliminated) error {
	notice := EliminationNotice{
		SessionID:     ev.SessionID,
		ParticipantID: ev.ParticipantID,
		DisplayName:   ev.DisplayName,
		Round:         ev.Round,
		FinalPosition: ev.FinalPosition,
		Forced:        ev.Forced,
	}

	var eg errgroup.Group
	eg.Go(func() error {
		return a.publishNotification(ctx, a.sessionChannel(ev.SessionID), ev.Name(), notice)
	})
	eg.Go(func() error {
		return a.publishNotification(ctx, a.participantChannel(ev.ParticipantID), ev.Name(), notice)
	})
	return eg.Wait()
}

// publishNotification sends one envelope. Failures count against the
// notification-failure metric and are logged by the bus; committed game state
// is never rolled back for them.
func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	if err := a.redis.Publish(ctx, channel, b).Err(); err != nil {
		telemetry.NotificationFailures.Inc()
		return fmt.Errorf("pubsub: publish %s: %w", event, err)
	}
	return nil
}

func (a *API) sessionChannel(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", a.prefix, sessionID)
}

func (a *API) participantChannel(participantID string) string {
	return fmt.Sprintf("%s:participant:%s", a.prefix, participantID)
}
