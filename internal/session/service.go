package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quizroyale/backend/internal/domain"
	"github.com/quizroyale/backend/internal/errors"
	"github.com/quizroyale/backend/internal/event"
)

const defaultEliminationInterval = 60 * time.Second

// healthBoostAmount is how much health an explicit health_boost use restores.
const healthBoostAmount = 25

type Store interface {
	CreateSession(ctx context.Context, ss *domain.Session) error
	Session(ctx context.Context, sessionID string) (*domain.Session, error)
	StartSession(ctx context.Context, sessionID string, now time.Time) error
	AddParticipant(ctx context.Context, p *domain.Participant) error
	Participant(ctx context.Context, sessionID, participantID string) (*domain.Participant, error)
	UpdateParticipant(ctx context.Context, sessionID, participantID string, fn func(*domain.Participant) error) (*domain.Participant, error)
}

type Config struct {
	EventBus *event.Bus
	Store    Store
	Now      func() time.Time
}

type Service struct {
	eb    *event.Bus
	store Store
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		eb:    c.EventBus,
		store: c.Store,
		now:   c.Now,
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

type CreateSessionRequest struct {
	QuizID              string
	EliminationInterval time.Duration
}

// CreateSession creates a new battle royale session in the waiting state.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Session, error) {
	if req.QuizID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("quiz id is required"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	interval := req.EliminationInterval
	if interval <= 0 {
		interval = defaultEliminationInterval
	}

	ss := &domain.Session{
		SessionID:           id.String(),
		QuizID:              req.QuizID,
		Status:              domain.SessionWaiting,
		EliminationInterval: interval,
		CreatedAt:           s.now(),
	}

	if err := s.store.CreateSession(ctx, ss); err != nil {
		return nil, err
	}

	return ss, nil
}

type StartSessionRequest struct {
	SessionID string
}

// StartSession moves a waiting session to active, scheduling the first
// elimination round.
func (s *Service) StartSession(ctx context.Context, req StartSessionRequest) (*domain.Session, error) {
	if err := s.store.StartSession(ctx, req.SessionID, s.now()); err != nil {
		return nil, err
	}

	return s.store.Session(ctx, req.SessionID)
}

type GetSessionRequest struct {
	SessionID string
}

func (s *Service) GetSession(ctx context.Context, req GetSessionRequest) (*domain.Session, error) {
	return s.store.Session(ctx, req.SessionID)
}

type JoinSessionRequest struct {
	SessionID   string
	DisplayName string
	Avatar      string
}

// JoinSession adds a participant to a waiting session. Joining an active or
// ended session is rejected: the field is fixed once play starts.
func (s *Service) JoinSession(ctx context.Context, req JoinSessionRequest) (*domain.Participant, error) {
	if req.DisplayName == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("display name is required"))
	}

	ss, err := s.store.Session(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if ss.Status != domain.SessionWaiting {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session %s already started", ss.SessionID))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate participant ID: %w", err)
	}

	p := domain.NewParticipant(id.String(), ss.SessionID, req.DisplayName, req.Avatar, s.now())
	if err := s.store.AddParticipant(ctx, p); err != nil {
		return nil, err
	}

	return p, nil
}

type GetParticipantRequest struct {
	SessionID     string
	ParticipantID string
}

func (s *Service) GetParticipant(ctx context.Context, req GetParticipantRequest) (*domain.Participant, error) {
	return s.store.Participant(ctx, req.SessionID, req.ParticipantID)
}

type HeartbeatRequest struct {
	SessionID     string
	ParticipantID string
}

// Heartbeat marks a participant online and refreshes their last-seen
// timestamp, keeping them clear of the offline-timeout sweep.
func (s *Service) Heartbeat(ctx context.Context, req HeartbeatRequest) error {
	_, err := s.store.UpdateParticipant(ctx, req.SessionID, req.ParticipantID, func(p *domain.Participant) error {
		p.MarkOnline(s.now())
		return nil
	})
	return err
}

type UsePowerUpRequest struct {
	SessionID     string
	ParticipantID string
	PowerUp       domain.PowerUp
}

type UsePowerUpResponse struct {
	PowerUp   domain.PowerUp
	Remaining int
	Health    int
}

// UsePowerUp consumes one held use of an explicitly usable power-up.
// health_boost heals on use; time_freeze is simply consumed, its effect
// belongs to the client-side timer. double_points and shield are consumed
// automatically during scoring and cannot be used by hand.
func (s *Service) UsePowerUp(ctx context.Context, req UsePowerUpRequest) (*UsePowerUpResponse, error) {
	switch req.PowerUp {
	case domain.PowerUpTimeFreeze, domain.PowerUpHealthBoost:
	case domain.PowerUpDoublePoints, domain.PowerUpShield:
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("power-up %s is consumed automatically", req.PowerUp))
	default:
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown power-up: %s", req.PowerUp))
	}

	p, err := s.store.UpdateParticipant(ctx, req.SessionID, req.ParticipantID, func(p *domain.Participant) error {
		if p.Eliminated {
			return errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("participant %s is eliminated", p.ParticipantID))
		}
		if !p.UsePowerUp(req.PowerUp) {
			return errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("participant %s does not hold %s", p.ParticipantID, req.PowerUp))
		}

		if req.PowerUp == domain.PowerUpHealthBoost {
			p.Heal(healthBoostAmount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventPowerUpUsed{
		SessionID:     req.SessionID,
		ParticipantID: req.ParticipantID,
		PowerUp:       req.PowerUp,
	})

	return &UsePowerUpResponse{
		PowerUp:   req.PowerUp,
		Remaining: p.PowerUps.Count(req.PowerUp),
		Health:    p.Health,
	}, nil
}
