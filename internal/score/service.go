package score

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quizroyale/backend/internal/domain"
	"github.com/quizroyale/backend/internal/errors"
	"github.com/quizroyale/backend/internal/event"
	"github.com/quizroyale/backend/internal/scoring"
	"github.com/quizroyale/backend/internal/telemetry"
)

// Store is the persistence this service needs.
type Store interface {
	Session(ctx context.Context, sessionID string) (*domain.Session, error)
	Question(ctx context.Context, questionID string) (*domain.Question, error)
	CreateQuestion(ctx context.Context, q *domain.Question) error
	UpdateParticipant(ctx context.Context, sessionID, participantID string, fn func(*domain.Participant) error) (*domain.Participant, error)
}

type Config struct {
	EventBus *event.Bus
	Store    Store
	Engine   *scoring.Engine
	Now      func() time.Time
}

type Service struct {
	eb     *event.Bus
	store  Store
	engine *scoring.Engine
	now    func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		store:  c.Store,
		engine: c.Engine,
		now:    c.Now,
	}

	if s.engine == nil {
		s.engine = scoring.NewEngine(scoring.Config{})
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

type SubmitAnswerRequest struct {
	SessionID     string
	ParticipantID string
	QuestionID    string
	OptionIDs     []string
	ResponseTime  time.Duration
	SubmitTime    time.Time
}

type SubmitAnswerResponse struct {
	Points         int64
	TotalScore     int64
	Correct        bool
	Streak         int
	Health         int
	GrantedPowerUp domain.PowerUp
}

// SubmitAnswer scores one answer and applies the outcome to the participant:
// score and health deltas, streak update, power-up consumption and drops. The
// participant row lock keeps one participant's submissions in order without
// blocking anyone else's.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResponse, error) {
	ss, err := s.store.Session(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if ss.Status != domain.SessionActive {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session %s is %s, not accepting answers", ss.SessionID, ss.Status))
	}

	q, err := s.store.Question(ctx, req.QuestionID)
	if err != nil {
		return nil, err
	}
	if q.QuizID != ss.QuizID {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question %s does not belong to quiz %s", q.QuestionID, ss.QuizID))
	}

	submitTime := req.SubmitTime
	if submitTime.IsZero() {
		submitTime = s.now()
	}

	var res scoring.Result
	p, err := s.store.UpdateParticipant(ctx, req.SessionID, req.ParticipantID, func(p *domain.Participant) error {
		if p.Eliminated {
			return errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("participant %s is eliminated, answer not counted", p.ParticipantID))
		}

		res = s.engine.Score(*q, req.OptionIDs, req.ResponseTime, p)

		if res.DoublePointsConsumed {
			p.UsePowerUp(domain.PowerUpDoublePoints)
		}
		if res.ShieldConsumed {
			p.UsePowerUp(domain.PowerUpShield)
		}

		p.AddScore(res.Points)
		if res.HealthDelta < 0 {
			p.ApplyDamage(-res.HealthDelta)
		} else {
			p.Heal(res.HealthDelta)
		}

		if res.Correct {
			p.Streak++
		} else {
			p.Streak = 0
		}

		if res.GrantedPowerUp != "" {
			p.GrantPowerUp(res.GrantedPowerUp)
		}

		p.MarkOnline(submitTime)
		p.LastActivity = submitTime
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.AnswersScored.WithLabelValues(correctLabel(res.Correct)).Inc()

	s.eb.Publish(ctx, domain.EventScoreUpdated{
		Score: domain.Score{
			SessionID:     ss.SessionID,
			ParticipantID: p.ParticipantID,
			Round:         ss.CurrentRound,
			Points:        res.Points,
			TotalScore:    p.Score,
			UpdateTime:    submitTime,
		},
	})

	return &SubmitAnswerResponse{
		Points:         res.Points,
		TotalScore:     p.Score,
		Correct:        res.Correct,
		Streak:         p.Streak,
		Health:         p.Health,
		GrantedPowerUp: res.GrantedPowerUp,
	}, nil
}

type CreateQuestionRequest struct {
	QuizID       string
	QuestionText string
	TimeLimit    time.Duration
	Options      []CreateQuestionOption
}

type CreateQuestionOption struct {
	OptionText string
	Correct    bool
}

// CreateQuestion adds a question to a quiz's pool. At least one option must
// be marked correct, otherwise no answer could ever score.
func (s *Service) CreateQuestion(ctx context.Context, req CreateQuestionRequest) (*domain.Question, error) {
	if req.QuizID == "" || req.QuestionText == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("quiz id and question text are required"))
	}

	var hasCorrect bool
	for _, o := range req.Options {
		hasCorrect = hasCorrect || o.Correct
	}
	if !hasCorrect {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question needs at least one correct option"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate question ID: %w", err)
	}

	q := &domain.Question{
		QuestionID:   id.String(),
		QuizID:       req.QuizID,
		QuestionText: req.QuestionText,
		TimeLimit:    req.TimeLimit,
	}
	for _, o := range req.Options {
		oid, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate option ID: %w", err)
		}
		q.Options = append(q.Options, domain.Option{
			OptionID:   oid.String(),
			OptionText: o.OptionText,
			Correct:    o.Correct,
		})
	}

	if err := s.store.CreateQuestion(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

func correctLabel(correct bool) string {
	if correct {
		return "correct"
	}
	return "incorrect"
}
