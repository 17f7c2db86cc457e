// Package store persists sessions, participants and questions in PostgreSQL.
// It implements the ports the services declare.
package store

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quizroyale/backend/internal/domain"
	"github.com/quizroyale/backend/internal/errors"
)

//go:embed schema.sql
var schema string

const codeUniqueViolation = "23505"

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate applies the schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, ss *domain.Session) error {
	const stmt = `
INSERT INTO sessions (session_id, quiz_id, status, current_round, elimination_interval, created_at)
VALUES ($1, $2, $3, $4, $5, $6);`

	_, err := s.db.Exec(ctx, stmt,
		ss.SessionID, ss.QuizID, ss.Status, ss.CurrentRound,
		int(ss.EliminationInterval.Seconds()), ss.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	const stmt = `
SELECT session_id, quiz_id, status, current_round, elimination_interval,
       next_round_at, winner_id, created_at, ended_at
FROM sessions
WHERE session_id = $1;`

	row := s.db.QueryRow(ctx, stmt, sessionID)

	var (
		ss          domain.Session
		intervalSec int
		nextRoundAt *time.Time
		winnerID    *string
		endedAt     *time.Time
	)
	err := row.Scan(&ss.SessionID, &ss.QuizID, &ss.Status, &ss.CurrentRound,
		&intervalSec, &nextRoundAt, &winnerID, &ss.CreatedAt, &endedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", sessionID))
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}

	ss.EliminationInterval = time.Duration(intervalSec) * time.Second
	if nextRoundAt != nil {
		ss.NextRoundAt = *nextRoundAt
	}
	if winnerID != nil {
		ss.WinnerID = *winnerID
	}
	if endedAt != nil {
		ss.EndedAt = *endedAt
	}
	return &ss, nil
}

// StartSession flips a waiting session to active and schedules the first
// round. A session in any other status yields FailedPrecondition.
func (s *Store) StartSession(ctx context.Context, sessionID string, now time.Time) error {
	const stmt = `
UPDATE sessions
SET status = $2, next_round_at = $4::timestamptz + elimination_interval * INTERVAL '1 second'
WHERE session_id = $1 AND status = $3;`

	tag, err := s.db.Exec(ctx, stmt, sessionID, domain.SessionActive, domain.SessionWaiting, now)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session %s is not waiting", sessionID))
	}
	return nil
}

// AdvanceRound bumps the round counter if and only if it still holds the
// expected value, and schedules the next round. A racing round trigger loses
// the compare-and-set and gets Aborted.
func (s *Store) AdvanceRound(ctx context.Context, sessionID string, fromRound int, nextRoundAt time.Time) error {
	const stmt = `
UPDATE sessions
SET current_round = current_round + 1, next_round_at = $3
WHERE session_id = $1 AND current_round = $2 AND status = 'active';`

	tag, err := s.db.Exec(ctx, stmt, sessionID, fromRound, nextRoundAt)
	if err != nil {
		return fmt.Errorf("advance round: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeAborted,
			errors.WithMessagef("session %s already advanced past round %d", sessionID, fromRound))
	}
	return nil
}

// EndSession marks the session ended and assigns the winner first place.
func (s *Store) EndSession(ctx context.Context, sessionID, winnerID string, now time.Time) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const endStmt = `
UPDATE sessions
SET status = 'ended', winner_id = NULLIF($2, ''), ended_at = $3
WHERE session_id = $1 AND status <> 'ended';`

	tag, err := tx.Exec(ctx, endStmt, sessionID, winnerID, now)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session %s already ended", sessionID))
	}

	if winnerID != "" {
		const winnerStmt = `
UPDATE participants SET final_position = 1
WHERE session_id = $1 AND participant_id = $2;`
		if _, err = tx.Exec(ctx, winnerStmt, sessionID, winnerID); err != nil {
			return fmt.Errorf("assign winner position: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// DueSessions returns active sessions whose next round is due.
func (s *Store) DueSessions(ctx context.Context, now time.Time) ([]string, error) {
	const stmt = `
SELECT session_id FROM sessions
WHERE status = 'active' AND next_round_at <= $1;`

	rows, err := s.db.Query(ctx, stmt, now)
	if err != nil {
		return nil, fmt.Errorf("select due sessions: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ActiveSessions returns all sessions currently in play.
func (s *Store) ActiveSessions(ctx context.Context) ([]string, error) {
	const stmt = `SELECT session_id FROM sessions WHERE status = 'active';`

	rows, err := s.db.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("select active sessions: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) AddParticipant(ctx context.Context, p *domain.Participant) error {
	const stmt = `
INSERT INTO participants (participant_id, session_id, display_name, avatar,
                          score, health, streak, online, last_seen, last_activity)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`

	_, err := s.db.Exec(ctx, stmt, p.ParticipantID, p.SessionID, p.DisplayName, p.Avatar,
		p.Score, p.Health, p.Streak, p.Online, p.LastSeen, p.LastActivity)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists, errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

const participantColumns = `
participant_id, session_id, display_name, avatar, score, health, streak,
double_points, shield, time_freeze, health_boost,
is_eliminated, elimination_round, final_position, online, last_seen, last_activity`

func scanParticipant(row pgx.Row) (*domain.Participant, error) {
	var (
		p                domain.Participant
		eliminationRound *int
		finalPosition    *int
	)
	err := row.Scan(&p.ParticipantID, &p.SessionID, &p.DisplayName, &p.Avatar,
		&p.Score, &p.Health, &p.Streak,
		&p.PowerUps.DoublePoints, &p.PowerUps.Shield, &p.PowerUps.TimeFreeze, &p.PowerUps.HealthBoost,
		&p.Eliminated, &eliminationRound, &finalPosition, &p.Online, &p.LastSeen, &p.LastActivity)
	if err != nil {
		return nil, err
	}

	if eliminationRound != nil {
		p.EliminationRound = *eliminationRound
	}
	if finalPosition != nil {
		p.FinalPosition = *finalPosition
	}
	return &p, nil
}

func (s *Store) Participant(ctx context.Context, sessionID, participantID string) (*domain.Participant, error) {
	stmt := `SELECT ` + participantColumns + `
FROM participants WHERE session_id = $1 AND participant_id = $2;`

	p, err := scanParticipant(s.db.QueryRow(ctx, stmt, sessionID, participantID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("participant not found: session=%s participant=%s", sessionID, participantID))
	}
	if err != nil {
		return nil, fmt.Errorf("select participant: %w", err)
	}
	return p, nil
}

// ActiveParticipants returns non-eliminated participants ranked worst-to-best:
// score ascending, then stalest activity first.
func (s *Store) ActiveParticipants(ctx context.Context, sessionID string) ([]*domain.Participant, error) {
	stmt := `SELECT ` + participantColumns + `
FROM participants
WHERE session_id = $1 AND is_eliminated = FALSE
ORDER BY score ASC, last_activity ASC, participant_id ASC;`

	return s.collectParticipants(ctx, stmt, sessionID)
}

// Participants returns every participant of a session, active or not.
func (s *Store) Participants(ctx context.Context, sessionID string) ([]*domain.Participant, error) {
	stmt := `SELECT ` + participantColumns + `
FROM participants
WHERE session_id = $1
ORDER BY score DESC, participant_id ASC;`

	return s.collectParticipants(ctx, stmt, sessionID)
}

func (s *Store) collectParticipants(ctx context.Context, stmt string, args ...any) ([]*domain.Participant, error) {
	rows, err := s.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select participants: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (*domain.Participant, error) {
		return scanParticipant(r)
	})
}

// UpdateParticipant loads the participant under a row lock, applies fn and
// writes the result back. The lock serializes a participant's own
// submissions, so their streak and health updates apply in order.
func (s *Store) UpdateParticipant(ctx context.Context, sessionID, participantID string, fn func(*domain.Participant) error) (_ *domain.Participant, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	stmt := `SELECT ` + participantColumns + `
FROM participants WHERE session_id = $1 AND participant_id = $2 FOR UPDATE;`

	p, err := scanParticipant(tx.QueryRow(ctx, stmt, sessionID, participantID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("participant not found: session=%s participant=%s", sessionID, participantID))
	}
	if err != nil {
		return nil, fmt.Errorf("select participant for update: %w", err)
	}

	if err = fn(p); err != nil {
		return nil, err
	}

	const update = `
UPDATE participants
SET score = $3, health = $4, streak = $5,
    double_points = $6, shield = $7, time_freeze = $8, health_boost = $9,
    is_eliminated = $10, elimination_round = $11, final_position = NULLIF($12, 0),
    online = $13, last_seen = $14, last_activity = $15
WHERE session_id = $1 AND participant_id = $2;`

	var eliminationRound *int
	if p.Eliminated {
		eliminationRound = &p.EliminationRound
	}

	_, err = tx.Exec(ctx, update, sessionID, participantID,
		p.Score, p.Health, p.Streak,
		p.PowerUps.DoublePoints, p.PowerUps.Shield, p.PowerUps.TimeFreeze, p.PowerUps.HealthBoost,
		p.Eliminated, eliminationRound, p.FinalPosition,
		p.Online, p.LastSeen, p.LastActivity)
	if err != nil {
		return nil, fmt.Errorf("update participant: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// EliminateParticipant freezes a participant at the given round. The WHERE
// clause makes the transition race-safe: eliminating an already-eliminated
// participant yields FailedPrecondition instead of double-firing.
func (s *Store) EliminateParticipant(ctx context.Context, sessionID, participantID string, round, position int) error {
	const stmt = `
UPDATE participants
SET is_eliminated = TRUE, elimination_round = $3, final_position = $4
WHERE session_id = $1 AND participant_id = $2 AND is_eliminated = FALSE;`

	tag, err := s.db.Exec(ctx, stmt, sessionID, participantID, round, position)
	if err != nil {
		return fmt.Errorf("eliminate participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("participant already eliminated: session=%s participant=%s", sessionID, participantID))
	}
	return nil
}

func (s *Store) Question(ctx context.Context, questionID string) (*domain.Question, error) {
	const stmt = `
SELECT q.question_id, q.quiz_id, q.question_text, q.time_limit,
       o.option_id, o.option_text, o.correct
FROM questions q
LEFT JOIN question_options o ON o.question_id = q.question_id
WHERE q.question_id = $1;`

	rows, err := s.db.Query(ctx, stmt, questionID)
	if err != nil {
		return nil, fmt.Errorf("select question: %w", err)
	}
	defer rows.Close()

	var q *domain.Question
	for rows.Next() {
		var (
			id, quizID, text string
			timeLimitSec     int
			optID, optText   *string
			correct          *bool
		)
		if err := rows.Scan(&id, &quizID, &text, &timeLimitSec, &optID, &optText, &correct); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}

		if q == nil {
			q = &domain.Question{
				QuestionID:   id,
				QuizID:       quizID,
				QuestionText: text,
				TimeLimit:    time.Duration(timeLimitSec) * time.Second,
			}
		}
		if optID != nil {
			q.Options = append(q.Options, domain.Option{
				OptionID:   *optID,
				OptionText: *optText,
				Correct:    *correct,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read question rows: %w", err)
	}

	if q == nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question not found: %s", questionID))
	}
	return q, nil
}

// CreateQuestion inserts a question with its options, used by seeding and the
// integration demo.
func (s *Store) CreateQuestion(ctx context.Context, q *domain.Question) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const insQuestion = `
INSERT INTO questions (question_id, quiz_id, question_text, time_limit)
VALUES ($1, $2, $3, $4);`
	_, err = tx.Exec(ctx, insQuestion, q.QuestionID, q.QuizID, q.QuestionText, int(q.TimeLimit.Seconds()))
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}

	const insOption = `
INSERT INTO question_options (option_id, question_id, option_text, correct)
VALUES ($1, $2, $3, $4);`
	for _, o := range q.Options {
		if _, err = tx.Exec(ctx, insOption, o.OptionID, q.QuestionID, o.OptionText, o.Correct); err != nil {
			return fmt.Errorf("insert option: %w", err)
		}
	}

	return tx.Commit(ctx)
}
