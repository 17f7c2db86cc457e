package domain

import (
	"time"
)

type SessionStatus string

const (
	SessionWaiting SessionStatus = "waiting"
	SessionActive  SessionStatus = "active"
	SessionEnded   SessionStatus = "ended"
)

// Session represents one battle royale match.
type Session struct {
	SessionID           string
	QuizID              string
	Status              SessionStatus
	CurrentRound        int
	EliminationInterval time.Duration
	NextRoundAt         time.Time
	WinnerID            string
	CreatedAt           time.Time
	EndedAt             time.Time
}

// Start moves the session from waiting to active and schedules the first
// elimination round. Status only moves forward; starting anything but a
// waiting session reports false.
func (s *Session) Start(now time.Time) bool {
	if s.Status != SessionWaiting {
		return false
	}

	s.Status = SessionActive
	s.NextRoundAt = now.Add(s.EliminationInterval)
	return true
}

// End marks the session as finished. Winner may be empty if the field
// emptied out without a survivor.
func (s *Session) End(winner string, now time.Time) bool {
	if s.Status == SessionEnded {
		return false
	}

	s.Status = SessionEnded
	s.WinnerID = winner
	s.EndedAt = now
	return true
}

type Question struct {
	QuestionID   string
	QuizID       string
	QuestionText string
	// TimeLimit is how long participants have to answer. Zero means the
	// question is untimed and scored on the flat battle base.
	TimeLimit time.Duration
	Options   []Option
}

type Option struct {
	OptionID   string
	OptionText string
	Correct    bool
}

// CorrectOptionIDs returns the set of correct option IDs of the question.
func (q Question) CorrectOptionIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, o := range q.Options {
		if o.Correct {
			ids[o.OptionID] = struct{}{}
		}
	}
	return ids
}

// Score represents one score change for a participant within a session.
type Score struct {
	SessionID     string
	ParticipantID string
	Round         int
	Points        int64
	TotalScore    int64
	UpdateTime    time.Time
}

// Leaderboard is the position-ranked view of all participants in a session.
// Active participants come first ordered by score, eliminated ones follow in
// reverse elimination order.
type Leaderboard struct {
	SessionID string             `json:"session_id"`
	Round     int                `json:"round"`
	Entries   []LeaderboardEntry `json:"entries"`
}

type LeaderboardEntry struct {
	Position         int    `json:"position"`
	ParticipantID    string `json:"participant_id"`
	DisplayName      string `json:"display_name"`
	Avatar           string `json:"avatar,omitempty"`
	Score            int64  `json:"score"`
	Health           int    `json:"health"`
	Streak           int    `json:"streak"`
	Eliminated       bool   `json:"eliminated"`
	EliminationRound int    `json:"elimination_round,omitempty"`
}
