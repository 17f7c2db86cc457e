package domain

const (
	EventNameScoreUpdated          = "score.updated"
	EventNameParticipantEliminated = "participant.eliminated"
	EventNameRoundCompleted        = "round.completed"
	EventNameSessionEnded          = "session.ended"
	EventNamePowerUpUsed           = "powerup.used"
	EventNameLeaderboardUpdated    = "leaderboard.updated"
)

type EventScoreUpdated struct {
	Score Score
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventParticipantEliminated struct {
	SessionID     string
	ParticipantID string
	DisplayName   string
	Round         int
	FinalPosition int
	// Forced is true for timeout/zero-health eliminations done outside the
	// regular round boundary.
	Forced bool
}

func (EventParticipantEliminated) Name() string { return EventNameParticipantEliminated }

type EventRoundCompleted struct {
	SessionID  string
	Round      int
	NextRound  int
	Eliminated []string
	Remaining  int
}

func (EventRoundCompleted) Name() string { return EventNameRoundCompleted }

type EventSessionEnded struct {
	SessionID string
	WinnerID  string
	Round     int
}

func (EventSessionEnded) Name() string { return EventNameSessionEnded }

type EventPowerUpUsed struct {
	SessionID     string
	ParticipantID string
	PowerUp       PowerUp
}

func (EventPowerUpUsed) Name() string { return EventNamePowerUpUsed }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
