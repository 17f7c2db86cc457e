package domain

import (
	"time"
)

// MaxHealth is the health ceiling for every participant.
const MaxHealth = 100

type PowerUp string

const (
	PowerUpDoublePoints PowerUp = "double_points"
	PowerUpShield       PowerUp = "shield"
	PowerUpTimeFreeze   PowerUp = "time_freeze"
	PowerUpHealthBoost  PowerUp = "health_boost"
)

// PowerUps returns every power-up type, in drop-table order.
func PowerUps() []PowerUp {
	return []PowerUp{PowerUpDoublePoints, PowerUpShield, PowerUpTimeFreeze, PowerUpHealthBoost}
}

// Inventory holds the remaining-use counts of a participant's power-ups as
// explicit fields, so an unknown power-up type cannot sneak in through a
// loosely typed bag.
type Inventory struct {
	DoublePoints int
	Shield       int
	TimeFreeze   int
	HealthBoost  int
}

func (i Inventory) Count(t PowerUp) int {
	switch t {
	case PowerUpDoublePoints:
		return i.DoublePoints
	case PowerUpShield:
		return i.Shield
	case PowerUpTimeFreeze:
		return i.TimeFreeze
	case PowerUpHealthBoost:
		return i.HealthBoost
	}
	return 0
}

// Participant is one competitor inside a session. All gameplay mutation goes
// through the methods below, which enforce the frozen-after-elimination rule.
type Participant struct {
	ParticipantID string
	SessionID     string
	DisplayName   string
	Avatar        string

	Score  int64
	Health int
	Streak int

	PowerUps Inventory

	Eliminated       bool
	EliminationRound int // meaningful only when Eliminated
	FinalPosition    int // 0 until assigned

	Online       bool
	LastSeen     time.Time
	LastActivity time.Time
}

// NewParticipant returns a participant at full health joined to a session.
func NewParticipant(id, sessionID, name, avatar string, now time.Time) *Participant {
	return &Participant{
		ParticipantID: id,
		SessionID:     sessionID,
		DisplayName:   name,
		Avatar:        avatar,
		Health:        MaxHealth,
		Online:        true,
		LastSeen:      now,
		LastActivity:  now,
	}
}

// AddScore applies a score delta, clamping at zero. No-op once eliminated.
func (p *Participant) AddScore(points int64) {
	if p.Eliminated {
		return
	}
	p.Score += points
	if p.Score < 0 {
		p.Score = 0
	}
}

// ApplyDamage lowers health, flooring at zero. A participant at zero health
// becomes eligible for elimination, but the elimination itself is asserted by
// the round processor so the transition stays in one place.
func (p *Participant) ApplyDamage(amount int) {
	if p.Eliminated || amount <= 0 {
		return
	}
	p.Health -= amount
	if p.Health < 0 {
		p.Health = 0
	}
}

// Heal raises health up to the ceiling. No-op once eliminated.
func (p *Participant) Heal(amount int) {
	if p.Eliminated || amount <= 0 {
		return
	}
	p.Health += amount
	if p.Health > MaxHealth {
		p.Health = MaxHealth
	}
}

func (p *Participant) HasPowerUp(t PowerUp) bool {
	return p.PowerUps.Count(t) > 0
}

// GrantPowerUp adds one use of the given power-up.
func (p *Participant) GrantPowerUp(t PowerUp) {
	if p.Eliminated {
		return
	}
	switch t {
	case PowerUpDoublePoints:
		p.PowerUps.DoublePoints++
	case PowerUpShield:
		p.PowerUps.Shield++
	case PowerUpTimeFreeze:
		p.PowerUps.TimeFreeze++
	case PowerUpHealthBoost:
		p.PowerUps.HealthBoost++
	}
}

// UsePowerUp consumes one use and reports whether anything was held. It never
// lets a count go negative.
func (p *Participant) UsePowerUp(t PowerUp) bool {
	if !p.HasPowerUp(t) {
		return false
	}
	switch t {
	case PowerUpDoublePoints:
		p.PowerUps.DoublePoints--
	case PowerUpShield:
		p.PowerUps.Shield--
	case PowerUpTimeFreeze:
		p.PowerUps.TimeFreeze--
	case PowerUpHealthBoost:
		p.PowerUps.HealthBoost--
	}
	return true
}

// Eliminate freezes the participant at the given round. It reports false if
// the participant was already out, so callers can avoid double-firing
// notifications.
func (p *Participant) Eliminate(round, position int) bool {
	if p.Eliminated {
		return false
	}

	p.Eliminated = true
	p.EliminationRound = round
	p.FinalPosition = position
	return true
}

func (p *Participant) MarkOnline(now time.Time) {
	p.Online = true
	p.LastSeen = now
}

func (p *Participant) MarkOffline(now time.Time) {
	p.Online = false
	p.LastSeen = now
}

// IdleSince reports whether the participant has been offline for longer than
// the given timeout.
func (p *Participant) IdleSince(now time.Time, timeout time.Duration) bool {
	return !p.Online && now.Sub(p.LastSeen) > timeout
}
