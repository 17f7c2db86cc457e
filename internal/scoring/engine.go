// Package scoring converts one answer submission into a point delta and the
// side effects the caller applies to participant state. The engine itself
// never mutates shared state, so it stays testable in isolation.
package scoring

import (
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quizroyale/backend/internal/domain"
)

const (
	// defaultQuizBase is the shared quiz scoring base used for timed
	// questions, before the time penalty.
	defaultQuizBase = 3000
	// defaultBattleBase is the flat base for untimed battle royale
	// questions.
	defaultBattleBase = 5000

	defaultWrongAnswerPenalty = 5
	defaultHealthRewardCap    = 10
	defaultDropChancePercent  = 15

	// streakThreshold is the streak length at which the bonus kicks in.
	streakThreshold = 3

	// timeFreezeWindow is the answer latency under which a held time_freeze
	// grants its passive bonus.
	timeFreezeWindow = 5 * time.Second
)

// Rand is the source of randomness for power-up drops. *rand.Rand from
// math/rand/v2 satisfies it; tests inject a seeded one.
type Rand interface {
	IntN(n int) int
}

type Config struct {
	QuizBase           int64
	BattleBase         int64
	WrongAnswerPenalty int
	HealthRewardCap    int
	DropChancePercent  int
	Rand               Rand
}

type Engine struct {
	quizBase   int64
	battleBase int64
	penalty    int
	healthCap  int
	dropPct    int
	rand       Rand
}

func NewEngine(c Config) *Engine {
	e := &Engine{
		quizBase:   c.QuizBase,
		battleBase: c.BattleBase,
		penalty:    c.WrongAnswerPenalty,
		healthCap:  c.HealthRewardCap,
		dropPct:    c.DropChancePercent,
		rand:       c.Rand,
	}

	if e.quizBase == 0 {
		e.quizBase = defaultQuizBase
	}
	if e.battleBase == 0 {
		e.battleBase = defaultBattleBase
	}
	if e.penalty == 0 {
		e.penalty = defaultWrongAnswerPenalty
	}
	if e.healthCap == 0 {
		e.healthCap = defaultHealthRewardCap
	}
	if e.dropPct == 0 {
		e.dropPct = defaultDropChancePercent
	}
	if e.rand == nil {
		e.rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return e
}

// Result is the outcome of scoring one answer. The caller applies Points,
// HealthDelta, consumptions and the granted power-up to participant state.
type Result struct {
	Points      int64
	Correct     bool
	HealthDelta int

	// DoublePointsConsumed is set when a held double_points was burned into
	// the multiplier. time_freeze is never consumed here; its use is an
	// explicit separate operation.
	DoublePointsConsumed bool
	// ShieldConsumed is set when a held shield absorbed the wrong-answer
	// health penalty.
	ShieldConsumed bool

	// GrantedPowerUp is the random drop, empty when nothing dropped.
	GrantedPowerUp domain.PowerUp

	Multiplier decimal.Decimal
}

// Score computes the outcome of one answer submission. It reads, but does not
// mutate, the participant: streak is the pre-increment value and power-ups
// count as held even though their consumption happens at the caller.
func (e *Engine) Score(q domain.Question, selected []string, responseTime time.Duration, p *domain.Participant) Result {
	if !isCorrect(q, selected) {
		r := Result{Multiplier: decimal.NewFromInt(1)}
		if p.HasPowerUp(domain.PowerUpShield) {
			r.ShieldConsumed = true
		} else {
			r.HealthDelta = -e.penalty
		}
		return r
	}

	base := e.baseScore(q, responseTime)

	mult := decimal.NewFromInt(1)
	if p.Streak >= streakThreshold {
		bonus := decimal.NewFromFloat(0.1).Mul(decimal.NewFromInt(int64(p.Streak - 2)))
		mult = mult.Add(bonus)
	}

	r := Result{Correct: true}
	if p.HasPowerUp(domain.PowerUpDoublePoints) {
		mult = mult.Mul(decimal.NewFromInt(2))
		r.DoublePointsConsumed = true
	}
	if p.HasPowerUp(domain.PowerUpTimeFreeze) && responseTime < timeFreezeWindow {
		mult = mult.Add(decimal.NewFromFloat(0.5))
	}

	r.Points = decimal.NewFromInt(base).Mul(mult).Floor().IntPart()
	r.Multiplier = mult
	r.HealthDelta = e.healthReward(base)

	if e.rand.IntN(100) < e.dropPct {
		drops := domain.PowerUps()
		r.GrantedPowerUp = drops[e.rand.IntN(len(drops))]
	}

	return r
}

// baseScore is the time-penalized quiz base for timed questions and the flat
// battle base otherwise. The penalty is half-linear: answering at the limit
// still earns half the base.
func (e *Engine) baseScore(q domain.Question, responseTime time.Duration) int64 {
	if q.TimeLimit <= 0 {
		return e.battleBase
	}

	rt := responseTime
	if rt < 0 {
		rt = 0
	}
	if rt > q.TimeLimit {
		rt = q.TimeLimit
	}

	ratio := rt.Seconds() / q.TimeLimit.Seconds()
	return int64(float64(e.quizBase) * (1 - ratio/2))
}

// healthReward scales with the time-penalized base and is capped.
func (e *Engine) healthReward(base int64) int {
	reward := int(base / 100)
	if reward > e.healthCap {
		reward = e.healthCap
	}
	return reward
}

// isCorrect requires set equality between the selection and the question's
// correct options: partial answers earn nothing in battle royale. A question
// with no correct options configured never matches, and neither does an empty
// selection.
func isCorrect(q domain.Question, selected []string) bool {
	correct := q.CorrectOptionIDs()
	if len(correct) == 0 || len(selected) == 0 {
		return false
	}

	picked := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		picked[id] = struct{}{}
	}

	if len(picked) != len(correct) {
		return false
	}
	for id := range picked {
		if _, ok := correct[id]; !ok {
			return false
		}
	}
	return true
}
