// Package elimination decides, given the currently active participants of a
// session, how many to cut this round and which ones. Everything here is
// deterministic: same input, same decision.
package elimination

import (
	"sort"

	"github.com/quizroyale/backend/internal/domain"
)

// Count returns how many participants to eliminate for the given active
// population. Larger fields shed proportionally more; the last-four endgame
// always sheds exactly one per round, and a final two is left for the win
// condition to resolve.
func Count(totalActive int) int {
	var rate float64
	switch {
	case totalActive > 16:
		rate = 0.30
	case totalActive > 8:
		rate = 0.25
	case totalActive > 4:
		rate = 0.20
	case totalActive == 4:
		// floor(4*0.2) would be 0; the clamp below forces one cut so the
		// endgame keeps moving.
		rate = 0.20
	case totalActive == 3:
		return 1
	default:
		return 0
	}

	n := int(float64(totalActive) * rate)
	if n < 1 {
		n = 1
	}
	return n
}

// Rank sorts participants in place worst-to-best: lowest score first, and on
// equal scores the stalest activity first. The sort is stable, so equal
// participants keep their input order.
func Rank(ps []*domain.Participant) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Score != ps[j].Score {
			return ps[i].Score < ps[j].Score
		}
		return ps[i].LastActivity.Before(ps[j].LastActivity)
	})
}

// BlendedRank is the alternate ranking that folds health into the ordering as
// score + health*10 ascending, so a battered high-scorer can still drop below
// a healthy mid-scorer. Not used by the round processor.
func BlendedRank(ps []*domain.Participant) {
	sort.SliceStable(ps, func(i, j int) bool {
		bi := ps[i].Score + int64(ps[i].Health)*10
		bj := ps[j].Score + int64(ps[j].Health)*10
		return bi < bj
	})
}

// Decision is the ordered list of participants chosen for one round, worst
// first.
type Decision struct {
	Count      int
	Eliminated []*domain.Participant
}

// Decide ranks the active participants and takes the worst N per Count. The
// input slice is reordered in place.
func Decide(active []*domain.Participant) Decision {
	Rank(active)

	n := Count(len(active))
	return Decision{
		Count:      n,
		Eliminated: active[:n],
	}
}
