package policy

import "github.com/teeline/settlement/internal/domain"

// RoundCompletion holds the result of a completion check.
type RoundCompletion struct {
	Complete bool    `json:"complete"`
	Pct      float64 `json:"pct"`
	Done     int     `json:"done"`
	Field    int     `json:"field"`
}

// EvaluateRoundCompletion checks whether enough of the field has finished the round.
// minPct is a fraction in (0, 1]. An empty field is never complete.
func EvaluateRoundCompletion(standings []domain.PlayerRoundStanding, minPct float64) RoundCompletion {
	if len(standings) == 0 {
		return RoundCompletion{}
	}

	done := 0
	for _, s := range standings {
		if s.Done() {
			done++
		}
	}

	pct := float64(done) / float64(len(standings))
	return RoundCompletion{
		Complete: pct >= minPct,
		Pct:      pct,
		Done:     done,
		Field:    len(standings),
	}
}
