package policy

// Tier orders players before comparing scores. Lower tiers always beat higher tiers.
type Tier int

const (
	TierFinished Tier = iota
	TierCut
	TierRetired
)

// ScoredPlayer is a player's comparable line in a matchup.
type ScoredPlayer struct {
	PlayerID string
	Score    int
	Tier     Tier
}

// MatchupDecision is the graded outcome of a matchup.
type MatchupDecision struct {
	WinnerID *string
	IsPush   bool
}

// DecideMatchup picks the winner of a matchup: best tier first, then the lowest score.
// An exact tie for the best score is a push, as is a matchup where every player retired.
func DecideMatchup(players []ScoredPlayer) MatchupDecision {
	if len(players) == 0 {
		return MatchupDecision{IsPush: true}
	}

	best := players[0]
	tied := false
	for _, p := range players[1:] {
		switch {
		case p.Tier < best.Tier, p.Tier == best.Tier && p.Score < best.Score:
			best = p
			tied = false
		case p.Tier == best.Tier && p.Score == best.Score:
			tied = true
		}
	}

	if tied || best.Tier == TierRetired {
		return MatchupDecision{IsPush: true}
	}
	winner := best.PlayerID
	return MatchupDecision{WinnerID: &winner}
}
