package domain

import (
	"fmt"
	"strings"
)

// ValidateRoundNum checks a round number against the tournament's round count.
// Zero is the aggregate marker and is always valid.
func ValidateRoundNum(roundNum, roundCount int) error {
	if roundCount <= 0 {
		roundCount = 4
	}
	if roundNum < 0 || roundNum > roundCount {
		return fmt.Errorf("round %d out of range 0..%d", roundNum, roundCount)
	}
	return nil
}

// ValidateTournamentID checks that a feed event id is present.
func ValidateTournamentID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("tournament id is required")
	}
	return nil
}

// ValidateMatchup checks player count and duplicate players.
func ValidateMatchup(m Matchup) error {
	if m.Type != Matchup2Ball && m.Type != Matchup3Ball {
		return fmt.Errorf("invalid matchup type %q", m.Type)
	}
	if len(m.Players) != m.Type.PlayerCount() {
		return fmt.Errorf("%s matchup needs %d players, got %d", m.Type, m.Type.PlayerCount(), len(m.Players))
	}
	seen := make(map[string]bool, len(m.Players))
	for _, p := range m.Players {
		if p.PlayerID == "" {
			return fmt.Errorf("matchup player id is required")
		}
		if seen[p.PlayerID] {
			return fmt.Errorf("player %s appears twice in matchup", p.PlayerID)
		}
		seen[p.PlayerID] = true
	}
	return nil
}

// ValidateMatchupResult checks that a result is consistent with its matchup.
func ValidateMatchupResult(r MatchupResult, m Matchup) error {
	if r.MatchupID != m.ID {
		return fmt.Errorf("result matchup %s does not match %s", r.MatchupID, m.ID)
	}
	if r.EventID != m.TournamentID || r.RoundNum != m.RoundNum {
		return fmt.Errorf("result round %s/r%d does not match matchup round %s", r.EventID, r.RoundNum, m.RoundKey())
	}
	if r.IsPush && r.WinnerID != nil {
		return fmt.Errorf("a push cannot carry a winner")
	}
	if !r.IsPush {
		if r.WinnerID == nil {
			return fmt.Errorf("winner is required unless the result is a push")
		}
		if !m.HasPlayer(*r.WinnerID) {
			return fmt.Errorf("winner %s is not in matchup", *r.WinnerID)
		}
	}
	for _, p := range r.Players {
		if !m.HasPlayer(p.PlayerID) {
			return fmt.Errorf("player %s is not in matchup", p.PlayerID)
		}
	}
	return nil
}

// ValidateReason checks the operator-supplied reversal reason.
func ValidateReason(reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("reason is required")
	}
	if len(reason) > 500 {
		return fmt.Errorf("reason exceeds 500 characters")
	}
	return nil
}
