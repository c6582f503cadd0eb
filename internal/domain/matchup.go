package domain

import (
	"time"

	"github.com/google/uuid"
)

// MatchupType is the number of players in a head-to-head group.
type MatchupType string

const (
	Matchup2Ball MatchupType = "2ball"
	Matchup3Ball MatchupType = "3ball"
)

// PlayerCount returns how many players a matchup of this type carries.
func (t MatchupType) PlayerCount() int {
	if t == Matchup3Ball {
		return 3
	}
	return 2
}

// MatchupPlayer is one side of a matchup with its American odds.
type MatchupPlayer struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name,omitempty"`
	Odds       int    `json:"odds"`
}

// Matchup is a head-to-head line on a round. Created by the bet-line import.
type Matchup struct {
	ID           uuid.UUID       `json:"id"`
	TournamentID string          `json:"tournament_id"`
	RoundNum     int             `json:"round_num"`
	Type         MatchupType     `json:"type"`
	Players      []MatchupPlayer `json:"players"`
	CreatedAt    time.Time       `json:"created_at"`
}

// RoundKey returns the round this matchup is played on.
func (m Matchup) RoundKey() RoundKey {
	return RoundKey{TournamentID: m.TournamentID, RoundNum: m.RoundNum}
}

// HasPlayer reports whether playerID is one of the matchup's players.
func (m Matchup) HasPlayer(playerID string) bool {
	for _, p := range m.Players {
		if p.PlayerID == playerID {
			return true
		}
	}
	return false
}

// PlayerIDs lists the matchup's player ids in order.
func (m Matchup) PlayerIDs() []string {
	ids := make([]string, len(m.Players))
	for i, p := range m.Players {
		ids[i] = p.PlayerID
	}
	return ids
}

// PlayerResult is a player's line in a matchup result.
type PlayerResult struct {
	PlayerID   string       `json:"player_id"`
	RoundScore int          `json:"round_score"`
	TotalScore int          `json:"total_score"`
	Status     PlayerStatus `json:"status"`
}

// MatchupResult is the canonical outcome of a matchup on a round.
// At most one exists per (MatchupID, EventID, RoundNum).
type MatchupResult struct {
	ID                 uuid.UUID      `json:"id"`
	MatchupID          uuid.UUID      `json:"matchup_id"`
	EventID            string         `json:"event_id"`
	RoundNum           int            `json:"round_num"`
	WinnerID           *string        `json:"winner_id"`
	IsPush             bool           `json:"is_push"`
	Players            []PlayerResult `json:"players"`
	ResultDeterminedAt time.Time      `json:"result_determined_at"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// ResultKey is the uniqueness key of a matchup result.
type ResultKey struct {
	MatchupID uuid.UUID
	EventID   string
	RoundNum  int
}

// Key returns the result's uniqueness key.
func (r MatchupResult) Key() ResultKey {
	return ResultKey{MatchupID: r.MatchupID, EventID: r.EventID, RoundNum: r.RoundNum}
}

// ResultFilter narrows result listings. Zero fields are ignored.
type ResultFilter struct {
	TournamentID string
	RoundNum     *int
	MatchupID    *uuid.UUID
	Limit        int
}
