package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AggregateRound is the round number used by full-event (72-hole) matchups.
const AggregateRound = 0

// HolesPerRound is the number of holes a player completes in a regulation round.
const HolesPerRound = 18

// Tournament is a scheduled event. Rows are maintained by the schedule sync.
type Tournament struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Course     string    `json:"course,omitempty"`
	Tour       string    `json:"tour,omitempty"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	RoundCount int       `json:"round_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// FinalRound returns the last regulation round number.
func (t Tournament) FinalRound() int {
	if t.RoundCount <= 0 {
		return 4
	}
	return t.RoundCount
}

// RoundKey identifies a round of a tournament.
type RoundKey struct {
	TournamentID string `json:"tournament_id"`
	RoundNum     int    `json:"round_num"`
}

func (k RoundKey) String() string {
	return fmt.Sprintf("%s/r%d", k.TournamentID, k.RoundNum)
}

// IsAggregate reports whether the key addresses the full-event marker round.
func (k RoundKey) IsAggregate() bool { return k.RoundNum == AggregateRound }

// RoundState is the persisted lifecycle of a round. An absent row is in_progress.
type RoundState string

const (
	RoundInProgress RoundState = "in_progress"
	RoundCompleted  RoundState = "completed"
	RoundSettled    RoundState = "settled"
)

// Round is the persisted completion and settlement state of a round.
type Round struct {
	TournamentID    string     `json:"tournament_id"`
	RoundNum        int        `json:"round_num"`
	State           RoundState `json:"state"`
	CompletionPct   float64    `json:"completion_pct"`
	ResultsComplete bool       `json:"results_complete"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	SettledAt       *time.Time `json:"settled_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Key returns the round's identifier.
func (r Round) Key() RoundKey {
	return RoundKey{TournamentID: r.TournamentID, RoundNum: r.RoundNum}
}

// PlayerStatus is the on-course status reported by the live feed.
type PlayerStatus string

const (
	PlayerActive   PlayerStatus = "active"
	PlayerFinished PlayerStatus = "finished"
	PlayerCut      PlayerStatus = "cut"
	PlayerWD       PlayerStatus = "wd"
	PlayerDQ       PlayerStatus = "dq"
)

// ParsePlayerStatus normalizes feed status strings. Unknown values are active.
func ParsePlayerStatus(s string) PlayerStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "finished", "f", "complete", "completed":
		return PlayerFinished
	case "cut", "mc":
		return PlayerCut
	case "wd", "withdrawn":
		return PlayerWD
	case "dq", "disqualified":
		return PlayerDQ
	default:
		return PlayerActive
	}
}

// Retired reports whether the player stopped playing without finishing.
func (s PlayerStatus) Retired() bool {
	return s == PlayerWD || s == PlayerDQ
}

// PlayerRoundStanding is one live leaderboard row. It is never persisted.
type PlayerRoundStanding struct {
	PlayerID   string       `json:"player_id"`
	PlayerName string       `json:"player_name"`
	Position   string       `json:"position,omitempty"`
	Today      int          `json:"today"`
	Thru       int          `json:"thru"`
	Total      int          `json:"total"`
	Status     PlayerStatus `json:"status"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Done reports whether the standing counts toward round completion.
func (p PlayerRoundStanding) Done() bool {
	if p.Thru >= HolesPerRound {
		return true
	}
	switch p.Status {
	case PlayerFinished, PlayerCut, PlayerWD, PlayerDQ:
		return true
	}
	return false
}

// ParseThru converts a feed "thru" marker into holes completed.
// "F" and "18" both mean finished; "-" or blank means not started.
func ParseThru(s string) (int, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	switch s {
	case "", "-":
		return 0, nil
	case "F", "F*":
		return HolesPerRound, nil
	}
	s = strings.TrimSuffix(s, "*")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid thru value %q", s)
	}
	if n < 0 || n > HolesPerRound {
		return 0, fmt.Errorf("thru %d out of range", n)
	}
	return n, nil
}
