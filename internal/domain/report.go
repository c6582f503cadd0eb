package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntityError is a non-fatal failure attached to one entity in a report.
type EntityError struct {
	Code         string     `json:"code"`
	TournamentID string     `json:"tournament_id,omitempty"`
	RoundNum     *int       `json:"round_num,omitempty"`
	MatchupID    *uuid.UUID `json:"matchup_id,omitempty"`
	ParlayID     *uuid.UUID `json:"parlay_id,omitempty"`
	PickID       *uuid.UUID `json:"pick_id,omitempty"`
	Message      string     `json:"message"`
}

// NewEntityError builds an EntityError for a round, taking the code from err.
func NewEntityError(key RoundKey, err error) EntityError {
	code := CodeInternal
	if appErr := AsAppError(err); appErr != nil {
		code = appErr.Code
	}
	round := key.RoundNum
	return EntityError{
		Code:         code,
		TournamentID: key.TournamentID,
		RoundNum:     &round,
		Message:      err.Error(),
	}
}

// NewTournamentError builds an EntityError for a whole tournament.
func NewTournamentError(tournamentID string, err error) EntityError {
	code := CodeInternal
	if appErr := AsAppError(err); appErr != nil {
		code = appErr.Code
	}
	return EntityError{Code: code, TournamentID: tournamentID, Message: err.Error()}
}

// WithMatchup attaches a matchup id.
func (e EntityError) WithMatchup(id uuid.UUID) EntityError {
	e.MatchupID = &id
	return e
}

// WithParlay attaches a parlay id.
func (e EntityError) WithParlay(id uuid.UUID) EntityError {
	e.ParlayID = &id
	return e
}

// WithPick attaches a pick id.
func (e EntityError) WithPick(id uuid.UUID) EntityError {
	e.PickID = &id
	return e
}

// MatchupOutcome summarizes the ingestion decision for one matchup.
type MatchupOutcome struct {
	MatchupID uuid.UUID `json:"matchup_id"`
	WinnerID  *string   `json:"winner_id"`
	IsPush    bool      `json:"is_push"`
	Saved     bool      `json:"saved"`
}

// IngestReport is returned by result ingestion for one round.
type IngestReport struct {
	Round           RoundKey         `json:"round"`
	SavedCount      int              `json:"saved_count"`
	SkippedCount    int              `json:"skipped_count"`
	ResultsComplete bool             `json:"results_complete"`
	Outcomes        []MatchupOutcome `json:"outcomes"`
	Errors          []EntityError    `json:"errors"`
}

// SettleReport is returned by the settlement pass for one round.
type SettleReport struct {
	Round          RoundKey      `json:"round"`
	PicksSettled   int           `json:"picks_settled"`
	PicksPending   int           `json:"picks_pending"`
	ParlaysSettled int           `json:"parlays_settled"`
	RoundSettled   bool          `json:"round_settled"`
	Errors         []EntityError `json:"errors"`
}

// ReversalResult is returned by a settlement reversal.
type ReversalResult struct {
	ParlayID   uuid.UUID `json:"parlay_id"`
	PicksReset int       `json:"picks_reset"`
}

// RunReport aggregates one pipeline pass.
type RunReport struct {
	RunID           uuid.UUID     `json:"run_id"`
	Trigger         string        `json:"trigger"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	RoundsFound     int           `json:"rounds_found"`
	RoundsProcessed int           `json:"rounds_processed"`
	RoundsSkipped   int           `json:"rounds_skipped"`
	ResultsIngested int           `json:"results_ingested"`
	PicksSettled    int           `json:"picks_settled"`
	ParlaysSettled  int           `json:"parlays_settled"`
	RoundsSettled   int           `json:"rounds_settled"`
	Errors          []EntityError `json:"errors"`
}
