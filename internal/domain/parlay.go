package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ParlayStatus tracks whether a parlay has been graded.
type ParlayStatus string

const (
	ParlayPending ParlayStatus = "pending"
	ParlaySettled ParlayStatus = "settled"
)

// Outcome is the graded result of a pick or parlay.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomePush Outcome = "push"
)

// PickSettlementStatus tracks a single leg. Pending means the round was processed
// but the leg's matchup has no result yet.
type PickSettlementStatus string

const (
	PickUnsettled PickSettlementStatus = "unsettled"
	PickPending   PickSettlementStatus = "pending"
	PickSettled   PickSettlementStatus = "settled"
)

// Parlay is a bundle of matchup picks graded together.
type Parlay struct {
	ID              uuid.UUID        `json:"id"`
	UserID          string           `json:"user_id"`
	Stake           decimal.Decimal  `json:"stake"`
	PotentialPayout decimal.Decimal  `json:"potential_payout"`
	Status          ParlayStatus     `json:"status"`
	Outcome         *Outcome         `json:"outcome,omitempty"`
	SettledAt       *time.Time       `json:"settled_at,omitempty"`
	ActualPayout    *decimal.Decimal `json:"actual_payout,omitempty"`
	Version         int              `json:"version"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// ClearSettlement returns the parlay to its ungraded state.
func (p *Parlay) ClearSettlement() {
	p.Status = ParlayPending
	p.Outcome = nil
	p.SettledAt = nil
	p.ActualPayout = nil
}

// ParlayPick is one leg of a parlay.
type ParlayPick struct {
	ID               uuid.UUID            `json:"id"`
	ParlayID         uuid.UUID            `json:"parlay_id"`
	MatchupID        uuid.UUID            `json:"matchup_id"`
	SelectedPlayerID string               `json:"selected_player_id"`
	Odds             int                  `json:"odds"`
	LegIndex         int                  `json:"leg_index"`
	SettlementStatus PickSettlementStatus `json:"settlement_status"`
	Outcome          *Outcome             `json:"pick_outcome,omitempty"`
	SettledAt        *time.Time           `json:"settled_at,omitempty"`
	Notes            string               `json:"settlement_notes,omitempty"`
}

// Open reports whether the pick can still be graded.
func (p ParlayPick) Open() bool {
	return p.SettlementStatus == PickUnsettled || p.SettlementStatus == PickPending
}

// SettlementReversal is the audit row written for every reversal.
type SettlementReversal struct {
	ID         uuid.UUID `json:"id"`
	ParlayID   uuid.UUID `json:"parlay_id"`
	Reason     string    `json:"reason"`
	PicksReset int       `json:"picks_reset"`
	ReversedAt time.Time `json:"reversed_at"`
}

// OutcomePtr returns a pointer to o.
func OutcomePtr(o Outcome) *Outcome { return &o }
