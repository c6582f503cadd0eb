package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NewParlaySettledEvent creates the event emitted when a parlay is graded.
func NewParlaySettledEvent(p *Parlay) OutboxDraft {
	payload, _ := json.Marshal(map[string]interface{}{
		"parlay_id":     p.ID.String(),
		"user_id":       p.UserID,
		"outcome":       p.Outcome,
		"stake":         p.Stake.StringFixed(2),
		"actual_payout": p.ActualPayout,
		"settled_at":    p.SettledAt,
		"version":       p.Version,
	})
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregateTypeParlay,
		AggregateID:   p.ID.String(),
		EventType:     EventParlaySettled,
		PartitionKey:  p.UserID,
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    time.Now(),
	}
}

// NewParlayReversedEvent creates the event emitted when a settlement is undone.
func NewParlayReversedEvent(p *Parlay, reason string, picksReset int) OutboxDraft {
	payload, _ := json.Marshal(map[string]interface{}{
		"parlay_id":   p.ID.String(),
		"user_id":     p.UserID,
		"reason":      reason,
		"picks_reset": picksReset,
		"version":     p.Version,
	})
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregateTypeParlay,
		AggregateID:   p.ID.String(),
		EventType:     EventParlayReversed,
		PartitionKey:  p.UserID,
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    time.Now(),
	}
}

// NewRoundEvent creates a round lifecycle event.
func NewRoundEvent(key RoundKey, evtType EventType, completionPct float64) OutboxDraft {
	payload, _ := json.Marshal(map[string]interface{}{
		"tournament_id":  key.TournamentID,
		"round_num":      key.RoundNum,
		"completion_pct": completionPct,
	})
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregateTypeRound,
		AggregateID:   key.String(),
		EventType:     evtType,
		PartitionKey:  key.TournamentID,
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    time.Now(),
	}
}
