package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/teeline/settlement/internal/domain"
)

type reversalRepo struct {
	db DBTX
}

func (r *reversalRepo) Insert(ctx context.Context, rev *domain.SettlementReversal) error {
	if rev.ID == uuid.Nil {
		rev.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO settlement_reversals (id, parlay_id, reason, picks_reset, reversed_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rev.ID, rev.ParlayID, rev.Reason, rev.PicksReset, rev.ReversedAt)
	if err != nil {
		return persistErr("insert settlement reversal", err)
	}
	return nil
}

func (r *reversalRepo) ListByParlay(ctx context.Context, parlayID uuid.UUID) ([]domain.SettlementReversal, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, parlay_id, reason, picks_reset, reversed_at
		FROM settlement_reversals
		WHERE parlay_id = $1
		ORDER BY reversed_at DESC`, parlayID)
	if err != nil {
		return nil, persistErr("list settlement reversals", err)
	}
	defer rows.Close()

	var out []domain.SettlementReversal
	for rows.Next() {
		var rev domain.SettlementReversal
		if err := rows.Scan(&rev.ID, &rev.ParlayID, &rev.Reason, &rev.PicksReset, &rev.ReversedAt); err != nil {
			return nil, persistErr("scan settlement reversal", err)
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}
