package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/teeline/settlement/internal/domain"
)

type roundRepo struct {
	db DBTX
}

const roundColumns = `tournament_id, round_num, state, completion_pct, results_complete, completed_at, settled_at, updated_at`

func (r *roundRepo) Find(ctx context.Context, key domain.RoundKey) (*domain.Round, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+roundColumns+`
		FROM rounds WHERE tournament_id = $1 AND round_num = $2`,
		key.TournamentID, key.RoundNum)
	rd, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("find round", err)
	}
	return rd, nil
}

func (r *roundRepo) ListByState(ctx context.Context, state domain.RoundState) ([]domain.Round, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+roundColumns+`
		FROM rounds WHERE state = $1
		ORDER BY updated_at ASC`, string(state))
	if err != nil {
		return nil, persistErr("list rounds", err)
	}
	defer rows.Close()

	var out []domain.Round
	for rows.Next() {
		rd, err := scanRound(rows)
		if err != nil {
			return nil, persistErr("scan round", err)
		}
		out = append(out, *rd)
	}
	return out, rows.Err()
}

func (r *roundRepo) MarkCompleted(ctx context.Context, key domain.RoundKey, pct float64, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO rounds (tournament_id, round_num, state, completion_pct, completed_at, updated_at)
		VALUES ($1, $2, 'completed', $3, $4, $4)
		ON CONFLICT (tournament_id, round_num) DO UPDATE SET
		  state = 'completed',
		  completion_pct = EXCLUDED.completion_pct,
		  completed_at = EXCLUDED.completed_at,
		  updated_at = EXCLUDED.updated_at
		WHERE rounds.state = 'in_progress'`,
		key.TournamentID, key.RoundNum, pct, at)
	if err != nil {
		return false, persistErr("mark round completed", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *roundRepo) SetResultsComplete(ctx context.Context, key domain.RoundKey, complete bool) error {
	_, err := r.db.Exec(ctx, `
		UPDATE rounds SET results_complete = $3, updated_at = now()
		WHERE tournament_id = $1 AND round_num = $2 AND state = 'completed'`,
		key.TournamentID, key.RoundNum, complete)
	if err != nil {
		return persistErr("set results complete", err)
	}
	return nil
}

func (r *roundRepo) MarkSettled(ctx context.Context, key domain.RoundKey, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE rounds SET state = 'settled', settled_at = $3, updated_at = $3
		WHERE tournament_id = $1 AND round_num = $2
		  AND state = 'completed' AND results_complete`,
		key.TournamentID, key.RoundNum, at)
	if err != nil {
		return false, persistErr("mark round settled", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *roundRepo) Reopen(ctx context.Context, key domain.RoundKey) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE rounds SET state = 'completed', settled_at = NULL, updated_at = now()
		WHERE tournament_id = $1 AND round_num = $2 AND state = 'settled'`,
		key.TournamentID, key.RoundNum)
	if err != nil {
		return false, persistErr("reopen round", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanRound(row pgx.Row) (*domain.Round, error) {
	var rd domain.Round
	var state string
	err := row.Scan(&rd.TournamentID, &rd.RoundNum, &state, &rd.CompletionPct, &rd.ResultsComplete,
		&rd.CompletedAt, &rd.SettledAt, &rd.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rd.State = domain.RoundState(state)
	return &rd, nil
}
