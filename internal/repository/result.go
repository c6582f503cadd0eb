package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/teeline/settlement/internal/domain"
)

type resultRepo struct {
	db DBTX
}

const resultColumns = `id, matchup_id, event_id, round_num, winner_id, is_push, players,
	result_determined_at, created_at, updated_at`

func (r *resultRepo) FindByKey(ctx context.Context, key domain.ResultKey) (*domain.MatchupResult, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+resultColumns+`
		FROM matchup_results
		WHERE matchup_id = $1 AND event_id = $2 AND round_num = $3`,
		key.MatchupID, key.EventID, key.RoundNum)
	return r.one(row, "find matchup result")
}

func (r *resultRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.MatchupResult, error) {
	row := r.db.QueryRow(ctx, `SELECT `+resultColumns+` FROM matchup_results WHERE id = $1`, id)
	return r.one(row, "find matchup result")
}

func (r *resultRepo) ListByRound(ctx context.Context, key domain.RoundKey) ([]domain.MatchupResult, error) {
	round := key.RoundNum
	return r.List(ctx, domain.ResultFilter{TournamentID: key.TournamentID, RoundNum: &round})
}

func (r *resultRepo) List(ctx context.Context, filter domain.ResultFilter) ([]domain.MatchupResult, error) {
	var where []string
	var args []interface{}
	if filter.TournamentID != "" {
		args = append(args, filter.TournamentID)
		where = append(where, fmt.Sprintf("event_id = $%d", len(args)))
	}
	if filter.RoundNum != nil {
		args = append(args, *filter.RoundNum)
		where = append(where, fmt.Sprintf("round_num = $%d", len(args)))
	}
	if filter.MatchupID != nil {
		args = append(args, *filter.MatchupID)
		where = append(where, fmt.Sprintf("matchup_id = $%d", len(args)))
	}

	sql := `SELECT ` + resultColumns + ` FROM matchup_results`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY event_id, round_num, created_at, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, persistErr("list matchup results", err)
	}
	defer rows.Close()

	var out []domain.MatchupResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, persistErr("scan matchup result", err)
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

func (r *resultRepo) Upsert(ctx context.Context, res *domain.MatchupResult) (*domain.MatchupResult, error) {
	players, err := json.Marshal(res.Players)
	if err != nil {
		return nil, fmt.Errorf("marshal result players: %w", err)
	}
	id := res.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO matchup_results
		  (id, matchup_id, event_id, round_num, winner_id, is_push, players,
		   result_determined_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (matchup_id, event_id, round_num) DO UPDATE SET
		  winner_id = EXCLUDED.winner_id,
		  is_push = EXCLUDED.is_push,
		  players = EXCLUDED.players,
		  result_determined_at = EXCLUDED.result_determined_at,
		  updated_at = now()
		RETURNING `+resultColumns,
		id, res.MatchupID, res.EventID, res.RoundNum, res.WinnerID, res.IsPush, players,
		res.ResultDeterminedAt)
	saved, err := scanResult(row)
	if err != nil {
		return nil, persistErr("upsert matchup result", err)
	}
	return saved, nil
}

func (r *resultRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM matchup_results WHERE id = $1`, id)
	if err != nil {
		return false, persistErr("delete matchup result", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *resultRepo) one(row pgx.Row, op string) (*domain.MatchupResult, error) {
	res, err := scanResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr(op, err)
	}
	return res, nil
}

func scanResult(row pgx.Row) (*domain.MatchupResult, error) {
	var res domain.MatchupResult
	var players []byte
	err := row.Scan(&res.ID, &res.MatchupID, &res.EventID, &res.RoundNum, &res.WinnerID, &res.IsPush,
		&players, &res.ResultDeterminedAt, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(players, &res.Players); err != nil {
		return nil, fmt.Errorf("decode result %s players: %w", res.ID, err)
	}
	return &res, nil
}
