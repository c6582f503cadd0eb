package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/teeline/settlement/internal/domain"
)

type matchupRepo struct {
	db DBTX
}

const matchupColumns = `id, tournament_id, round_num, type, players, created_at`

func (r *matchupRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Matchup, error) {
	row := r.db.QueryRow(ctx, `SELECT `+matchupColumns+` FROM matchups WHERE id = $1`, id)
	m, err := scanMatchup(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("find matchup", err)
	}
	return m, nil
}

func (r *matchupRepo) ListByRound(ctx context.Context, key domain.RoundKey) ([]domain.Matchup, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+matchupColumns+`
		FROM matchups
		WHERE tournament_id = $1 AND round_num = $2
		ORDER BY created_at ASC, id ASC`, key.TournamentID, key.RoundNum)
	if err != nil {
		return nil, persistErr("list matchups", err)
	}
	defer rows.Close()

	var out []domain.Matchup
	for rows.Next() {
		m, err := scanMatchup(rows)
		if err != nil {
			return nil, persistErr("scan matchup", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *matchupRepo) RoundNumbers(ctx context.Context, tournamentID string) ([]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT round_num FROM matchups
		WHERE tournament_id = $1
		ORDER BY round_num ASC`, tournamentID)
	if err != nil {
		return nil, persistErr("list matchup rounds", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, persistErr("scan round number", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *matchupRepo) Create(ctx context.Context, m *domain.Matchup) error {
	players, err := json.Marshal(m.Players)
	if err != nil {
		return fmt.Errorf("marshal matchup players: %w", err)
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO matchups (id, tournament_id, round_num, type, players)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		m.ID, m.TournamentID, m.RoundNum, string(m.Type), players).Scan(&m.CreatedAt)
	if err != nil {
		return persistErr("insert matchup", err)
	}
	return nil
}

func scanMatchup(row pgx.Row) (*domain.Matchup, error) {
	var m domain.Matchup
	var mtype string
	var players []byte
	if err := row.Scan(&m.ID, &m.TournamentID, &m.RoundNum, &mtype, &players, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Type = domain.MatchupType(mtype)
	if err := json.Unmarshal(players, &m.Players); err != nil {
		return nil, fmt.Errorf("decode matchup %s players: %w", m.ID, err)
	}
	return &m, nil
}
