package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/teeline/settlement/internal/domain"
)

type tournamentRepo struct {
	db DBTX
}

const tournamentColumns = `id, name, course, tour, start_date, end_date, round_count, created_at`

func (r *tournamentRepo) ListActive(ctx context.Context, now time.Time, lookback time.Duration) ([]domain.Tournament, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+tournamentColumns+`
		FROM tournaments
		WHERE start_date <= $1 AND end_date >= $2
		ORDER BY start_date ASC`, now, now.Add(-lookback))
	if err != nil {
		return nil, persistErr("list active tournaments", err)
	}
	defer rows.Close()

	var out []domain.Tournament
	for rows.Next() {
		t, err := scanTournament(rows)
		if err != nil {
			return nil, persistErr("scan tournament", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *tournamentRepo) FindByID(ctx context.Context, id string) (*domain.Tournament, error) {
	row := r.db.QueryRow(ctx, `SELECT `+tournamentColumns+` FROM tournaments WHERE id = $1`, id)
	t, err := scanTournament(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("find tournament", err)
	}
	return t, nil
}

func (r *tournamentRepo) Upsert(ctx context.Context, t *domain.Tournament) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO tournaments (id, name, course, tour, start_date, end_date, round_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		  name = EXCLUDED.name, course = EXCLUDED.course, tour = EXCLUDED.tour,
		  start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date,
		  round_count = EXCLUDED.round_count`,
		t.ID, t.Name, t.Course, t.Tour, t.StartDate, t.EndDate, t.FinalRound())
	if err != nil {
		return persistErr("upsert tournament", err)
	}
	return nil
}

func scanTournament(row pgx.Row) (*domain.Tournament, error) {
	var t domain.Tournament
	err := row.Scan(&t.ID, &t.Name, &t.Course, &t.Tour, &t.StartDate, &t.EndDate, &t.RoundCount, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
