package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/teeline/settlement/internal/domain"
	"github.com/teeline/settlement/internal/infra"
)

type parlayRepo struct {
	db DBTX
}

const parlayColumns = `id, user_id, stake, potential_payout, status, outcome, settled_at,
	actual_payout, version, created_at, updated_at`

func (r *parlayRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Parlay, error) {
	row := r.db.QueryRow(ctx, `SELECT `+parlayColumns+` FROM parlays WHERE id = $1`, id)
	return r.one(row, "find parlay")
}

func (r *parlayRepo) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Parlay, error) {
	row := r.db.QueryRow(ctx, `SELECT `+parlayColumns+` FROM parlays WHERE id = $1 FOR UPDATE`, id)
	return r.one(row, "lock parlay")
}

func (r *parlayRepo) SaveSettlement(ctx context.Context, p *domain.Parlay) (bool, error) {
	var outcome *string
	if p.Outcome != nil {
		s := string(*p.Outcome)
		outcome = &s
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE parlays SET
		  status = $2, outcome = $3, settled_at = $4, actual_payout = $5,
		  version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $6`,
		p.ID, string(p.Status), outcome, p.SettledAt,
		infra.NullableDecimalToNumeric(p.ActualPayout), p.Version)
	if err != nil {
		return false, persistErr("save parlay settlement", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	p.Version++
	return true, nil
}

func (r *parlayRepo) Create(ctx context.Context, p *domain.Parlay) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = domain.ParlayPending
	}
	if p.Version == 0 {
		p.Version = 1
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO parlays (id, user_id, stake, potential_payout, status, version)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, infra.DecimalToNumeric(p.Stake), infra.DecimalToNumeric(p.PotentialPayout),
		string(p.Status), p.Version).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return persistErr("insert parlay", err)
	}
	return nil
}

func (r *parlayRepo) one(row pgx.Row, op string) (*domain.Parlay, error) {
	p, err := scanParlay(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr(op, err)
	}
	return p, nil
}

func scanParlay(row pgx.Row) (*domain.Parlay, error) {
	var p domain.Parlay
	var status string
	var outcome *string
	var stake, potential, actual pgtype.Numeric

	err := row.Scan(&p.ID, &p.UserID, &stake, &potential, &status, &outcome, &p.SettledAt,
		&actual, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Status = domain.ParlayStatus(status)
	if outcome != nil {
		p.Outcome = domain.OutcomePtr(domain.Outcome(*outcome))
	}
	if p.Stake, err = infra.NumericToDecimal(stake); err != nil {
		return nil, fmt.Errorf("parlay %s stake: %w", p.ID, err)
	}
	if p.PotentialPayout, err = infra.NumericToDecimal(potential); err != nil {
		return nil, fmt.Errorf("parlay %s potential payout: %w", p.ID, err)
	}
	if p.ActualPayout, err = infra.NullableNumericToDecimal(actual); err != nil {
		return nil, fmt.Errorf("parlay %s actual payout: %w", p.ID, err)
	}
	return &p, nil
}
