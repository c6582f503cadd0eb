package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/teeline/settlement/internal/domain"
)

type pickRepo struct {
	db DBTX
}

const pickColumns = `id, parlay_id, matchup_id, selected_player_id, odds, leg_index,
	settlement_status, pick_outcome, settled_at, settlement_notes`

func (r *pickRepo) ListOpenByMatchup(ctx context.Context, matchupID uuid.UUID) ([]domain.ParlayPick, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+pickColumns+`
		FROM parlay_picks
		WHERE matchup_id = $1 AND settlement_status IN ('unsettled', 'pending')
		ORDER BY parlay_id, leg_index`, matchupID)
	if err != nil {
		return nil, persistErr("list open picks", err)
	}
	return collectPicks(rows)
}

func (r *pickRepo) ListByParlay(ctx context.Context, parlayID uuid.UUID) ([]domain.ParlayPick, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+pickColumns+`
		FROM parlay_picks
		WHERE parlay_id = $1
		ORDER BY leg_index`, parlayID)
	if err != nil {
		return nil, persistErr("list parlay picks", err)
	}
	return collectPicks(rows)
}

func (r *pickRepo) Settle(ctx context.Context, pickID uuid.UUID, outcome domain.Outcome, notes string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE parlay_picks SET
		  settlement_status = 'settled', pick_outcome = $2, settled_at = $3, settlement_notes = $4
		WHERE id = $1 AND settlement_status IN ('unsettled', 'pending')`,
		pickID, string(outcome), at, notes)
	if err != nil {
		return false, persistErr("settle pick", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pickRepo) MarkPending(ctx context.Context, matchupIDs []uuid.UUID, notes string) (int, error) {
	if len(matchupIDs) == 0 {
		return 0, nil
	}
	ids := make([]string, len(matchupIDs))
	for i, id := range matchupIDs {
		ids[i] = id.String()
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE parlay_picks SET settlement_status = 'pending', settlement_notes = $2
		WHERE matchup_id = ANY($1::uuid[]) AND settlement_status = 'unsettled'`,
		ids, notes)
	if err != nil {
		return 0, persistErr("mark picks pending", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *pickRepo) ResetByParlay(ctx context.Context, parlayID uuid.UUID) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE parlay_picks SET
		  settlement_status = 'unsettled', pick_outcome = NULL, settled_at = NULL, settlement_notes = ''
		WHERE parlay_id = $1`, parlayID)
	if err != nil {
		return 0, persistErr("reset parlay picks", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *pickRepo) CountOpenByRound(ctx context.Context, key domain.RoundKey) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM parlay_picks pp
		JOIN matchups m ON m.id = pp.matchup_id
		WHERE m.tournament_id = $1 AND m.round_num = $2
		  AND pp.settlement_status <> 'settled'`,
		key.TournamentID, key.RoundNum).Scan(&n)
	if err != nil {
		return 0, persistErr("count open picks", err)
	}
	return n, nil
}

func (r *pickRepo) Create(ctx context.Context, pick *domain.ParlayPick) error {
	if pick.ID == uuid.Nil {
		pick.ID = uuid.New()
	}
	if pick.SettlementStatus == "" {
		pick.SettlementStatus = domain.PickUnsettled
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO parlay_picks
		  (id, parlay_id, matchup_id, selected_player_id, odds, leg_index, settlement_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		pick.ID, pick.ParlayID, pick.MatchupID, pick.SelectedPlayerID, pick.Odds, pick.LegIndex,
		string(pick.SettlementStatus))
	if err != nil {
		return persistErr("insert pick", err)
	}
	return nil
}

func collectPicks(rows pgx.Rows) ([]domain.ParlayPick, error) {
	defer rows.Close()

	var out []domain.ParlayPick
	for rows.Next() {
		var p domain.ParlayPick
		var status string
		var outcome *string
		err := rows.Scan(&p.ID, &p.ParlayID, &p.MatchupID, &p.SelectedPlayerID, &p.Odds, &p.LegIndex,
			&status, &outcome, &p.SettledAt, &p.Notes)
		if err != nil {
			return nil, persistErr("scan pick", err)
		}
		p.SettlementStatus = domain.PickSettlementStatus(status)
		if outcome != nil {
			p.Outcome = domain.OutcomePtr(domain.Outcome(*outcome))
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate picks", err)
	}
	return out, nil
}
