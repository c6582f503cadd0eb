package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/teeline/settlement/internal/domain"
	"github.com/teeline/settlement/internal/guard"
	"github.com/teeline/settlement/internal/policy"
	"github.com/teeline/settlement/internal/repository"
)

const pendingNote = "awaiting matchup result"

// Engine grades parlay picks against matchup results and settles parlays whose
// legs are all graded.
type Engine struct {
	store  repository.Store
	claims *guard.RoundClaims
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates a settlement Engine.
func NewEngine(store repository.Store, claims *guard.RoundClaims, logger *slog.Logger) *Engine {
	return &Engine{store: store, claims: claims, logger: logger, now: time.Now}
}

// grade is a pick and the outcome it will be settled with.
type grade struct {
	pick    domain.ParlayPick
	outcome domain.Outcome
	notes   string
}

// SettleParlaysForRound grades every open pick on the round's results and settles each
// parlay that becomes fully graded. Failures are attached to the pick or parlay in the
// report and never stop the pass. The round is marked settled once its results are
// complete and no pick on it remains open.
func (e *Engine) SettleParlaysForRound(ctx context.Context, key domain.RoundKey, pushPolicy policy.PushPolicy) (*domain.SettleReport, error) {
	claim := "settle:" + key.String()
	if res := e.claims.Acquire(ctx, claim); !res.Allowed {
		return nil, domain.ErrConflict(res.Reason)
	}
	defer e.claims.Release(claim)

	matchups, err := e.store.Matchups().ListByRound(ctx, key)
	if err != nil {
		return nil, err
	}
	results, err := e.store.Results().ListByRound(ctx, key)
	if err != nil {
		return nil, err
	}

	report := &domain.SettleReport{Round: key, Errors: []domain.EntityError{}}

	byID := make(map[uuid.UUID]domain.Matchup, len(matchups))
	for _, m := range matchups {
		byID[m.ID] = m
	}

	// Grade picks, grouped by parlay so each parlay settles in one transaction.
	graded := make(map[uuid.UUID]bool, len(results))
	var order []uuid.UUID
	byParlay := make(map[uuid.UUID][]grade)
	for _, res := range results {
		m, ok := byID[res.MatchupID]
		if !ok {
			report.Errors = append(report.Errors, domain.NewEntityError(key,
				domain.ErrReferentialInconsistency(fmt.Sprintf("result %s references unknown matchup %s", res.ID, res.MatchupID))).
				WithMatchup(res.MatchupID))
			continue
		}
		graded[m.ID] = true

		picks, err := e.store.Picks().ListOpenByMatchup(ctx, m.ID)
		if err != nil {
			report.Errors = append(report.Errors, domain.NewEntityError(key, err).WithMatchup(m.ID))
			continue
		}
		for _, pick := range picks {
			if !m.HasPlayer(pick.SelectedPlayerID) {
				report.Errors = append(report.Errors, domain.NewEntityError(key,
					domain.ErrReferentialInconsistency(fmt.Sprintf("pick %s selects %s who is not in matchup %s", pick.ID, pick.SelectedPlayerID, m.ID))).
					WithMatchup(m.ID).WithParlay(pick.ParlayID).WithPick(pick.ID))
				continue
			}
			if _, seen := byParlay[pick.ParlayID]; !seen {
				order = append(order, pick.ParlayID)
			}
			byParlay[pick.ParlayID] = append(byParlay[pick.ParlayID], grade{
				pick:    pick,
				outcome: policy.PickOutcome(pick.SelectedPlayerID, res),
				notes:   resultNote(res),
			})
		}
	}

	for _, parlayID := range order {
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, domain.NewEntityError(key,
				domain.ErrInternal("settlement cancelled", err)).WithParlay(parlayID))
			break
		}
		picks, settled, err := e.settleParlay(ctx, parlayID, byParlay[parlayID], pushPolicy)
		if err != nil {
			e.logger.Warn("parlay settlement failed", "parlay_id", parlayID, "round", key.String(), "error", err)
			report.Errors = append(report.Errors, domain.NewEntityError(key, err).WithParlay(parlayID))
			continue
		}
		report.PicksSettled += picks
		if settled {
			report.ParlaysSettled++
		}
	}

	var ungraded []uuid.UUID
	for _, m := range matchups {
		if !graded[m.ID] {
			ungraded = append(ungraded, m.ID)
		}
	}
	if len(ungraded) > 0 {
		n, err := e.store.Picks().MarkPending(ctx, ungraded, pendingNote)
		if err != nil {
			report.Errors = append(report.Errors, domain.NewEntityError(key, err))
		}
		report.PicksPending = n
	}

	settled, err := e.settleRound(ctx, key)
	if err != nil {
		report.Errors = append(report.Errors, domain.NewEntityError(key, err))
	}
	report.RoundSettled = settled

	e.logger.Info("round settlement pass",
		"tournament_id", key.TournamentID, "round", key.RoundNum,
		"picks_settled", report.PicksSettled, "picks_pending", report.PicksPending,
		"parlays_settled", report.ParlaysSettled, "round_settled", settled,
		"errors", len(report.Errors))
	return report, nil
}

// settleParlay writes the graded picks of one parlay and, when every leg is graded,
// the parlay outcome and payout. It all commits or rolls back together.
func (e *Engine) settleParlay(ctx context.Context, parlayID uuid.UUID, grades []grade, pushPolicy policy.PushPolicy) (int, bool, error) {
	var (
		picksSettled  int
		parlaySettled bool
	)
	err := e.store.WithTx(ctx, func(tx repository.Store) error {
		picksSettled, parlaySettled = 0, false
		now := e.now()

		p, err := tx.Parlays().LockForUpdate(ctx, parlayID)
		if err != nil {
			return err
		}
		if p == nil {
			return domain.ErrReferentialInconsistency(fmt.Sprintf("parlay %s not found for its picks", parlayID))
		}
		if p.Status == domain.ParlaySettled {
			return domain.ErrConflict(fmt.Sprintf("parlay %s is already settled but has open picks", parlayID))
		}

		for _, g := range grades {
			ok, err := tx.Picks().Settle(ctx, g.pick.ID, g.outcome, g.notes, now)
			if err != nil {
				return err
			}
			if !ok {
				return domain.ErrConflict(fmt.Sprintf("pick %s was settled concurrently", g.pick.ID))
			}
			picksSettled++
		}

		picks, err := tx.Picks().ListByParlay(ctx, parlayID)
		if err != nil {
			return err
		}
		legs := make([]policy.Leg, len(picks))
		for i, pick := range picks {
			legs[i] = policy.Leg{Outcome: pick.Outcome, Odds: pick.Odds}
			if pick.SettlementStatus != domain.PickSettled {
				legs[i].Outcome = nil
			}
		}
		eval, err := policy.EvaluateParlay(p.Stake, legs, pushPolicy)
		if err != nil {
			return domain.ErrReferentialInconsistency(fmt.Sprintf("parlay %s: %v", parlayID, err))
		}
		if !eval.Settled {
			return nil
		}

		payout := eval.Payout
		p.Status = domain.ParlaySettled
		p.Outcome = domain.OutcomePtr(eval.Outcome)
		p.SettledAt = &now
		p.ActualPayout = &payout
		ok, err := tx.Parlays().SaveSettlement(ctx, p)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrConflict(fmt.Sprintf("parlay %s was modified concurrently", parlayID))
		}
		if err := tx.Outbox().Insert(ctx, domain.NewParlaySettledEvent(p)); err != nil {
			return err
		}
		parlaySettled = true
		e.logger.Info("parlay settled",
			"parlay_id", parlayID, "outcome", eval.Outcome, "payout", payout.StringFixed(2))
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return picksSettled, parlaySettled, nil
}

// settleRound moves a completed round to settled when all of its results are in and
// every pick on it is graded.
func (e *Engine) settleRound(ctx context.Context, key domain.RoundKey) (bool, error) {
	rd, err := e.store.Rounds().Find(ctx, key)
	if err != nil {
		return false, err
	}
	if rd == nil || rd.State != domain.RoundCompleted || !rd.ResultsComplete {
		return false, nil
	}

	var settled bool
	err = e.store.WithTx(ctx, func(tx repository.Store) error {
		open, err := tx.Picks().CountOpenByRound(ctx, key)
		if err != nil || open > 0 {
			return err
		}
		ok, err := tx.Rounds().MarkSettled(ctx, key, e.now())
		if err != nil || !ok {
			return err
		}
		if err := tx.Outbox().Insert(ctx, domain.NewRoundEvent(key, domain.EventRoundSettled, rd.CompletionPct)); err != nil {
			return err
		}
		settled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if settled {
		e.logger.Info("round settled", "tournament_id", key.TournamentID, "round", key.RoundNum)
	}
	return settled, nil
}

func resultNote(res domain.MatchupResult) string {
	if res.IsPush || res.WinnerID == nil {
		return "matchup push"
	}
	return "matchup won by " + *res.WinnerID
}
