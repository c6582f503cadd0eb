package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teeline/settlement/internal/domain"
	"github.com/teeline/settlement/internal/repository"
)

// ReversalService undoes parlay settlements for correction workflows.
type ReversalService struct {
	store  repository.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewReversalService creates a ReversalService.
func NewReversalService(store repository.Store, logger *slog.Logger) *ReversalService {
	return &ReversalService{store: store, logger: logger, now: time.Now}
}

// ReverseSettlement returns a parlay and all of its picks to the ungraded state in a
// single transaction, reopens any settled round the picks belong to, and records an
// audit row. Matchup results are left as they are. Failures are returned as-is and
// never retried here.
func (s *ReversalService) ReverseSettlement(ctx context.Context, parlayID uuid.UUID, reason string) (*domain.ReversalResult, error) {
	if err := domain.ValidateReason(reason); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	reason = strings.TrimSpace(reason)

	var result domain.ReversalResult
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		p, err := tx.Parlays().LockForUpdate(ctx, parlayID)
		if err != nil {
			return err
		}
		if p == nil {
			return domain.ErrNotFound("parlay", parlayID.String())
		}

		picks, err := tx.Picks().ListByParlay(ctx, parlayID)
		if err != nil {
			return err
		}

		p.ClearSettlement()
		ok, err := tx.Parlays().SaveSettlement(ctx, p)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrConflict(fmt.Sprintf("parlay %s was modified concurrently", parlayID))
		}

		n, err := tx.Picks().ResetByParlay(ctx, parlayID)
		if err != nil {
			return err
		}

		reopened := make(map[domain.RoundKey]bool)
		for _, pick := range picks {
			m, err := tx.Matchups().FindByID(ctx, pick.MatchupID)
			if err != nil {
				return err
			}
			if m == nil || reopened[m.RoundKey()] {
				continue
			}
			if _, err := tx.Rounds().Reopen(ctx, m.RoundKey()); err != nil {
				return err
			}
			reopened[m.RoundKey()] = true
		}

		if err := tx.Reversals().Insert(ctx, &domain.SettlementReversal{
			ParlayID:   parlayID,
			Reason:     reason,
			PicksReset: n,
			ReversedAt: s.now(),
		}); err != nil {
			return err
		}
		if err := tx.Outbox().Insert(ctx, domain.NewParlayReversedEvent(p, reason, n)); err != nil {
			return err
		}

		result = domain.ReversalResult{ParlayID: parlayID, PicksReset: n}
		return nil
	})
	if err != nil {
		s.logger.Error("settlement reversal failed", "parlay_id", parlayID, "error", err)
		return nil, err
	}

	s.logger.Info("settlement reversed", "parlay_id", parlayID, "picks_reset", result.PicksReset, "reason", reason)
	return &result, nil
}
