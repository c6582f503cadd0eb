package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/teeline/settlement/internal/domain"
	"github.com/teeline/settlement/internal/repository"
	"github.com/teeline/settlement/internal/retry"
)

// ResultService is the operator read/write surface over matchup results.
type ResultService struct {
	store  repository.Store
	retry  *retry.Policy
	logger *slog.Logger
	now    func() time.Time
}

// NewResultService creates a ResultService.
func NewResultService(store repository.Store, logger *slog.Logger) *ResultService {
	return &ResultService{
		store:  store,
		retry:  PersistenceRetry(3, 200*time.Millisecond),
		logger: logger,
		now:    time.Now,
	}
}

// SaveResultInput is an operator-supplied result for one matchup.
type SaveResultInput struct {
	MatchupID uuid.UUID             `json:"matchup_id"`
	WinnerID  *string               `json:"winner_id"`
	IsPush    bool                  `json:"is_push"`
	Players   []domain.PlayerResult `json:"players"`
}

// List returns results matching the filter.
func (s *ResultService) List(ctx context.Context, filter domain.ResultFilter) ([]domain.MatchupResult, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 500
	}
	return s.store.Results().List(ctx, filter)
}

// Save creates or overwrites the result for a matchup.
func (s *ResultService) Save(ctx context.Context, input SaveResultInput) (*domain.MatchupResult, error) {
	m, err := s.store.Matchups().FindByID(ctx, input.MatchupID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, domain.ErrNotFound("matchup", input.MatchupID.String())
	}

	result := &domain.MatchupResult{
		MatchupID:          m.ID,
		EventID:            m.TournamentID,
		RoundNum:           m.RoundNum,
		WinnerID:           input.WinnerID,
		IsPush:             input.IsPush,
		Players:            input.Players,
		ResultDeterminedAt: s.now(),
	}
	if err := domain.ValidateMatchupResult(*result, *m); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	var saved *domain.MatchupResult
	err = s.retry.Execute(ctx, func(ctx context.Context) error {
		var err error
		saved, err = s.store.Results().Upsert(ctx, result)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.refreshRound(ctx, m.RoundKey()); err != nil {
		return nil, err
	}
	s.logger.Info("matchup result saved", "matchup_id", m.ID, "result_id", saved.ID, "is_push", saved.IsPush)
	return saved, nil
}

// Delete removes a result. The round loses its settlement eligibility until the
// matchup is graded again.
func (s *ResultService) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.store.Results().FindByID(ctx, id)
	if err != nil {
		return err
	}
	if res == nil {
		return domain.ErrNotFound("matchup result", id.String())
	}

	ok, err := s.store.Results().Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound("matchup result", id.String())
	}

	if err := s.refreshRound(ctx, domain.RoundKey{TournamentID: res.EventID, RoundNum: res.RoundNum}); err != nil {
		return err
	}
	s.logger.Info("matchup result deleted", "result_id", id, "matchup_id", res.MatchupID)
	return nil
}

func (s *ResultService) refreshRound(ctx context.Context, key domain.RoundKey) error {
	matchups, err := s.store.Matchups().ListByRound(ctx, key)
	if err != nil {
		return err
	}
	_, err = syncResultsComplete(ctx, s.store, key, matchups)
	return err
}
