package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/teeline/settlement/internal/domain"
	"github.com/teeline/settlement/internal/guard"
	"github.com/teeline/settlement/internal/policy"
	"github.com/teeline/settlement/internal/provider"
	"github.com/teeline/settlement/internal/repository"
	"github.com/teeline/settlement/internal/retry"
)

// IngestionService turns live standings into canonical matchup results.
type IngestionService struct {
	store  repository.Store
	feed   provider.LiveScoreGateway
	claims *guard.RoundClaims
	retry  *retry.Policy
	logger *slog.Logger
	now    func() time.Time
}

// NewIngestionService creates an IngestionService. Result upserts are retried on
// persistence errors.
func NewIngestionService(store repository.Store, feed provider.LiveScoreGateway, claims *guard.RoundClaims, logger *slog.Logger) *IngestionService {
	return &IngestionService{
		store:  store,
		feed:   feed,
		claims: claims,
		retry:  PersistenceRetry(3, 200*time.Millisecond),
		logger: logger,
		now:    time.Now,
	}
}

// WithRetryPolicy replaces the upsert retry policy.
func (s *IngestionService) WithRetryPolicy(p *retry.Policy) *IngestionService {
	s.retry = p
	return s
}

// PersistenceRetry returns a policy that only retries storage failures.
func PersistenceRetry(maxAttempts int, initialDelay time.Duration) *retry.Policy {
	return retry.NewPolicy(maxAttempts, initialDelay).Only(func(err error) bool {
		return domain.IsCode(err, domain.CodePersistence)
	})
}

// IngestRoundResults writes one result per matchup on the round. Existing results are
// left untouched unless force is set. Matchups whose players are missing or still on
// the course are reported and skipped; the rest are saved.
func (s *IngestionService) IngestRoundResults(ctx context.Context, key domain.RoundKey, force bool) (*domain.IngestReport, error) {
	if err := domain.ValidateTournamentID(key.TournamentID); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	claim := "ingest:" + key.String()
	if res := s.claims.Acquire(ctx, claim); !res.Allowed {
		return nil, domain.ErrConflict(res.Reason)
	}
	defer s.claims.Release(claim)

	t, err := s.store.Tournaments().FindByID(ctx, key.TournamentID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, domain.ErrNotFound("tournament", key.TournamentID)
	}
	if err := domain.ValidateRoundNum(key.RoundNum, t.RoundCount); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	matchups, err := s.store.Matchups().ListByRound(ctx, key)
	if err != nil {
		return nil, err
	}

	report := &domain.IngestReport{Round: key, Outcomes: []domain.MatchupOutcome{}, Errors: []domain.EntityError{}}
	if len(matchups) == 0 {
		return report, nil
	}

	feedRound := key.RoundNum
	if key.IsAggregate() {
		feedRound = t.FinalRound()
	}
	standings, err := s.feed.FetchRoundStandings(ctx, key.TournamentID, feedRound)
	if err != nil {
		return nil, err
	}
	byPlayer := make(map[string]domain.PlayerRoundStanding, len(standings))
	for _, st := range standings {
		byPlayer[st.PlayerID] = st
	}

	for _, m := range matchups {
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors,
				domain.NewEntityError(key, domain.ErrInternal("ingestion cancelled", err)).WithMatchup(m.ID))
			break
		}
		s.ingestMatchup(ctx, key, m, byPlayer, force, report)
	}

	complete, err := syncResultsComplete(ctx, s.store, key, matchups)
	if err != nil {
		report.Errors = append(report.Errors, domain.NewEntityError(key, err))
	}
	report.ResultsComplete = complete

	s.logger.Info("round results ingested",
		"tournament_id", key.TournamentID, "round", key.RoundNum,
		"saved", report.SavedCount, "skipped", report.SkippedCount,
		"errors", len(report.Errors), "results_complete", complete)
	return report, nil
}

func (s *IngestionService) ingestMatchup(ctx context.Context, key domain.RoundKey, m domain.Matchup, byPlayer map[string]domain.PlayerRoundStanding, force bool, report *domain.IngestReport) {
	resultKey := domain.ResultKey{MatchupID: m.ID, EventID: key.TournamentID, RoundNum: key.RoundNum}

	if !force {
		existing, err := s.store.Results().FindByKey(ctx, resultKey)
		if err != nil {
			report.Errors = append(report.Errors, domain.NewEntityError(key, err).WithMatchup(m.ID))
			return
		}
		if existing != nil {
			report.SkippedCount++
			report.Outcomes = append(report.Outcomes, domain.MatchupOutcome{
				MatchupID: m.ID, WinnerID: existing.WinnerID, IsPush: existing.IsPush,
			})
			return
		}
	}

	result, err := buildResult(key, m, byPlayer)
	if err != nil {
		s.logger.Debug("matchup not ready", "matchup_id", m.ID, "error", err)
		report.Errors = append(report.Errors, domain.NewEntityError(key, err).WithMatchup(m.ID))
		return
	}
	result.ResultDeterminedAt = s.now()

	var saved *domain.MatchupResult
	err = s.retry.Execute(ctx, func(ctx context.Context) error {
		var err error
		saved, err = s.store.Results().Upsert(ctx, result)
		return err
	})
	if err != nil {
		s.logger.Error("save matchup result", "matchup_id", m.ID, "error", err)
		report.Errors = append(report.Errors, domain.NewEntityError(key, err).WithMatchup(m.ID))
		return
	}

	report.SavedCount++
	report.Outcomes = append(report.Outcomes, domain.MatchupOutcome{
		MatchupID: m.ID, WinnerID: saved.WinnerID, IsPush: saved.IsPush, Saved: true,
	})
}

// buildResult grades a matchup from the standings of its players. Round matchups
// compare the day's score; aggregate matchups compare the tournament total.
func buildResult(key domain.RoundKey, m domain.Matchup, byPlayer map[string]domain.PlayerRoundStanding) (*domain.MatchupResult, error) {
	if len(m.Players) < 2 {
		return nil, domain.ErrReferentialInconsistency(fmt.Sprintf("matchup %s has %d players", m.ID, len(m.Players)))
	}

	scored := make([]policy.ScoredPlayer, 0, len(m.Players))
	lines := make([]domain.PlayerResult, 0, len(m.Players))
	for _, mp := range m.Players {
		st, ok := byPlayer[mp.PlayerID]
		if !ok {
			return nil, domain.ErrDataIncomplete(fmt.Sprintf("matchup %s: player %s missing from live scores", m.ID, mp.PlayerID))
		}
		tier, ok := playerTier(st)
		if !ok {
			return nil, domain.ErrDataIncomplete(fmt.Sprintf("matchup %s: player %s through %d holes", m.ID, mp.PlayerID, st.Thru))
		}

		score := st.Today
		if key.IsAggregate() {
			score = st.Total
		}
		scored = append(scored, policy.ScoredPlayer{PlayerID: mp.PlayerID, Score: score, Tier: tier})
		lines = append(lines, domain.PlayerResult{
			PlayerID:   mp.PlayerID,
			RoundScore: st.Today,
			TotalScore: st.Total,
			Status:     st.Status,
		})
	}

	decision := policy.DecideMatchup(scored)
	return &domain.MatchupResult{
		MatchupID: m.ID,
		EventID:   key.TournamentID,
		RoundNum:  key.RoundNum,
		WinnerID:  decision.WinnerID,
		IsPush:    decision.IsPush,
		Players:   lines,
	}, nil
}

// playerTier ranks a standing for matchup grading. A player who completed the round
// counts as finished even if later marked cut or withdrawn. It reports false while
// the player is still on the course.
func playerTier(st domain.PlayerRoundStanding) (policy.Tier, bool) {
	switch {
	case st.Thru >= domain.HolesPerRound, st.Status == domain.PlayerFinished:
		return policy.TierFinished, true
	case st.Status == domain.PlayerCut:
		return policy.TierCut, true
	case st.Status.Retired():
		return policy.TierRetired, true
	}
	return 0, false
}

// syncResultsComplete flags the round as settlement-eligible when every matchup on it
// has a result, and clears the flag otherwise.
func syncResultsComplete(ctx context.Context, store repository.Store, key domain.RoundKey, matchups []domain.Matchup) (bool, error) {
	results, err := store.Results().ListByRound(ctx, key)
	if err != nil {
		return false, err
	}
	have := make(map[uuid.UUID]bool, len(results))
	for _, r := range results {
		have[r.MatchupID] = true
	}
	complete := true
	for _, m := range matchups {
		if !have[m.ID] {
			complete = false
			break
		}
	}
	if err := store.Rounds().SetResultsComplete(ctx, key, complete); err != nil {
		return false, err
	}
	return complete, nil
}
