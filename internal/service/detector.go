package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/teeline/settlement/internal/domain"
	"github.com/teeline/settlement/internal/policy"
	"github.com/teeline/settlement/internal/provider"
	"github.com/teeline/settlement/internal/repository"
)

// Detector finds rounds whose live standings show the field has finished.
// Persisted round state is the only record of what has already been reported.
type Detector struct {
	store  repository.Store
	feed   provider.LiveScoreGateway
	logger *slog.Logger
	now    func() time.Time
}

// NewDetector creates a Detector.
func NewDetector(store repository.Store, feed provider.LiveScoreGateway, logger *slog.Logger) *Detector {
	return &Detector{store: store, feed: feed, logger: logger, now: time.Now}
}

// FindRecentlyCompletedRounds scans tournaments active within the lookback window and
// moves every in-progress round whose completion reaches minPct to completed. It returns
// the rounds it transitioned. Feed and storage failures for one tournament are collected
// and the scan continues. Only a failure to list tournaments is returned as an error.
func (d *Detector) FindRecentlyCompletedRounds(ctx context.Context, lookback time.Duration, minPct float64) ([]domain.RoundKey, []domain.EntityError, error) {
	tournaments, err := d.store.Tournaments().ListActive(ctx, d.now(), lookback)
	if err != nil {
		return nil, nil, err
	}

	var (
		found []domain.RoundKey
		errs  []domain.EntityError
	)
	for _, t := range tournaments {
		if err := ctx.Err(); err != nil {
			errs = append(errs, domain.NewTournamentError(t.ID, domain.ErrInternal("detection cancelled", err)))
			break
		}
		keys, tErrs := d.scanTournament(ctx, t, minPct)
		found = append(found, keys...)
		errs = append(errs, tErrs...)
	}

	d.logger.Info("round detection finished",
		"tournaments", len(tournaments), "completed", len(found), "errors", len(errs))
	return found, errs, nil
}

func (d *Detector) scanTournament(ctx context.Context, t domain.Tournament, minPct float64) ([]domain.RoundKey, []domain.EntityError) {
	roundNums, err := d.store.Matchups().RoundNumbers(ctx, t.ID)
	if err != nil {
		return nil, []domain.EntityError{domain.NewTournamentError(t.ID, err)}
	}

	var (
		found []domain.RoundKey
		errs  []domain.EntityError
	)
	// Round 0 shares the final round's leaderboard, so fetch each feed round once.
	standings := make(map[int][]domain.PlayerRoundStanding)
	for _, roundNum := range roundNums {
		key := domain.RoundKey{TournamentID: t.ID, RoundNum: roundNum}
		if err := domain.ValidateRoundNum(roundNum, t.RoundCount); err != nil {
			errs = append(errs, domain.NewEntityError(key, domain.ErrValidation(err.Error())))
			continue
		}

		rd, err := d.store.Rounds().Find(ctx, key)
		if err != nil {
			errs = append(errs, domain.NewEntityError(key, err))
			continue
		}
		if rd != nil && rd.State != domain.RoundInProgress {
			continue
		}

		feedRound := roundNum
		if key.IsAggregate() {
			feedRound = t.FinalRound()
		}
		rows, ok := standings[feedRound]
		if !ok {
			rows, err = d.feed.FetchRoundStandings(ctx, t.ID, feedRound)
			if err != nil {
				// The feed is per tournament; the remaining rounds would fail the same way.
				d.logger.Warn("live scores unavailable", "tournament_id", t.ID, "round", feedRound, "error", err)
				errs = append(errs, domain.NewTournamentError(t.ID, err))
				return found, errs
			}
			standings[feedRound] = rows
		}

		completion := policy.EvaluateRoundCompletion(rows, minPct)
		if !completion.Complete {
			d.logger.Debug("round still in progress",
				"tournament_id", t.ID, "round", roundNum, "done", completion.Done, "field", completion.Field)
			continue
		}

		marked, err := d.markCompleted(ctx, key, completion.Pct)
		if err != nil {
			errs = append(errs, domain.NewEntityError(key, err))
			continue
		}
		if marked {
			d.logger.Info("round completed",
				"tournament_id", t.ID, "round", roundNum, "completion_pct", completion.Pct)
			found = append(found, key)
		}
	}
	return found, errs
}

func (d *Detector) markCompleted(ctx context.Context, key domain.RoundKey, pct float64) (bool, error) {
	var marked bool
	err := d.store.WithTx(ctx, func(tx repository.Store) error {
		ok, err := tx.Rounds().MarkCompleted(ctx, key, pct, d.now())
		if err != nil || !ok {
			return err
		}
		if err := tx.Outbox().Insert(ctx, domain.NewRoundEvent(key, domain.EventRoundCompleted, pct)); err != nil {
			return err
		}
		marked = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return marked, nil
}

// PendingSettlement lists completed rounds that have not been settled yet. These are
// retried on every pass until their results and picks are fully graded.
func (d *Detector) PendingSettlement(ctx context.Context) ([]domain.RoundKey, error) {
	rounds, err := d.store.Rounds().ListByState(ctx, domain.RoundCompleted)
	if err != nil {
		return nil, err
	}
	keys := make([]domain.RoundKey, len(rounds))
	for i, rd := range rounds {
		keys[i] = rd.Key()
	}
	return keys, nil
}
