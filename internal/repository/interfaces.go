package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/teeline/settlement/internal/domain"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store groups the per-entity repositories behind one transactional boundary.
type Store interface {
	Tournaments() TournamentRepository
	Rounds() RoundRepository
	Matchups() MatchupRepository
	Results() ResultRepository
	Parlays() ParlayRepository
	Picks() PickRepository
	Reversals() ReversalRepository
	Outbox() OutboxRepository

	// WithTx runs fn against a store bound to a single transaction. The transaction
	// commits if fn returns nil and rolls back otherwise. Nested calls join the
	// outer transaction.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Ping checks the backing storage.
	Ping(ctx context.Context) error
}

// TournamentRepository provides access to tournaments.
type TournamentRepository interface {
	// ListActive returns tournaments with start_date <= now and end_date + lookback >= now.
	ListActive(ctx context.Context, now time.Time, lookback time.Duration) ([]domain.Tournament, error)

	// FindByID returns a tournament, or nil if absent.
	FindByID(ctx context.Context, id string) (*domain.Tournament, error)

	// Upsert inserts or refreshes a tournament by id.
	Upsert(ctx context.Context, t *domain.Tournament) error
}

// RoundRepository provides access to persisted round state.
// Every transition is conditional on the current state.
type RoundRepository interface {
	// Find returns the persisted round, or nil when none exists (in progress).
	Find(ctx context.Context, key domain.RoundKey) (*domain.Round, error)

	// ListByState returns rounds in the given state, oldest first.
	ListByState(ctx context.Context, state domain.RoundState) ([]domain.Round, error)

	// MarkCompleted moves in_progress (or absent) to completed. Returns false if the
	// round was already completed or settled.
	MarkCompleted(ctx context.Context, key domain.RoundKey, pct float64, at time.Time) (bool, error)

	// SetResultsComplete flags a completed round as eligible for settlement.
	SetResultsComplete(ctx context.Context, key domain.RoundKey, complete bool) error

	// MarkSettled moves completed to settled, only when results are complete.
	MarkSettled(ctx context.Context, key domain.RoundKey, at time.Time) (bool, error)

	// Reopen moves settled back to completed. Used by reversal only.
	Reopen(ctx context.Context, key domain.RoundKey) (bool, error)
}

// MatchupRepository provides access to matchups.
type MatchupRepository interface {
	// FindByID returns a matchup, or nil if absent.
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Matchup, error)

	// ListByRound returns every matchup on a round.
	ListByRound(ctx context.Context, key domain.RoundKey) ([]domain.Matchup, error)

	// RoundNumbers returns the distinct round numbers carrying matchups for a tournament.
	RoundNumbers(ctx context.Context, tournamentID string) ([]int, error)

	// Create inserts a matchup.
	Create(ctx context.Context, m *domain.Matchup) error
}

// ResultRepository provides access to matchup results.
// Results are keyed by (matchup_id, event_id, round_num).
type ResultRepository interface {
	// FindByKey returns the result for the key, or nil if absent.
	FindByKey(ctx context.Context, key domain.ResultKey) (*domain.MatchupResult, error)

	// FindByID returns a result by id, or nil if absent.
	FindByID(ctx context.Context, id uuid.UUID) (*domain.MatchupResult, error)

	// ListByRound returns every result on a round.
	ListByRound(ctx context.Context, key domain.RoundKey) ([]domain.MatchupResult, error)

	// List returns results matching the filter.
	List(ctx context.Context, filter domain.ResultFilter) ([]domain.MatchupResult, error)

	// Upsert inserts the result or overwrites the existing row with the same key.
	// The stored row (with its id and created_at preserved) is returned.
	Upsert(ctx context.Context, r *domain.MatchupResult) (*domain.MatchupResult, error)

	// Delete removes a result. Returns false if it did not exist.
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

// ParlayRepository provides access to parlays.
type ParlayRepository interface {
	// FindByID returns a parlay, or nil if absent.
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Parlay, error)

	// LockForUpdate acquires a row-level lock (SELECT FOR UPDATE) and returns the parlay.
	LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Parlay, error)

	// SaveSettlement writes status, outcome, settled_at and actual_payout if the stored
	// version equals p.Version, then bumps p.Version. Returns false on a version mismatch.
	SaveSettlement(ctx context.Context, p *domain.Parlay) (bool, error)

	// Create inserts a parlay.
	Create(ctx context.Context, p *domain.Parlay) error
}

// PickRepository provides access to parlay picks.
type PickRepository interface {
	// ListOpenByMatchup returns unsettled or pending picks on a matchup.
	ListOpenByMatchup(ctx context.Context, matchupID uuid.UUID) ([]domain.ParlayPick, error)

	// ListByParlay returns every pick on a parlay ordered by leg index.
	ListByParlay(ctx context.Context, parlayID uuid.UUID) ([]domain.ParlayPick, error)

	// Settle writes outcome, settled_at, notes and status=settled in one statement,
	// only if the pick is still unsettled or pending.
	Settle(ctx context.Context, pickID uuid.UUID, outcome domain.Outcome, notes string, at time.Time) (bool, error)

	// MarkPending moves unsettled picks on the given matchups to pending.
	MarkPending(ctx context.Context, matchupIDs []uuid.UUID, notes string) (int, error)

	// ResetByParlay returns every pick on a parlay to unsettled.
	ResetByParlay(ctx context.Context, parlayID uuid.UUID) (int, error)

	// CountOpenByRound counts picks on the round's matchups that are not settled.
	CountOpenByRound(ctx context.Context, key domain.RoundKey) (int, error)

	// Create inserts a pick.
	Create(ctx context.Context, pick *domain.ParlayPick) error
}

// ReversalRepository provides access to settlement_reversals.
type ReversalRepository interface {
	Insert(ctx context.Context, rev *domain.SettlementReversal) error
	ListByParlay(ctx context.Context, parlayID uuid.UUID) ([]domain.SettlementReversal, error)
}

// OutboxRepository provides access to the event_outbox table.
type OutboxRepository interface {
	// Insert writes an outbox event (within the same transaction as the state change).
	Insert(ctx context.Context, draft domain.OutboxDraft) error

	// FetchUnpublished returns unpublished events for the relay, oldest first.
	FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxRecord, error)

	// MarkPublished stamps events as published.
	MarkPublished(ctx context.Context, ids []int64) error
}
