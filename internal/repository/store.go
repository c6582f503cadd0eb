package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teeline/settlement/internal/domain"
)

// PgStore is the PostgreSQL-backed Store.
type PgStore struct {
	pool *pgxpool.Pool
	db   DBTX
}

// NewPgStore returns a Store over the pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, db: pool}
}

func (s *PgStore) Tournaments() TournamentRepository { return &tournamentRepo{db: s.db} }
func (s *PgStore) Rounds() RoundRepository           { return &roundRepo{db: s.db} }
func (s *PgStore) Matchups() MatchupRepository       { return &matchupRepo{db: s.db} }
func (s *PgStore) Results() ResultRepository         { return &resultRepo{db: s.db} }
func (s *PgStore) Parlays() ParlayRepository         { return &parlayRepo{db: s.db} }
func (s *PgStore) Picks() PickRepository             { return &pickRepo{db: s.db} }
func (s *PgStore) Reversals() ReversalRepository     { return &reversalRepo{db: s.db} }
func (s *PgStore) Outbox() OutboxRepository          { return &outboxRepo{db: s.db} }

// WithTx runs fn inside a pgx transaction.
func (s *PgStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if _, inTx := s.db.(pgx.Tx); inTx {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return persistErr("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PgStore{pool: s.pool, db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return persistErr("commit tx", err)
	}
	return nil
}

// Ping checks database reachability.
func (s *PgStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func persistErr(op string, err error) error {
	return domain.ErrPersistence(op, err)
}
