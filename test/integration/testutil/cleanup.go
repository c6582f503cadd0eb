//go:build integration

package testutil

import (
	"context"
	"time"
)

// CleanAll truncates every pipeline table.
func (env *TestEnv) CleanAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := env.Pool.Exec(ctx, `
		TRUNCATE event_outbox, settlement_reversals, parlay_picks, parlays,
		         matchup_results, matchups, rounds, tournaments
		RESTART IDENTITY CASCADE`)
	if err != nil {
		env.t.Fatalf("CleanAll: %v", err)
	}
}
