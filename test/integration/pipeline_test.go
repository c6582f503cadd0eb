//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teeline/settlement/internal/auth"
	"github.com/teeline/settlement/internal/domain"
	unit "github.com/teeline/settlement/internal/testutil"
	"github.com/teeline/settlement/test/integration/testutil"
)

// ─── Scheduled Run (2) ─────────────────────────────────────────────────────

func TestPipeline_RunSettlesCompletedRound(t *testing.T) {
	env := testutil.NewTestEnv(t)
	ctx := context.Background()
	admin := env.OperatorToken(auth.RoleAdmin)

	unit.SeedTournament(t, env.Store, "R2026014")
	m1 := unit.SeedMatchup(t, env.Store, "R2026014", 1, "a", "b")
	m2 := unit.SeedMatchup(t, env.Store, "R2026014", 1, "c", "d")
	p, _ := unit.SeedParlay(t, env.Store, 20,
		unit.Leg{Matchup: m1, PlayerID: "a", Odds: 100},
		unit.Leg{Matchup: m2, PlayerID: "c", Odds: 100})
	env.Feed.Set("R2026014", 1,
		unit.Finished("a", -2, -2), unit.Finished("b", 1, 1),
		unit.Finished("c", 3, 3), unit.Finished("d", 1, 1))

	resp := env.AuthPOST("/v1/pipeline/run", nil, admin)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var report domain.RunReport
	testutil.DecodeJSON(t, resp, &report)

	assert.Equal(t, 1, report.RoundsFound)
	assert.Equal(t, 1, report.RoundsProcessed)
	assert.Equal(t, 2, report.ResultsIngested)
	assert.Equal(t, 2, report.PicksSettled)
	assert.Equal(t, 1, report.ParlaysSettled)
	assert.Equal(t, 1, report.RoundsSettled)
	assert.Empty(t, report.Errors)

	stored, err := env.Store.Parlays().FindByID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Outcome)
	assert.Equal(t, domain.OutcomeLoss, *stored.Outcome)
	require.NotNil(t, stored.ActualPayout)
	assert.True(t, decimal.Zero.Equal(*stored.ActualPayout))

	rd, err := env.Store.Rounds().Find(ctx, domain.RoundKey{TournamentID: "R2026014", RoundNum: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.RoundSettled, rd.State)

	// A second pass finds nothing new.
	resp = env.AuthPOST("/v1/pipeline/run", nil, admin)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var again domain.RunReport
	testutil.DecodeJSON(t, resp, &again)
	assert.Zero(t, again.RoundsFound)
	assert.Zero(t, again.PicksSettled)
}

func TestPipeline_IncompleteRoundWaits(t *testing.T) {
	env := testutil.NewTestEnv(t)
	admin := env.OperatorToken(auth.RoleAdmin)

	unit.SeedTournament(t, env.Store, "R2026014")
	unit.SeedMatchup(t, env.Store, "R2026014", 1, "a", "b")
	env.Feed.Set("R2026014", 1,
		unit.Finished("a", -2, -2), unit.OnCourse("b", 9, 1),
		unit.OnCourse("c", 8, 0), unit.OnCourse("d", 7, 0))

	resp := env.AuthPOST("/v1/pipeline/run", nil, admin)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var report domain.RunReport
	testutil.DecodeJSON(t, resp, &report)
	assert.Zero(t, report.RoundsFound)

	rd, err := env.Store.Rounds().Find(context.Background(), domain.RoundKey{TournamentID: "R2026014", RoundNum: 1})
	require.NoError(t, err)
	assert.Nil(t, rd, "round stays in progress")
}

// ─── Manual Grading and Reversal (2) ───────────────────────────────────────

func TestPipeline_ManualResultThenReverse(t *testing.T) {
	env := testutil.NewTestEnv(t)
	ctx := context.Background()
	admin := env.OperatorToken(auth.RoleAdmin)

	unit.SeedTournament(t, env.Store, "R2026014")
	m1 := unit.SeedMatchup(t, env.Store, "R2026014", 2, "a", "b")
	p, _ := unit.SeedParlay(t, env.Store, 10, unit.Leg{Matchup: m1, PlayerID: "a", Odds: 150})
	unit.CompleteRound(t, env.Store, domain.RoundKey{TournamentID: "R2026014", RoundNum: 2})

	resp := env.AuthPUT("/v1/results", map[string]any{"matchup_id": m1.ID, "winner_id": "a"}, admin)
	testutil.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = env.AuthPOST("/v1/rounds/R2026014/2/settle", nil, admin)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var settle domain.SettleReport
	testutil.DecodeJSON(t, resp, &settle)
	assert.Equal(t, 1, settle.ParlaysSettled)
	assert.True(t, settle.RoundSettled)

	settled, err := env.Store.Parlays().FindByID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, settled.ActualPayout)
	assert.Equal(t, "25.00", settled.ActualPayout.StringFixed(2))

	resp = env.AuthPOST("/v1/parlays/"+p.ID.String()+"/reverse", map[string]string{"reason": "wrong grade"}, admin)
	testutil.AssertStatus(t, resp, http.StatusOK)
	var rev domain.ReversalResult
	testutil.DecodeJSON(t, resp, &rev)
	assert.Equal(t, 1, rev.PicksReset)

	reversed, err := env.Store.Parlays().FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ParlayPending, reversed.Status)
	assert.Nil(t, reversed.ActualPayout)
	assert.Equal(t, settled.Version+1, reversed.Version)

	audit, err := env.Store.Reversals().ListByParlay(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "wrong grade", audit[0].Reason)

	rd, err := env.Store.Rounds().Find(ctx, domain.RoundKey{TournamentID: "R2026014", RoundNum: 2})
	require.NoError(t, err)
	assert.Equal(t, domain.RoundCompleted, rd.State)
}

func TestPipeline_ReverseUnknownParlay(t *testing.T) {
	env := testutil.NewTestEnv(t)
	admin := env.OperatorToken(auth.RoleAdmin)

	resp := env.AuthPOST("/v1/parlays/7b0c4d0e-6f6b-4a53-9a53-2d1f0f1b6a10/reverse", map[string]string{"reason": "x"}, admin)
	testutil.AssertStatus(t, resp, http.StatusNotFound)
	testutil.AssertErrorCode(t, resp, domain.CodeNotFound)
}

// ─── Access (1) ────────────────────────────────────────────────────────────

func TestPipeline_ViewerCannotTrigger(t *testing.T) {
	env := testutil.NewTestEnv(t)

	resp := env.AuthPOST("/v1/pipeline/run", nil, env.OperatorToken(auth.RoleViewer))
	testutil.AssertStatus(t, resp, http.StatusForbidden)
	testutil.AssertErrorCode(t, resp, domain.CodeForbidden)

	resp = env.AuthGET("/v1/pipeline/status", "")
	testutil.AssertStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}
