package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teeline/settlement/internal/domain"
	"github.com/teeline/settlement/internal/guard"
	"github.com/teeline/settlement/internal/policy"
	"github.com/teeline/settlement/internal/repository"
	"github.com/teeline/settlement/internal/repository/memory"
	"github.com/teeline/settlement/internal/testutil"
)

var round1 = domain.RoundKey{TournamentID: "R2026014", RoundNum: 1}

func newEngine(store repository.Store) *Engine {
	return NewEngine(store, guard.NewRoundClaims(), testutil.Logger())
}

func loadParlay(t *testing.T, store repository.Store, id uuid.UUID) *domain.Parlay {
	t.Helper()
	p, err := store.Parlays().FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func assertSettled(t *testing.T, p *domain.Parlay, outcome domain.Outcome, payout string) {
	t.Helper()
	assert.Equal(t, domain.ParlaySettled, p.Status)
	require.NotNil(t, p.Outcome)
	assert.Equal(t, outcome, *p.Outcome)
	require.NotNil(t, p.ActualPayout)
	assert.True(t, decimal.RequireFromString(payout).Equal(*p.ActualPayout), "payout %s, want %s", p.ActualPayout, payout)
	assert.NotNil(t, p.SettledAt)
}

// seedRound creates a round with three graded matchups: a beats b, c and d push,
// e beats f.
func seedRound(t *testing.T, store *memory.Store) (m1, m2, m3 domain.Matchup) {
	m1 = testutil.SeedMatchup(t, store, "R2026014", 1, "a", "b")
	m2 = testutil.SeedMatchup(t, store, "R2026014", 1, "c", "d")
	m3 = testutil.SeedMatchup(t, store, "R2026014", 1, "e", "f")
	testutil.SeedResult(t, store, m1, "a")
	testutil.SeedResult(t, store, m2, "")
	testutil.SeedResult(t, store, m3, "e")
	testutil.CompleteRound(t, store, round1)
	return m1, m2, m3
}

func TestSettle_ParlayAggregationLaw(t *testing.T) {
	store := memory.NewStore()
	m1, m2, m3 := seedRound(t, store)

	winWin, _ := testutil.SeedParlay(t, store, 10,
		testutil.Leg{Matchup: m1, PlayerID: "a", Odds: 100},
		testutil.Leg{Matchup: m3, PlayerID: "e", Odds: 150})
	winLoss, _ := testutil.SeedParlay(t, store, 10,
		testutil.Leg{Matchup: m1, PlayerID: "a", Odds: 100},
		testutil.Leg{Matchup: m3, PlayerID: "f", Odds: 150})
	winPush, _ := testutil.SeedParlay(t, store, 10,
		testutil.Leg{Matchup: m1, PlayerID: "a", Odds: 100},
		testutil.Leg{Matchup: m2, PlayerID: "c", Odds: -200})
	lossPush, _ := testutil.SeedParlay(t, store, 10,
		testutil.Leg{Matchup: m1, PlayerID: "b", Odds: 100},
		testutil.Leg{Matchup: m2, PlayerID: "c", Odds: 100})

	report, err := newEngine(store).SettleParlaysForRound(context.Background(), round1, policy.PushReduceLegs)
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 8, report.PicksSettled)
	assert.Equal(t, 4, report.ParlaysSettled)
	assert.True(t, report.RoundSettled)

	assertSettled(t, loadParlay(t, store, winWin.ID), domain.OutcomeWin, "50.00")
	assertSettled(t, loadParlay(t, store, winLoss.ID), domain.OutcomeLoss, "0")
	assertSettled(t, loadParlay(t, store, winPush.ID), domain.OutcomeWin, "20.00")
	assertSettled(t, loadParlay(t, store, lossPush.ID), domain.OutcomeLoss, "0")
}

func TestSettle_KeepOddsPolicy(t *testing.T) {
	store := memory.NewStore()
	m1, m2, _ := seedRound(t, store)
	p, _ := testutil.SeedParlay(t, store, 10,
		testutil.Leg{Matchup: m1, PlayerID: "a", Odds: 100},
		testutil.Leg{Matchup: m2, PlayerID: "c", Odds: -200})

	_, err := newEngine(store).SettleParlaysForRound(context.Background(), round1, policy.PushKeepOdds)
	require.NoError(t, err)
	assertSettled(t, loadParlay(t, store, p.ID), domain.OutcomeWin, "30.00")
}

func TestSettle_AllPushRefundsStake(t *testing.T) {
	store := memory.NewStore()
	_, m2, _ := seedRound(t, store)
	p, picks := testutil.SeedParlay(t, store, 25,
		testutil.Leg{Matchup: m2, PlayerID: "d", Odds: 120})

	_, err := newEngine(store).SettleParlaysForRound(context.Background(), round1, policy.PushReduceLegs)
	require.NoError(t, err)
	assertSettled(t, loadParlay(t, store, p.ID), domain.OutcomePush, "25.00")

	stored, err := store.Picks().ListByParlay(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, picks[0].ID, stored[0].ID)
	assert.Equal(t, domain.PickSettled, stored[0].SettlementStatus)
	assert.Equal(t, domain.OutcomePush, *stored[0].Outcome)
	assert.Equal(t, "matchup push", stored[0].Notes)
}

func TestSettle_LaterRoundLegKeepsParlayPending(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	m1, _, _ := seedRound(t, store)
	later := testutil.SeedMatchup(t, store, "R2026014", 2, "a", "b")
	p, _ := testutil.SeedParlay(t, store, 10,
		testutil.Leg{Matchup: m1, PlayerID: "a", Odds: 100},
		testutil.Leg{Matchup: later, PlayerID: "a", Odds: 100})

	report, err := newEngine(store).SettleParlaysForRound(ctx, round1, policy.PushReduceLegs)
	require.NoError(t, err)
	assert.Equal(t, 1, report.PicksSettled)
	assert.Zero(t, report.ParlaysSettled)
	assert.True(t, report.RoundSettled, "round 1 picks are all graded")

	stored := loadParlay(t, store, p.ID)
	assert.Equal(t, domain.ParlayPending, stored.Status)
	assert.Nil(t, stored.Outcome)
	assert.Equal(t, 1, stored.Version)

	// Round 2 settles the remaining leg.
	testutil.SeedResult(t, store, later, "a")
	testutil.CompleteRound(t, store, later.RoundKey())
	report, err = newEngine(store).SettleParlaysForRound(ctx, later.RoundKey(), policy.PushReduceLegs)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ParlaysSettled)
	assertSettled(t, loadParlay(t, store, p.ID), domain.OutcomeWin, "40.00")
}

func TestSettle_MissingResultMarksPicksPending(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	graded := testutil.SeedMatchup(t, store, "R2026014", 1, "a", "b")
	missing := testutil.SeedMatchup(t, store, "R2026014", 1, "c", "d")
	testutil.SeedResult(t, store, graded, "a")
	_, err := store.Rounds().MarkCompleted(ctx, round1, 0.9, time.Now())
	require.NoError(t, err)

	p, _ := testutil.SeedParlay(t, store, 10,
		testutil.Leg{Matchup: graded, PlayerID: "a", Odds: 100},
		testutil.Leg{Matchup: missing, PlayerID: "c", Odds: 100})

	report, err := newEngine(store).SettleParlaysForRound(ctx, round1, policy.PushReduceLegs)
	require.NoError(t, err)
	assert.Equal(t, 1, report.PicksSettled)
	assert.Equal(t, 1, report.PicksPending)
	assert.False(t, report.RoundSettled)

	picks, err := store.Picks().ListByParlay(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PickSettled, picks[0].SettlementStatus)
	assert.Equal(t, domain.PickPending, picks[1].SettlementStatus)
	assert.Equal(t, pendingNote, picks[1].Notes)

	// A pending pick is graded once its result arrives.
	testutil.SeedResult(t, store, missing, "d")
	require.NoError(t, store.Rounds().SetResultsComplete(ctx, round1, true))
	report, err = newEngine(store).SettleParlaysForRound(ctx, round1, policy.PushReduceLegs)
	require.NoError(t, err)
	assert.Equal(t, 1, report.PicksSettled)
	assert.True(t, report.RoundSettled)
	assertSettled(t, loadParlay(t, store, p.ID), domain.OutcomeLoss, "0")
}

func TestSettle_BadPickIsolated(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	m1, _, m3 := seedRound(t, store)

	bad, badPicks := testutil.SeedParlay(t, store, 10,
		testutil.Leg{Matchup: m1, PlayerID: "zz", Odds: 100})
	good, _ := testutil.SeedParlay(t, store, 10,
		testutil.Leg{Matchup: m3, PlayerID: "e", Odds: 100})

	report, err := newEngine(store).SettleParlaysForRound(ctx, round1, policy.PushReduceLegs)
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	e := report.Errors[0]
	assert.Equal(t, domain.CodeReferentialInconsistency, e.Code)
	require.NotNil(t, e.PickID)
	assert.Equal(t, badPicks[0].ID, *e.PickID)
	assert.Equal(t, bad.ID, *e.ParlayID)
	assert.Equal(t, "R2026014", e.TournamentID)

	assertSettled(t, loadParlay(t, store, good.ID), domain.OutcomeWin, "20.00")
	assert.Equal(t, domain.ParlayPending, loadParlay(t, store, bad.ID).Status)
	assert.False(t, report.RoundSettled, "an open pick keeps the round unsettled")
}

func TestSettle_SecondPassIsNoop(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	m1, _, _ := seedRound(t, store)
	p, _ := testutil.SeedParlay(t, store, 10, testutil.Leg{Matchup: m1, PlayerID: "a", Odds: 100})

	engine := newEngine(store)
	_, err := engine.SettleParlaysForRound(ctx, round1, policy.PushReduceLegs)
	require.NoError(t, err)
	first := loadParlay(t, store, p.ID)

	report, err := engine.SettleParlaysForRound(ctx, round1, policy.PushReduceLegs)
	require.NoError(t, err)
	assert.Zero(t, report.PicksSettled)
	assert.Zero(t, report.ParlaysSettled)
	assert.False(t, report.RoundSettled, "already settled")
	assert.Equal(t, first, loadParlay(t, store, p.ID))

	events, err := store.Outbox().FetchUnpublished(ctx, 100)
	require.NoError(t, err)
	var types []domain.EventType
	for _, ev := range events {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []domain.EventType{domain.EventParlaySettled, domain.EventRoundSettled}, types)
}

func TestSettle_PersistenceFailureRollsBackParlay(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	m1, _, _ := seedRound(t, store)
	p, _ := testutil.SeedParlay(t, store, 10, testutil.Leg{Matchup: m1, PlayerID: "a", Odds: 100})

	store.FailOn("save parlay settlement", errors.New("disk full"))
	report, err := newEngine(store).SettleParlaysForRound(ctx, round1, policy.PushReduceLegs)
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, domain.CodePersistence, report.Errors[0].Code)
	assert.Equal(t, p.ID, *report.Errors[0].ParlayID)
	assert.Zero(t, report.PicksSettled)

	picks, err := store.Picks().ListByParlay(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PickUnsettled, picks[0].SettlementStatus, "pick write rolled back with the parlay")
	assert.Nil(t, picks[0].Outcome)
}

// staleStore reports every parlay write as a version mismatch.
type staleStore struct{ *memory.Store }

func (s staleStore) Parlays() repository.ParlayRepository {
	return staleParlays{s.Store.Parlays()}
}

func (s staleStore) WithTx(ctx context.Context, fn func(repository.Store) error) error {
	return s.Store.WithTx(ctx, func(tx repository.Store) error {
		return fn(staleStore{tx.(*memory.Store)})
	})
}

type staleParlays struct{ repository.ParlayRepository }

func (staleParlays) SaveSettlement(context.Context, *domain.Parlay) (bool, error) {
	return false, nil
}

func TestSettle_VersionConflictDetected(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	m1, _, _ := seedRound(t, store)
	p, _ := testutil.SeedParlay(t, store, 10, testutil.Leg{Matchup: m1, PlayerID: "a", Odds: 100})

	report, err := newEngine(staleStore{store}).SettleParlaysForRound(ctx, round1, policy.PushReduceLegs)
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, domain.CodeConflict, report.Errors[0].Code)

	picks, err := store.Picks().ListByParlay(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, picks[0].Open())
}

func TestSettle_ClaimConflict(t *testing.T) {
	claims := guard.NewRoundClaims()
	require.True(t, claims.Acquire(context.Background(), "settle:"+round1.String()).Allowed)

	engine := NewEngine(memory.NewStore(), claims, testutil.Logger())
	_, err := engine.SettleParlaysForRound(context.Background(), round1, policy.PushReduceLegs)
	assert.True(t, domain.IsCode(err, domain.CodeConflict))
}
