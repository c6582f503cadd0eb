package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teeline/settlement/internal/domain"
	"github.com/teeline/settlement/internal/guard"
	"github.com/teeline/settlement/internal/provider"
	"github.com/teeline/settlement/internal/repository/memory"
	"github.com/teeline/settlement/internal/testutil"
)

func newIngestion(store *memory.Store, feed *testutil.Feed) *IngestionService {
	return NewIngestionService(store, feed, guard.NewRoundClaims(), testutil.Logger()).
		WithRetryPolicy(PersistenceRetry(3, time.Millisecond))
}

func TestIngest_WinnerIsLowestRoundScore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	feed := testutil.NewFeed()
	testutil.SeedTournament(t, store, "R2026014")
	decided := testutil.SeedMatchup(t, store, "R2026014", 2, "a", "b")
	tied := testutil.SeedMatchup(t, store, "R2026014", 2, "c", "d")
	key := decided.RoundKey()

	feed.Set("R2026014", 2,
		testutil.Finished("a", -3, -1),
		testutil.Finished("b", -1, -8),
		testutil.Finished("c", -2, 0),
		testutil.Finished("d", -2, 3),
	)

	report, err := newIngestion(store, feed).IngestRoundResults(ctx, key, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.SavedCount)
	assert.Empty(t, report.Errors)

	res, err := store.Results().FindByKey(ctx, domain.ResultKey{MatchupID: decided.ID, EventID: "R2026014", RoundNum: 2})
	require.NoError(t, err)
	require.NotNil(t, res.WinnerID)
	assert.Equal(t, "a", *res.WinnerID, "round score decides, not the tournament total")
	assert.False(t, res.IsPush)
	require.Len(t, res.Players, 2)
	assert.Equal(t, -3, res.Players[0].RoundScore)
	assert.Equal(t, -1, res.Players[0].TotalScore)

	res, err = store.Results().FindByKey(ctx, domain.ResultKey{MatchupID: tied.ID, EventID: "R2026014", RoundNum: 2})
	require.NoError(t, err)
	assert.True(t, res.IsPush)
	assert.Nil(t, res.WinnerID)
}

func TestIngest_IdempotentWithoutForce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	feed := testutil.NewFeed()
	testutil.SeedTournament(t, store, "R2026014")
	m := testutil.SeedMatchup(t, store, "R2026014", 1, "a", "b")
	feed.Set("R2026014", 1, testutil.Finished("a", -3, -3), testutil.Finished("b", -1, -1))

	svc := newIngestion(store, feed)
	first, err := svc.IngestRoundResults(ctx, m.RoundKey(), false)
	require.NoError(t, err)
	require.Equal(t, 1, first.SavedCount)

	before, err := store.Results().List(ctx, domain.ResultFilter{TournamentID: "R2026014"})
	require.NoError(t, err)
	require.Len(t, before, 1)

	// The feed changes, but without force the stored result stands.
	feed.Set("R2026014", 1, testutil.Finished("a", 0, 0), testutil.Finished("b", -5, -5))
	second, err := svc.IngestRoundResults(ctx, m.RoundKey(), false)
	require.NoError(t, err)
	assert.Zero(t, second.SavedCount)
	assert.Equal(t, 1, second.SkippedCount)
	require.Len(t, second.Outcomes, 1)
	assert.Equal(t, "a", *second.Outcomes[0].WinnerID)

	after, err := store.Results().List(ctx, domain.ResultFilter{TournamentID: "R2026014"})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, before[0], after[0])
}

func TestIngest_ForceReprocessOverwrites(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	feed := testutil.NewFeed()
	testutil.SeedTournament(t, store, "R2026014")
	m := testutil.SeedMatchup(t, store, "R2026014", 1, "a", "b")
	feed.Set("R2026014", 1, testutil.Finished("a", -3, -3), testutil.Finished("b", -1, -1))

	svc := newIngestion(store, feed)
	_, err := svc.IngestRoundResults(ctx, m.RoundKey(), false)
	require.NoError(t, err)
	original, err := store.Results().List(ctx, domain.ResultFilter{MatchupID: &m.ID})
	require.NoError(t, err)

	feed.Set("R2026014", 1, testutil.Finished("a", 0, 0), testutil.Finished("b", -5, -5))
	report, err := svc.IngestRoundResults(ctx, m.RoundKey(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SavedCount)

	all, err := store.Results().List(ctx, domain.ResultFilter{MatchupID: &m.ID})
	require.NoError(t, err)
	require.Len(t, all, 1, "upsert never duplicates")
	assert.Equal(t, original[0].ID, all[0].ID)
	assert.Equal(t, "b", *all[0].WinnerID)
}

func TestIngest_PartialFailureIsolation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	feed := testutil.NewFeed()
	testutil.SeedTournament(t, store, "R2026014")
	key := domain.RoundKey{TournamentID: "R2026014", RoundNum: 3}
	testutil.CompleteRound(t, store, key)
	require.NoError(t, store.Rounds().SetResultsComplete(ctx, key, false))

	var rows []domain.PlayerRoundStanding
	for i := 0; i < 5; i++ {
		a, b := fmt.Sprintf("p%da", i), fmt.Sprintf("p%db", i)
		testutil.SeedMatchup(t, store, "R2026014", 3, a, b)
		rows = append(rows, testutil.Finished(a, -2, -2))
		if i == 4 {
			// Corrupt: the opponent is missing from the feed.
			continue
		}
		rows = append(rows, testutil.Finished(b, 1, 1))
	}
	feed.Set("R2026014", 3, rows...)

	report, err := newIngestion(store, feed).IngestRoundResults(ctx, key, false)
	require.NoError(t, err)
	assert.Equal(t, 4, report.SavedCount)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, domain.CodeDataIncomplete, report.Errors[0].Code)
	assert.NotNil(t, report.Errors[0].MatchupID)
	assert.Contains(t, report.Errors[0].Message, "p4b")
	assert.False(t, report.ResultsComplete)

	rd, err := store.Rounds().Find(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundCompleted, rd.State)
	assert.False(t, rd.ResultsComplete)

	// The missing player shows up on the next pass; the round becomes eligible.
	feed.Set("R2026014", 3, append(rows, testutil.Finished("p4b", 0, 0))...)
	report, err = newIngestion(store, feed).IngestRoundResults(ctx, key, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SavedCount)
	assert.Equal(t, 4, report.SkippedCount)
	assert.True(t, report.ResultsComplete)

	rd, err = store.Rounds().Find(ctx, key)
	require.NoError(t, err)
	assert.True(t, rd.ResultsComplete)
}

func TestIngest_CorruptFeedRowOnlyAffectsItsMatchup(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	testutil.SeedTournament(t, store, "R2026014")
	good := testutil.SeedMatchup(t, store, "R2026014", 2, "a", "b")
	bad := testutil.SeedMatchup(t, store, "R2026014", 2, "c", "d")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"event_id":"R2026014","round":2,"players":[
			{"player_id":"a","today":-3,"total":-5,"thru":"F"},
			{"player_id":"b","today":1,"total":0,"thru":"F"},
			{"player_id":"c","today":-1,"total":-2,"thru":"F"},
			{"player_id":"d","today":{"bogus":true},"total":4,"thru":"F"}
		]}`)
	}))
	defer srv.Close()
	feed := provider.NewLiveScoreClient(provider.LiveScoreConfig{
		BaseURL:       srv.URL,
		RatePerSecond: 1000,
		Burst:         10,
		RetryWait:     time.Millisecond,
	}, guard.NewCircuitBreaker(1, time.Minute, testutil.Logger()), testutil.Logger())

	svc := NewIngestionService(store, feed, guard.NewRoundClaims(), testutil.Logger()).
		WithRetryPolicy(PersistenceRetry(3, time.Millisecond))
	report, err := svc.IngestRoundResults(ctx, good.RoundKey(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SavedCount)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, domain.CodeDataIncomplete, report.Errors[0].Code)
	require.NotNil(t, report.Errors[0].MatchupID)
	assert.Equal(t, bad.ID, *report.Errors[0].MatchupID)

	res, err := store.Results().FindByKey(ctx, domain.ResultKey{MatchupID: good.ID, EventID: "R2026014", RoundNum: 2})
	require.NoError(t, err)
	assert.Equal(t, "a", *res.WinnerID)
}

func TestIngest_PlayerStillOnCourseIsIncomplete(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	feed := testutil.NewFeed()
	testutil.SeedTournament(t, store, "R2026014")
	m := testutil.SeedMatchup(t, store, "R2026014", 1, "a", "b")
	feed.Set("R2026014", 1, testutil.Finished("a", -3, -3), testutil.OnCourse("b", 15, -4))

	report, err := newIngestion(store, feed).IngestRoundResults(ctx, m.RoundKey(), false)
	require.NoError(t, err)
	assert.Zero(t, report.SavedCount)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, domain.CodeDataIncomplete, report.Errors[0].Code)
}

func TestIngest_WithdrawnPlayerLoses(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	feed := testutil.NewFeed()
	testutil.SeedTournament(t, store, "R2026014")
	m := testutil.SeedMatchup(t, store, "R2026014", 1, "a", "b", "c")
	feed.Set("R2026014", 1,
		testutil.Finished("a", 4, 4),
		testutil.WithStatus(testutil.OnCourse("b", 7, -3), domain.PlayerWD),
		testutil.Finished("c", 2, 2),
	)

	report, err := newIngestion(store, feed).IngestRoundResults(ctx, m.RoundKey(), false)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	require.NotNil(t, report.Outcomes[0].WinnerID)
	assert.Equal(t, "c", *report.Outcomes[0].WinnerID)
}

func TestIngest_AggregateRoundUsesTotals(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	feed := testutil.NewFeed()
	testutil.SeedTournament(t, store, "R2026014")
	m := testutil.SeedMatchup(t, store, "R2026014", domain.AggregateRound, "a", "b")
	feed.Set("R2026014", 4, testutil.Finished("a", -6, -4), testutil.Finished("b", 1, -9))

	report, err := newIngestion(store, feed).IngestRoundResults(ctx, m.RoundKey(), false)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, "b", *report.Outcomes[0].WinnerID)
	assert.Equal(t, 1, feed.Calls("R2026014", 4))
}

func TestIngest_RetriesPersistenceErrors(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	feed := testutil.NewFeed()
	testutil.SeedTournament(t, store, "R2026014")
	m := testutil.SeedMatchup(t, store, "R2026014", 1, "a", "b")
	feed.Set("R2026014", 1, testutil.Finished("a", -3, -3), testutil.Finished("b", -1, -1))

	store.FailOn("upsert matchup result", errors.New("deadlock detected"))
	report, err := newIngestion(store, feed).IngestRoundResults(ctx, m.RoundKey(), false)
	require.NoError(t, err)
	assert.Zero(t, report.SavedCount)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, domain.CodePersistence, report.Errors[0].Code)
	assert.Contains(t, report.Errors[0].Message, "failed after 3 attempts")
}

func TestIngest_FeedErrorFailsRound(t *testing.T) {
	store := memory.NewStore()
	feed := testutil.NewFeed()
	testutil.SeedTournament(t, store, "R2026014")
	m := testutil.SeedMatchup(t, store, "R2026014", 1, "a", "b")
	feed.Fail("R2026014", errors.New("timeout"))

	_, err := newIngestion(store, feed).IngestRoundResults(context.Background(), m.RoundKey(), false)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeFeedUnavailable))
}

func TestIngest_Validation(t *testing.T) {
	store := memory.NewStore()
	testutil.SeedTournament(t, store, "R2026014")
	svc := newIngestion(store, testutil.NewFeed())
	ctx := context.Background()

	_, err := svc.IngestRoundResults(ctx, domain.RoundKey{TournamentID: "", RoundNum: 1}, false)
	assert.True(t, domain.IsCode(err, domain.CodeValidation))

	_, err = svc.IngestRoundResults(ctx, domain.RoundKey{TournamentID: "R2026014", RoundNum: 7}, false)
	assert.True(t, domain.IsCode(err, domain.CodeValidation))

	_, err = svc.IngestRoundResults(ctx, domain.RoundKey{TournamentID: "NOPE", RoundNum: 1}, false)
	assert.True(t, domain.IsCode(err, domain.CodeNotFound))
}

func TestIngest_ClaimConflict(t *testing.T) {
	store := memory.NewStore()
	testutil.SeedTournament(t, store, "R2026014")
	claims := guard.NewRoundClaims()
	key := domain.RoundKey{TournamentID: "R2026014", RoundNum: 1}
	require.True(t, claims.Acquire(context.Background(), "ingest:"+key.String()).Allowed)

	svc := NewIngestionService(store, testutil.NewFeed(), claims, testutil.Logger())
	_, err := svc.IngestRoundResults(context.Background(), key, false)
	assert.True(t, domain.IsCode(err, domain.CodeConflict))
}
