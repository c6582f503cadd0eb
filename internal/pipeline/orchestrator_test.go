package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teeline/settlement/internal/domain"
	"github.com/teeline/settlement/internal/guard"
	"github.com/teeline/settlement/internal/pipeline"
	"github.com/teeline/settlement/internal/policy"
	"github.com/teeline/settlement/internal/repository/memory"
	"github.com/teeline/settlement/internal/service"
	"github.com/teeline/settlement/internal/settlement"
	"github.com/teeline/settlement/internal/testutil"
)

// ── fakes ──

type fakeDetector struct {
	found   []domain.RoundKey
	pending []domain.RoundKey
	errs    []domain.EntityError
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeDetector) FindRecentlyCompletedRounds(ctx context.Context, _ time.Duration, _ float64) ([]domain.RoundKey, []domain.EntityError, error) {
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		<-f.block
	}
	return f.found, f.errs, f.err
}

func (f *fakeDetector) PendingSettlement(context.Context) ([]domain.RoundKey, error) {
	return f.pending, nil
}

type fakeIngestor struct {
	mu    sync.Mutex
	calls []domain.RoundKey
	fail  map[domain.RoundKey]error
	hook  func(domain.RoundKey)
}

func (f *fakeIngestor) IngestRoundResults(_ context.Context, key domain.RoundKey, _ bool) (*domain.IngestReport, error) {
	if f.hook != nil {
		f.hook(key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	if err := f.fail[key]; err != nil {
		return nil, err
	}
	return &domain.IngestReport{Round: key, SavedCount: 2}, nil
}

type fakeSettler struct {
	mu     sync.Mutex
	calls  []domain.RoundKey
	policy policy.PushPolicy
}

func (f *fakeSettler) SettleParlaysForRound(_ context.Context, key domain.RoundKey, p policy.PushPolicy) (*domain.SettleReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	f.policy = p
	return &domain.SettleReport{Round: key, PicksSettled: 3, ParlaysSettled: 1, RoundSettled: true}, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	reports []*domain.RunReport
	err     error
}

func (f *fakeRecorder) RecordRun(_ context.Context, report *domain.RunReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report)
	return f.err
}

func newOrchestrator(t *testing.T, d pipeline.Detector, i pipeline.Ingestor, s pipeline.Settler) *pipeline.Orchestrator {
	t.Helper()
	o, err := pipeline.NewOrchestrator(d, i, s, pipeline.DefaultConfig(), testutil.Logger())
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return o
}

func key(round int) domain.RoundKey {
	return domain.RoundKey{TournamentID: "R2026014", RoundNum: round}
}

// ── tests ──

func TestRunOnce_MutualExclusion(t *testing.T) {
	det := &fakeDetector{found: []domain.RoundKey{key(1)}, block: make(chan struct{}), entered: make(chan struct{})}
	ing := &fakeIngestor{}
	set := &fakeSettler{}
	o := newOrchestrator(t, det, ing, set)

	done := make(chan *domain.RunReport)
	go func() {
		report, err := o.RunOnce(context.Background(), pipeline.TriggerManual)
		assert.NoError(t, err)
		done <- report
	}()
	<-det.entered
	assert.True(t, o.Status().IsRunning)

	_, err := o.RunOnce(context.Background(), pipeline.TriggerManual)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeConflict))

	close(det.block)
	report := <-done
	assert.Equal(t, 1, report.RoundsProcessed)
	assert.Len(t, ing.calls, 1, "the rejected run wrote nothing")
	assert.False(t, o.Status().IsRunning)
}

func TestRunOnce_AggregatesReport(t *testing.T) {
	det := &fakeDetector{
		found:   []domain.RoundKey{key(1), key(2)},
		pending: []domain.RoundKey{key(2), key(0)},
		errs:    []domain.EntityError{{Code: domain.CodeFeedUnavailable, TournamentID: "OTHER", Message: "down"}},
	}
	ing := &fakeIngestor{}
	set := &fakeSettler{}
	o := newOrchestrator(t, det, ing, set)
	require.NoError(t, o.Configure(pipeline.Config{
		MinCompletionPct: 0.9, Lookback: time.Hour, Interval: time.Minute,
		MaxConcurrentRounds: 2, RoundTimeout: time.Second, RunTimeout: time.Minute,
		PushPolicy: policy.PushKeepOdds,
	}))

	report, err := o.RunOnce(context.Background(), pipeline.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 2, report.RoundsFound)
	assert.Equal(t, 3, report.RoundsProcessed, "pending rounds are merged without duplicates")
	assert.Equal(t, 6, report.ResultsIngested)
	assert.Equal(t, 9, report.PicksSettled)
	assert.Equal(t, 3, report.ParlaysSettled)
	assert.Equal(t, 3, report.RoundsSettled)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "OTHER", report.Errors[0].TournamentID)
	assert.Equal(t, policy.PushKeepOdds, set.policy)
	assert.Equal(t, pipeline.TriggerManual, report.Trigger)

	st := o.Status()
	require.NotNil(t, st.LastRunTime)
	assert.Equal(t, report, st.LastReport)
}

func TestRunOnce_IngestionFailureSkipsSettlement(t *testing.T) {
	det := &fakeDetector{found: []domain.RoundKey{key(1), key(2)}}
	ing := &fakeIngestor{fail: map[domain.RoundKey]error{
		key(1): domain.ErrTransientFeed("R2026014", errors.New("timeout")),
	}}
	set := &fakeSettler{}
	o := newOrchestrator(t, det, ing, set)

	report, err := o.RunOnce(context.Background(), pipeline.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, report.RoundsProcessed)
	assert.Equal(t, []domain.RoundKey{key(2)}, set.calls)

	require.Len(t, report.Errors, 1)
	e := report.Errors[0]
	assert.Equal(t, domain.CodeFeedUnavailable, e.Code)
	require.NotNil(t, e.RoundNum)
	assert.Equal(t, 1, *e.RoundNum)
	assert.Contains(t, e.Message, "R2026014")
}

func TestRunOnce_DetectorStorageFailureAborts(t *testing.T) {
	det := &fakeDetector{err: domain.ErrPersistence("list active tournaments", errors.New("no connection"))}
	ing := &fakeIngestor{}
	o := newOrchestrator(t, det, ing, &fakeSettler{})

	report, err := o.RunOnce(context.Background(), pipeline.TriggerManual)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodePersistence))
	require.NotNil(t, report)
	assert.Empty(t, ing.calls)
	assert.False(t, o.Status().IsRunning)
}

func TestStop_SkipsRoundsNotStarted(t *testing.T) {
	det := &fakeDetector{found: []domain.RoundKey{key(1), key(2), key(3)}}
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	ing := &fakeIngestor{}
	set := &fakeSettler{}
	o := newOrchestrator(t, det, ing, set)
	ing.hook = func(domain.RoundKey) {
		once.Do(func() {
			close(started)
			<-release
		})
	}

	cfg := pipeline.DefaultConfig()
	cfg.MaxConcurrentRounds = 1
	require.NoError(t, o.Configure(cfg))

	done := make(chan *domain.RunReport)
	go func() {
		report, err := o.RunOnce(context.Background(), pipeline.TriggerManual)
		assert.NoError(t, err)
		done <- report
	}()

	<-started
	o.Stop()
	close(release)

	report := <-done
	assert.Equal(t, 1, report.RoundsProcessed, "the round in flight finishes")
	assert.Equal(t, 2, report.RoundsSkipped)
	assert.Len(t, set.calls, 1)
}

func TestLifecycle(t *testing.T) {
	o := newOrchestrator(t, &fakeDetector{}, &fakeIngestor{}, &fakeSettler{})

	st := o.Status()
	assert.False(t, st.IsEnabled)
	assert.Nil(t, st.NextRunTime)

	require.NoError(t, o.Start())
	require.NoError(t, o.Start(), "start is idempotent")
	st = o.Status()
	assert.True(t, st.IsEnabled)
	require.NotNil(t, st.NextRunTime)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), *st.NextRunTime, 2*time.Second)

	cfg := pipeline.DefaultConfig()
	cfg.Interval = time.Hour
	require.NoError(t, o.Configure(cfg))
	st = o.Status()
	require.NotNil(t, st.NextRunTime)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *st.NextRunTime, 2*time.Second)

	o.Stop()
	assert.False(t, o.Status().IsEnabled)

	o.Close()
	assert.True(t, o.Status().Disposed)
	_, err := o.RunOnce(context.Background(), pipeline.TriggerManual)
	assert.True(t, domain.IsCode(err, domain.CodeValidation))
	assert.True(t, domain.IsCode(o.Start(), domain.CodeValidation))

	o.Reset()
	st = o.Status()
	assert.False(t, st.Disposed)
	assert.Equal(t, pipeline.DefaultConfig(), st.Config)
	assert.Nil(t, st.LastReport)
	_, err = o.RunOnce(context.Background(), pipeline.TriggerManual)
	assert.NoError(t, err)
}

func TestConfigure_Validation(t *testing.T) {
	o := newOrchestrator(t, &fakeDetector{}, &fakeIngestor{}, &fakeSettler{})

	tests := []struct {
		name   string
		mutate func(*pipeline.Config)
	}{
		{"zero pct", func(c *pipeline.Config) { c.MinCompletionPct = 0 }},
		{"pct above one", func(c *pipeline.Config) { c.MinCompletionPct = 1.5 }},
		{"zero lookback", func(c *pipeline.Config) { c.Lookback = 0 }},
		{"sub-second interval", func(c *pipeline.Config) { c.Interval = 100 * time.Millisecond }},
		{"no concurrency", func(c *pipeline.Config) { c.MaxConcurrentRounds = 0 }},
		{"run shorter than round", func(c *pipeline.Config) { c.RunTimeout = c.RoundTimeout / 2 }},
		{"unknown push policy", func(c *pipeline.Config) { c.PushPolicy = "double" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := pipeline.DefaultConfig()
			tt.mutate(&cfg)
			err := o.Configure(cfg)
			require.Error(t, err)
			assert.True(t, domain.IsCode(err, domain.CodeValidation))
		})
	}
	assert.Equal(t, pipeline.DefaultConfig(), o.Status().Config, "rejected configs are not applied")
}

func TestRunOnce_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	feed := testutil.NewFeed()
	claims := guard.NewRoundClaims()
	logger := testutil.Logger()

	testutil.SeedTournament(t, store, "R2026014")
	m1 := testutil.SeedMatchup(t, store, "R2026014", 2, "a", "b")
	m2 := testutil.SeedMatchup(t, store, "R2026014", 2, "c", "d")
	p, _ := testutil.SeedParlay(t, store, 20,
		testutil.Leg{Matchup: m1, PlayerID: "a", Odds: 100},
		testutil.Leg{Matchup: m2, PlayerID: "d", Odds: 100})
	feed.Set("R2026014", 2,
		testutil.Finished("a", -4, -6), testutil.Finished("b", -1, -3),
		testutil.Finished("c", 3, 1), testutil.Finished("d", 1, -1),
	)

	o, err := pipeline.NewOrchestrator(
		service.NewDetector(store, feed, logger),
		service.NewIngestionService(store, feed, claims, logger),
		settlement.NewEngine(store, claims, logger),
		pipeline.DefaultConfig(), logger)
	require.NoError(t, err)
	defer o.Close()

	report, err := o.RunOnce(ctx, pipeline.TriggerManual)
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 1, report.RoundsFound)
	assert.Equal(t, 1, report.RoundsProcessed)
	assert.Equal(t, 2, report.ResultsIngested)
	assert.Equal(t, 2, report.PicksSettled)
	assert.Equal(t, 1, report.ParlaysSettled)
	assert.Equal(t, 1, report.RoundsSettled)

	stored, err := store.Parlays().FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ParlaySettled, stored.Status)
	assert.Equal(t, domain.OutcomeWin, *stored.Outcome)
	assert.Equal(t, "80.00", stored.ActualPayout.StringFixed(2))

	// Nothing left to do on the next pass.
	report, err = o.RunOnce(ctx, pipeline.TriggerSchedule)
	require.NoError(t, err)
	assert.Zero(t, report.RoundsFound)
	assert.Zero(t, report.RoundsProcessed)
	assert.Zero(t, report.PicksSettled)
}

func TestRunOnce_RecordsReports(t *testing.T) {
	det := &fakeDetector{found: []domain.RoundKey{key(1)}}
	rec := &fakeRecorder{}
	o := newOrchestrator(t, det, &fakeIngestor{}, &fakeSettler{})
	o.SetRecorder(rec)

	report, err := o.RunOnce(context.Background(), pipeline.TriggerManual)
	require.NoError(t, err)
	require.Len(t, rec.reports, 1)
	assert.Equal(t, report.RunID, rec.reports[0].RunID)
	assert.False(t, rec.reports[0].FinishedAt.IsZero())

	det.err = domain.ErrPersistence("list tournaments", errors.New("down"))
	_, err = o.RunOnce(context.Background(), pipeline.TriggerManual)
	require.Error(t, err)
	assert.Len(t, rec.reports, 2, "aborted runs are recorded too")

	rec.err = errors.New("redis down")
	det.err = nil
	_, err = o.RunOnce(context.Background(), pipeline.TriggerManual)
	assert.NoError(t, err, "recorder failures do not fail the run")
}

func TestStop_DuringDetectionSkipsEveryRound(t *testing.T) {
	det := &fakeDetector{
		found:   []domain.RoundKey{key(1), key(2)},
		block:   make(chan struct{}),
		entered: make(chan struct{}),
	}
	ing := &fakeIngestor{}
	o := newOrchestrator(t, det, ing, &fakeSettler{})

	done := make(chan *domain.RunReport)
	go func() {
		report, err := o.RunOnce(context.Background(), pipeline.TriggerManual)
		assert.NoError(t, err)
		done <- report
	}()
	<-det.entered
	o.Stop()
	close(det.block)

	report := <-done
	assert.Zero(t, report.RoundsProcessed)
	assert.Equal(t, 2, report.RoundsSkipped)
	assert.Empty(t, ing.calls)

	// The stop applied to that run only.
	det.entered, det.block = nil, nil
	report, err := o.RunOnce(context.Background(), pipeline.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 2, report.RoundsProcessed)
	assert.Zero(t, report.RoundsSkipped)
}
