// Package pipeline runs round detection, result ingestion and settlement on a schedule.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/teeline/settlement/internal/domain"
	"github.com/teeline/settlement/internal/policy"
	"golang.org/x/sync/errgroup"
)

// Triggers recorded on run reports.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Detector finds rounds ready for ingestion and settlement.
type Detector interface {
	FindRecentlyCompletedRounds(ctx context.Context, lookback time.Duration, minPct float64) ([]domain.RoundKey, []domain.EntityError, error)
	PendingSettlement(ctx context.Context) ([]domain.RoundKey, error)
}

// Ingestor writes matchup results for a round.
type Ingestor interface {
	IngestRoundResults(ctx context.Context, key domain.RoundKey, force bool) (*domain.IngestReport, error)
}

// Settler grades picks and parlays for a round.
type Settler interface {
	SettleParlaysForRound(ctx context.Context, key domain.RoundKey, pushPolicy policy.PushPolicy) (*domain.SettleReport, error)
}

// RunRecorder keeps finished run reports.
type RunRecorder interface {
	RecordRun(ctx context.Context, report *domain.RunReport) error
}

// Status is a snapshot of the orchestrator.
type Status struct {
	IsRunning   bool              `json:"is_running"`
	IsEnabled   bool              `json:"is_enabled"`
	Disposed    bool              `json:"disposed"`
	LastRunTime *time.Time        `json:"last_run_time"`
	NextRunTime *time.Time        `json:"next_run_time"`
	Config      Config            `json:"config"`
	LastReport  *domain.RunReport `json:"last_report,omitempty"`
}

// Orchestrator owns the pipeline lifecycle. At most one run is active at a time.
type Orchestrator struct {
	detector Detector
	ingestor Ingestor
	settler  Settler
	recorder RunRecorder
	logger   *slog.Logger

	mu         sync.Mutex
	cfg        Config
	cron       *cron.Cron
	entryID    cron.EntryID
	enabled    bool
	disposed   bool
	lastRun    *time.Time
	lastReport *domain.RunReport
	// runStop is closed by Stop while a run is active.
	runStop chan struct{}

	running atomic.Bool
}

// NewOrchestrator creates a stopped orchestrator with cfg.
func NewOrchestrator(detector Detector, ingestor Ingestor, settler Settler, cfg Config, logger *slog.Logger) (*Orchestrator, error) {
	cfg = normalize(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	o := &Orchestrator{
		detector: detector,
		ingestor: ingestor,
		settler:  settler,
		logger:   logger,
		cfg:      cfg,
		cron:     cron.New(),
	}
	o.cron.Start()
	return o, nil
}

// SetRecorder makes every finished or aborted run report go to r.
func (o *Orchestrator) SetRecorder(r RunRecorder) {
	o.mu.Lock()
	o.recorder = r
	o.mu.Unlock()
}

func normalize(cfg Config) Config {
	if cfg.PushPolicy == "" {
		cfg.PushPolicy = policy.DefaultPushPolicy()
	}
	return cfg
}

// Start schedules recurring runs every configured interval.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.disposed {
		return domain.ErrValidation("pipeline is disposed")
	}
	if o.enabled {
		return nil
	}
	if err := o.schedule(); err != nil {
		return err
	}
	o.enabled = true
	o.logger.Info("pipeline schedule started", "interval", o.cfg.Interval.String())
	return nil
}

// schedule adds the cron entry. Callers hold o.mu.
func (o *Orchestrator) schedule() error {
	id, err := o.cron.AddFunc(fmt.Sprintf("@every %s", o.cfg.Interval), o.tick)
	if err != nil {
		return domain.ErrInternal("schedule pipeline", err)
	}
	o.entryID = id
	return nil
}

// Stop removes the schedule. A run in flight finishes the rounds it has started and
// skips the rest.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
}

func (o *Orchestrator) stopLocked() {
	if o.runStop != nil {
		close(o.runStop)
		o.runStop = nil
	}
	if !o.enabled {
		return
	}
	o.cron.Remove(o.entryID)
	o.enabled = false
	o.logger.Info("pipeline schedule stopped")
}

// Configure validates and replaces the tunables. A run in flight keeps the values
// it started with. A changed interval reschedules the next tick.
func (o *Orchestrator) Configure(cfg Config) error {
	cfg = normalize(cfg)
	if err := cfg.Validate(); err != nil {
		return domain.ErrValidation(err.Error())
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disposed {
		return domain.ErrValidation("pipeline is disposed")
	}

	reschedule := o.enabled && cfg.Interval != o.cfg.Interval
	o.cfg = cfg
	if reschedule {
		o.cron.Remove(o.entryID)
		if err := o.schedule(); err != nil {
			o.enabled = false
			return err
		}
	}
	o.logger.Info("pipeline configured",
		"min_completion_pct", cfg.MinCompletionPct, "lookback", cfg.Lookback.String(),
		"interval", cfg.Interval.String(), "push_policy", cfg.PushPolicy)
	return nil
}

// Config returns the current tunables.
func (o *Orchestrator) Config() Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Status returns a snapshot of the orchestrator.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		IsRunning:   o.running.Load(),
		IsEnabled:   o.enabled,
		Disposed:    o.disposed,
		LastRunTime: o.lastRun,
		Config:      o.cfg,
		LastReport:  o.lastReport,
	}
	if o.enabled {
		if next := o.cron.Entry(o.entryID).Next; !next.IsZero() {
			st.NextRunTime = &next
		}
	}
	return st
}

// Reset stops the schedule and drops run history and configuration, leaving a fresh
// orchestrator. A disposed orchestrator becomes usable again.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stopLocked()
	if o.disposed {
		o.cron = cron.New()
		o.cron.Start()
		o.disposed = false
	}
	o.cfg = DefaultConfig()
	o.lastRun = nil
	o.lastReport = nil
	o.logger.Info("pipeline reset")
}

// Close stops the schedule and waits for a scheduled run in flight to finish.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return
	}
	o.stopLocked()
	o.disposed = true
	c := o.cron
	o.mu.Unlock()

	<-c.Stop().Done()
	o.logger.Info("pipeline closed")
}

func (o *Orchestrator) tick() {
	report, err := o.RunOnce(context.Background(), TriggerSchedule)
	if err != nil {
		if domain.IsCode(err, domain.CodeConflict) {
			o.logger.Debug("scheduled run skipped, previous run still active")
			return
		}
		o.logger.Error("scheduled pipeline run failed", "error", err)
		return
	}
	if len(report.Errors) > 0 {
		o.logger.Warn("scheduled pipeline run finished with errors", "run_id", report.RunID, "errors", len(report.Errors))
	}
}

// RunOnce performs one pass: detect newly completed rounds, then ingest and settle
// them together with every completed round still awaiting settlement. It fails with
// a conflict if another run is active. Per-round failures are collected in the report.
func (o *Orchestrator) RunOnce(ctx context.Context, trigger string) (*domain.RunReport, error) {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return nil, domain.ErrValidation("pipeline is disposed")
	}
	if !o.running.CompareAndSwap(false, true) {
		o.mu.Unlock()
		return nil, domain.ErrConflict("a pipeline run is already in progress")
	}
	cfg := o.cfg
	stop := make(chan struct{})
	o.runStop = stop
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if o.runStop == stop {
			o.runStop = nil
		}
		o.mu.Unlock()
		o.running.Store(false)
	}()

	report := &domain.RunReport{
		RunID:     uuid.New(),
		Trigger:   trigger,
		StartedAt: time.Now(),
		Errors:    []domain.EntityError{},
	}
	log := o.logger.With("run_id", report.RunID, "trigger", trigger)
	log.Info("pipeline run started")

	runCtx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	found, detectErrs, err := o.detector.FindRecentlyCompletedRounds(runCtx, cfg.Lookback, cfg.MinCompletionPct)
	if err != nil {
		return o.abort(report, log, err)
	}
	report.RoundsFound = len(found)
	report.Errors = append(report.Errors, detectErrs...)

	pending, err := o.detector.PendingSettlement(runCtx)
	if err != nil {
		return o.abort(report, log, err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(cfg.MaxConcurrentRounds)
	for _, key := range mergeRounds(found, pending) {
		key := key
		g.Go(func() error {
			if stopped(stop) || runCtx.Err() != nil {
				mu.Lock()
				report.RoundsSkipped++
				mu.Unlock()
				return nil
			}
			rr := o.processRound(runCtx, key, cfg)
			mu.Lock()
			rr.mergeInto(report)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	o.finish(report, log)

	log.Info("pipeline run finished",
		"rounds_found", report.RoundsFound, "rounds_processed", report.RoundsProcessed,
		"rounds_skipped", report.RoundsSkipped, "results_ingested", report.ResultsIngested,
		"picks_settled", report.PicksSettled, "parlays_settled", report.ParlaysSettled,
		"errors", len(report.Errors), "duration", report.FinishedAt.Sub(report.StartedAt).String())
	return report, nil
}

func (o *Orchestrator) abort(report *domain.RunReport, log *slog.Logger, err error) (*domain.RunReport, error) {
	o.finish(report, log)
	log.Error("pipeline run aborted", "error", err)
	return report, err
}

// recordTimeout bounds the write to the run recorder.
const recordTimeout = 5 * time.Second

func (o *Orchestrator) finish(report *domain.RunReport, log *slog.Logger) {
	report.FinishedAt = time.Now()
	o.mu.Lock()
	finished := report.FinishedAt
	o.lastRun = &finished
	o.lastReport = report
	recorder := o.recorder
	o.mu.Unlock()

	if recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := recorder.RecordRun(ctx, report); err != nil {
		log.Warn("failed to record run report", "error", err)
	}
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// roundResult is the outcome of processing one round.
type roundResult struct {
	processed bool
	ingest    *domain.IngestReport
	settle    *domain.SettleReport
	errs      []domain.EntityError
}

func (rr roundResult) mergeInto(report *domain.RunReport) {
	if rr.processed {
		report.RoundsProcessed++
	}
	if rr.ingest != nil {
		report.ResultsIngested += rr.ingest.SavedCount
		report.Errors = append(report.Errors, rr.ingest.Errors...)
	}
	if rr.settle != nil {
		report.PicksSettled += rr.settle.PicksSettled
		report.ParlaysSettled += rr.settle.ParlaysSettled
		if rr.settle.RoundSettled {
			report.RoundsSettled++
		}
		report.Errors = append(report.Errors, rr.settle.Errors...)
	}
	report.Errors = append(report.Errors, rr.errs...)
}

// processRound ingests and then settles one round under its own deadline. Settlement
// is not attempted when ingestion fails.
func (o *Orchestrator) processRound(ctx context.Context, key domain.RoundKey, cfg Config) roundResult {
	ctx, cancel := context.WithTimeout(ctx, cfg.RoundTimeout)
	defer cancel()

	var rr roundResult
	ing, err := o.ingestor.IngestRoundResults(ctx, key, false)
	if err != nil {
		o.logger.Warn("round ingestion failed", "tournament_id", key.TournamentID, "round", key.RoundNum, "error", err)
		rr.errs = append(rr.errs, domain.NewEntityError(key, err))
		return rr
	}
	rr.ingest = ing

	st, err := o.settler.SettleParlaysForRound(ctx, key, cfg.PushPolicy)
	if err != nil {
		o.logger.Warn("round settlement failed", "tournament_id", key.TournamentID, "round", key.RoundNum, "error", err)
		rr.errs = append(rr.errs, domain.NewEntityError(key, err))
		return rr
	}
	rr.settle = st
	rr.processed = true
	return rr
}

// mergeRounds returns the union of both lists, keeping first-seen order.
func mergeRounds(lists ...[]domain.RoundKey) []domain.RoundKey {
	seen := make(map[domain.RoundKey]bool)
	var out []domain.RoundKey
	for _, l := range lists {
		for _, k := range l {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}
