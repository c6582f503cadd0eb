// Package memory is an in-process Store used by tests and by STORE_DRIVER=memory.
// Transactions are serialized and roll back by restoring a snapshot. Writes made
// outside a transaction wait for the open one.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teeline/settlement/internal/domain"
	"github.com/teeline/settlement/internal/repository"
)

type data struct {
	mu          sync.Mutex
	txMu        sync.Mutex
	tournaments map[string]domain.Tournament
	rounds      map[domain.RoundKey]domain.Round
	matchups    map[uuid.UUID]domain.Matchup
	results     map[uuid.UUID]domain.MatchupResult
	parlays     map[uuid.UUID]domain.Parlay
	picks       map[uuid.UUID]domain.ParlayPick
	reversals   []domain.SettlementReversal
	outbox      []domain.OutboxRecord
	outboxSeq   int64

	// failures injects errors by operation name, for tests.
	failures map[string]error
}

func (d *data) snapshot() *data {
	cp := &data{
		tournaments: make(map[string]domain.Tournament, len(d.tournaments)),
		rounds:      make(map[domain.RoundKey]domain.Round, len(d.rounds)),
		matchups:    make(map[uuid.UUID]domain.Matchup, len(d.matchups)),
		results:     make(map[uuid.UUID]domain.MatchupResult, len(d.results)),
		parlays:     make(map[uuid.UUID]domain.Parlay, len(d.parlays)),
		picks:       make(map[uuid.UUID]domain.ParlayPick, len(d.picks)),
		reversals:   append([]domain.SettlementReversal(nil), d.reversals...),
		outbox:      append([]domain.OutboxRecord(nil), d.outbox...),
		outboxSeq:   d.outboxSeq,
	}
	for k, v := range d.tournaments {
		cp.tournaments[k] = v
	}
	for k, v := range d.rounds {
		cp.rounds[k] = v
	}
	for k, v := range d.matchups {
		cp.matchups[k] = v
	}
	for k, v := range d.results {
		cp.results[k] = v
	}
	for k, v := range d.parlays {
		cp.parlays[k] = v
	}
	for k, v := range d.picks {
		cp.picks[k] = v
	}
	return cp
}

func (d *data) restore(s *data) {
	d.tournaments = s.tournaments
	d.rounds = s.rounds
	d.matchups = s.matchups
	d.results = s.results
	d.parlays = s.parlays
	d.picks = s.picks
	d.reversals = s.reversals
	d.outbox = s.outbox
	d.outboxSeq = s.outboxSeq
}

// fail returns the injected error for op, if any. Callers hold d.mu.
func (d *data) fail(op string) error {
	if err, ok := d.failures[op]; ok {
		return domain.ErrPersistence(op, err)
	}
	return nil
}

// Store is an in-memory repository.Store.
type Store struct {
	d    *data
	inTx bool
	now  func() time.Time
}

var _ repository.Store = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		d: &data{
			tournaments: make(map[string]domain.Tournament),
			rounds:      make(map[domain.RoundKey]domain.Round),
			matchups:    make(map[uuid.UUID]domain.Matchup),
			results:     make(map[uuid.UUID]domain.MatchupResult),
			parlays:     make(map[uuid.UUID]domain.Parlay),
			picks:       make(map[uuid.UUID]domain.ParlayPick),
			failures:    make(map[string]error),
		},
		now: time.Now,
	}
}

// FailOn makes every call to op fail with err until cleared with a nil err.
// Op names match the persistence error messages, e.g. "upsert matchup result".
func (s *Store) FailOn(op string, err error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if err == nil {
		delete(s.d.failures, op)
		return
	}
	s.d.failures[op] = err
}

func (s *Store) Tournaments() repository.TournamentRepository { return &tournaments{s} }
func (s *Store) Rounds() repository.RoundRepository           { return &rounds{s} }
func (s *Store) Matchups() repository.MatchupRepository       { return &matchups{s} }
func (s *Store) Results() repository.ResultRepository         { return &results{s} }
func (s *Store) Parlays() repository.ParlayRepository         { return &parlays{s} }
func (s *Store) Picks() repository.PickRepository             { return &picks{s} }
func (s *Store) Reversals() repository.ReversalRepository     { return &reversals{s} }
func (s *Store) Outbox() repository.OutboxRepository          { return &outbox{s} }

// WithTx serializes transactions and restores the snapshot when fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return domain.ErrPersistence("begin tx", err)
	}

	s.d.txMu.Lock()
	defer s.d.txMu.Unlock()

	s.d.mu.Lock()
	snap := s.d.snapshot()
	s.d.mu.Unlock()

	if err := fn(&Store{d: s.d, inTx: true, now: s.now}); err != nil {
		s.d.mu.Lock()
		s.d.restore(snap)
		s.d.mu.Unlock()
		return err
	}
	return nil
}

// write locks the store for a mutation. Outside a transaction the mutation runs as
// its own transaction, so it waits for an open one and a rollback cannot discard it.
func (s *Store) write() func() {
	if !s.inTx {
		s.d.txMu.Lock()
	}
	s.d.mu.Lock()
	return func() {
		s.d.mu.Unlock()
		if !s.inTx {
			s.d.txMu.Unlock()
		}
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

type tournaments struct{ s *Store }

func (r *tournaments) ListActive(_ context.Context, now time.Time, lookback time.Duration) ([]domain.Tournament, error) {
	d := r.s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("list active tournaments"); err != nil {
		return nil, err
	}

	cutoff := now.Add(-lookback)
	var out []domain.Tournament
	for _, t := range d.tournaments {
		if !t.StartDate.After(now) && !t.EndDate.Before(cutoff) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartDate.Before(out[j].StartDate)
	})
	return out, nil
}

func (r *tournaments) FindByID(_ context.Context, id string) (*domain.Tournament, error) {
	d := r.s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tournaments[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *tournaments) Upsert(_ context.Context, t *domain.Tournament) error {
	d := r.s.d
	defer r.s.write()()
	if existing, ok := d.tournaments[t.ID]; ok {
		t.CreatedAt = existing.CreatedAt
	} else if t.CreatedAt.IsZero() {
		t.CreatedAt = r.s.now()
	}
	t.RoundCount = t.FinalRound()
	d.tournaments[t.ID] = *t
	return nil
}

type rounds struct{ s *Store }

func (r *rounds) Find(_ context.Context, key domain.RoundKey) (*domain.Round, error) {
	d := r.s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("find round"); err != nil {
		return nil, err
	}
	rd, ok := d.rounds[key]
	if !ok {
		return nil, nil
	}
	return &rd, nil
}

func (r *rounds) ListByState(_ context.Context, state domain.RoundState) ([]domain.Round, error) {
	d := r.s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("list rounds"); err != nil {
		return nil, err
	}
	var out []domain.Round
	for _, rd := range d.rounds {
		if rd.State == state {
			out = append(out, rd)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Key().String() < out[j].Key().String()
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *rounds) MarkCompleted(_ context.Context, key domain.RoundKey, pct float64, at time.Time) (bool, error) {
	d := r.s.d
	defer r.s.write()()
	if err := d.fail("mark round completed"); err != nil {
		return false, err
	}
	rd, ok := d.rounds[key]
	if ok && rd.State != domain.RoundInProgress {
		return false, nil
	}
	completedAt := at
	d.rounds[key] = domain.Round{
		TournamentID:  key.TournamentID,
		RoundNum:      key.RoundNum,
		State:         domain.RoundCompleted,
		CompletionPct: pct,
		CompletedAt:   &completedAt,
		UpdatedAt:     at,
	}
	return true, nil
}

func (r *rounds) SetResultsComplete(_ context.Context, key domain.RoundKey, complete bool) error {
	d := r.s.d
	defer r.s.write()()
	if err := d.fail("set results complete"); err != nil {
		return err
	}
	rd, ok := d.rounds[key]
	if !ok || rd.State != domain.RoundCompleted {
		return nil
	}
	rd.ResultsComplete = complete
	rd.UpdatedAt = r.s.now()
	d.rounds[key] = rd
	return nil
}

func (r *rounds) MarkSettled(_ context.Context, key domain.RoundKey, at time.Time) (bool, error) {
	d := r.s.d
	defer r.s.write()()
	if err := d.fail("mark round settled"); err != nil {
		return false, err
	}
	rd, ok := d.rounds[key]
	if !ok || rd.State != domain.RoundCompleted || !rd.ResultsComplete {
		return false, nil
	}
	settledAt := at
	rd.State = domain.RoundSettled
	rd.SettledAt = &settledAt
	rd.UpdatedAt = at
	d.rounds[key] = rd
	return true, nil
}

func (r *rounds) Reopen(_ context.Context, key domain.RoundKey) (bool, error) {
	d := r.s.d
	defer r.s.write()()
	if err := d.fail("reopen round"); err != nil {
		return false, err
	}
	rd, ok := d.rounds[key]
	if !ok || rd.State != domain.RoundSettled {
		return false, nil
	}
	rd.State = domain.RoundCompleted
	rd.SettledAt = nil
	rd.UpdatedAt = r.s.now()
	d.rounds[key] = rd
	return true, nil
}

type matchups struct{ s *Store }

func (r *matchups) FindByID(_ context.Context, id uuid.UUID) (*domain.Matchup, error) {
	d := r.s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("find matchup"); err != nil {
		return nil, err
	}
	m, ok := d.matchups[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *matchups) ListByRound(_ context.Context, key domain.RoundKey) ([]domain.Matchup, error) {
	d := r.s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("list matchups"); err != nil {
		return nil, err
	}
	var out []domain.Matchup
	for _, m := range d.matchups {
		if m.TournamentID == key.TournamentID && m.RoundNum == key.RoundNum {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *matchups) RoundNumbers(_ context.Context, tournamentID string) ([]int, error) {
	d := r.s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[int]bool)
	var out []int
	for _, m := range d.matchups {
		if m.TournamentID == tournamentID && !seen[m.RoundNum] {
			seen[m.RoundNum] = true
			out = append(out, m.RoundNum)
		}
	}
	sort.Ints(out)
	return out, nil
}

func (r *matchups) Create(_ context.Context, m *domain.Matchup) error {
	d := r.s.d
	defer r.s.write()()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.s.now()
	}
	d.matchups[m.ID] = *m
	return nil
}

type results struct{ s *Store }

func (r *results) FindByKey(_ context.Context, key domain.ResultKey) (*domain.MatchupResult, error) {
	d := r.s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("find matchup result"); err != nil {
		return nil, err
	}
	for _, res := range d.results {
		if res.Key() == key {
			return &res, nil
		}
	}
	return nil, nil
}

func (r *results) FindByID(_ context.Context, id uuid.UUID) (*domain.MatchupResult, error) {
	d := r.s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	res, ok := d.results[id]
	if !ok {
		return nil, nil
	}
	return &res, nil
}

func (r *results) ListByRound(ctx context.Context, key domain.RoundKey) ([]domain.MatchupResult, error) {
	round := key.RoundNum
	return r.List(ctx, domain.ResultFilter{TournamentID: key.TournamentID, RoundNum: &round})
}

func (r *results) List(_ context.Context, filter domain.ResultFilter) ([]domain.MatchupResult, error) {
	d := r.s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("list matchup results"); err != nil {
		return nil, err
	}
	var out []domain.MatchupResult
	for _, res := range d.results {
		if filter.TournamentID != "" && res.EventID != filter.TournamentID {
			continue
		}
		if filter.RoundNum != nil && res.RoundNum != *filter.RoundNum {
			continue
		}
		if filter.MatchupID != nil && res.MatchupID != *filter.MatchupID {
			continue
		}
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.EventID != b.EventID {
			return a.EventID < b.EventID
		}
		if a.RoundNum != b.RoundNum {
			return a.RoundNum < b.RoundNum
		}
		return a.ID.String() < b.ID.String()
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *results) Upsert(_ context.Context, res *domain.MatchupResult) (*domain.MatchupResult, error) {
	d := r.s.d
	defer r.s.write()()
	if err := d.fail("upsert matchup result"); err != nil {
		return nil, err
	}

	now := r.s.now()
	saved := *res
	saved.Players = append([]domain.PlayerResult(nil), res.Players...)
	for _, existing := range d.results {
		if existing.Key() == res.Key() {
			saved.ID = existing.ID
			saved.CreatedAt = existing.CreatedAt
			saved.UpdatedAt = now
			d.results[saved.ID] = saved
			return &saved, nil
		}
	}

	if saved.ID == uuid.Nil {
		saved.ID = uuid.New()
	}
	saved.CreatedAt = now
	saved.UpdatedAt = now
	d.results[saved.ID] = saved
	return &saved, nil
}

func (r *results) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	d := r.s.d
	defer r.s.write()()
	if _, ok := d.results[id]; !ok {
		return false, nil
	}
	delete(d.results, id)
	return true, nil
}

type parlays struct{ s *Store }

func (r *parlays) FindByID(_ context.Context, id uuid.UUID) (*domain.Parlay, error) {
	d := r.s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("find parlay"); err != nil {
		return nil, err
	}
	p, ok := d.parlays[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// LockForUpdate is a plain read; transactions are already serialized.
func (r *parlays) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Parlay, error) {
	return r.FindByID(ctx, id)
}

func (r *parlays) SaveSettlement(_ context.Context, p *domain.Parlay) (bool, error) {
	d := r.s.d
	defer r.s.write()()
	if err := d.fail("save parlay settlement"); err != nil {
		return false, err
	}
	stored, ok := d.parlays[p.ID]
	if !ok || stored.Version != p.Version {
		return false, nil
	}
	stored.Status = p.Status
	stored.Outcome = p.Outcome
	stored.SettledAt = p.SettledAt
	stored.ActualPayout = p.ActualPayout
	stored.Version++
	stored.UpdatedAt = r.s.now()
	d.parlays[p.ID] = stored
	p.Version = stored.Version
	return true, nil
}

func (r *parlays) Create(_ context.Context, p *domain.Parlay) error {
	d := r.s.d
	defer r.s.write()()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = domain.ParlayPending
	}
	if p.Version == 0 {
		p.Version = 1
	}
	now := r.s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	d.parlays[p.ID] = *p
	return nil
}

type picks struct{ s *Store }

func (r *picks) ListOpenByMatchup(_ context.Context, matchupID uuid.UUID) ([]domain.ParlayPick, error) {
	d := r.s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("list open picks"); err != nil {
		return nil, err
	}
	var out []domain.ParlayPick
	for _, p := range d.picks {
		if p.MatchupID == matchupID && p.Open() {
			out = append(out, p)
		}
	}
	sortPicks(out)
	return out, nil
}

func (r *picks) ListByParlay(_ context.Context, parlayID uuid.UUID) ([]domain.ParlayPick, error) {
	d := r.s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("list parlay picks"); err != nil {
		return nil, err
	}
	var out []domain.ParlayPick
	for _, p := range d.picks {
		if p.ParlayID == parlayID {
			out = append(out, p)
		}
	}
	sortPicks(out)
	return out, nil
}

func (r *picks) Settle(_ context.Context, pickID uuid.UUID, outcome domain.Outcome, notes string, at time.Time) (bool, error) {
	d := r.s.d
	defer r.s.write()()
	if err := d.fail("settle pick"); err != nil {
		return false, err
	}
	p, ok := d.picks[pickID]
	if !ok || !p.Open() {
		return false, nil
	}
	settledAt := at
	p.SettlementStatus = domain.PickSettled
	p.Outcome = domain.OutcomePtr(outcome)
	p.SettledAt = &settledAt
	p.Notes = notes
	d.picks[pickID] = p
	return true, nil
}

func (r *picks) MarkPending(_ context.Context, matchupIDs []uuid.UUID, notes string) (int, error) {
	d := r.s.d
	defer r.s.write()()
	if err := d.fail("mark picks pending"); err != nil {
		return 0, err
	}
	ids := make(map[uuid.UUID]bool, len(matchupIDs))
	for _, id := range matchupIDs {
		ids[id] = true
	}
	n := 0
	for id, p := range d.picks {
		if ids[p.MatchupID] && p.SettlementStatus == domain.PickUnsettled {
			p.SettlementStatus = domain.PickPending
			p.Notes = notes
			d.picks[id] = p
			n++
		}
	}
	return n, nil
}

func (r *picks) ResetByParlay(_ context.Context, parlayID uuid.UUID) (int, error) {
	d := r.s.d
	defer r.s.write()()
	if err := d.fail("reset parlay picks"); err != nil {
		return 0, err
	}
	n := 0
	for id, p := range d.picks {
		if p.ParlayID != parlayID {
			continue
		}
		p.SettlementStatus = domain.PickUnsettled
		p.Outcome = nil
		p.SettledAt = nil
		p.Notes = ""
		d.picks[id] = p
		n++
	}
	return n, nil
}

func (r *picks) CountOpenByRound(_ context.Context, key domain.RoundKey) (int, error) {
	d := r.s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("count open picks"); err != nil {
		return 0, err
	}
	n := 0
	for _, p := range d.picks {
		m, ok := d.matchups[p.MatchupID]
		if ok && m.RoundKey() == key && p.SettlementStatus != domain.PickSettled {
			n++
		}
	}
	return n, nil
}

func (r *picks) Create(_ context.Context, pick *domain.ParlayPick) error {
	d := r.s.d
	defer r.s.write()()
	if pick.ID == uuid.Nil {
		pick.ID = uuid.New()
	}
	if pick.SettlementStatus == "" {
		pick.SettlementStatus = domain.PickUnsettled
	}
	d.picks[pick.ID] = *pick
	return nil
}

func sortPicks(out []domain.ParlayPick) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].ParlayID != out[j].ParlayID {
			return out[i].ParlayID.String() < out[j].ParlayID.String()
		}
		return out[i].LegIndex < out[j].LegIndex
	})
}

type reversals struct{ s *Store }

func (r *reversals) Insert(_ context.Context, rev *domain.SettlementReversal) error {
	d := r.s.d
	defer r.s.write()()
	if err := d.fail("insert settlement reversal"); err != nil {
		return err
	}
	if rev.ID == uuid.Nil {
		rev.ID = uuid.New()
	}
	d.reversals = append(d.reversals, *rev)
	return nil
}

func (r *reversals) ListByParlay(_ context.Context, parlayID uuid.UUID) ([]domain.SettlementReversal, error) {
	d := r.s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []domain.SettlementReversal
	for i := len(d.reversals) - 1; i >= 0; i-- {
		if d.reversals[i].ParlayID == parlayID {
			out = append(out, d.reversals[i])
		}
	}
	return out, nil
}

type outbox struct{ s *Store }

func (r *outbox) Insert(_ context.Context, draft domain.OutboxDraft) error {
	d := r.s.d
	defer r.s.write()()
	if err := d.fail("insert outbox event"); err != nil {
		return err
	}
	d.outboxSeq++
	d.outbox = append(d.outbox, domain.OutboxRecord{SeqID: d.outboxSeq, OutboxDraft: draft})
	return nil
}

func (r *outbox) FetchUnpublished(_ context.Context, limit int) ([]domain.OutboxRecord, error) {
	d := r.s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.OutboxRecord, 0, limit)
	for _, rec := range d.outbox {
		if len(out) == limit {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

// MarkPublished drops published events.
func (r *outbox) MarkPublished(_ context.Context, ids []int64) error {
	d := r.s.d
	defer r.s.write()()
	done := make(map[int64]bool, len(ids))
	for _, id := range ids {
		done[id] = true
	}
	kept := d.outbox[:0]
	for _, rec := range d.outbox {
		if !done[rec.SeqID] {
			kept = append(kept, rec)
		}
	}
	d.outbox = kept
	return nil
}
