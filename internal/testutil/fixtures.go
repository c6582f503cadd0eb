// Package testutil seeds stores and fakes the live score feed for tests.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/teeline/settlement/internal/domain"
	"github.com/teeline/settlement/internal/repository"
)

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Feed is a LiveScoreGateway serving canned standings.
type Feed struct {
	mu        sync.Mutex
	standings map[domain.RoundKey][]domain.PlayerRoundStanding
	errs      map[string]error
	calls     map[domain.RoundKey]int
}

// NewFeed creates an empty feed. Unknown rounds return no rows.
func NewFeed() *Feed {
	return &Feed{
		standings: make(map[domain.RoundKey][]domain.PlayerRoundStanding),
		errs:      make(map[string]error),
		calls:     make(map[domain.RoundKey]int),
	}
}

// Set replaces the standings for a round.
func (f *Feed) Set(tournamentID string, roundNum int, rows ...domain.PlayerRoundStanding) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.standings[domain.RoundKey{TournamentID: tournamentID, RoundNum: roundNum}] = rows
}

// Fail makes every fetch for the tournament return err. A nil err clears it.
func (f *Feed) Fail(tournamentID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, tournamentID)
		return
	}
	f.errs[tournamentID] = err
}

// Calls returns how many times a round was fetched.
func (f *Feed) Calls(tournamentID string, roundNum int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[domain.RoundKey{TournamentID: tournamentID, RoundNum: roundNum}]
}

func (f *Feed) FetchRoundStandings(_ context.Context, tournamentID string, roundNum int) ([]domain.PlayerRoundStanding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := domain.RoundKey{TournamentID: tournamentID, RoundNum: roundNum}
	f.calls[key]++
	if err, ok := f.errs[tournamentID]; ok {
		return nil, domain.ErrTransientFeed(tournamentID, err)
	}
	rows := f.standings[key]
	return append([]domain.PlayerRoundStanding(nil), rows...), nil
}

// Finished is a standing for a player who completed the round.
func Finished(playerID string, today, total int) domain.PlayerRoundStanding {
	return domain.PlayerRoundStanding{
		PlayerID: playerID, Today: today, Total: total,
		Thru: domain.HolesPerRound, Status: domain.PlayerFinished, UpdatedAt: time.Now(),
	}
}

// OnCourse is a standing for a player still playing.
func OnCourse(playerID string, thru, today int) domain.PlayerRoundStanding {
	return domain.PlayerRoundStanding{
		PlayerID: playerID, Today: today, Total: today,
		Thru: thru, Status: domain.PlayerActive, UpdatedAt: time.Now(),
	}
}

// WithStatus overrides a standing's status.
func WithStatus(s domain.PlayerRoundStanding, status domain.PlayerStatus) domain.PlayerRoundStanding {
	s.Status = status
	return s
}

// SeedTournament inserts a four-round tournament that started yesterday.
func SeedTournament(t *testing.T, s repository.Store, id string) domain.Tournament {
	t.Helper()
	now := time.Now()
	tour := domain.Tournament{
		ID:         id,
		Name:       "Test Open " + id,
		StartDate:  now.Add(-24 * time.Hour),
		EndDate:    now.Add(48 * time.Hour),
		RoundCount: 4,
	}
	require.NoError(t, s.Tournaments().Upsert(context.Background(), &tour))
	return tour
}

// SeedMatchup inserts a matchup with even-money odds for every player.
func SeedMatchup(t *testing.T, s repository.Store, tournamentID string, roundNum int, players ...string) domain.Matchup {
	t.Helper()
	m := domain.Matchup{
		TournamentID: tournamentID,
		RoundNum:     roundNum,
		Type:         domain.Matchup2Ball,
	}
	if len(players) == 3 {
		m.Type = domain.Matchup3Ball
	}
	for _, p := range players {
		m.Players = append(m.Players, domain.MatchupPlayer{PlayerID: p, Odds: 100})
	}
	require.NoError(t, s.Matchups().Create(context.Background(), &m))
	return m
}

// Leg selects a player in a matchup at the given American odds.
type Leg struct {
	Matchup  domain.Matchup
	PlayerID string
	Odds     int
}

// SeedParlay inserts a parlay with one pick per leg.
func SeedParlay(t *testing.T, s repository.Store, stake int64, legs ...Leg) (domain.Parlay, []domain.ParlayPick) {
	t.Helper()
	ctx := context.Background()
	p := domain.Parlay{
		UserID: "user-" + uuid.NewString()[:8],
		Stake:  decimal.NewFromInt(stake),
	}
	require.NoError(t, s.Parlays().Create(ctx, &p))

	picks := make([]domain.ParlayPick, 0, len(legs))
	for i, l := range legs {
		pick := domain.ParlayPick{
			ParlayID:         p.ID,
			MatchupID:        l.Matchup.ID,
			SelectedPlayerID: l.PlayerID,
			Odds:             l.Odds,
			LegIndex:         i,
		}
		require.NoError(t, s.Picks().Create(ctx, &pick))
		picks = append(picks, pick)
	}
	return p, picks
}

// SeedResult inserts a graded result for a matchup. An empty winner is a push.
func SeedResult(t *testing.T, s repository.Store, m domain.Matchup, winner string) domain.MatchupResult {
	t.Helper()
	res := &domain.MatchupResult{
		MatchupID:          m.ID,
		EventID:            m.TournamentID,
		RoundNum:           m.RoundNum,
		IsPush:             winner == "",
		ResultDeterminedAt: time.Now(),
	}
	if winner != "" {
		res.WinnerID = &winner
	}
	saved, err := s.Results().Upsert(context.Background(), res)
	require.NoError(t, err)
	return *saved
}

// CompleteRound moves a round to completed with every result in.
func CompleteRound(t *testing.T, s repository.Store, key domain.RoundKey) {
	t.Helper()
	ctx := context.Background()
	_, err := s.Rounds().MarkCompleted(ctx, key, 1, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Rounds().SetResultsComplete(ctx, key, true))
}
