package provider

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teeline/settlement/internal/domain"
	"github.com/teeline/settlement/internal/guard"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(url string, breaker *guard.CircuitBreaker) *LiveScoreClient {
	return NewLiveScoreClient(LiveScoreConfig{
		BaseURL:       url,
		APIKey:        "k",
		RatePerSecond: 1000,
		Burst:         100,
		MaxRetries:    2,
		RetryWait:     time.Millisecond,
	}, breaker, testLogger())
}

const roundPayload = `{
  "event_id": "R2026014",
  "round": 2,
  "updated_at": "2026-04-10T22:15:00Z",
  "players": [
    {"player_id": "scheffler", "player_name": "Scottie Scheffler", "position": "1", "today": -5, "total": "-9", "thru": "F", "status": "active"},
    {"dg_id": 10091, "player_name": "Rory McIlroy", "position": "T2", "today": "E", "total": "-4", "thru": 14},
    {"player_id": "koepka", "player_name": "Brooks Koepka", "today": "+3", "total": "+7", "thru": "9", "status": "wd"},
    {"player_name": "Unknown Amateur", "today": 1, "thru": 3}
  ]
}`

func TestFetchRoundStandings_ParsesFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/live/R2026014/rounds/2", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		io.WriteString(w, roundPayload)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, guard.NewCircuitBreaker(3, time.Minute, testLogger()))
	standings, err := client.FetchRoundStandings(context.Background(), "R2026014", 2)
	require.NoError(t, err)
	require.Len(t, standings, 3, "row without an id is dropped")

	assert.Equal(t, "scheffler", standings[0].PlayerID)
	assert.Equal(t, -5, standings[0].Today)
	assert.Equal(t, -9, standings[0].Total)
	assert.Equal(t, 18, standings[0].Thru)
	assert.Equal(t, domain.PlayerFinished, standings[0].Status)
	assert.False(t, standings[0].UpdatedAt.IsZero())

	assert.Equal(t, "10091", standings[1].PlayerID)
	assert.Equal(t, 0, standings[1].Today)
	assert.Equal(t, 14, standings[1].Thru)
	assert.Equal(t, domain.PlayerActive, standings[1].Status)

	assert.Equal(t, domain.PlayerWD, standings[2].Status)
	assert.Equal(t, 3, standings[2].Today)
	assert.True(t, standings[2].Done())
}

func TestFetchRoundStandings_NotFoundIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	standings, err := newTestClient(srv.URL, guard.NewCircuitBreaker(3, time.Minute, testLogger())).
		FetchRoundStandings(context.Background(), "R2026014", 3)
	require.NoError(t, err)
	assert.Empty(t, standings)
}

func TestFetchRoundStandings_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, roundPayload)
	}))
	defer srv.Close()

	standings, err := newTestClient(srv.URL, guard.NewCircuitBreaker(3, time.Minute, testLogger())).
		FetchRoundStandings(context.Background(), "R2026014", 2)
	require.NoError(t, err)
	assert.Len(t, standings, 3)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchRoundStandings_TransientErrorOpensCircuit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	breaker := guard.NewCircuitBreaker(1, time.Minute, testLogger())
	client := newTestClient(srv.URL, breaker)

	_, err := client.FetchRoundStandings(context.Background(), "R2026014", 2)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeFeedUnavailable))
	assert.Contains(t, err.Error(), "R2026014")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	_, err = client.FetchRoundStandings(context.Background(), "R2026014", 2)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeFeedUnavailable))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "open circuit skips the request")
	assert.ErrorIs(t, err, guard.ErrCircuitOpen)
	assert.Equal(t, guard.CircuitOpen, breaker.State("feed:R2026014"))

	_, err = client.FetchRoundStandings(context.Background(), "R2026020", 2)
	require.Error(t, err)
	assert.NotErrorIs(t, err, guard.ErrCircuitOpen, "other tournaments keep their own circuit")
}

func TestFetchRoundStandings_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":"bad key"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, guard.NewCircuitBreaker(5, time.Minute, testLogger())).
		FetchRoundStandings(context.Background(), "R2026014", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchRoundStandings_RetriesRateLimited(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, roundPayload)
	}))
	defer srv.Close()

	standings, err := newTestClient(srv.URL, guard.NewCircuitBreaker(3, time.Minute, testLogger())).
		FetchRoundStandings(context.Background(), "R2026014", 2)
	require.NoError(t, err)
	assert.Len(t, standings, 3)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchRoundStandings_CorruptRowDropped(t *testing.T) {
	const payload = `{
  "event_id": "R2026014",
  "round": 2,
  "updated_at": "2026-04-10T22:15:00Z",
  "players": [
    {"player_id": "scheffler", "today": -5, "total": -9, "thru": "F"},
    {"player_id": "mcilroy", "today": "??", "total": -4, "thru": 14},
    {"player_id": "koepka", "today": 2, "total": 7, "thru": "F"}
  ]
}`
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		io.WriteString(w, payload)
	}))
	defer srv.Close()

	breaker := guard.NewCircuitBreaker(1, time.Minute, testLogger())
	standings, err := newTestClient(srv.URL, breaker).FetchRoundStandings(context.Background(), "R2026014", 2)
	require.NoError(t, err)
	require.Len(t, standings, 2)
	assert.Equal(t, "scheffler", standings[0].PlayerID)
	assert.Equal(t, "koepka", standings[1].PlayerID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a bad row is not retried")
	assert.Equal(t, guard.CircuitClosed, breaker.State("feed:R2026014"))
}

func TestFetchRoundStandings_MalformedBodyNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		io.WriteString(w, `{"players": [`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, guard.NewCircuitBreaker(5, time.Minute, testLogger())).
		FetchRoundStandings(context.Background(), "R2026014", 2)
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.CodeFeedUnavailable))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&statusError{code: http.StatusTooManyRequests}))
	assert.True(t, isRetryable(&statusError{code: http.StatusBadGateway}))
	assert.False(t, isRetryable(&statusError{code: http.StatusForbidden}))
	assert.False(t, isRetryable(context.Canceled))
	assert.False(t, isRetryable(errMalformedBody))
	assert.True(t, isRetryable(io.ErrUnexpectedEOF), "transport errors retry")
}
