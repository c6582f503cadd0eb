package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/teeline/settlement/internal/domain"
	"github.com/teeline/settlement/internal/guard"
	"github.com/teeline/settlement/internal/retry"
	"golang.org/x/time/rate"
)

// LiveScoreGateway fetches live round standings from the scoring feed.
type LiveScoreGateway interface {
	FetchRoundStandings(ctx context.Context, tournamentID string, roundNum int) ([]domain.PlayerRoundStanding, error)
}

// ── Feed Types ──

type liveRoundResponse struct {
	EventID   string            `json:"event_id"`
	Round     int               `json:"round"`
	UpdatedAt string            `json:"updated_at"`
	Players   []json.RawMessage `json:"players"`
}

// rowIdentity is what survives of a row that does not decode as a liveRoundPlayer.
type rowIdentity struct {
	PlayerID   any    `json:"player_id"`
	DGID       any    `json:"dg_id"`
	PlayerName string `json:"player_name"`
}

type liveRoundPlayer struct {
	PlayerID   string     `json:"player_id"`
	DGID       int        `json:"dg_id"`
	PlayerName string     `json:"player_name"`
	Position   string     `json:"position"`
	Today      scoreValue `json:"today"`
	Total      scoreValue `json:"total"`
	Thru       thruValue  `json:"thru"`
	Status     string     `json:"status"`
	UpdatedAt  string     `json:"updated_at"`
}

// scoreValue accepts a to-par score as a number or a string like "-3", "+2" or "E".
type scoreValue struct {
	N     int
	Valid bool
}

func (s *scoreValue) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(b), `"`)
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", "NULL", "-":
		*s = scoreValue{}
		return nil
	case "E":
		*s = scoreValue{N: 0, Valid: true}
		return nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(raw, "+"))
	if err != nil {
		return fmt.Errorf("invalid score %q", raw)
	}
	*s = scoreValue{N: n, Valid: true}
	return nil
}

// thruValue accepts holes completed as a number or a marker like "F" or "12*".
type thruValue int

func (t *thruValue) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(b), `"`)
	if raw == "null" {
		*t = 0
		return nil
	}
	n, err := domain.ParseThru(raw)
	if err != nil {
		return err
	}
	*t = thruValue(n)
	return nil
}

// ── LiveScoreClient ──

// LiveScoreConfig configures the feed client.
type LiveScoreConfig struct {
	BaseURL       string
	APIKey        string
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	MaxRetries    int
	RetryWait     time.Duration
}

// LiveScoreClient is the HTTP LiveScoreGateway. Requests are rate limited and
// retried with backoff. Repeated failures short-circuit the tournament's feed.
type LiveScoreClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	breaker *guard.CircuitBreaker
	retry   *retry.Policy
	logger  *slog.Logger
}

// NewLiveScoreClient creates a feed client.
func NewLiveScoreClient(cfg LiveScoreConfig, breaker *guard.CircuitBreaker, logger *slog.Logger) *LiveScoreClient {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}
	return &LiveScoreClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker: breaker,
		retry:   retry.NewPolicy(cfg.MaxRetries+1, cfg.RetryWait).Only(isRetryable),
		logger:  logger,
	}
}

// FetchRoundStandings returns every leaderboard row for the round. A round the feed
// does not know yet yields no rows. Rows that do not decode or carry no player id are
// logged and dropped, so only matchups involving those players come up incomplete.
func (c *LiveScoreClient) FetchRoundStandings(ctx context.Context, tournamentID string, roundNum int) ([]domain.PlayerRoundStanding, error) {
	path := fmt.Sprintf("/live/%s/rounds/%d", url.PathEscape(tournamentID), roundNum)

	var (
		resp  liveRoundResponse
		found bool
	)
	err := c.breaker.Execute("feed:"+tournamentID, func() error {
		var err error
		found, err = c.getJSON(ctx, path, &resp)
		return err
	})
	if err != nil {
		return nil, domain.ErrTransientFeed(tournamentID, err)
	}
	if !found {
		return nil, nil
	}

	log := c.logger.With("tournament_id", tournamentID, "round", roundNum)
	fallback := parseFeedTime(resp.UpdatedAt)
	standings := make([]domain.PlayerRoundStanding, 0, len(resp.Players))
	for i, raw := range resp.Players {
		var p liveRoundPlayer
		if err := json.Unmarshal(raw, &p); err != nil {
			var ident rowIdentity
			_ = json.Unmarshal(raw, &ident)
			log.Warn("live score row dropped",
				"row", i,
				"player_id", ident.PlayerID,
				"dg_id", ident.DGID,
				"player_name", ident.PlayerName,
				"error", err,
			)
			continue
		}
		id := p.PlayerID
		if id == "" && p.DGID != 0 {
			id = strconv.Itoa(p.DGID)
		}
		if id == "" {
			log.Warn("live score row without player id", "row", i, "player_name", p.PlayerName)
			continue
		}
		updated := parseFeedTime(p.UpdatedAt)
		if updated.IsZero() {
			updated = fallback
		}
		standings = append(standings, toStanding(id, p, updated))
	}
	return standings, nil
}

func toStanding(id string, p liveRoundPlayer, updated time.Time) domain.PlayerRoundStanding {
	status := domain.ParsePlayerStatus(p.Status)
	thru := int(p.Thru)
	if status == domain.PlayerActive && thru >= domain.HolesPerRound {
		status = domain.PlayerFinished
	}
	s := domain.PlayerRoundStanding{
		PlayerID:   id,
		PlayerName: p.PlayerName,
		Position:   p.Position,
		Thru:       thru,
		Status:     status,
		UpdatedAt:  updated,
	}
	if p.Today.Valid {
		s.Today = p.Today.N
	}
	if p.Total.Valid {
		s.Total = p.Total.N
	}
	return s
}

// ── HTTP helper ──

// statusError is a non-2xx feed response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("feed status %d", e.code)
	}
	return fmt.Sprintf("feed status %d: %s", e.code, e.body)
}

// isRetryable reports whether a feed call is worth repeating: transport errors,
// 429 and 5xx are; other statuses, a malformed body and a done context are not.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, errMalformedBody) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}

var errMalformedBody = errors.New("malformed feed body")

// getJSON GETs path under the retry policy and decodes the body into out.
// It reports found=false on 404.
func (c *LiveScoreClient) getJSON(ctx context.Context, path string, out any) (bool, error) {
	found := true
	attempt := 0
	err := c.retry.Execute(ctx, func(ctx context.Context) error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		resp, err := c.get(ctx, path)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			found = false
			return nil
		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			se := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
			if isRetryable(se) {
				c.logger.Warn("live score feed retry", "path", path, "status", se.code, "attempt", attempt)
			}
			return se
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: %v", errMalformedBody, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

func (c *LiveScoreClient) get(ctx context.Context, path string) (*http.Response, error) {
	u := c.baseURL + path
	if c.apiKey != "" {
		u += "?key=" + url.QueryEscape(c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.client.Do(req)
}

func parseFeedTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
