package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teeline/settlement/internal/policy"
)

// Config holds the orchestrator tunables. A run takes a copy when it starts, so
// changes apply from the next run.
type Config struct {
	MinCompletionPct    float64           `json:"min_completion_pct"`
	Lookback            time.Duration     `json:"lookback"`
	Interval            time.Duration     `json:"interval"`
	MaxConcurrentRounds int               `json:"max_concurrent_rounds"`
	RoundTimeout        time.Duration     `json:"round_timeout"`
	RunTimeout          time.Duration     `json:"run_timeout"`
	PushPolicy          policy.PushPolicy `json:"push_policy"`
}

// DefaultConfig returns the tunables used until Configure is called.
func DefaultConfig() Config {
	return Config{
		MinCompletionPct:    0.8,
		Lookback:            48 * time.Hour,
		Interval:            5 * time.Minute,
		MaxConcurrentRounds: 4,
		RoundTimeout:        2 * time.Minute,
		RunTimeout:          10 * time.Minute,
		PushPolicy:          policy.DefaultPushPolicy(),
	}
}

// Validate checks every tunable.
func (c Config) Validate() error {
	if c.MinCompletionPct <= 0 || c.MinCompletionPct > 1 {
		return fmt.Errorf("min completion pct must be in (0, 1], got %v", c.MinCompletionPct)
	}
	if c.Lookback <= 0 {
		return fmt.Errorf("lookback must be positive")
	}
	if c.Interval < time.Second {
		return fmt.Errorf("interval must be at least 1s, got %s", c.Interval)
	}
	if c.MaxConcurrentRounds < 1 {
		return fmt.Errorf("max concurrent rounds must be at least 1")
	}
	if c.RoundTimeout <= 0 {
		return fmt.Errorf("round timeout must be positive")
	}
	if c.RunTimeout < c.RoundTimeout {
		return fmt.Errorf("run timeout %s is shorter than round timeout %s", c.RunTimeout, c.RoundTimeout)
	}
	if _, err := policy.ParsePushPolicy(string(c.PushPolicy)); err != nil {
		return err
	}
	return nil
}

// MarshalJSON renders durations as strings such as "5m0s".
func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		MinCompletionPct    float64           `json:"min_completion_pct"`
		Lookback            string            `json:"lookback"`
		Interval            string            `json:"interval"`
		MaxConcurrentRounds int               `json:"max_concurrent_rounds"`
		RoundTimeout        string            `json:"round_timeout"`
		RunTimeout          string            `json:"run_timeout"`
		PushPolicy          policy.PushPolicy `json:"push_policy"`
	}{
		MinCompletionPct:    c.MinCompletionPct,
		Lookback:            c.Lookback.String(),
		Interval:            c.Interval.String(),
		MaxConcurrentRounds: c.MaxConcurrentRounds,
		RoundTimeout:        c.RoundTimeout.String(),
		RunTimeout:          c.RunTimeout.String(),
		PushPolicy:          c.PushPolicy,
	})
}
