package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/teeline/settlement/internal/domain"
	"github.com/teeline/settlement/internal/pipeline"
	"github.com/teeline/settlement/internal/policy"
	"github.com/teeline/settlement/internal/projection"
)

// PipelineHandler exposes the orchestrator lifecycle and run history.
type PipelineHandler struct {
	orch *pipeline.Orchestrator
	runs *projection.RunHistory
}

// NewPipelineHandler creates a new PipelineHandler.
func NewPipelineHandler(orch *pipeline.Orchestrator, runs *projection.RunHistory) *PipelineHandler {
	return &PipelineHandler{orch: orch, runs: runs}
}

// Status handles GET /v1/pipeline/status.
func (h *PipelineHandler) Status(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.orch.Status())
}

// Start handles POST /v1/pipeline/start.
func (h *PipelineHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Start(); err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, h.orch.Status())
}

// Stop handles POST /v1/pipeline/stop.
func (h *PipelineHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.orch.Stop()
	RespondJSON(w, http.StatusOK, h.orch.Status())
}

// Reset handles POST /v1/pipeline/reset.
func (h *PipelineHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.orch.Reset()
	if err := h.runs.Clear(r.Context()); err != nil {
		RespondError(w, domain.ErrInternal("clear run history", err))
		return
	}
	RespondJSON(w, http.StatusOK, h.orch.Status())
}

// GetRun handles GET /v1/pipeline/runs/{id}. The id "last" returns the latest run.
func (h *PipelineHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")

	var (
		report *domain.RunReport
		err    error
	)
	if raw == "last" {
		report, err = h.runs.LastRun(r.Context())
	} else {
		id, perr := uuid.Parse(raw)
		if perr != nil {
			RespondError(w, domain.ErrValidation("invalid run id"))
			return
		}
		report, err = h.runs.GetRun(r.Context(), id)
	}
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, report)
}

// Run handles POST /v1/pipeline/run.
func (h *PipelineHandler) Run(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := detachedContext(r, h.orch.Config().RunTimeout)
	defer cancel()

	report, err := h.orch.RunOnce(ctx, pipeline.TriggerManual)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, report)
}

// detachedContext keeps request values but outlives a client disconnect, so a
// manual trigger finishes the rounds it started. timeout bounds it instead.
func detachedContext(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
}

// configRequest carries a partial config update. Durations are Go duration strings.
type configRequest struct {
	MinCompletionPct    *float64 `json:"min_completion_pct"`
	Lookback            *string  `json:"lookback"`
	Interval            *string  `json:"interval"`
	MaxConcurrentRounds *int     `json:"max_concurrent_rounds"`
	RoundTimeout        *string  `json:"round_timeout"`
	RunTimeout          *string  `json:"run_timeout"`
	PushPolicy          *string  `json:"push_policy"`
}

func (req configRequest) apply(cfg pipeline.Config) (pipeline.Config, error) {
	if req.MinCompletionPct != nil {
		cfg.MinCompletionPct = *req.MinCompletionPct
	}
	if req.MaxConcurrentRounds != nil {
		cfg.MaxConcurrentRounds = *req.MaxConcurrentRounds
	}
	if req.PushPolicy != nil {
		p, err := policy.ParsePushPolicy(*req.PushPolicy)
		if err != nil {
			return cfg, domain.ErrValidation(err.Error())
		}
		cfg.PushPolicy = p
	}

	durations := []struct {
		name string
		in   *string
		out  *time.Duration
	}{
		{"lookback", req.Lookback, &cfg.Lookback},
		{"interval", req.Interval, &cfg.Interval},
		{"round_timeout", req.RoundTimeout, &cfg.RoundTimeout},
		{"run_timeout", req.RunTimeout, &cfg.RunTimeout},
	}
	for _, d := range durations {
		if d.in == nil {
			continue
		}
		v, err := time.ParseDuration(*d.in)
		if err != nil {
			return cfg, domain.ErrValidation("invalid " + d.name + ": " + *d.in)
		}
		*d.out = v
	}
	return cfg, nil
}

// Configure handles PUT /v1/pipeline/config. Omitted fields keep their current value.
func (h *PipelineHandler) Configure(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}

	cfg, err := req.apply(h.orch.Config())
	if err != nil {
		RespondError(w, err)
		return
	}
	if err := h.orch.Configure(cfg); err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, h.orch.Status())
}
