package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/teeline/settlement/internal/domain"
	"github.com/teeline/settlement/internal/pipeline"
	"github.com/teeline/settlement/internal/service"
	"github.com/teeline/settlement/internal/settlement"
)

// RoundHandler exposes manual ingestion and settlement for a single round.
type RoundHandler struct {
	ingest *service.IngestionService
	engine *settlement.Engine
	orch   *pipeline.Orchestrator
}

// NewRoundHandler creates a new RoundHandler. The orchestrator supplies the
// configured push policy.
func NewRoundHandler(ingest *service.IngestionService, engine *settlement.Engine, orch *pipeline.Orchestrator) *RoundHandler {
	return &RoundHandler{ingest: ingest, engine: engine, orch: orch}
}

// Ingest handles POST /v1/rounds/{tournamentID}/{round}/ingest?force=bool.
func (h *RoundHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	key, err := roundKeyParam(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	force := false
	if s := r.URL.Query().Get("force"); s != "" {
		force, err = strconv.ParseBool(s)
		if err != nil {
			RespondError(w, domain.ErrValidation("invalid force flag"))
			return
		}
	}

	ctx, cancel := detachedContext(r, h.orch.Config().RoundTimeout)
	defer cancel()

	report, err := h.ingest.IngestRoundResults(ctx, key, force)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, report)
}

// Settle handles POST /v1/rounds/{tournamentID}/{round}/settle.
func (h *RoundHandler) Settle(w http.ResponseWriter, r *http.Request) {
	key, err := roundKeyParam(r)
	if err != nil {
		RespondError(w, err)
		return
	}

	cfg := h.orch.Config()
	ctx, cancel := detachedContext(r, cfg.RoundTimeout)
	defer cancel()

	report, err := h.engine.SettleParlaysForRound(ctx, key, cfg.PushPolicy)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, report)
}

func roundKeyParam(r *http.Request) (domain.RoundKey, error) {
	tournamentID := chi.URLParam(r, "tournamentID")
	if err := domain.ValidateTournamentID(tournamentID); err != nil {
		return domain.RoundKey{}, domain.ErrValidation(err.Error())
	}
	n, err := strconv.Atoi(chi.URLParam(r, "round"))
	if err != nil {
		return domain.RoundKey{}, domain.ErrValidation("invalid round")
	}
	return domain.RoundKey{TournamentID: tournamentID, RoundNum: n}, nil
}
