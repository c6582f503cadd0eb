package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/teeline/settlement/internal/domain"
	"github.com/teeline/settlement/internal/service"
)

// ResultHandler handles matchup result endpoints.
type ResultHandler struct {
	svc *service.ResultService
}

// NewResultHandler creates a new ResultHandler.
func NewResultHandler(svc *service.ResultService) *ResultHandler {
	return &ResultHandler{svc: svc}
}

// List handles GET /v1/results?tournament_id=&round=&matchup_id=&limit=.
func (h *ResultHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ResultFilter{TournamentID: q.Get("tournament_id")}

	if s := q.Get("round"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			RespondError(w, domain.ErrValidation("invalid round"))
			return
		}
		filter.RoundNum = &n
	}
	if s := q.Get("matchup_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			RespondError(w, domain.ErrValidation("invalid matchup id"))
			return
		}
		filter.MatchupID = &id
	}
	if s := q.Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	results, err := h.svc.List(r.Context(), filter)
	if err != nil {
		RespondError(w, err)
		return
	}
	if results == nil {
		results = []domain.MatchupResult{}
	}
	RespondJSON(w, http.StatusOK, results)
}

// Save handles PUT /v1/results.
func (h *ResultHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req service.SaveResultInput
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	if req.MatchupID == uuid.Nil {
		RespondError(w, domain.ErrValidation("matchup_id is required"))
		return
	}

	saved, err := h.svc.Save(r.Context(), req)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, saved)
}

// Delete handles DELETE /v1/results/{id}.
func (h *ResultHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, domain.ErrValidation("invalid result id"))
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusNoContent, nil)
}
