package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/teeline/settlement/internal/domain"
	"github.com/teeline/settlement/internal/settlement"
)

// ParlayHandler handles parlay settlement corrections.
type ParlayHandler struct {
	reversals *settlement.ReversalService
}

// NewParlayHandler creates a new ParlayHandler.
func NewParlayHandler(reversals *settlement.ReversalService) *ParlayHandler {
	return &ParlayHandler{reversals: reversals}
}

type reverseRequest struct {
	Reason string `json:"reason"`
}

// Reverse handles POST /v1/parlays/{id}/reverse.
func (h *ParlayHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, domain.ErrValidation("invalid parlay id"))
		return
	}
	var req reverseRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}

	res, err := h.reversals.ReverseSettlement(r.Context(), id, req.Reason)
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}
