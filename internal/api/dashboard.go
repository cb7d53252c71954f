package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gyaneshwarpardhi/audience/internal/apperr"
	"github.com/gyaneshwarpardhi/audience/internal/compose"
	"github.com/gyaneshwarpardhi/audience/internal/customer"
)

// GET /api/dashboard
func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Dashboard.Snapshot(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GET /api/dashboard/reconcile compares cached totals with the delivery records.
func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Dashboard.Reconcile(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type generateRequest struct {
	Customer customer.Customer `json:"customer"`
	Goal     string            `json:"goal"`
}

type generateResponse struct {
	Messages []compose.Message `json:"messages"`
}

// POST /api/generate-messages
func (h *Handler) generateMessages(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Customer.Name) == "" {
		h.writeErr(w, r, fmt.Errorf("%w: customer name is required", apperr.ErrInvalidCustomer))
		return
	}
	msgs, err := h.Composer.Compose(r.Context(), req.Customer, req.Goal)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{Messages: msgs})
}
