package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gyaneshwarpardhi/audience/internal/customer"
)

// GET /api/customers
func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	list, err := h.Customers.List(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// POST /api/customers
func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var in customer.Customer
	if !decodeJSON(w, r, &in) {
		return
	}
	c, err := h.Customers.Create(r.Context(), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.Customers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) deleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := h.Customers.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/customers/{id}/activity counts one visit at the current time.
func (h *Handler) recordActivity(w http.ResponseWriter, r *http.Request) {
	c, err := h.Customers.RecordActivity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
