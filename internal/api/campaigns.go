package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gyaneshwarpardhi/audience/internal/apperr"
	"github.com/gyaneshwarpardhi/audience/internal/campaign"
)

type createCampaignRequest struct {
	Name            string `json:"name"`
	SegmentID       string `json:"segmentId"`
	Message         string `json:"message"`
	MessageTemplate string `json:"messageTemplate"`
	// Draft skips the immediate launch.
	Draft bool `json:"draft"`
}

func (req createCampaignRequest) template() string {
	if req.MessageTemplate != "" {
		return req.MessageTemplate
	}
	return req.Message
}

// busyResponse tells the client which DRAFT to relaunch once the queue drains.
type busyResponse struct {
	errorResponse
	Campaign campaign.Campaign `json:"campaign"`
}

// GET /api/campaigns
func (h *Handler) listCampaigns(w http.ResponseWriter, r *http.Request) {
	list, err := h.Campaigns.List(r.Context(), owner(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// POST /api/campaigns creates a campaign and launches it unless draft is set.
func (h *Handler) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Draft {
		c, err := h.Campaigns.Create(r.Context(), owner(r), req.Name, req.SegmentID, req.template())
		if err != nil {
			h.writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
		return
	}

	c, err := h.Campaigns.CreateAndLaunch(r.Context(), owner(r), req.Name, req.SegmentID, req.template())
	switch {
	case errors.Is(err, apperr.ErrBusy) && c.ID != "":
		w.Header().Set("Retry-After", "5")
		writeJSON(w, http.StatusServiceUnavailable, busyResponse{
			errorResponse: errorResponse{Error: err.Error(), Code: apperr.CodeBusy},
			Campaign:      c,
		})
	case err != nil:
		h.writeErr(w, r, err)
	default:
		writeJSON(w, http.StatusCreated, c)
	}
}

func (h *Handler) getCampaign(w http.ResponseWriter, r *http.Request) {
	v, err := h.Campaigns.Get(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// DELETE /api/campaigns/{id} archives the campaign; its records stay counted.
func (h *Handler) deleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.Campaigns.Delete(r.Context(), owner(r), chi.URLParam(r, "id")); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/campaigns/{id}/launch
func (h *Handler) launchCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.Campaigns.Launch(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Campaigns.Deliveries(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}
