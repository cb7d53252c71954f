package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gyaneshwarpardhi/audience/internal/apperr"
	"github.com/gyaneshwarpardhi/audience/internal/rule"
)

// ruleBody accepts the rule under either "rules" (what the UI sends) or "rule".
type ruleBody struct {
	Rules json.RawMessage `json:"rules"`
	Rule  json.RawMessage `json:"rule"`
}

func (b ruleBody) parse() (rule.Rule, error) {
	raw := b.Rules
	if len(raw) == 0 {
		raw = b.Rule
	}
	return rule.Parse(raw)
}

type createSegmentRequest struct {
	ruleBody
	Name string `json:"name"`
}

type previewRequest struct {
	ruleBody
	SampleSize *int `json:"sampleSize"`
}

// GET /api/segments
func (h *Handler) listSegments(w http.ResponseWriter, r *http.Request) {
	list, err := h.Segments.List(r.Context(), owner(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// POST /api/segments
func (h *Handler) createSegment(w http.ResponseWriter, r *http.Request) {
	var req createSegmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ru, err := req.parse()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	seg, err := h.Segments.Create(r.Context(), owner(r), req.Name, ru)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, seg)
}

// POST /api/segments/preview evaluates a rule without storing it.
func (h *Handler) previewSegment(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ru, err := req.parse()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	limits := h.Loader.Config().Preview
	n := limits.DefaultSampleSize
	if req.SampleSize != nil {
		if *req.SampleSize < 0 {
			h.writeErr(w, r, fmt.Errorf("%w: sampleSize must not be negative", apperr.ErrInvalidRule))
			return
		}
		n = min(*req.SampleSize, limits.MaxSampleSize)
	}
	p, err := h.Evaluator.Preview(r.Context(), ru, h.now(), n)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) getSegment(w http.ResponseWriter, r *http.Request) {
	seg, err := h.Segments.Get(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seg)
}

// DELETE /api/segments/{id} leaves campaigns that already snapshotted it untouched.
func (h *Handler) deleteSegment(w http.ResponseWriter, r *http.Request) {
	if err := h.Segments.Delete(r.Context(), owner(r), chi.URLParam(r, "id")); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
