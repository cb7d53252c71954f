package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gyaneshwarpardhi/audience/internal/apperr"
)

const maxBodyBytes = 1 << 20

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the standard error envelope.
type errorResponse struct {
	Error string      `json:"error"`
	Code  apperr.Code `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code apperr.Code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

var statusByCode = map[apperr.Code]int{
	apperr.CodeInvalidRule:       http.StatusBadRequest,
	apperr.CodeInvalidSegment:    http.StatusBadRequest,
	apperr.CodeInvalidCampaign:   http.StatusBadRequest,
	apperr.CodeInvalidCustomer:   http.StatusBadRequest,
	apperr.CodeDuplicateName:     http.StatusConflict,
	apperr.CodeNotFound:          http.StatusNotFound,
	apperr.CodeInvalidTransition: http.StatusConflict,
	apperr.CodeEvaluationFailed:  http.StatusServiceUnavailable,
	apperr.CodeBusy:              http.StatusServiceUnavailable,
}

// writeErr maps err onto the taxonomy. Unclassified errors are logged and reported
// as a bare 500.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, apperr.CodeUnknown, "internal error")
		return
	}
	if code == apperr.CodeBusy {
		w.Header().Set("Retry-After", "5")
	}
	if status >= http.StatusInternalServerError {
		h.logger.Warn("request unavailable", "method", r.Method, "path", r.URL.Path, "code", code, "err", err)
	}
	writeError(w, status, code, err.Error())
}

// decodeJSON reads a single JSON value from the body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		msg := fmt.Sprintf("invalid JSON: %s", err)
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest, msg)
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func logAttrs(r *http.Request, status int) []any {
	return []any{slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Int("status", status)}
}
