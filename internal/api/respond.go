package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/oracle/internal/errs"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response body", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

// writeErr maps a classified error onto the envelope. Only the safe message
// leaves the process; the full chain is logged.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	httpError(w, code, string(errs.KindOf(err)), "%s", errs.SafeMessage(err))
}

// decodeBody reads a size-limited JSON body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, string(errs.KindValidation), "invalid request body: %v", err)
		return false
	}
	return true
}
