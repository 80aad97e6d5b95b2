package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

var kindStatus = map[scheduling.Kind]int{
	scheduling.KindUnauthenticated:    http.StatusUnauthorized,
	scheduling.KindPermissionDenied:   http.StatusForbidden,
	scheduling.KindInvalidArgument:    http.StatusBadRequest,
	scheduling.KindNotFound:           http.StatusNotFound,
	scheduling.KindFailedPrecondition: http.StatusConflict,
	scheduling.KindAlreadyExists:      http.StatusConflict,
	scheduling.KindInternal:           http.StatusInternalServerError,
}

// writeServiceError maps a scheduling error to its HTTP status. Anything that
// is not a *scheduling.Error is logged and reported as internal.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := scheduling.KindOf(err)
	reason := scheduling.ReasonOf(err)
	details := err.Error()

	if kind == scheduling.KindInternal {
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		if reason == "internal" {
			details = "internal error"
		}
	}

	writeJSON(w, kindStatus[kind], ErrorResponse{
		Error:   string(kind),
		Reason:  reason,
		Details: details,
	})
}
