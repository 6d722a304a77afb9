package api

import (
	"errors"
	"net/http"

	"github.com/xraph/herald"
	"github.com/xraph/herald/subscription"
)

// statusOf maps herald errors to HTTP status codes.
func statusOf(err error) int {
	var verr *subscription.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, herald.ErrSubscriptionNotFound),
		errors.Is(err, herald.ErrAttemptNotFound):
		return http.StatusNotFound
	case errors.Is(err, herald.ErrNotReplayable),
		errors.Is(err, herald.ErrSweepInProgress):
		return http.StatusConflict
	case errors.Is(err, herald.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeErr writes err with the status statusOf assigns it. Internal errors
// are logged and replaced with a generic message.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "api error", "path", r.URL.Path, "error", err)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}
