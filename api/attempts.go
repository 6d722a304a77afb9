package api

import (
	"net/http"
	"time"

	"github.com/xraph/herald/attempt"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
)

// attemptResponse renders the stored request body as the literal JSON text
// that was signed and sent.
type attemptResponse struct {
	ID             id.ID             `json:"id"`
	SubscriptionID id.ID             `json:"subscription_id"`
	TenantID       string            `json:"tenant_id"`
	EventKind      event.Kind        `json:"event_kind"`
	EventID        string            `json:"event_id"`
	AttemptNumber  int               `json:"attempt_number"`
	RequestURL     string            `json:"request_url"`
	RequestHeaders map[string]string `json:"request_headers"`
	RequestBody    string            `json:"request_body"`
	Signature      string            `json:"signature"`
	StatusCode     int               `json:"status_code"`
	ResponseBody   string            `json:"response_body"`
	LatencyMs      int               `json:"latency_ms"`
	Outcome        attempt.Outcome   `json:"outcome"`
	Error          string            `json:"error,omitempty"`
	ErrorClass     string            `json:"error_class,omitempty"`
	NextRetryAt    *time.Time        `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func newAttemptResponse(a *attempt.Attempt) attemptResponse {
	return attemptResponse{
		ID:             a.ID,
		SubscriptionID: a.SubscriptionID,
		TenantID:       a.TenantID,
		EventKind:      a.EventKind,
		EventID:        a.EventID,
		AttemptNumber:  a.AttemptNumber,
		RequestURL:     a.Request.URL,
		RequestHeaders: a.Request.Headers,
		RequestBody:    string(a.Request.Body),
		Signature:      a.Request.Signature,
		StatusCode:     a.Response.StatusCode,
		ResponseBody:   a.Response.Body,
		LatencyMs:      a.Response.LatencyMs,
		Outcome:        a.Outcome,
		Error:          a.Error,
		ErrorClass:     a.ErrorClass,
		NextRetryAt:    a.NextRetryAt,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func newAttemptResponses(as []*attempt.Attempt) []attemptResponse {
	out := make([]attemptResponse, len(as))
	for i, a := range as {
		out[i] = newAttemptResponse(a)
	}
	return out
}

func attemptListOpts(w http.ResponseWriter, r *http.Request) (attempt.ListOpts, bool) {
	opts := attempt.ListOpts{
		Offset:  queryInt(r, "offset", 0),
		Limit:   queryInt(r, "limit", 50),
		Outcome: attempt.Outcome(queryParam(r, "outcome")),
	}
	if opts.Outcome != "" && !opts.Outcome.Valid() {
		writeError(w, http.StatusBadRequest, "unknown outcome "+string(opts.Outcome))
		return opts, false
	}
	return opts, true
}

func (h *Handler) listSubscriptionAttempts(w http.ResponseWriter, r *http.Request) {
	subID, ok := subscriptionID(w, r)
	if !ok {
		return
	}
	opts, ok := attemptListOpts(w, r)
	if !ok {
		return
	}

	as, err := h.store.ListAttemptsBySubscription(r.Context(), subID, opts)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newAttemptResponses(as))
}

func (h *Handler) listEventAttempts(w http.ResponseWriter, r *http.Request) {
	subID, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	as, err := h.store.ListAttemptsByEvent(r.Context(), subID, r.PathValue("eventID"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newAttemptResponses(as))
}

func (h *Handler) listTenantAttempts(w http.ResponseWriter, r *http.Request) {
	opts, ok := attemptListOpts(w, r)
	if !ok {
		return
	}

	as, err := h.store.ListAttemptsByTenant(r.Context(), r.PathValue("tenantID"), opts)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newAttemptResponses(as))
}

func (h *Handler) getAttempt(w http.ResponseWriter, r *http.Request) {
	attID, ok := attemptID(w, r)
	if !ok {
		return
	}

	a, err := h.store.GetAttempt(r.Context(), attID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newAttemptResponse(a))
}

func (h *Handler) replayAttempt(w http.ResponseWriter, r *http.Request) {
	attID, ok := attemptID(w, r)
	if !ok {
		return
	}

	a, err := h.herald.Replay(r.Context(), attID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newAttemptResponse(a))
}

func attemptID(w http.ResponseWriter, r *http.Request) (id.ID, bool) {
	attID, err := id.ParseAttemptID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attempt ID")
		return id.Nil, false
	}
	return attID, true
}
