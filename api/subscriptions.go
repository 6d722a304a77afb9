package api

import (
	"net/http"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/subscription"
)

type subscriptionRequest struct {
	TenantID         string                    `json:"tenant_id"`
	TargetURL        string                    `json:"target_url"`
	Secret           string                    `json:"secret,omitempty"`
	SubscribedEvents []event.Kind              `json:"subscribed_events"`
	RetryPolicy      *subscription.RetryPolicy `json:"retry_policy,omitempty"`
	CustomHeaders    map[string]string         `json:"custom_headers,omitempty"`
}

func (req subscriptionRequest) input() subscription.Input {
	return subscription.Input{
		TenantID:         req.TenantID,
		TargetURL:        req.TargetURL,
		Secret:           req.Secret,
		SubscribedEvents: req.SubscribedEvents,
		RetryPolicy:      req.RetryPolicy,
		CustomHeaders:    req.CustomHeaders,
	}
}

// createSubscriptionResponse reveals the signing secret once, at creation.
type createSubscriptionResponse struct {
	*subscription.Subscription
	Secret string `json:"secret"`
}

type testDeliveryResponse struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Body       string `json:"response_body"`
	LatencyMs  int    `json:"latency_ms"`
	Error      string `json:"error,omitempty"`
	ErrorClass string `json:"error_class,omitempty"`
}

func newTestDeliveryResponse(res delivery.Result) testDeliveryResponse {
	return testDeliveryResponse{
		Success:    res.OK(),
		StatusCode: res.StatusCode,
		Body:       res.Body,
		LatencyMs:  res.LatencyMs,
		Error:      res.ErrorString(),
		ErrorClass: res.ErrorClass(),
	}
}

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.subs.Create(r.Context(), req.input())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createSubscriptionResponse{Subscription: sub, Secret: sub.Secret})
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	tenantID := queryParam(r, "tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}

	active, ok := queryBool(r, "active")
	if !ok {
		writeError(w, http.StatusBadRequest, "active must be a boolean")
		return
	}

	opts := subscription.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
		Active: active,
	}

	subs, err := h.subs.List(r.Context(), tenantID, opts)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	subID, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	sub, err := h.subs.Get(r.Context(), subID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) updateSubscription(w http.ResponseWriter, r *http.Request) {
	subID, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	var req subscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.subs.Update(r.Context(), subID, req.input())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	subID, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	if err := h.subs.Delete(r.Context(), subID); err != nil {
		h.writeErr(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) activateSubscription(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handler) deactivateSubscription(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	subID, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	if err := h.subs.SetActive(r.Context(), subID, active); err != nil {
		h.writeErr(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	subID, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	secret, err := h.subs.RotateSecret(r.Context(), subID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

// testDelivery always answers 200 once the request reached the receiver; the
// receiver's own status is reported in the body.
func (h *Handler) testDelivery(w http.ResponseWriter, r *http.Request) {
	subID, ok := subscriptionID(w, r)
	if !ok {
		return
	}

	res, err := h.herald.TestDelivery(r.Context(), subID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newTestDeliveryResponse(res))
}

func subscriptionID(w http.ResponseWriter, r *http.Request) (id.ID, bool) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return id.Nil, false
	}
	return subID, true
}
