package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xraph/herald"
	"github.com/xraph/herald/api"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/store/memory"
)

type fixture struct {
	herald *herald.Herald
	srv    *httptest.Server
}

// testServer creates a Handler over a Herald backed by a memory store.
func testServer(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hd, err := herald.New(
		herald.WithStore(memory.New()),
		herald.WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("new herald: %v", err)
	}

	srv := httptest.NewServer(api.NewHandler(hd, logger))
	t.Cleanup(srv.Close)
	return &fixture{herald: hd, srv: srv}
}

// receiver answers every request with code.
func receiver(t *testing.T, code int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body) //nolint:errcheck // test receiver
		w.WriteHeader(code)
		w.Write([]byte("ack")) //nolint:errcheck // test receiver
	}))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, b)
	}
}

func (f *fixture) createSubscription(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	resp := doJSON(t, "POST", f.srv.URL+"/subscriptions", body)
	expectStatus(t, resp, http.StatusCreated)
	var sub map[string]any
	decodeBody(t, resp, &sub)
	return sub
}

// --- Subscriptions ---

func TestSubscriptions_CRUD(t *testing.T) {
	f := testServer(t)

	sub := f.createSubscription(t, map[string]any{
		"tenant_id":         "rest_1",
		"target_url":        "https://example.com/hook",
		"subscribed_events": []string{"order.created", "order.completed"},
	})
	subID, _ := sub["id"].(string)
	if !strings.HasPrefix(subID, "sub_") {
		t.Fatalf("id = %q, want sub_ prefix", subID)
	}
	secret, _ := sub["secret"].(string)
	if !strings.HasPrefix(secret, "whsec_") {
		t.Fatalf("create must reveal the generated secret, got %q", secret)
	}
	policy, _ := sub["retry_policy"].(map[string]any)
	if policy["max_attempts"] != float64(3) || policy["enabled"] != true {
		t.Fatalf("retry_policy = %v, want defaults", policy)
	}

	// Get never shows the secret.
	resp := doJSON(t, "GET", f.srv.URL+"/subscriptions/"+subID, nil)
	expectStatus(t, resp, http.StatusOK)
	var got map[string]any
	decodeBody(t, resp, &got)
	if _, ok := got["secret"]; ok {
		t.Fatal("secret must not be serialized on read")
	}
	if got["active"] != true {
		t.Fatalf("active = %v, want true", got["active"])
	}

	// List
	resp = doJSON(t, "GET", f.srv.URL+"/subscriptions?tenant_id=rest_1", nil)
	expectStatus(t, resp, http.StatusOK)
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("list: expected 1, got %d", len(list))
	}

	// Update
	resp = doJSON(t, "PUT", f.srv.URL+"/subscriptions/"+subID, map[string]any{
		"target_url": "https://example.com/v2/hook",
	})
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &got)
	if got["target_url"] != "https://example.com/v2/hook" {
		t.Fatalf("target_url = %v", got["target_url"])
	}

	// Deactivate, then filter.
	resp = doJSON(t, "PATCH", f.srv.URL+"/subscriptions/"+subID+"/deactivate", nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = doJSON(t, "GET", f.srv.URL+"/subscriptions?tenant_id=rest_1&active=true", nil)
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &list)
	if len(list) != 0 {
		t.Fatalf("active filter: expected 0, got %d", len(list))
	}

	resp = doJSON(t, "PATCH", f.srv.URL+"/subscriptions/"+subID+"/activate", nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	// Rotate
	resp = doJSON(t, "POST", f.srv.URL+"/subscriptions/"+subID+"/rotate-secret", nil)
	expectStatus(t, resp, http.StatusOK)
	var rotated map[string]string
	decodeBody(t, resp, &rotated)
	if rotated["secret"] == "" || rotated["secret"] == secret {
		t.Fatalf("rotate: got %q, want a new secret", rotated["secret"])
	}

	// Delete
	resp = doJSON(t, "DELETE", f.srv.URL+"/subscriptions/"+subID, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = doJSON(t, "GET", f.srv.URL+"/subscriptions/"+subID, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestSubscriptions_CreateValidation(t *testing.T) {
	f := testServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"bad scheme", map[string]any{
			"tenant_id": "rest_1", "target_url": "ftp://example.com",
			"subscribed_events": []string{"order.created"},
		}},
		{"no events", map[string]any{
			"tenant_id": "rest_1", "target_url": "https://example.com",
		}},
		{"unknown event", map[string]any{
			"tenant_id": "rest_1", "target_url": "https://example.com",
			"subscribed_events": []string{"order.shipped"},
		}},
		{"zero max attempts", map[string]any{
			"tenant_id": "rest_1", "target_url": "https://example.com",
			"subscribed_events": []string{"order.created"},
			"retry_policy":      map[string]any{"enabled": true, "max_attempts": 0},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, "POST", f.srv.URL+"/subscriptions", tt.body)
			expectStatus(t, resp, http.StatusBadRequest)
			resp.Body.Close()
		})
	}
}

func TestSubscriptions_ListRequiresTenantID(t *testing.T) {
	f := testServer(t)

	resp := doJSON(t, "GET", f.srv.URL+"/subscriptions", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = doJSON(t, "GET", f.srv.URL+"/subscriptions?tenant_id=rest_1&active=maybe", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestSubscriptions_TestDelivery(t *testing.T) {
	f := testServer(t)
	rcv := receiver(t, http.StatusTeapot)

	sub := f.createSubscription(t, map[string]any{
		"tenant_id":         "rest_1",
		"target_url":        rcv.URL,
		"subscribed_events": []string{"order.created"},
	})

	resp := doJSON(t, "POST", f.srv.URL+"/subscriptions/"+sub["id"].(string)+"/test", nil)
	expectStatus(t, resp, http.StatusOK)
	var res map[string]any
	decodeBody(t, resp, &res)

	if res["success"] != false {
		t.Fatalf("success = %v, want false", res["success"])
	}
	if res["status_code"] != float64(http.StatusTeapot) {
		t.Fatalf("status_code = %v, want 418", res["status_code"])
	}
	if res["error_class"] != "http" {
		t.Fatalf("error_class = %v, want http", res["error_class"])
	}
	if res["response_body"] != "ack" {
		t.Fatalf("response_body = %v", res["response_body"])
	}

	// Test deliveries leave no trace in the log.
	resp = doJSON(t, "GET", f.srv.URL+"/tenants/rest_1/attempts", nil)
	expectStatus(t, resp, http.StatusOK)
	var attempts []map[string]any
	decodeBody(t, resp, &attempts)
	if len(attempts) != 0 {
		t.Fatalf("expected no attempts, got %d", len(attempts))
	}
}

// --- Delivery log ---

func TestAttempts_ListAndGet(t *testing.T) {
	f := testServer(t)
	rcv := receiver(t, http.StatusOK)

	sub := f.createSubscription(t, map[string]any{
		"tenant_id":         "rest_1",
		"target_url":        rcv.URL,
		"subscribed_events": []string{"order.created"},
	})
	subID := sub["id"].(string)

	f.herald.Emit(context.Background(), "rest_1", event.OrderCreated, "evt_fixed",
		map[string]any{"order_id": "ord_1"}, nil)
	if err := f.herald.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	resp := doJSON(t, "GET", f.srv.URL+"/subscriptions/"+subID+"/attempts", nil)
	expectStatus(t, resp, http.StatusOK)
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(list))
	}
	att := list[0]
	if att["outcome"] != "success" || att["attempt_number"] != float64(1) {
		t.Fatalf("attempt = %v", att)
	}
	body, _ := att["request_body"].(string)
	if !strings.HasPrefix(body, `{"event":"order.created",`) {
		t.Fatalf("request_body = %q, want the literal payload", body)
	}

	resp = doJSON(t, "GET", f.srv.URL+"/attempts/"+att["id"].(string), nil)
	expectStatus(t, resp, http.StatusOK)
	var one map[string]any
	decodeBody(t, resp, &one)
	if one["event_id"] != "evt_fixed" {
		t.Fatalf("event_id = %v", one["event_id"])
	}

	resp = doJSON(t, "GET", f.srv.URL+"/subscriptions/"+subID+"/events/evt_fixed/attempts", nil)
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("chain: expected 1, got %d", len(list))
	}

	resp = doJSON(t, "GET", f.srv.URL+"/tenants/rest_1/attempts?outcome=failed", nil)
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &list)
	if len(list) != 0 {
		t.Fatalf("outcome filter: expected 0, got %d", len(list))
	}

	resp = doJSON(t, "GET", f.srv.URL+"/tenants/rest_1/attempts?outcome=exploded", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestAttempts_Replay(t *testing.T) {
	f := testServer(t)
	rcv := receiver(t, http.StatusInternalServerError)

	sub := f.createSubscription(t, map[string]any{
		"tenant_id":         "rest_1",
		"target_url":        rcv.URL,
		"subscribed_events": []string{"order.cancelled"},
		"retry_policy":      map[string]any{"enabled": false, "max_attempts": 1},
	})
	subID := sub["id"].(string)

	f.herald.Emit(context.Background(), "rest_1", event.OrderCancelled, "evt_c", map[string]any{}, nil)
	if err := f.herald.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	resp := doJSON(t, "GET", f.srv.URL+"/subscriptions/"+subID+"/attempts", nil)
	expectStatus(t, resp, http.StatusOK)
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 1 || list[0]["outcome"] != "failed" {
		t.Fatalf("expected one failed attempt, got %v", list)
	}
	firstID := list[0]["id"].(string)

	resp = doJSON(t, "POST", f.srv.URL+"/attempts/"+firstID+"/replay", nil)
	expectStatus(t, resp, http.StatusCreated)
	var replayed map[string]any
	decodeBody(t, resp, &replayed)
	if replayed["attempt_number"] != float64(2) {
		t.Fatalf("attempt_number = %v, want 2", replayed["attempt_number"])
	}
	if replayed["request_body"] != list[0]["request_body"] {
		t.Fatal("replay must resend the stored body")
	}

	// The first attempt is no longer the tail of its chain.
	resp = doJSON(t, "POST", f.srv.URL+"/attempts/"+firstID+"/replay", nil)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
}

func TestAttempts_NotFoundAndInvalidID(t *testing.T) {
	f := testServer(t)

	resp := doJSON(t, "GET", f.srv.URL+"/attempts/"+id.NewAttemptID().String(), nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = doJSON(t, "GET", f.srv.URL+"/attempts/not-an-id", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	// A subscription ID is not an attempt ID.
	resp = doJSON(t, "GET", f.srv.URL+"/attempts/"+id.NewSubscriptionID().String(), nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

// --- Sweep and stats ---

func TestSweep(t *testing.T) {
	f := testServer(t)

	resp := doJSON(t, "POST", f.srv.URL+"/sweep", nil)
	expectStatus(t, resp, http.StatusOK)
	var report map[string]any
	decodeBody(t, resp, &report)
	if report["due"] != float64(0) {
		t.Fatalf("due = %v, want 0", report["due"])
	}
}

func TestStats(t *testing.T) {
	f := testServer(t)
	rcv := receiver(t, http.StatusOK)

	f.createSubscription(t, map[string]any{
		"tenant_id":         "rest_1",
		"target_url":        rcv.URL,
		"subscribed_events": []string{"order.updated"},
	})
	f.herald.Emit(context.Background(), "rest_1", event.OrderUpdated, "", map[string]any{}, nil)
	f.herald.Emit(context.Background(), "rest_1", event.OrderUpdated, "", map[string]any{}, nil)
	if err := f.herald.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	resp := doJSON(t, "GET", f.srv.URL+"/stats", nil)
	expectStatus(t, resp, http.StatusOK)
	var stats map[string]int64
	decodeBody(t, resp, &stats)

	want := map[string]int64{"pending": 0, "success": 2, "failed": 0, "retrying": 0}
	for k, v := range want {
		if stats[k] != v {
			t.Fatalf("stats[%s] = %d, want %d (all: %v)", k, stats[k], v, stats)
		}
	}
}
