package herald_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/attempt"
	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/signature"
	"github.com/xraph/herald/store/memory"
	"github.com/xraph/herald/subscription"
)

func ctx() context.Context { return context.Background() }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type received struct {
	header http.Header
	body   []byte
}

// receiver records requests and answers with codes in order, repeating the last.
type receiver struct {
	mu    sync.Mutex
	codes []int
	reqs  []received
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rc.mu.Lock()
	n := len(rc.reqs)
	rc.reqs = append(rc.reqs, received{header: r.Header.Clone(), body: body})
	code := rc.codes[min(n, len(rc.codes)-1)]
	rc.mu.Unlock()
	w.WriteHeader(code)
}

func (rc *receiver) requests() []received {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return slices.Clone(rc.reqs)
}

func newReceiver(t *testing.T, codes ...int) (*httptest.Server, *receiver) {
	t.Helper()
	rc := &receiver{codes: codes}
	srv := httptest.NewServer(rc)
	t.Cleanup(srv.Close)
	return srv, rc
}

func setup(t *testing.T, opts ...herald.Option) (*herald.Herald, *memory.Store, *fakeClock) {
	t.Helper()
	s := memory.New()
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]herald.Option{herald.WithStore(s), herald.WithClock(clock.Now)}, opts...)
	h, err := herald.New(opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.Stop(ctx()) })
	return h, s, clock
}

func createSub(t *testing.T, h *herald.Herald, tenantID, url string, kinds []event.Kind, policy *subscription.RetryPolicy) *subscription.Subscription {
	t.Helper()
	sub, err := h.Subscriptions().Create(ctx(), subscription.Input{
		TenantID:         tenantID,
		TargetURL:        url,
		SubscribedEvents: kinds,
		RetryPolicy:      policy,
	})
	if err != nil {
		t.Fatal(err)
	}
	return sub
}

// settle waits until the chain for (sub, event) has n rows and none is pending.
func settle(t *testing.T, s *memory.Store, subID id.ID, eventID string, n int) []*attempt.Attempt {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		rows, err := s.ListAttemptsByEvent(ctx(), subID, eventID)
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) >= n && !slices.ContainsFunc(rows, func(a *attempt.Attempt) bool {
			return a.Outcome == attempt.OutcomePending
		}) {
			return rows
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d settled attempts, have %d", n, len(rows))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func outcomes(rows []*attempt.Attempt) []attempt.Outcome {
	out := make([]attempt.Outcome, len(rows))
	for i, r := range rows {
		out[i] = r.Outcome
	}
	return out
}

var created = []event.Kind{event.OrderCreated}

func TestNewRequiresStore(t *testing.T) {
	if _, err := herald.New(); !errors.Is(err, herald.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestWithBackoffTableRejectsInvalid(t *testing.T) {
	for _, table := range [][]time.Duration{nil, {time.Second, 0}, {-time.Second}} {
		_, err := herald.New(herald.WithStore(memory.New()), herald.WithBackoffTable(table))
		if !errors.Is(err, herald.ErrInvalidBackoff) {
			t.Fatalf("table %v: expected ErrInvalidBackoff, got %v", table, err)
		}
	}
}

func TestEmitDeliversSignedPayload(t *testing.T) {
	h, s, clock := setup(t, herald.WithProduct("OrderHub"))
	srv, rc := newReceiver(t, http.StatusOK)
	sub := createSub(t, h, "rest_1", srv.URL, created, nil)

	h.Emit(ctx(), "rest_1", event.OrderCreated, "ord_1",
		map[string]any{"order_id": "ord_1", "total": 1250},
		map[string]string{"source": "checkout"})
	if err := h.Stop(ctx()); err != nil {
		t.Fatal(err)
	}

	rows := settle(t, s, sub.ID, "ord_1", 1)
	if rows[0].Outcome != attempt.OutcomeSuccess || rows[0].AttemptNumber != 1 {
		t.Fatalf("unexpected attempt %+v", rows[0])
	}

	reqs := rc.requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	got := reqs[0]

	if !signature.Verify(got.body, got.header.Get("X-Webhook-Signature"), sub.Secret) {
		t.Fatal("signature does not verify")
	}
	if got.header.Get("User-Agent") != "OrderHub/1.0" {
		t.Fatalf("user agent = %q", got.header.Get("User-Agent"))
	}
	if got.header.Get("X-Webhook-Event") != "order.created" || got.header.Get("X-Webhook-Attempt") != "1" {
		t.Fatalf("unexpected headers %v", got.header)
	}

	want := `{"event":"order.created","timestamp":"2025-03-01T12:00:00Z","tenant_id":"rest_1",` +
		`"data":{"order_id":"ord_1","total":1250},"metadata":{"source":"checkout"}}`
	if string(got.body) != want {
		t.Fatalf("body =\n%s\nwant\n%s", got.body, want)
	}
	if string(rows[0].Request.Body) != want {
		t.Fatal("logged body differs from sent body")
	}

	updated, _ := s.GetSubscription(ctx(), sub.ID)
	if updated.LastTriggeredAt == nil || !updated.LastTriggeredAt.Equal(clock.Now()) {
		t.Fatalf("last_triggered_at = %v", updated.LastTriggeredAt)
	}
}

func TestEmitGeneratesEventID(t *testing.T) {
	h, s, _ := setup(t)
	srv, _ := newReceiver(t, http.StatusOK)
	sub := createSub(t, h, "rest_1", srv.URL, created, nil)

	h.Emit(ctx(), "rest_1", event.OrderCreated, "", map[string]any{"n": 1}, nil)
	if err := h.Stop(ctx()); err != nil {
		t.Fatal(err)
	}

	rows, _ := s.ListAttemptsBySubscription(ctx(), sub.ID, attempt.ListOpts{})
	if len(rows) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(rows))
	}
	parsed, err := id.ParseAny(rows[0].EventID)
	if err != nil || parsed.Prefix() != id.PrefixEvent {
		t.Fatalf("event id %q is not a generated event id", rows[0].EventID)
	}
	if !strings.Contains(string(rows[0].Request.Body), `"metadata":{}`) {
		t.Fatalf("nil metadata must encode as {}: %s", rows[0].Request.Body)
	}
}

func TestEmitFiltersSubscriptions(t *testing.T) {
	h, s, _ := setup(t)
	srv, rc := newReceiver(t, http.StatusOK)

	match := createSub(t, h, "rest_1", srv.URL, created, nil)
	otherKind := createSub(t, h, "rest_1", srv.URL, []event.Kind{event.OrderCancelled}, nil)
	otherTenant := createSub(t, h, "rest_2", srv.URL, created, nil)
	inactive := createSub(t, h, "rest_1", srv.URL, created, nil)
	if err := h.Subscriptions().SetActive(ctx(), inactive.ID, false); err != nil {
		t.Fatal(err)
	}

	h.Emit(ctx(), "rest_1", event.OrderCreated, "ord_1", map[string]any{}, nil)
	if err := h.Stop(ctx()); err != nil {
		t.Fatal(err)
	}

	if len(rc.requests()) != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", len(rc.requests()))
	}
	for _, sub := range []*subscription.Subscription{otherKind, otherTenant, inactive} {
		rows, _ := s.ListAttemptsBySubscription(ctx(), sub.ID, attempt.ListOpts{})
		if len(rows) != 0 {
			t.Fatalf("subscription %s received %d attempts", sub.ID, len(rows))
		}
	}
	rows, _ := s.ListAttemptsBySubscription(ctx(), match.ID, attempt.ListOpts{})
	if len(rows) != 1 {
		t.Fatalf("matching subscription got %d attempts", len(rows))
	}
}

func TestEmitFansOutOneBodyToAll(t *testing.T) {
	h, _, _ := setup(t)
	srv, rc := newReceiver(t, http.StatusOK)
	for range 3 {
		createSub(t, h, "rest_1", srv.URL, created, nil)
	}

	h.Emit(ctx(), "rest_1", event.OrderCreated, "ord_1", map[string]any{"x": 1}, nil)
	if err := h.Stop(ctx()); err != nil {
		t.Fatal(err)
	}

	reqs := rc.requests()
	if len(reqs) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(reqs))
	}
	for _, r := range reqs[1:] {
		if string(r.body) != string(reqs[0].body) {
			t.Fatal("subscriptions received different bodies for one event")
		}
	}
}

func TestEmitDropsInvalidInput(t *testing.T) {
	cat := catalog.New()
	err := cat.Register(catalog.Definition{
		Kind:   event.OrderCreated,
		Schema: json.RawMessage(`{"type":"object","required":["order_id"]}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	h, s, _ := setup(t, herald.WithCatalog(cat))
	srv, rc := newReceiver(t, http.StatusOK)
	sub := createSub(t, h, "rest_1", srv.URL, []event.Kind{event.OrderCreated, event.OrderUpdated}, nil)

	h.Emit(ctx(), "rest_1", event.Kind("order.refunded"), "ord_1", map[string]any{}, nil)
	h.Emit(ctx(), "rest_1", event.OrderCreated, "ord_2", map[string]any{"total": 5}, nil)
	if err := h.Stop(ctx()); err != nil {
		t.Fatal(err)
	}

	if n := len(rc.requests()); n != 0 {
		t.Fatalf("invalid events were delivered %d times", n)
	}
	rows, _ := s.ListAttemptsBySubscription(ctx(), sub.ID, attempt.ListOpts{})
	if len(rows) != 0 {
		t.Fatalf("invalid events were logged: %d rows", len(rows))
	}
}

func TestEmitReturnsBeforeSlowReceiver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	h, s, _ := setup(t)
	sub := createSub(t, h, "rest_1", srv.URL, created,
		&subscription.RetryPolicy{Enabled: true, MaxAttempts: 3, TimeoutSeconds: 1})

	start := time.Now()
	h.Emit(ctx(), "rest_1", event.OrderCreated, "ord_1", map[string]any{}, nil)
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Emit blocked for %v", elapsed)
	}

	rows := settle(t, s, sub.ID, "ord_1", 1)
	if rows[0].Outcome != attempt.OutcomeRetrying || rows[0].ErrorClass != string(delivery.ClassTimeout) {
		t.Fatalf("expected retrying timeout, got %s/%s", rows[0].Outcome, rows[0].ErrorClass)
	}
}

func TestEmitSurvivesCallerCancellation(t *testing.T) {
	h, s, _ := setup(t)
	srv, _ := newReceiver(t, http.StatusOK)
	sub := createSub(t, h, "rest_1", srv.URL, created, nil)

	cctx, cancel := context.WithCancel(ctx())
	h.Emit(cctx, "rest_1", event.OrderCreated, "ord_1", map[string]any{}, nil)
	cancel()

	rows := settle(t, s, sub.ID, "ord_1", 1)
	if rows[0].Outcome != attempt.OutcomeSuccess {
		t.Fatalf("outcome = %s", rows[0].Outcome)
	}
}

func TestRetryChainSucceedsOnThirdAttempt(t *testing.T) {
	h, s, clock := setup(t)
	srv, rc := newReceiver(t, 500, 500, 200)
	sub := createSub(t, h, "rest_1", srv.URL, created, nil)

	h.Emit(ctx(), "rest_1", event.OrderCreated, "ord_1", map[string]any{}, nil)
	settle(t, s, sub.ID, "ord_1", 1)

	clock.Advance(60 * time.Second)
	if _, err := h.Sweep(ctx()); err != nil {
		t.Fatal(err)
	}
	clock.Advance(300 * time.Second)
	if _, err := h.Sweep(ctx()); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Hour)
	rep, err := h.Sweep(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Due != 0 {
		t.Fatalf("a fourth attempt was scheduled: %+v", rep)
	}

	rows := settle(t, s, sub.ID, "ord_1", 3)
	want := []attempt.Outcome{attempt.OutcomeRetrying, attempt.OutcomeRetrying, attempt.OutcomeSuccess}
	if !slices.Equal(outcomes(rows), want) {
		t.Fatalf("outcomes = %v, want %v", outcomes(rows), want)
	}

	reqs := rc.requests()
	if len(reqs) != 3 {
		t.Fatalf("receiver saw %d requests", len(reqs))
	}
	for i, r := range reqs {
		if r.header.Get("X-Webhook-Attempt") != []string{"1", "2", "3"}[i] {
			t.Fatalf("request %d attempt header = %q", i, r.header.Get("X-Webhook-Attempt"))
		}
		if string(r.body) != string(reqs[0].body) {
			t.Fatalf("retry %d changed the payload", i)
		}
	}
}

func TestRetryChainExhausted(t *testing.T) {
	h, s, clock := setup(t)
	srv, rc := newReceiver(t, 500)
	sub := createSub(t, h, "rest_1", srv.URL, created, nil)

	h.Emit(ctx(), "rest_1", event.OrderCreated, "ord_1", map[string]any{}, nil)
	settle(t, s, sub.ID, "ord_1", 1)
	for range 4 {
		clock.Advance(time.Hour)
		if _, err := h.Sweep(ctx()); err != nil {
			t.Fatal(err)
		}
	}

	rows := settle(t, s, sub.ID, "ord_1", 3)
	want := []attempt.Outcome{attempt.OutcomeRetrying, attempt.OutcomeRetrying, attempt.OutcomeFailed}
	if !slices.Equal(outcomes(rows), want) {
		t.Fatalf("outcomes = %v, want %v", outcomes(rows), want)
	}
	if len(rc.requests()) != 3 {
		t.Fatalf("receiver saw %d requests, want 3", len(rc.requests()))
	}
}

func TestRetriesDisabled(t *testing.T) {
	h, s, clock := setup(t)
	srv, rc := newReceiver(t, 500)
	sub := createSub(t, h, "rest_1", srv.URL, created,
		&subscription.RetryPolicy{Enabled: false, MaxAttempts: 3, TimeoutSeconds: 5})

	h.Emit(ctx(), "rest_1", event.OrderCreated, "ord_1", map[string]any{}, nil)
	settle(t, s, sub.ID, "ord_1", 1)
	clock.Advance(time.Hour)
	if _, err := h.Sweep(ctx()); err != nil {
		t.Fatal(err)
	}

	rows := settle(t, s, sub.ID, "ord_1", 1)
	if len(rows) != 1 || rows[0].Outcome != attempt.OutcomeFailed {
		t.Fatalf("expected a single failed attempt, got %v", outcomes(rows))
	}
	if len(rc.requests()) != 1 {
		t.Fatalf("receiver saw %d requests", len(rc.requests()))
	}
}

func TestDeactivationStopsRetries(t *testing.T) {
	h, s, clock := setup(t)
	srv, rc := newReceiver(t, 500)
	sub := createSub(t, h, "rest_1", srv.URL, created, nil)

	h.Emit(ctx(), "rest_1", event.OrderCreated, "ord_1", map[string]any{}, nil)
	settle(t, s, sub.ID, "ord_1", 1)

	if err := h.Subscriptions().SetActive(ctx(), sub.ID, false); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)
	if _, err := h.Sweep(ctx()); err != nil {
		t.Fatal(err)
	}

	rows := settle(t, s, sub.ID, "ord_1", 1)
	if len(rows) != 1 || rows[0].Outcome != attempt.OutcomeFailed {
		t.Fatalf("expected the pending retry to be failed, got %v", outcomes(rows))
	}
	if len(rc.requests()) != 1 {
		t.Fatalf("deactivated subscription received %d requests", len(rc.requests()))
	}
}

func TestTestDelivery(t *testing.T) {
	h, s, _ := setup(t)
	srv, rc := newReceiver(t, http.StatusTeapot)
	sub := createSub(t, h, "rest_1", srv.URL, []event.Kind{event.OrderCompleted}, nil)

	res, err := h.TestDelivery(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusTeapot {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if res.OK() {
		t.Fatal("a 418 is not a success")
	}

	reqs := rc.requests()
	if len(reqs) != 1 || reqs[0].header.Get("X-Webhook-Event") != "order.completed" {
		t.Fatalf("unexpected test request %+v", reqs)
	}
	if !signature.Verify(reqs[0].body, reqs[0].header.Get("X-Webhook-Signature"), sub.Secret) {
		t.Fatal("test delivery is not signed")
	}

	rows, _ := s.ListAttemptsBySubscription(ctx(), sub.ID, attempt.ListOpts{})
	if len(rows) != 0 {
		t.Fatalf("test delivery was persisted: %d rows", len(rows))
	}
}

func TestTestDeliveryErrors(t *testing.T) {
	h, _, _ := setup(t, herald.WithTestDeliveryRate(1))
	srv, _ := newReceiver(t, http.StatusOK)
	sub := createSub(t, h, "rest_1", srv.URL, created, nil)

	if _, err := h.TestDelivery(ctx(), id.NewSubscriptionID()); !errors.Is(err, herald.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
	if _, err := h.TestDelivery(ctx(), sub.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.TestDelivery(ctx(), sub.ID); !errors.Is(err, herald.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestReplayFailedAttempt(t *testing.T) {
	h, s, _ := setup(t)
	srv, _ := newReceiver(t, 500, 200)
	sub := createSub(t, h, "rest_1", srv.URL, created,
		&subscription.RetryPolicy{Enabled: true, MaxAttempts: 1, TimeoutSeconds: 5})

	h.Emit(ctx(), "rest_1", event.OrderCreated, "ord_1", map[string]any{}, nil)
	rows := settle(t, s, sub.ID, "ord_1", 1)
	if rows[0].Outcome != attempt.OutcomeFailed {
		t.Fatalf("outcome = %s", rows[0].Outcome)
	}

	replayed, err := h.Replay(ctx(), rows[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if replayed.Outcome != attempt.OutcomeSuccess || replayed.AttemptNumber != 2 {
		t.Fatalf("unexpected replay %+v", replayed)
	}

	if _, err := h.Replay(ctx(), rows[0].ID); !errors.Is(err, herald.ErrNotReplayable) {
		t.Fatalf("superseded attempt: expected ErrNotReplayable, got %v", err)
	}
	if _, err := h.Replay(ctx(), replayed.ID); !errors.Is(err, herald.ErrNotReplayable) {
		t.Fatalf("successful attempt: expected ErrNotReplayable, got %v", err)
	}
}

func TestStopTimesOutOnStuckDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	h, s, _ := setup(t, herald.WithShutdownTimeout(50*time.Millisecond))
	sub := createSub(t, h, "rest_1", srv.URL, created,
		&subscription.RetryPolicy{Enabled: true, MaxAttempts: 3, TimeoutSeconds: 1})

	h.Emit(ctx(), "rest_1", event.OrderCreated, "ord_1", map[string]any{}, nil)
	for {
		rows, _ := s.ListAttemptsBySubscription(ctx(), sub.ID, attempt.ListOpts{})
		if len(rows) == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := h.Stop(ctx()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	settle(t, s, sub.ID, "ord_1", 1)
}

func TestRetrySurvivesAbandonedClaim(t *testing.T) {
	h, s, clock := setup(t)
	srv, rc := newReceiver(t, 500, 200)
	sub := createSub(t, h, "rest_1", srv.URL, created, nil)

	h.Emit(ctx(), "rest_1", event.OrderCreated, "ord_1", map[string]any{}, nil)
	rows := settle(t, s, sub.ID, "ord_1", 1)
	clock.Advance(60 * time.Second)

	// A worker leases the row and dies before writing attempt 2.
	ok, err := s.ClaimRetry(ctx(), rows[0].ID, clock.Now(), clock.Now().Add(2*time.Minute))
	if err != nil || !ok {
		t.Fatalf("ClaimRetry = %v, %v", ok, err)
	}

	restarted, err := herald.New(herald.WithStore(s), herald.WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = restarted.Stop(ctx()) })

	rep, err := restarted.Sweep(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Due != 0 {
		t.Fatalf("leased row picked up early: %+v", rep)
	}

	clock.Advance(2 * time.Minute)
	rep, err = restarted.Sweep(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Dispatched != 1 {
		t.Fatalf("expected the abandoned retry to be redispatched, got %+v", rep)
	}

	rows = settle(t, s, sub.ID, "ord_1", 2)
	want := []attempt.Outcome{attempt.OutcomeRetrying, attempt.OutcomeSuccess}
	if !slices.Equal(outcomes(rows), want) {
		t.Fatalf("outcomes = %v, want %v", outcomes(rows), want)
	}
	if rows[0].NextRetryAt != nil {
		t.Fatalf("superseded row still scheduled at %v", rows[0].NextRetryAt)
	}
	if len(rc.requests()) != 2 {
		t.Fatalf("receiver saw %d requests, want 2", len(rc.requests()))
	}
}

func TestEmitAfterStopIsDropped(t *testing.T) {
	h, s, _ := setup(t)
	srv, rc := newReceiver(t, http.StatusOK)
	sub := createSub(t, h, "rest_1", srv.URL, created, nil)

	if err := h.Stop(ctx()); err != nil {
		t.Fatal(err)
	}
	h.Emit(ctx(), "rest_1", event.OrderCreated, "ord_1", map[string]any{}, nil)
	if err := h.Stop(ctx()); err != nil {
		t.Fatal(err)
	}

	rows, err := s.ListAttemptsBySubscription(ctx(), sub.ID, attempt.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 || len(rc.requests()) != 0 {
		t.Fatalf("emit after Stop was delivered: %d rows, %d requests", len(rows), len(rc.requests()))
	}
}

func TestEmitConcurrentWithStop(t *testing.T) {
	h, _, _ := setup(t)
	srv, _ := newReceiver(t, http.StatusOK)
	createSub(t, h, "rest_1", srv.URL, created, nil)

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Emit(ctx(), "rest_1", event.OrderCreated, "", map[string]any{}, nil)
		}()
	}
	if err := h.Stop(ctx()); err != nil {
		t.Fatal(err)
	}
	wg.Wait()
	if err := h.Stop(ctx()); err != nil {
		t.Fatal(err)
	}
}

// emptyChainStore loses every attempt chain, as a store does when rows
// vanish between reads.
type emptyChainStore struct {
	*memory.Store
}

func (emptyChainStore) ListAttemptsByEvent(context.Context, id.ID, string) ([]*attempt.Attempt, error) {
	return []*attempt.Attempt{}, nil
}

func TestReplayEmptyChain(t *testing.T) {
	s := memory.New()
	h, err := herald.New(herald.WithStore(emptyChainStore{s}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.Stop(ctx()) })

	srv, _ := newReceiver(t, 500)
	sub := createSub(t, h, "rest_1", srv.URL, created,
		&subscription.RetryPolicy{Enabled: true, MaxAttempts: 1, TimeoutSeconds: 5})

	h.Emit(ctx(), "rest_1", event.OrderCreated, "ord_1", map[string]any{}, nil)
	if err := h.Stop(ctx()); err != nil {
		t.Fatal(err)
	}

	rows, err := s.ListAttemptsBySubscription(ctx(), sub.ID, attempt.ListOpts{})
	if err != nil || len(rows) != 1 || rows[0].Outcome != attempt.OutcomeFailed {
		t.Fatalf("unexpected rows %v, err %v", rows, err)
	}
	if _, err := h.Replay(ctx(), rows[0].ID); !errors.Is(err, herald.ErrNotReplayable) {
		t.Fatalf("expected ErrNotReplayable, got %v", err)
	}
}
