package delivery_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/herald/attempt"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/store/memory"
	"github.com/xraph/herald/subscription"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
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

// statusSequence serves the given status codes in order, repeating the last.
type statusSequence struct {
	codes []int
	calls atomic.Int32
}

func (s *statusSequence) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	n := int(s.calls.Add(1)) - 1
	if n >= len(s.codes) {
		n = len(s.codes) - 1
	}
	w.WriteHeader(s.codes[n])
}

func newSequenceServer(t *testing.T, codes ...int) (*httptest.Server, *statusSequence) {
	t.Helper()
	seq := &statusSequence{codes: codes}
	srv := httptest.NewServer(seq)
	t.Cleanup(srv.Close)
	return srv, seq
}

type harness struct {
	store   *memory.Store
	clock   *fakeClock
	engine  *delivery.Engine
	sweeper *delivery.Sweeper
}

func newHarness(t *testing.T, cfg delivery.SweeperConfig) *harness {
	t.Helper()
	st := memory.New()
	clock := newFakeClock()
	eng := delivery.NewEngine(st,
		delivery.NewDispatcher(delivery.DispatcherConfig{}, nil),
		delivery.NewRetrier(nil),
		delivery.EngineConfig{Now: clock.Now}, nil)
	cfg.Now = clock.Now
	return &harness{
		store:   st,
		clock:   clock,
		engine:  eng,
		sweeper: delivery.NewSweeper(st, eng, cfg, nil),
	}
}

func (h *harness) createSub(t *testing.T, url string, policy subscription.RetryPolicy) *subscription.Subscription {
	t.Helper()
	sub := testSub(url)
	sub.RetryPolicy = policy
	if err := h.store.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return sub
}

func (h *harness) chain(t *testing.T, sub *subscription.Subscription, eventID string) []*attempt.Attempt {
	t.Helper()
	rows, err := h.store.ListAttemptsByEvent(context.Background(), sub.ID, eventID)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	return rows
}

func outcomes(rows []*attempt.Attempt) []attempt.Outcome {
	out := make([]attempt.Outcome, len(rows))
	for i, r := range rows {
		out[i] = r.Outcome
	}
	return out
}

// failingAppendStore rejects every new row.
type failingAppendStore struct {
	*memory.Store
}

func (failingAppendStore) AppendAttempt(context.Context, *attempt.Attempt) error {
	return errors.New("disk full")
}
