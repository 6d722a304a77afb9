// Package memory provides an in-memory Store implementation for unit testing.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/attempt"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	heraldstore "github.com/xraph/herald/store"
	"github.com/xraph/herald/subscription"
)

// compile-time interface check.
var _ heraldstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store for testing.
// Every read returns a copy, so callers may mutate results freely.
type Store struct {
	mu sync.RWMutex

	subscriptions map[string]*subscription.Subscription // keyed by ID string
	attempts      map[string]*attempt.Attempt           // keyed by ID string

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		subscriptions: make(map[string]*subscription.Subscription),
		attempts:      make(map[string]*attempt.Attempt),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports ErrStoreClosed after Close.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return herald.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// subscription.Store
// ──────────────────────────────────────────────────

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[sub.ID.String()] = copySubscription(sub)
	return nil
}

// GetSubscription returns a subscription by ID.
func (s *Store) GetSubscription(_ context.Context, subID id.ID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, herald.ErrSubscriptionNotFound
	}
	return copySubscription(sub), nil
}

// UpdateSubscription modifies an existing subscription.
func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID.String()]; !ok {
		return herald.ErrSubscriptionNotFound
	}
	sub.UpdatedAt = time.Now().UTC()
	s.subscriptions[sub.ID.String()] = copySubscription(sub)
	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(_ context.Context, subID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[subID.String()]; !ok {
		return herald.ErrSubscriptionNotFound
	}
	delete(s.subscriptions, subID.String())
	return nil
}

// ListSubscriptions returns subscriptions for a tenant, oldest first.
func (s *Store) ListSubscriptions(_ context.Context, tenantID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		if sub.TenantID != tenantID {
			continue
		}
		if opts.Active != nil && sub.Active != *opts.Active {
			continue
		}
		result = append(result, copySubscription(sub))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// Resolve returns active subscriptions of a tenant that include kind.
func (s *Store) Resolve(_ context.Context, tenantID string, kind event.Kind) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.TenantID != tenantID || !sub.Deliverable(kind) {
			continue
		}
		result = append(result, copySubscription(sub))
	}
	return result, nil
}

// TouchSubscription records the time of the most recent dispatch.
func (s *Store) TouchSubscription(_ context.Context, subID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return herald.ErrSubscriptionNotFound
	}
	at = at.UTC()
	sub.LastTriggeredAt = &at
	return nil
}

// ──────────────────────────────────────────────────
// attempt.Store
// ──────────────────────────────────────────────────

// AppendAttempt persists a new attempt row.
func (s *Store) AppendAttempt(_ context.Context, a *attempt.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts[a.ID.String()] = copyAttempt(a)
	return nil
}

// UpdateAttempt rewrites the mutable outcome fields of a row.
func (s *Store) UpdateAttempt(_ context.Context, a *attempt.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.attempts[a.ID.String()]
	if !ok {
		return herald.ErrAttemptNotFound
	}
	cur.Outcome = a.Outcome
	cur.Response = a.Response
	cur.Error = a.Error
	cur.ErrorClass = a.ErrorClass
	cur.NextRetryAt = copyTime(a.NextRetryAt)
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

// GetAttempt returns an attempt by ID.
func (s *Store) GetAttempt(_ context.Context, attID id.ID) (*attempt.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[attID.String()]
	if !ok {
		return nil, herald.ErrAttemptNotFound
	}
	return copyAttempt(a), nil
}

// ListAttemptsBySubscription returns attempts for a subscription, newest first.
func (s *Store) ListAttemptsBySubscription(_ context.Context, subID id.ID, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	return s.listAttempts(opts, func(a *attempt.Attempt) bool {
		return a.SubscriptionID.String() == subID.String()
	}), nil
}

// ListAttemptsByTenant returns attempts for a tenant, newest first.
func (s *Store) ListAttemptsByTenant(_ context.Context, tenantID string, opts attempt.ListOpts) ([]*attempt.Attempt, error) {
	return s.listAttempts(opts, func(a *attempt.Attempt) bool {
		return a.TenantID == tenantID
	}), nil
}

func (s *Store) listAttempts(opts attempt.ListOpts, keep func(*attempt.Attempt) bool) []*attempt.Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*attempt.Attempt, 0)
	for _, a := range s.attempts {
		if !keep(a) || !opts.Match(a) {
			continue
		}
		result = append(result, copyAttempt(a))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() > result[j].ID.String()
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return applyPagination(result, opts.Offset, opts.Limit)
}

// ListAttemptsByEvent returns one event's attempt chain for a subscription.
func (s *Store) ListAttemptsByEvent(_ context.Context, subID id.ID, eventID string) ([]*attempt.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*attempt.Attempt, 0)
	for _, a := range s.attempts {
		if a.SubscriptionID.String() != subID.String() || a.EventID != eventID {
			continue
		}
		result = append(result, copyAttempt(a))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].AttemptNumber < result[j].AttemptNumber
	})
	return result, nil
}

// DueRetries returns retrying attempts whose next_retry_at has passed.
func (s *Store) DueRetries(_ context.Context, now time.Time, limit int) ([]*attempt.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*attempt.Attempt, 0)
	for _, a := range s.attempts {
		if !isDue(a, now) {
			continue
		}
		result = append(result, copyAttempt(a))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].NextRetryAt.Before(*result[j].NextRetryAt)
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// ClaimRetry moves next_retry_at to until if the attempt is still due at now.
func (s *Store) ClaimRetry(_ context.Context, attID id.ID, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attID.String()]
	if !ok {
		return false, herald.ErrAttemptNotFound
	}
	if !isDue(a, now) {
		return false, nil
	}
	until = until.UTC()
	a.NextRetryAt = &until
	a.UpdatedAt = time.Now().UTC()
	return true, nil
}

// SettleRetry clears next_retry_at.
func (s *Store) SettleRetry(_ context.Context, attID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attID.String()]
	if !ok {
		return herald.ErrAttemptNotFound
	}
	a.NextRetryAt = nil
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// ReleaseRetry reschedules a claimed attempt.
func (s *Store) ReleaseRetry(_ context.Context, attID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attID.String()]
	if !ok {
		return herald.ErrAttemptNotFound
	}
	at = at.UTC()
	a.NextRetryAt = &at
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// CountAttempts returns the number of attempts with the given outcome.
func (s *Store) CountAttempts(_ context.Context, outcome attempt.Outcome) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, a := range s.attempts {
		if a.Outcome == outcome {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func isDue(a *attempt.Attempt, now time.Time) bool {
	return a.Outcome == attempt.OutcomeRetrying &&
		a.NextRetryAt != nil &&
		!a.NextRetryAt.After(now)
}

func copySubscription(sub *subscription.Subscription) *subscription.Subscription {
	cp := *sub
	cp.SubscribedEvents = slices.Clone(sub.SubscribedEvents)
	cp.CustomHeaders = maps.Clone(sub.CustomHeaders)
	cp.LastTriggeredAt = copyTime(sub.LastTriggeredAt)
	return &cp
}

func copyAttempt(a *attempt.Attempt) *attempt.Attempt {
	cp := *a
	cp.Request.Headers = maps.Clone(a.Request.Headers)
	cp.Request.Body = slices.Clone(a.Request.Body)
	cp.NextRetryAt = copyTime(a.NextRetryAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset > 0 && offset >= len(items) {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
