// Package attempt defines the delivery log: one immutable-by-convention row
// per delivery try, which doubles as the durable retry queue.
package attempt

import (
	"time"

	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

// Outcome is the state of one attempt.
type Outcome string

const (
	// OutcomePending marks an attempt whose request is in flight.
	OutcomePending Outcome = "pending"

	// OutcomeSuccess marks a 2xx response.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailed marks a terminal failure; nothing further is scheduled.
	OutcomeFailed Outcome = "failed"

	// OutcomeRetrying marks a failure with a follow-up scheduled at NextRetryAt.
	// Once the sweep claims it, NextRetryAt is cleared and the next attempt
	// carries the current state.
	OutcomeRetrying Outcome = "retrying"
)

// Terminal reports whether o ends the attempt chain.
func (o Outcome) Terminal() bool {
	return o == OutcomeSuccess || o == OutcomeFailed
}

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomePending, OutcomeSuccess, OutcomeFailed, OutcomeRetrying:
		return true
	}
	return false
}

// Attempt is one concrete delivery try of one event to one subscription.
type Attempt struct {
	entity.Entity

	// ID is the unique TypeID for this attempt.
	ID id.ID `json:"id"`

	// SubscriptionID references the target subscription.
	SubscriptionID id.ID `json:"subscription_id"`

	// TenantID is denormalized from the subscription for audit queries.
	TenantID string `json:"tenant_id"`

	EventKind event.Kind `json:"event_kind"`

	// EventID correlates all attempts of one logical event.
	EventID string `json:"event_id"`

	// AttemptNumber starts at 1 and increases by one per (subscription, event).
	AttemptNumber int `json:"attempt_number"`

	Request  Request  `json:"request"`
	Response Response `json:"response"`

	Outcome Outcome `json:"outcome"`

	// Error is a human-readable failure description.
	Error string `json:"error,omitempty"`

	// ErrorClass is the failure taxonomy class (network, timeout, ...).
	ErrorClass string `json:"error_class,omitempty"`

	// NextRetryAt is set only while the attempt awaits a scheduled retry.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

// Request is a snapshot of what was sent.
type Request struct {
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	Body      []byte            `json:"body"`
	Signature string            `json:"signature"`
}

// Response is a snapshot of what came back. Body is already truncated.
type Response struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
	LatencyMs  int    `json:"latency_ms"`
}

// ListOpts configures filtering and pagination for attempt listing.
type ListOpts struct {
	Offset  int
	Limit   int
	Outcome Outcome
}

// Match reports whether a satisfies the filter portion of opts.
func (o ListOpts) Match(a *Attempt) bool {
	return o.Outcome == "" || a.Outcome == o.Outcome
}
