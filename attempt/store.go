package attempt

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/herald/id"
)

// ErrNotFound is returned by stores when an attempt does not exist.
var ErrNotFound = errors.New("herald: attempt not found")

// Store defines the persistence contract for the delivery log. Rows are
// appended once and afterwards only their own outcome fields change.
type Store interface {
	// AppendAttempt persists a new attempt row.
	AppendAttempt(ctx context.Context, a *Attempt) error

	// UpdateAttempt rewrites the outcome, response, error and next_retry_at
	// of an existing row, identified by ID.
	UpdateAttempt(ctx context.Context, a *Attempt) error

	// GetAttempt returns an attempt by ID.
	GetAttempt(ctx context.Context, attID id.ID) (*Attempt, error)

	// ListAttemptsBySubscription returns attempts for a subscription, newest first.
	ListAttemptsBySubscription(ctx context.Context, subID id.ID, opts ListOpts) ([]*Attempt, error)

	// ListAttemptsByTenant returns attempts for a tenant, newest first.
	ListAttemptsByTenant(ctx context.Context, tenantID string, opts ListOpts) ([]*Attempt, error)

	// ListAttemptsByEvent returns the attempt chain of one event to one
	// subscription in ascending attempt_number order.
	ListAttemptsByEvent(ctx context.Context, subID id.ID, eventID string) ([]*Attempt, error)

	// DueRetries returns up to limit attempts with outcome retrying and
	// next_retry_at <= now, earliest first.
	DueRetries(ctx context.Context, now time.Time, limit int) ([]*Attempt, error)

	// ClaimRetry leases a due retrying attempt: when its next_retry_at is
	// still <= now it is moved to until in one conditional write. It reports
	// false when the row is no longer due, e.g. another worker claimed it.
	// A lease that is never settled comes due again at until.
	ClaimRetry(ctx context.Context, attID id.ID, now, until time.Time) (bool, error)

	// SettleRetry clears next_retry_at once the follow-up attempt exists.
	SettleRetry(ctx context.Context, attID id.ID) error

	// ReleaseRetry sets next_retry_at on a claimed attempt so a later sweep
	// picks it up again.
	ReleaseRetry(ctx context.Context, attID id.ID, at time.Time) error

	// CountAttempts returns the number of attempts with the given outcome.
	CountAttempts(ctx context.Context, outcome Outcome) (int64, error)
}
