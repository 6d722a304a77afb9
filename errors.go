package herald

import (
	"errors"

	"github.com/xraph/herald/attempt"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/subscription"
)

// Sentinel errors returned by Herald operations.
var (
	// ErrNoStore is returned when a Herald is created without a store.
	ErrNoStore = errors.New("herald: store is required")

	// ErrSubscriptionNotFound is returned when a subscription cannot be found.
	ErrSubscriptionNotFound = subscription.ErrNotFound

	// ErrAttemptNotFound is returned when a delivery attempt cannot be found.
	ErrAttemptNotFound = attempt.ErrNotFound

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = errors.New("herald: store is closed")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("herald: migration failed")

	// ErrInvalidBackoff is returned when a backoff table is empty or has a non-positive entry.
	ErrInvalidBackoff = errors.New("herald: invalid backoff table")

	// ErrRateLimited is returned when a test delivery exceeds the configured rate.
	ErrRateLimited = errors.New("herald: rate limited")

	// ErrNotReplayable is returned when an attempt is not the failed tail of its chain.
	ErrNotReplayable = errors.New("herald: attempt is not replayable")

	// ErrSweepInProgress is returned when a sweep is requested while another is running.
	ErrSweepInProgress = delivery.ErrSweepInProgress
)
