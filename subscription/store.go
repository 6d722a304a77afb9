package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
)

// ErrNotFound is returned by stores when a subscription does not exist.
var ErrNotFound = errors.New("herald: subscription not found")

// Store defines the persistence contract for subscriptions.
type Store interface {
	// CreateSubscription persists a new subscription.
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// GetSubscription returns a subscription by ID.
	GetSubscription(ctx context.Context, subID id.ID) (*Subscription, error)

	// UpdateSubscription modifies an existing subscription.
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// DeleteSubscription removes a subscription.
	DeleteSubscription(ctx context.Context, subID id.ID) error

	// ListSubscriptions returns subscriptions for a tenant, optionally filtered.
	ListSubscriptions(ctx context.Context, tenantID string, opts ListOpts) ([]*Subscription, error)

	// Resolve returns the active subscriptions of a tenant that include kind.
	// It is called once per emitted event.
	Resolve(ctx context.Context, tenantID string, kind event.Kind) ([]*Subscription, error)

	// TouchSubscription records the time of the most recent dispatch.
	TouchSubscription(ctx context.Context, subID id.ID, at time.Time) error
}
