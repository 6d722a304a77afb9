package subscription

import (
	"context"
	"fmt"

	"github.com/xraph/herald/event"
)

// Resolver looks up the subscriptions an event must be dispatched to.
type Resolver struct {
	store Store
}

// NewResolver returns a Resolver reading from store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns every active subscription of tenantID whose event set
// contains kind. No match yields an empty, non-nil slice.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, kind event.Kind) ([]*Subscription, error) {
	subs, err := r.store.Resolve(ctx, tenantID, kind)
	if err != nil {
		return nil, fmt.Errorf("subscription: resolve %s/%s: %w", tenantID, kind, err)
	}

	out := make([]*Subscription, 0, len(subs))
	for _, s := range subs {
		if s.TenantID == tenantID && s.Deliverable(kind) {
			out = append(out, s)
		}
	}
	return out, nil
}
