package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/herald"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/subscription"
)

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: create subscription: %w", err)
	}

	return nil
}

// GetSubscription returns a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	var m subscriptionModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": subID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, herald.ErrSubscriptionNotFound
		}

		return nil, fmt.Errorf("herald/mongo: get subscription: %w", err)
	}

	return fromSubscriptionModel(&m)
}

// UpdateSubscription rewrites the mutable fields of a subscription.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)

	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": m.ID}).
		Set("target_url", m.TargetURL).
		Set("secret", m.Secret).
		Set("subscribed_events", m.SubscribedEvents).
		Set("active", m.Active).
		Set("retry_enabled", m.RetryEnabled).
		Set("max_attempts", m.MaxAttempts).
		Set("timeout_seconds", m.TimeoutSeconds).
		Set("custom_headers", m.CustomHeaders).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: update subscription: %w", err)
	}

	if res.MatchedCount() == 0 {
		return herald.ErrSubscriptionNotFound
	}

	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	res, err := s.mdb.NewDelete((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: delete subscription: %w", err)
	}

	if res.DeletedCount() == 0 {
		return herald.ErrSubscriptionNotFound
	}

	return nil
}

// ListSubscriptions returns subscriptions for a tenant, oldest first.
func (s *Store) ListSubscriptions(ctx context.Context, tenantID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	filter := bson.M{"tenant_id": tenantID}
	if opts.Active != nil {
		filter["active"] = *opts.Active
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: list subscriptions: %w", err)
	}

	return fromSubscriptionModels(models)
}

// Resolve finds the active subscriptions of a tenant that include kind.
// Equality against an array field matches any element.
func (s *Store) Resolve(ctx context.Context, tenantID string, kind event.Kind) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	if err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"tenant_id":         tenantID,
			"active":            true,
			"subscribed_events": string(kind),
		}).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: resolve: %w", err)
	}

	return fromSubscriptionModels(models)
}

// TouchSubscription records the most recent dispatch time.
func (s *Store) TouchSubscription(ctx context.Context, subID id.ID, at time.Time) error {
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String()}).
		Set("last_triggered_at", at.UTC()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: touch subscription: %w", err)
	}

	if res.MatchedCount() == 0 {
		return herald.ErrSubscriptionNotFound
	}

	return nil
}

func fromSubscriptionModels(models []subscriptionModel) ([]*subscription.Subscription, error) {
	result := make([]*subscription.Subscription, 0, len(models))

	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, sub)
	}

	return result, nil
}
