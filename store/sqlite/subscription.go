package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/subscription"
)

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("herald/sqlite: create subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("herald/sqlite: get subscription: %w", err)
	}
	return fromSubscriptionModel(m)
}

// UpdateSubscription leaves tenant_id, created_at and last_triggered_at alone.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("target_url = ?", m.TargetURL).
		Set("secret = ?", m.Secret).
		Set("subscribed_events = ?", m.SubscribedEvents).
		Set("active = ?", m.Active).
		Set("retry_enabled = ?", m.RetryEnabled).
		Set("max_attempts = ?", m.MaxAttempts).
		Set("timeout_seconds = ?", m.TimeoutSeconds).
		Set("custom_headers = ?", m.CustomHeaders).
		Set("updated_at = ?", now()).
		Where("id = ?", m.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/sqlite: update subscription: %w", err)
	}
	return affected(res, herald.ErrSubscriptionNotFound)
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	res, err := s.sdb.NewDelete((*subscriptionModel)(nil)).
		Where("id = ?", subID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/sqlite: delete subscription: %w", err)
	}
	return affected(res, herald.ErrSubscriptionNotFound)
}

func (s *Store) ListSubscriptions(ctx context.Context, tenantID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models).Where("tenant_id = ?", tenantID)
	if opts.Active != nil {
		if *opts.Active {
			q = q.Where("active = 1")
		} else {
			q = q.Where("active = 0")
		}
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/sqlite: list subscriptions: %w", err)
	}
	return fromSubscriptionModels(models)
}

// Resolve matches the kind against the JSON array column with json_each.
func (s *Store) Resolve(ctx context.Context, tenantID string, kind event.Kind) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	if err := s.sdb.NewSelect(&models).
		Where("tenant_id = ?", tenantID).
		Where("active = 1").
		Where("EXISTS (SELECT 1 FROM json_each(subscribed_events) WHERE json_each.value = ?)", string(kind)).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/sqlite: resolve: %w", err)
	}
	return fromSubscriptionModels(models)
}

func (s *Store) TouchSubscription(ctx context.Context, subID id.ID, at time.Time) error {
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("last_triggered_at = ?", at.UTC()).
		Where("id = ?", subID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/sqlite: touch subscription: %w", err)
	}
	return affected(res, herald.ErrSubscriptionNotFound)
}

func fromSubscriptionModels(models []subscriptionModel) ([]*subscription.Subscription, error) {
	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}
