package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/subscription"
)

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("herald/postgres: create subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("herald/postgres: get subscription: %w", err)
	}
	return fromSubscriptionModel(m)
}

// UpdateSubscription rewrites the mutable columns only. tenant_id, created_at
// and last_triggered_at keep their stored values.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	headers, err := json.Marshal(m.CustomHeaders)
	if err != nil {
		return fmt.Errorf("herald/postgres: encode custom headers: %w", err)
	}

	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("target_url = $1", m.TargetURL).
		Set("secret = $2", m.Secret).
		Set("subscribed_events = $3", m.SubscribedEvents).
		Set("active = $4", m.Active).
		Set("retry_enabled = $5", m.RetryEnabled).
		Set("max_attempts = $6", m.MaxAttempts).
		Set("timeout_seconds = $7", m.TimeoutSeconds).
		Set("custom_headers = $8", string(headers)).
		Set("updated_at = $9", now()).
		Where("id = $10", m.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/postgres: update subscription: %w", err)
	}
	return affected(res, herald.ErrSubscriptionNotFound)
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	res, err := s.pg.NewDelete((*subscriptionModel)(nil)).
		Where("id = $1", subID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/postgres: delete subscription: %w", err)
	}
	return affected(res, herald.ErrSubscriptionNotFound)
}

func (s *Store) ListSubscriptions(ctx context.Context, tenantID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models).Where("tenant_id = $1", tenantID)

	argIdx := 1
	if opts.Active != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("active = $%d", argIdx), *opts.Active)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/postgres: list subscriptions: %w", err)
	}
	return fromSubscriptionModels(models)
}

// Resolve filters on the server with the GIN-indexed subscribed_events array.
func (s *Store) Resolve(ctx context.Context, tenantID string, kind event.Kind) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	if err := s.pg.NewSelect(&models).
		Where("tenant_id = $1", tenantID).
		Where("active = true").
		Where("$2 = ANY(subscribed_events)", string(kind)).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/postgres: resolve: %w", err)
	}
	return fromSubscriptionModels(models)
}

func (s *Store) TouchSubscription(ctx context.Context, subID id.ID, at time.Time) error {
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("last_triggered_at = $1", at.UTC()).
		Where("id = $2", subID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/postgres: touch subscription: %w", err)
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
