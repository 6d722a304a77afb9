package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/herald"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/subscription"
)

// subscriptionModel is the JSON representation stored in Redis.
type subscriptionModel struct {
	ID               string            `json:"id"`
	TenantID         string            `json:"tenant_id"`
	TargetURL        string            `json:"target_url"`
	Secret           string            `json:"secret"`
	SubscribedEvents []string          `json:"subscribed_events"`
	Active           bool              `json:"active"`
	RetryEnabled     bool              `json:"retry_enabled"`
	MaxAttempts      int               `json:"max_attempts"`
	TimeoutSeconds   int               `json:"timeout_seconds"`
	CustomHeaders    map[string]string `json:"custom_headers,omitempty"`
	LastTriggeredAt  *time.Time        `json:"last_triggered_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	kinds := make([]string, len(sub.SubscribedEvents))
	for i, k := range sub.SubscribedEvents {
		kinds[i] = string(k)
	}
	return &subscriptionModel{
		ID:               sub.ID.String(),
		TenantID:         sub.TenantID,
		TargetURL:        sub.TargetURL,
		Secret:           sub.Secret,
		SubscribedEvents: kinds,
		Active:           sub.Active,
		RetryEnabled:     sub.RetryPolicy.Enabled,
		MaxAttempts:      sub.RetryPolicy.MaxAttempts,
		TimeoutSeconds:   sub.RetryPolicy.TimeoutSeconds,
		CustomHeaders:    sub.CustomHeaders,
		LastTriggeredAt:  sub.LastTriggeredAt,
		CreatedAt:        sub.CreatedAt,
		UpdatedAt:        sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}
	kinds := make([]event.Kind, len(m.SubscribedEvents))
	for i, k := range m.SubscribedEvents {
		kinds[i] = event.Kind(k)
	}
	return &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:               subID,
		TenantID:         m.TenantID,
		TargetURL:        m.TargetURL,
		Secret:           m.Secret,
		SubscribedEvents: kinds,
		Active:           m.Active,
		RetryPolicy: subscription.RetryPolicy{
			Enabled:        m.RetryEnabled,
			MaxAttempts:    m.MaxAttempts,
			TimeoutSeconds: m.TimeoutSeconds,
		},
		CustomHeaders:   m.CustomHeaders,
		LastTriggeredAt: m.LastTriggeredAt,
	}, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	if err := s.setEntity(ctx, entityKey(prefixSubscription, m.ID), m); err != nil {
		return fmt.Errorf("herald/redis: create subscription: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zSubscriptionTenant+m.TenantID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	if m.Active {
		pipe.SAdd(ctx, activeSetKey(m.TenantID), m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: create subscription indexes: %w", err)
	}
	return nil
}

func (s *Store) getSubscriptionModel(ctx context.Context, subID string) (*subscriptionModel, error) {
	var m subscriptionModel
	if err := s.getEntity(ctx, entityKey(prefixSubscription, subID), &m); err != nil {
		if isNotFound(err) {
			return nil, herald.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("herald/redis: get subscription: %w", err)
	}
	return &m, nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	m, err := s.getSubscriptionModel(ctx, subID.String())
	if err != nil {
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	existing, err := s.getSubscriptionModel(ctx, sub.ID.String())
	if err != nil {
		return err
	}

	m := toSubscriptionModel(sub)
	m.TenantID = existing.TenantID
	m.CreatedAt = existing.CreatedAt
	m.LastTriggeredAt = existing.LastTriggeredAt
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, entityKey(prefixSubscription, m.ID), m); err != nil {
		return fmt.Errorf("herald/redis: update subscription: %w", err)
	}

	if m.Active {
		err = s.rdb.SAdd(ctx, activeSetKey(m.TenantID), m.ID).Err()
	} else {
		err = s.rdb.SRem(ctx, activeSetKey(m.TenantID), m.ID).Err()
	}
	if err != nil {
		return fmt.Errorf("herald/redis: update subscription indexes: %w", err)
	}
	return nil
}

// DeleteSubscription removes the subscription. Its attempts stay in the log.
func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	m, err := s.getSubscriptionModel(ctx, subID.String())
	if err != nil {
		return err
	}

	if err := s.deleteEntity(ctx, entityKey(prefixSubscription, m.ID)); err != nil {
		return fmt.Errorf("herald/redis: delete subscription: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZRem(ctx, zSubscriptionTenant+m.TenantID, m.ID)
	pipe.SRem(ctx, activeSetKey(m.TenantID), m.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: delete subscription indexes: %w", err)
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, tenantID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.ZRange(ctx, zSubscriptionTenant+tenantID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, 0, len(ids))
	for _, subID := range ids {
		m, err := s.getSubscriptionModel(ctx, subID)
		if err != nil {
			if errors.Is(err, herald.ErrSubscriptionNotFound) {
				continue
			}
			return nil, err
		}
		if opts.Active != nil && m.Active != *opts.Active {
			continue
		}
		sub, err := fromSubscriptionModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) Resolve(ctx context.Context, tenantID string, kind event.Kind) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.SMembers(ctx, activeSetKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: resolve: %w", err)
	}
	sort.Strings(ids)

	result := make([]*subscription.Subscription, 0, len(ids))
	for _, subID := range ids {
		m, err := s.getSubscriptionModel(ctx, subID)
		if err != nil {
			if errors.Is(err, herald.ErrSubscriptionNotFound) {
				continue
			}
			return nil, err
		}
		sub, err := fromSubscriptionModel(m)
		if err != nil {
			return nil, err
		}
		if sub.Deliverable(kind) {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (s *Store) TouchSubscription(ctx context.Context, subID id.ID, at time.Time) error {
	m, err := s.getSubscriptionModel(ctx, subID.String())
	if err != nil {
		return err
	}
	at = at.UTC()
	m.LastTriggeredAt = &at
	if err := s.setEntity(ctx, entityKey(prefixSubscription, m.ID), m); err != nil {
		return fmt.Errorf("herald/redis: touch subscription: %w", err)
	}
	return nil
}
