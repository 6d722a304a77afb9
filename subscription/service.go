package subscription

import (
	"context"
	"log/slog"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/signature"
)

// Service provides subscription management operations for admin tooling.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new subscription service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Create registers a new active subscription.
func (svc *Service) Create(ctx context.Context, in Input) (*Subscription, error) {
	secret := in.Secret
	if secret == "" {
		secret = signature.GenerateSecret()
	}

	policy := DefaultRetryPolicy()
	if in.RetryPolicy != nil {
		policy = *in.RetryPolicy
	}

	sub := &Subscription{
		Entity:           entity.New(),
		ID:               id.NewSubscriptionID(),
		TenantID:         in.TenantID,
		TargetURL:        in.TargetURL,
		Secret:           secret,
		SubscribedEvents: in.SubscribedEvents,
		Active:           true,
		RetryPolicy:      policy,
		CustomHeaders:    in.CustomHeaders,
	}

	if err := sub.Validate(); err != nil {
		return nil, err
	}

	if err := svc.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	svc.logger.DebugContext(ctx, "subscription created",
		"subscription_id", sub.ID,
		"tenant_id", sub.TenantID,
		"events", len(sub.SubscribedEvents),
	)
	return sub, nil
}

// Get returns a subscription by ID.
func (svc *Service) Get(ctx context.Context, subID id.ID) (*Subscription, error) {
	return svc.store.GetSubscription(ctx, subID)
}

// Update modifies an existing subscription. Zero-valued input fields are left
// unchanged; the tenant is immutable.
func (svc *Service) Update(ctx context.Context, subID id.ID, in Input) (*Subscription, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	if in.TargetURL != "" {
		sub.TargetURL = in.TargetURL
	}
	if in.Secret != "" {
		sub.Secret = in.Secret
	}
	if len(in.SubscribedEvents) > 0 {
		sub.SubscribedEvents = in.SubscribedEvents
	}
	if in.RetryPolicy != nil {
		sub.RetryPolicy = *in.RetryPolicy
	}
	if in.CustomHeaders != nil {
		sub.CustomHeaders = in.CustomHeaders
	}

	if err := sub.Validate(); err != nil {
		return nil, err
	}

	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Delete removes a subscription. Its attempt history is kept.
func (svc *Service) Delete(ctx context.Context, subID id.ID) error {
	return svc.store.DeleteSubscription(ctx, subID)
}

// List returns subscriptions for a tenant.
func (svc *Service) List(ctx context.Context, tenantID string, opts ListOpts) ([]*Subscription, error) {
	return svc.store.ListSubscriptions(ctx, tenantID, opts)
}

// SetActive activates or deactivates a subscription. Inactive subscriptions
// receive no new deliveries and their pending retries are failed by the sweep.
func (svc *Service) SetActive(ctx context.Context, subID id.ID, active bool) error {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	sub.Active = active
	return svc.store.UpdateSubscription(ctx, sub)
}

// RotateSecret generates a new signing secret for a subscription.
func (svc *Service) RotateSecret(ctx context.Context, subID id.ID) (string, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return "", err
	}

	sub.Secret = signature.GenerateSecret()
	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return "", err
	}

	svc.logger.InfoContext(ctx, "subscription secret rotated", "subscription_id", sub.ID)
	return sub.Secret, nil
}
