package subscription

import "github.com/xraph/herald/event"

// Input is the creation/update payload for subscriptions.
type Input struct {
	// TenantID identifies the tenant that owns this subscription.
	TenantID string `json:"tenant_id"`

	// TargetURL receives POSTed deliveries.
	TargetURL string `json:"target_url"`

	// Secret is the HMAC signing secret. Auto-generated if empty on create.
	Secret string `json:"secret"`

	// SubscribedEvents is the exact set of kinds to deliver.
	SubscribedEvents []event.Kind `json:"subscribed_events"`

	// RetryPolicy overrides the default policy when set.
	RetryPolicy *RetryPolicy `json:"retry_policy,omitempty"`

	// CustomHeaders are added to each delivery.
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`
}

// ListOpts configures filtering and pagination for subscription listing.
type ListOpts struct {
	Offset int
	Limit  int
	Active *bool
}
