// Package subscription models a tenant's webhook targets and resolves which
// of them should receive a given event.
package subscription

import (
	"net/url"
	"slices"
	"time"

	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

// DefaultTimeoutSeconds bounds a delivery when the policy leaves it unset.
const DefaultTimeoutSeconds = 10

// Subscription is a tenant's configured webhook target.
type Subscription struct {
	entity.Entity

	// ID is the unique TypeID for this subscription.
	ID id.ID `json:"id"`

	// TenantID identifies the tenant that owns this subscription.
	TenantID string `json:"tenant_id"`

	// TargetURL receives POSTed deliveries.
	TargetURL string `json:"target_url"`

	// Secret is the HMAC signing secret. Never serialized.
	Secret string `json:"-"`

	// SubscribedEvents is the exact set of kinds delivered to this target.
	SubscribedEvents []event.Kind `json:"subscribed_events"`

	// Active gates all deliveries, including scheduled retries.
	Active bool `json:"active"`

	RetryPolicy RetryPolicy `json:"retry_policy"`

	// CustomHeaders are added to each request unless they collide with a
	// reserved header.
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`

	// LastTriggeredAt is the time of the most recent dispatch.
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
}

// RetryPolicy controls how failed deliveries to a subscription are retried.
type RetryPolicy struct {
	Enabled        bool `json:"enabled"`
	MaxAttempts    int  `json:"max_attempts"`
	TimeoutSeconds int  `json:"timeout_seconds"`
}

// DefaultRetryPolicy returns the policy applied when none is supplied.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Enabled:        true,
		MaxAttempts:    3,
		TimeoutSeconds: DefaultTimeoutSeconds,
	}
}

// Timeout returns the per-call deadline.
func (p RetryPolicy) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Subscribes reports whether kind is in the subscription's event set.
func (s *Subscription) Subscribes(kind event.Kind) bool {
	return slices.Contains(s.SubscribedEvents, kind)
}

// Deliverable reports whether an event of kind may be dispatched to s.
func (s *Subscription) Deliverable(kind event.Kind) bool {
	return s.Active && s.Subscribes(kind)
}

// Validate checks that the subscription can be dispatched to.
func (s *Subscription) Validate() error {
	if s.TenantID == "" {
		return &ValidationError{Field: "tenant_id", Message: "required"}
	}
	if err := validateURL(s.TargetURL); err != nil {
		return err
	}
	if s.Secret == "" {
		return &ValidationError{Field: "secret", Message: "required"}
	}
	if err := validateEvents(s.SubscribedEvents); err != nil {
		return err
	}
	return validatePolicy(s.RetryPolicy)
}

func validateURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return &ValidationError{Field: "target_url", Message: "invalid URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "target_url", Message: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &ValidationError{Field: "target_url", Message: "host required"}
	}
	return nil
}

func validateEvents(kinds []event.Kind) error {
	if len(kinds) == 0 {
		return &ValidationError{Field: "subscribed_events", Message: "at least one event kind required"}
	}
	for _, k := range kinds {
		if !k.Valid() {
			return &ValidationError{Field: "subscribed_events", Message: "unknown event kind " + string(k)}
		}
	}
	return nil
}

func validatePolicy(p RetryPolicy) error {
	if p.MaxAttempts < 1 {
		return &ValidationError{Field: "retry_policy.max_attempts", Message: "must be at least 1"}
	}
	if p.TimeoutSeconds < 0 {
		return &ValidationError{Field: "retry_policy.timeout_seconds", Message: "must not be negative"}
	}
	return nil
}

// ValidationError indicates a malformed subscription.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "subscription validation: " + e.Field + ": " + e.Message
}
