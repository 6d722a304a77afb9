package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/herald/attempt"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/subscription"
)

// --- Subscription models ---

type subscriptionModel struct {
	grove.BaseModel `grove:"table:herald_subscriptions"`

	ID               string     `grove:"id,pk"`
	TenantID         string     `grove:"tenant_id"`
	TargetURL        string     `grove:"target_url"`
	Secret           string     `grove:"secret"`
	SubscribedEvents string     `grove:"subscribed_events"`
	Active           bool       `grove:"active"`
	RetryEnabled     bool       `grove:"retry_enabled"`
	MaxAttempts      int        `grove:"max_attempts"`
	TimeoutSeconds   int        `grove:"timeout_seconds"`
	CustomHeaders    string     `grove:"custom_headers"`
	LastTriggeredAt  *time.Time `grove:"last_triggered_at"`
	CreatedAt        time.Time  `grove:"created_at"`
	UpdatedAt        time.Time  `grove:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	kinds, _ := json.Marshal(sub.SubscribedEvents) //nolint:errcheck // best-effort
	headers, _ := json.Marshal(sub.CustomHeaders)  //nolint:errcheck // best-effort

	return &subscriptionModel{
		ID:               sub.ID.String(),
		TenantID:         sub.TenantID,
		TargetURL:        sub.TargetURL,
		Secret:           sub.Secret,
		SubscribedEvents: string(kinds),
		Active:           sub.Active,
		RetryEnabled:     sub.RetryPolicy.Enabled,
		MaxAttempts:      sub.RetryPolicy.MaxAttempts,
		TimeoutSeconds:   sub.RetryPolicy.TimeoutSeconds,
		CustomHeaders:    string(headers),
		LastTriggeredAt:  utc(sub.LastTriggeredAt),
		CreatedAt:        sub.CreatedAt.UTC(),
		UpdatedAt:        sub.UpdatedAt.UTC(),
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}

	var kinds []event.Kind
	if m.SubscribedEvents != "" {
		_ = json.Unmarshal([]byte(m.SubscribedEvents), &kinds) //nolint:errcheck // best-effort
	}

	var headers map[string]string
	if m.CustomHeaders != "" {
		_ = json.Unmarshal([]byte(m.CustomHeaders), &headers) //nolint:errcheck // best-effort
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
		CustomHeaders:   headers,
		LastTriggeredAt: m.LastTriggeredAt,
	}, nil
}

// --- Attempt models ---

type attemptModel struct {
	grove.BaseModel `grove:"table:herald_attempts"`

	ID             string     `grove:"id,pk"`
	SubscriptionID string     `grove:"subscription_id"`
	TenantID       string     `grove:"tenant_id"`
	EventKind      string     `grove:"event_kind"`
	EventID        string     `grove:"event_id"`
	AttemptNumber  int        `grove:"attempt_number"`
	RequestURL     string     `grove:"request_url"`
	RequestHeaders string     `grove:"request_headers"`
	RequestBody    string     `grove:"request_body"`
	Signature      string     `grove:"signature"`
	StatusCode     int        `grove:"status_code"`
	ResponseBody   string     `grove:"response_body"`
	LatencyMs      int        `grove:"latency_ms"`
	Outcome        string     `grove:"outcome"`
	Error          string     `grove:"error"`
	ErrorClass     string     `grove:"error_class"`
	NextRetryAt    *time.Time `grove:"next_retry_at"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
}

func toAttemptModel(a *attempt.Attempt) *attemptModel {
	headers, _ := json.Marshal(a.Request.Headers) //nolint:errcheck // best-effort

	return &attemptModel{
		ID:             a.ID.String(),
		SubscriptionID: a.SubscriptionID.String(),
		TenantID:       a.TenantID,
		EventKind:      string(a.EventKind),
		EventID:        a.EventID,
		AttemptNumber:  a.AttemptNumber,
		RequestURL:     a.Request.URL,
		RequestHeaders: string(headers),
		RequestBody:    string(a.Request.Body),
		Signature:      a.Request.Signature,
		StatusCode:     a.Response.StatusCode,
		ResponseBody:   a.Response.Body,
		LatencyMs:      a.Response.LatencyMs,
		Outcome:        string(a.Outcome),
		Error:          a.Error,
		ErrorClass:     a.ErrorClass,
		NextRetryAt:    utc(a.NextRetryAt),
		CreatedAt:      a.CreatedAt.UTC(),
		UpdatedAt:      a.UpdatedAt.UTC(),
	}
}

func fromAttemptModel(m *attemptModel) (*attempt.Attempt, error) {
	attID, err := id.ParseAttemptID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse attempt ID %q: %w", m.ID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}

	var headers map[string]string
	if m.RequestHeaders != "" {
		_ = json.Unmarshal([]byte(m.RequestHeaders), &headers) //nolint:errcheck // best-effort
	}

	return &attempt.Attempt{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             attID,
		SubscriptionID: subID,
		TenantID:       m.TenantID,
		EventKind:      event.Kind(m.EventKind),
		EventID:        m.EventID,
		AttemptNumber:  m.AttemptNumber,
		Request: attempt.Request{
			URL:       m.RequestURL,
			Headers:   headers,
			Body:      []byte(m.RequestBody),
			Signature: m.Signature,
		},
		Response: attempt.Response{
			StatusCode: m.StatusCode,
			Body:       m.ResponseBody,
			LatencyMs:  m.LatencyMs,
		},
		Outcome:     attempt.Outcome(m.Outcome),
		Error:       m.Error,
		ErrorClass:  m.ErrorClass,
		NextRetryAt: m.NextRetryAt,
	}, nil
}

// utc normalizes stored timestamps so TEXT comparisons order correctly.
func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
