package mongo

import (
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

	ID               string            `grove:"id,pk"             bson:"_id"`
	TenantID         string            `grove:"tenant_id"         bson:"tenant_id"`
	TargetURL        string            `grove:"target_url"        bson:"target_url"`
	Secret           string            `grove:"secret"            bson:"secret"`
	SubscribedEvents []string          `grove:"subscribed_events" bson:"subscribed_events"`
	Active           bool              `grove:"active"            bson:"active"`
	RetryEnabled     bool              `grove:"retry_enabled"     bson:"retry_enabled"`
	MaxAttempts      int               `grove:"max_attempts"      bson:"max_attempts"`
	TimeoutSeconds   int               `grove:"timeout_seconds"   bson:"timeout_seconds"`
	CustomHeaders    map[string]string `grove:"custom_headers"    bson:"custom_headers,omitempty"`
	LastTriggeredAt  *time.Time        `grove:"last_triggered_at" bson:"last_triggered_at,omitempty"`
	CreatedAt        time.Time         `grove:"created_at"        bson:"created_at"`
	UpdatedAt        time.Time         `grove:"updated_at"        bson:"updated_at"`
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

// --- Attempt models ---

// RequestBody is a string so the signed bytes are stored verbatim rather than
// as a re-encoded BSON document.
type attemptModel struct {
	grove.BaseModel `grove:"table:herald_attempts"`

	ID             string            `grove:"id,pk"           bson:"_id"`
	SubscriptionID string            `grove:"subscription_id" bson:"subscription_id"`
	TenantID       string            `grove:"tenant_id"       bson:"tenant_id"`
	EventKind      string            `grove:"event_kind"      bson:"event_kind"`
	EventID        string            `grove:"event_id"        bson:"event_id"`
	AttemptNumber  int               `grove:"attempt_number"  bson:"attempt_number"`
	RequestURL     string            `grove:"request_url"     bson:"request_url"`
	RequestHeaders map[string]string `grove:"request_headers" bson:"request_headers,omitempty"`
	RequestBody    string            `grove:"request_body"    bson:"request_body"`
	Signature      string            `grove:"signature"       bson:"signature"`
	StatusCode     int               `grove:"status_code"     bson:"status_code"`
	ResponseBody   string            `grove:"response_body"   bson:"response_body"`
	LatencyMs      int               `grove:"latency_ms"      bson:"latency_ms"`
	Outcome        string            `grove:"outcome"         bson:"outcome"`
	Error          string            `grove:"error"           bson:"error"`
	ErrorClass     string            `grove:"error_class"     bson:"error_class"`
	NextRetryAt    *time.Time        `grove:"next_retry_at"   bson:"next_retry_at,omitempty"`
	CreatedAt      time.Time         `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time         `grove:"updated_at"      bson:"updated_at"`
}

func toAttemptModel(a *attempt.Attempt) *attemptModel {
	return &attemptModel{
		ID:             a.ID.String(),
		SubscriptionID: a.SubscriptionID.String(),
		TenantID:       a.TenantID,
		EventKind:      string(a.EventKind),
		EventID:        a.EventID,
		AttemptNumber:  a.AttemptNumber,
		RequestURL:     a.Request.URL,
		RequestHeaders: a.Request.Headers,
		RequestBody:    string(a.Request.Body),
		Signature:      a.Request.Signature,
		StatusCode:     a.Response.StatusCode,
		ResponseBody:   a.Response.Body,
		LatencyMs:      a.Response.LatencyMs,
		Outcome:        string(a.Outcome),
		Error:          a.Error,
		ErrorClass:     a.ErrorClass,
		NextRetryAt:    a.NextRetryAt,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
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
			Headers:   m.RequestHeaders,
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
