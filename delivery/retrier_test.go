package delivery_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/herald/attempt"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/subscription"
)

func TestBackoffTable(t *testing.T) {
	r := delivery.NewRetrier(nil)

	cases := map[int]time.Duration{
		0:  60 * time.Second,
		1:  60 * time.Second,
		2:  300 * time.Second,
		3:  1800 * time.Second,
		4:  1800 * time.Second,
		10: 1800 * time.Second,
	}
	for n, want := range cases {
		if got := r.Backoff(n); got != want {
			t.Errorf("Backoff(%d) = %v, want %v", n, got, want)
		}
	}
}

func TestCustomBackoffTable(t *testing.T) {
	r := delivery.NewRetrier([]time.Duration{time.Second, 2 * time.Second})
	if r.Backoff(1) != time.Second || r.Backoff(2) != 2*time.Second || r.Backoff(5) != 2*time.Second {
		t.Fatal("custom table not honored")
	}
}

func TestDecide(t *testing.T) {
	r := delivery.NewRetrier(nil)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := subscription.RetryPolicy{Enabled: true, MaxAttempts: 3, TimeoutSeconds: 10}
	disabled := policy
	disabled.Enabled = false

	httpErr := delivery.Result{StatusCode: 503, Err: &delivery.Error{Class: delivery.ClassHTTP, StatusCode: 503}}
	netErr := delivery.Result{Err: &delivery.Error{Class: delivery.ClassNetwork, Err: errors.New("refused")}}
	cfgErr := delivery.Result{Err: &delivery.Error{Class: delivery.ClassConfiguration, Err: errors.New("bad url")}}
	sigErr := delivery.Result{Err: &delivery.Error{Class: delivery.ClassSignature, Err: errors.New("no secret")}}

	tests := []struct {
		name    string
		policy  subscription.RetryPolicy
		n       int
		res     delivery.Result
		outcome attempt.Outcome
		wait    time.Duration
	}{
		{"2xx", policy, 1, delivery.Result{StatusCode: 204}, attempt.OutcomeSuccess, 0},
		{"http first", policy, 1, httpErr, attempt.OutcomeRetrying, 60 * time.Second},
		{"network second", policy, 2, netErr, attempt.OutcomeRetrying, 300 * time.Second},
		{"last attempt", policy, 3, httpErr, attempt.OutcomeFailed, 0},
		{"disabled", disabled, 1, httpErr, attempt.OutcomeFailed, 0},
		{"configuration", policy, 1, cfgErr, attempt.OutcomeFailed, 0},
		{"signature", policy, 1, sigErr, attempt.OutcomeFailed, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := r.Decide(tt.policy, tt.n, tt.res, now)
			if d.Outcome != tt.outcome {
				t.Fatalf("outcome = %s, want %s", d.Outcome, tt.outcome)
			}
			if tt.wait == 0 {
				if d.NextRetryAt != nil {
					t.Fatalf("unexpected next_retry_at %v", d.NextRetryAt)
				}
				return
			}
			if d.NextRetryAt == nil || !d.NextRetryAt.Equal(now.Add(tt.wait)) {
				t.Fatalf("next_retry_at = %v, want %v", d.NextRetryAt, now.Add(tt.wait))
			}
		})
	}
}
