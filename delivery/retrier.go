package delivery

import (
	"time"

	"github.com/xraph/herald/attempt"
	"github.com/xraph/herald/subscription"
)

// DefaultBackoff is the fixed wait before retries 1, 2 and 3+.
var DefaultBackoff = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	1800 * time.Second,
}

// Decision is what to record after an attempt.
type Decision struct {
	Outcome     attempt.Outcome
	NextRetryAt *time.Time
}

// Retrier decides whether and when a failed attempt is retried.
type Retrier struct {
	schedule []time.Duration
}

// NewRetrier creates a retrier over a fixed backoff table. An empty table
// falls back to DefaultBackoff.
func NewRetrier(schedule []time.Duration) *Retrier {
	if len(schedule) == 0 {
		schedule = DefaultBackoff
	}
	return &Retrier{schedule: schedule}
}

// Backoff returns the wait after the given failed attempt. The table is
// indexed by attempt number and clamped to its last entry.
func (r *Retrier) Backoff(attemptNumber int) time.Duration {
	idx := attemptNumber - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(r.schedule) {
		idx = len(r.schedule) - 1
	}
	return r.schedule[idx]
}

// ShouldRetry reports whether a failure on attemptNumber earns another try.
func (r *Retrier) ShouldRetry(policy subscription.RetryPolicy, attemptNumber int, err *Error) bool {
	if err == nil || !err.Class.Retryable() {
		return false
	}
	return policy.Enabled && attemptNumber < policy.MaxAttempts
}

// Decide maps a result to the outcome recorded on the attempt row.
//
// Decision matrix:
//   - 2xx → success
//   - retryable failure, policy enabled, attempts left → retrying at now+Backoff(n)
//   - anything else → failed
func (r *Retrier) Decide(policy subscription.RetryPolicy, attemptNumber int, res Result, now time.Time) Decision {
	if res.OK() {
		return Decision{Outcome: attempt.OutcomeSuccess}
	}
	if !r.ShouldRetry(policy, attemptNumber, res.Err) {
		return Decision{Outcome: attempt.OutcomeFailed}
	}
	next := now.UTC().Add(r.Backoff(attemptNumber))
	return Decision{Outcome: attempt.OutcomeRetrying, NextRetryAt: &next}
}
