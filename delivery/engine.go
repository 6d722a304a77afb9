package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/herald/attempt"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/subscription"
)

// EngineStore is the interface the engine needs to log attempts.
type EngineStore interface {
	AppendAttempt(ctx context.Context, a *attempt.Attempt) error
	UpdateAttempt(ctx context.Context, a *attempt.Attempt) error
	TouchSubscription(ctx context.Context, subID id.ID, at time.Time) error
	SettleRetry(ctx context.Context, attID id.ID) error
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// Now overrides the clock used for timestamps and retry scheduling.
	Now func() time.Time
}

// Job is one delivery of an encoded payload to one subscription.
type Job struct {
	Subscription  *subscription.Subscription
	Kind          event.Kind
	EventID       string
	Body          []byte
	AttemptNumber int

	// Supersedes is the retrying attempt this job follows up, if any. Its
	// retry marker is settled as soon as the new row is appended.
	Supersedes id.ID
}

// Engine runs dispatch-and-log cycles: every call to the Dispatcher is
// bracketed by a durable attempt row.
type Engine struct {
	store      EngineStore
	dispatcher *Dispatcher
	retrier    *Retrier
	config     EngineConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine creates a delivery engine.
func NewEngine(store EngineStore, dispatcher *Dispatcher, retrier *Retrier, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:      store,
		dispatcher: dispatcher,
		retrier:    retrier,
		config:     cfg,
		logger:     logger,
		now:        now,
	}
}

// Retrier returns the engine's retry policy.
func (e *Engine) Retrier() *Retrier { return e.retrier }

// Run performs one attempt of job and records it. The attempt row is
// appended as pending before the call; if that write fails nothing is sent
// and the error is returned. Delivery failures are recorded on the row and
// are not errors.
func (e *Engine) Run(ctx context.Context, job Job) (*attempt.Attempt, error) {
	sub := job.Subscription
	started := e.now().UTC()

	att := &attempt.Attempt{
		Entity:         entity.At(started),
		ID:             id.NewAttemptID(),
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		EventKind:      job.Kind,
		EventID:        job.EventID,
		AttemptNumber:  job.AttemptNumber,
		Request:        attempt.Request{URL: sub.TargetURL, Body: job.Body},
		Outcome:        attempt.OutcomePending,
	}

	if e.config.Metrics != nil {
		e.config.Metrics.InFlight.Inc()
		defer e.config.Metrics.InFlight.Dec()
	}

	var span trace.Span
	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartAttemptSpan(ctx, att.ID.String(), sub.ID.String(), job.EventID, string(job.Kind), job.AttemptNumber)
	}

	env, prepErr := e.dispatcher.Prepare(ctx, sub, Request{
		Kind:      job.Kind,
		Body:      job.Body,
		Attempt:   job.AttemptNumber,
		Timestamp: started,
	})
	if prepErr != nil {
		return e.recordUnsendable(ctx, span, att, job, prepErr)
	}

	att.Request = attempt.Request{
		URL:       env.URL,
		Headers:   env.HeaderMap(),
		Body:      env.Body,
		Signature: env.Signature,
	}

	if err := e.store.AppendAttempt(ctx, att); err != nil {
		e.logger.ErrorContext(ctx, "append attempt failed; delivery not sent",
			"subscription_id", sub.ID, "event_id", job.EventID,
			"attempt", job.AttemptNumber, "error", err)
		if span != nil {
			e.config.Tracer.EndAttemptSpan(span, string(attempt.OutcomePending), 0, 0, err.Error())
		}
		return nil, err
	}
	e.settle(ctx, job)

	res := e.dispatcher.Send(ctx, sub.RetryPolicy.Timeout(), env)
	decision := e.retrier.Decide(sub.RetryPolicy, job.AttemptNumber, res, e.now())

	att.Outcome = decision.Outcome
	att.NextRetryAt = decision.NextRetryAt
	att.Response = attempt.Response{
		StatusCode: res.StatusCode,
		Body:       res.Body,
		LatencyMs:  res.LatencyMs,
	}
	att.Error = res.ErrorString()
	att.ErrorClass = res.ErrorClass()

	switch att.Outcome {
	case attempt.OutcomeSuccess:
		e.logger.DebugContext(ctx, "delivered",
			"attempt_id", att.ID, "subscription_id", sub.ID,
			"status", res.StatusCode, "latency_ms", res.LatencyMs)
	case attempt.OutcomeRetrying:
		e.logger.InfoContext(ctx, "retry scheduled",
			"attempt_id", att.ID, "subscription_id", sub.ID,
			"attempt", att.AttemptNumber, "next_retry_at", att.NextRetryAt,
			"error", att.Error)
	default:
		e.logger.WarnContext(ctx, "delivery failed permanently",
			"attempt_id", att.ID, "subscription_id", sub.ID,
			"attempt", att.AttemptNumber, "status", res.StatusCode, "error", att.Error)
	}

	if e.config.Metrics != nil {
		e.config.Metrics.RecordAttempt(string(att.Outcome), att.ErrorClass, float64(res.LatencyMs)/1000.0)
	}
	if span != nil {
		e.config.Tracer.EndAttemptSpan(span, string(att.Outcome), res.StatusCode, res.LatencyMs, att.Error)
	}

	var updateErr error
	if err := e.store.UpdateAttempt(ctx, att); err != nil {
		e.logger.ErrorContext(ctx, "update attempt failed",
			"attempt_id", att.ID, "error", err)
		updateErr = err
	}

	if err := e.store.TouchSubscription(ctx, sub.ID, started); err != nil && !errors.Is(err, subscription.ErrNotFound) {
		e.logger.ErrorContext(ctx, "touch subscription failed",
			"subscription_id", sub.ID, "error", err)
	}

	return att, updateErr
}

// recordUnsendable logs an attempt that failed before any network I/O.
func (e *Engine) recordUnsendable(ctx context.Context, span trace.Span, att *attempt.Attempt, job Job, cause error) (*attempt.Attempt, error) {
	att.Outcome = attempt.OutcomeFailed
	att.Error = cause.Error()
	att.ErrorClass = string(ClassOf(cause))

	e.logger.WarnContext(ctx, "delivery not sendable",
		"subscription_id", att.SubscriptionID, "event_id", att.EventID,
		"class", att.ErrorClass, "error", att.Error)

	if e.config.Metrics != nil {
		e.config.Metrics.RecordAttempt(string(att.Outcome), att.ErrorClass, 0)
	}
	if span != nil {
		e.config.Tracer.EndAttemptSpan(span, string(att.Outcome), 0, 0, att.Error)
	}

	if err := e.store.AppendAttempt(ctx, att); err != nil {
		e.logger.ErrorContext(ctx, "append attempt failed",
			"subscription_id", att.SubscriptionID, "error", err)
		return nil, err
	}
	e.settle(ctx, job)
	return att, nil
}

// settle clears the retry marker of the attempt job follows up. A failure
// leaves the lease to expire; the sweeper then finds the newer attempt in
// the chain and settles the row without sending.
func (e *Engine) settle(ctx context.Context, job Job) {
	if job.Supersedes.IsNil() {
		return
	}
	if err := e.store.SettleRetry(ctx, job.Supersedes); err != nil {
		e.logger.ErrorContext(ctx, "settle retry failed",
			"attempt_id", job.Supersedes, "error", err)
	}
}
