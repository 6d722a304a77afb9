package herald

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/xraph/herald/attempt"
	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/ratelimit"
	"github.com/xraph/herald/store"
	"github.com/xraph/herald/subscription"
)

// wireServices initializes the internal services after options have been applied.
func (h *Herald) wireServices() {
	if h.catalog == nil {
		h.catalog = catalog.New()
	}

	h.resolver = subscription.NewResolver(h.store)
	h.subSvc = subscription.NewService(h.store, h.logger)
	h.limiter = ratelimit.New(h.now)

	h.dispatcher = delivery.NewDispatcher(delivery.DispatcherConfig{
		Product:         h.config.Product,
		MaxResponseBody: h.config.MaxResponseBody,
		Client:          h.client,
	}, h.logger)

	h.engine = delivery.NewEngine(h.store, h.dispatcher,
		delivery.NewRetrier(h.config.BackoffTable),
		delivery.EngineConfig{
			Metrics: h.metrics,
			Tracer:  h.tracer,
			Now:     h.now,
		}, h.logger)

	h.sweeper = delivery.NewSweeper(h.store, h.engine, delivery.SweeperConfig{
		Interval:    h.config.SweepInterval,
		BatchSize:   h.config.SweepBatchSize,
		Concurrency: h.config.SweepConcurrency,
		Locker:      h.locker,
		Metrics:     h.metrics,
		Tracer:      h.tracer,
		Now:         h.now,
	}, h.logger)
}

// Start runs the retry sweep in the background.
func (h *Herald) Start(ctx context.Context) {
	h.sweeper.Start(ctx)
}

// Stop halts the retry sweep and waits for in-flight deliveries, bounded by
// ctx and the configured shutdown timeout. Emits after Stop are dropped.
func (h *Herald) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()

	if h.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.ShutdownTimeout)
		defer cancel()
	}

	sweepErr := h.sweeper.Stop(ctx)

	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return sweepErr
	case <-ctx.Done():
		return errors.Join(sweepErr, fmt.Errorf("herald: shutdown: %w", ctx.Err()))
	}
}

// Emit announces that an order event happened and returns immediately.
//
// Delivery runs in the background and is detached from ctx's cancellation:
//  1. Reject unknown kinds and data that fails the catalog schema.
//  2. Resolve the tenant's active subscriptions to kind.
//  3. Encode the payload once.
//  4. Dispatch to every subscription concurrently, one logged attempt each.
//
// Failures are logged and recorded in the delivery log; none reach the caller.
// An empty eventID is replaced by a generated one.
func (h *Herald) Emit(ctx context.Context, tenantID string, kind event.Kind, eventID string, data any, metadata map[string]string) {
	ctx = context.WithoutCancel(ctx)
	ts := h.now()

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		h.logger.WarnContext(ctx, "emit dropped: herald stopped",
			"tenant_id", tenantID, "kind", kind, "event_id", eventID)
		return
	}
	h.inflight.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.inflight.Done()
		defer h.recoverPanic(ctx, "emit", "tenant_id", tenantID, "kind", kind)
		h.emit(ctx, ts, tenantID, kind, eventID, data, metadata)
	}()
}

func (h *Herald) emit(ctx context.Context, ts time.Time, tenantID string, kind event.Kind, eventID string, data any, metadata map[string]string) {
	if !kind.Valid() {
		h.logger.WarnContext(ctx, "emit dropped: unknown event kind",
			"tenant_id", tenantID, "kind", kind)
		return
	}
	if eventID == "" {
		eventID = id.NewEventID().String()
	}

	if err := h.catalog.Validate(kind, data); err != nil {
		h.logger.WarnContext(ctx, "emit dropped: data failed validation",
			"tenant_id", tenantID, "kind", kind, "event_id", eventID, "error", err)
		return
	}

	subs, err := h.resolver.Resolve(ctx, tenantID, kind)
	if err != nil {
		h.logger.ErrorContext(ctx, "emit dropped: resolve subscriptions",
			"tenant_id", tenantID, "kind", kind, "event_id", eventID, "error", err)
		return
	}

	if h.metrics != nil {
		h.metrics.EventsEmittedTotal.WithLabelValues(string(kind)).Inc()
	}

	if len(subs) == 0 {
		h.logger.DebugContext(ctx, "no subscriptions for event",
			"tenant_id", tenantID, "kind", kind, "event_id", eventID)
		return
	}

	body, err := event.NewPayload(kind, ts, tenantID, data, metadata).Encode()
	if err != nil {
		h.logger.ErrorContext(ctx, "emit dropped: encode payload",
			"tenant_id", tenantID, "kind", kind, "event_id", eventID, "error", err)
		return
	}

	for _, sub := range subs {
		h.inflight.Add(1)
		go func() {
			defer h.inflight.Done()
			defer h.recoverPanic(ctx, "dispatch", "subscription_id", sub.ID, "event_id", eventID)
			_, _ = h.engine.Run(ctx, delivery.Job{
				Subscription:  sub,
				Kind:          kind,
				EventID:       eventID,
				Body:          body,
				AttemptNumber: 1,
			})
		}()
	}

	h.logger.DebugContext(ctx, "event emitted",
		"tenant_id", tenantID, "kind", kind, "event_id", eventID,
		"subscriptions", len(subs))
}

// TestDelivery sends a sample payload to one subscription and reports what
// the receiver answered. Nothing is persisted and nothing is retried.
func (h *Herald) TestDelivery(ctx context.Context, subID id.ID) (delivery.Result, error) {
	sub, err := h.store.GetSubscription(ctx, subID)
	if err != nil {
		return delivery.Result{}, err
	}

	if !h.limiter.Allow(sub.ID.String(), h.config.TestDeliveryRate) {
		return delivery.Result{}, ErrRateLimited
	}

	kind := event.OrderCreated
	if len(sub.SubscribedEvents) > 0 {
		kind = sub.SubscribedEvents[0]
	}
	now := h.now()

	body, err := event.NewPayload(kind, now, sub.TenantID,
		map[string]any{"test": true, "message": "This is a test delivery."},
		map[string]string{"test": "true"},
	).Encode()
	if err != nil {
		return delivery.Result{}, err
	}

	res := h.dispatcher.Deliver(ctx, sub, delivery.Request{
		Kind:      kind,
		Body:      body,
		Attempt:   1,
		Timestamp: now,
	})

	h.logger.InfoContext(ctx, "test delivery",
		"subscription_id", sub.ID,
		"status", res.StatusCode,
		"latency_ms", res.LatencyMs,
		"error", res.ErrorString(),
	)
	return res, nil
}

// Replay redelivers the stored body of a terminally failed attempt as the
// next attempt of its chain. Only the latest attempt of a chain can be
// replayed, and only while its subscription is active.
func (h *Herald) Replay(ctx context.Context, attID id.ID) (*attempt.Attempt, error) {
	a, err := h.store.GetAttempt(ctx, attID)
	if err != nil {
		return nil, err
	}
	if a.Outcome != attempt.OutcomeFailed {
		return nil, fmt.Errorf("%w: outcome is %s", ErrNotReplayable, a.Outcome)
	}

	chain, err := h.store.ListAttemptsByEvent(ctx, a.SubscriptionID, a.EventID)
	if err != nil {
		return nil, fmt.Errorf("herald: load attempt chain: %w", err)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: attempt chain is empty", ErrNotReplayable)
	}
	if last := chain[len(chain)-1]; last.ID.String() != a.ID.String() {
		return nil, fmt.Errorf("%w: superseded by attempt %d", ErrNotReplayable, last.AttemptNumber)
	}

	sub, err := h.store.GetSubscription(ctx, a.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if !sub.Active {
		return nil, fmt.Errorf("%w: subscription inactive", ErrNotReplayable)
	}

	h.logger.InfoContext(ctx, "replaying attempt",
		"attempt_id", a.ID, "subscription_id", sub.ID, "event_id", a.EventID)

	return h.engine.Run(ctx, delivery.Job{
		Subscription:  sub,
		Kind:          a.EventKind,
		EventID:       a.EventID,
		Body:          a.Request.Body,
		AttemptNumber: a.AttemptNumber + 1,
	})
}

// Sweep runs one retry sweep immediately.
func (h *Herald) Sweep(ctx context.Context) (delivery.Report, error) {
	return h.sweeper.Sweep(ctx)
}

func (h *Herald) recoverPanic(ctx context.Context, op string, attrs ...any) {
	if rec := recover(); rec != nil {
		attrs = append(attrs, "op", op, "panic", rec, "stack", string(debug.Stack()))
		h.logger.ErrorContext(ctx, "panic recovered", attrs...)
	}
}

// Subscriptions returns the subscription management service.
func (h *Herald) Subscriptions() *subscription.Service {
	return h.subSvc
}

// Catalog returns the event catalog.
func (h *Herald) Catalog() *catalog.Catalog {
	return h.catalog
}

// Store returns the underlying store.
func (h *Herald) Store() store.Store {
	return h.store
}
