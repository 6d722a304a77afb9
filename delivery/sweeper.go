package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/herald/attempt"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/subscription"
)

// Sweep defaults.
const (
	DefaultSweepInterval    = 30 * time.Second
	DefaultSweepBatchSize   = 100
	DefaultSweepConcurrency = 10
	DefaultLeaseMargin      = time.Minute
)

// SweepStore is the interface the sweeper needs.
type SweepStore interface {
	DueRetries(ctx context.Context, now time.Time, limit int) ([]*attempt.Attempt, error)
	ClaimRetry(ctx context.Context, attID id.ID, now, until time.Time) (bool, error)
	SettleRetry(ctx context.Context, attID id.ID) error
	ReleaseRetry(ctx context.Context, attID id.ID, at time.Time) error
	ListAttemptsByEvent(ctx context.Context, subID id.ID, eventID string) ([]*attempt.Attempt, error)
	UpdateAttempt(ctx context.Context, a *attempt.Attempt) error
	GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error)
}

// Locker provides mutual exclusion for sweeps across processes.
// TryLock returns ok=false without error when another holder owns the lock.
type Locker interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

// SweeperConfig holds sweeper configuration.
type SweeperConfig struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int

	// LeaseMargin is added to the subscription timeout when a due row is
	// claimed. A claim whose follow-up attempt never gets written comes due
	// again once the lease runs out.
	LeaseMargin time.Duration

	// Locker, when set, extends overlap prevention beyond this process.
	Locker Locker

	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Now     func() time.Time
}

// Report summarizes one sweep.
type Report struct {
	// Due is the number of rows returned by the due-retry query.
	Due int `json:"due"`

	// Dispatched counts rows that produced a new attempt.
	Dispatched int `json:"dispatched"`

	// Failed counts rows closed as terminally failed without dispatch.
	Failed int `json:"failed"`

	// Skipped counts rows left for a later sweep.
	Skipped int `json:"skipped"`
}

// Sweeper periodically re-dispatches attempts whose retry is due.
type Sweeper struct {
	store   SweepStore
	engine  *Engine
	config  SweeperConfig
	logger  *slog.Logger
	now     func() time.Time
	running atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper that redispatches through engine.
func NewSweeper(store SweepStore, engine *Engine, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSweepBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultSweepConcurrency
	}
	if cfg.LeaseMargin <= 0 {
		cfg.LeaseMargin = DefaultLeaseMargin
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		store:  store,
		engine: engine,
		config: cfg,
		logger: logger,
		now:    now,
	}
}

// Start runs Sweep on a fixed interval until Stop is called or ctx ends.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Stop cancels the loop and waits for the sweep in flight, if any.
// Claimed rows finish their attempt even after cancellation.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rep, err := s.Sweep(ctx)
			switch {
			case errors.Is(err, ErrSweepInProgress):
				s.logger.DebugContext(ctx, "sweep skipped: already running")
			case err != nil:
				s.logger.ErrorContext(ctx, "sweep failed", "error", err)
			case rep.Due > 0:
				s.logger.InfoContext(ctx, "sweep finished",
					"due", rep.Due, "dispatched", rep.Dispatched,
					"failed", rep.Failed, "skipped", rep.Skipped)
			}
		}
	}
}

// Sweep processes one batch of due retries. Only one sweep runs at a time;
// a concurrent call returns ErrSweepInProgress. Rows are claimed one by one,
// and once claimed a row's work is detached from ctx so cancellation never
// leaves it half-updated.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.recordSweep("skipped", 0)
		return Report{}, ErrSweepInProgress
	}
	defer s.running.Store(false)

	if s.config.Locker != nil {
		release, ok, err := s.config.Locker.TryLock(ctx)
		if err != nil {
			s.recordSweep("error", 0)
			return Report{}, fmt.Errorf("herald: sweep lock: %w", err)
		}
		if !ok {
			s.recordSweep("skipped", 0)
			return Report{}, ErrSweepInProgress
		}
		defer release()
	}

	if s.config.Tracer != nil {
		var span trace.Span
		ctx, span = s.config.Tracer.StartSweepSpan(ctx)
		defer span.End()
	}

	due, err := s.store.DueRetries(ctx, s.now().UTC(), s.config.BatchSize)
	if err != nil {
		s.recordSweep("error", 0)
		return Report{}, fmt.Errorf("herald: due retries: %w", err)
	}

	var dispatched, failed, skipped atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)

	for _, a := range due {
		if ctx.Err() != nil {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			switch s.retry(ctx, a) {
			case retryDispatched:
				dispatched.Add(1)
			case retryFailed:
				failed.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{
		Due:        len(due),
		Dispatched: int(dispatched.Load()),
		Failed:     int(failed.Load()),
		Skipped:    int(skipped.Load()),
	}
	s.recordSweep("ok", rep.Due)
	return rep, nil
}

type retryResult int

const (
	retrySkipped retryResult = iota
	retryDispatched
	retryFailed
)

// retry claims one due row and either redispatches it as the next attempt
// or closes it as failed. The claim is a lease on next_retry_at, so a
// process that dies before the follow-up row is written leaves the row due
// again once the lease expires.
func (s *Sweeper) retry(ctx context.Context, a *attempt.Attempt) retryResult {
	if ctx.Err() != nil {
		return retrySkipped
	}
	scheduled := a.NextRetryAt

	sub, err := s.store.GetSubscription(ctx, a.SubscriptionID)
	if err != nil && !errors.Is(err, subscription.ErrNotFound) {
		s.logger.ErrorContext(ctx, "load subscription failed",
			"attempt_id", a.ID, "subscription_id", a.SubscriptionID, "error", err)
		return retrySkipped
	}

	now := s.now().UTC()
	lease := now.Add(s.config.LeaseMargin)
	if sub != nil {
		lease = lease.Add(sub.RetryPolicy.Timeout())
	}

	ok, err := s.store.ClaimRetry(ctx, a.ID, now, lease)
	if err != nil {
		s.logger.ErrorContext(ctx, "claim retry failed", "attempt_id", a.ID, "error", err)
		return retrySkipped
	}
	if !ok {
		return retrySkipped
	}

	work := context.WithoutCancel(ctx)

	if sub == nil {
		return s.close(work, a, "subscription no longer exists", ClassConfiguration)
	}

	chain, err := s.store.ListAttemptsByEvent(work, a.SubscriptionID, a.EventID)
	if err != nil {
		s.logger.ErrorContext(work, "load attempt chain failed", "attempt_id", a.ID, "error", err)
		s.release(work, a, scheduled)
		return retrySkipped
	}
	if n := len(chain); n > 0 && chain[n-1].AttemptNumber > a.AttemptNumber {
		// The follow-up was written by an earlier sweep that never settled.
		if err := s.store.SettleRetry(work, a.ID); err != nil {
			s.logger.ErrorContext(work, "settle retry failed", "attempt_id", a.ID, "error", err)
		}
		return retrySkipped
	}

	if !sub.Active {
		return s.close(work, a, "subscription inactive", ClassConfiguration)
	}

	next := a.AttemptNumber + 1
	if !sub.RetryPolicy.Enabled || next > sub.RetryPolicy.MaxAttempts {
		return s.close(work, a, "max attempts exhausted", Class(a.ErrorClass))
	}

	att, _ := s.engine.Run(work, Job{
		Subscription:  sub,
		Kind:          a.EventKind,
		EventID:       a.EventID,
		Body:          a.Request.Body,
		AttemptNumber: next,
		Supersedes:    a.ID,
	})
	if att == nil {
		// The new row could not be written; put this one back in the queue.
		s.release(work, a, scheduled)
		return retrySkipped
	}
	return retryDispatched
}

// close marks a claimed row as terminally failed.
func (s *Sweeper) close(ctx context.Context, a *attempt.Attempt, reason string, class Class) retryResult {
	a.Outcome = attempt.OutcomeFailed
	a.NextRetryAt = nil
	if a.Error != "" {
		a.Error = reason + " (last error: " + a.Error + ")"
	} else {
		a.Error = reason
	}
	a.ErrorClass = string(class)

	if err := s.store.UpdateAttempt(ctx, a); err != nil {
		s.logger.ErrorContext(ctx, "close attempt failed", "attempt_id", a.ID, "error", err)
		return retrySkipped
	}

	s.logger.WarnContext(ctx, "retry abandoned",
		"attempt_id", a.ID, "subscription_id", a.SubscriptionID,
		"attempt", a.AttemptNumber, "reason", reason)
	if s.config.Metrics != nil {
		s.config.Metrics.AttemptsTotal.WithLabelValues(string(a.Outcome), a.ErrorClass).Inc()
	}
	return retryFailed
}

func (s *Sweeper) release(ctx context.Context, a *attempt.Attempt, at *time.Time) {
	when := s.now().UTC()
	if at != nil {
		when = *at
	}
	if err := s.store.ReleaseRetry(ctx, a.ID, when); err != nil {
		s.logger.ErrorContext(ctx, "release retry failed", "attempt_id", a.ID, "error", err)
	}
}

func (s *Sweeper) recordSweep(result string, due int) {
	if s.config.Metrics != nil {
		s.config.Metrics.RecordSweep(result, due)
	}
}
