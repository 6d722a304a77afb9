package herald

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/ratelimit"
	"github.com/xraph/herald/store"
	"github.com/xraph/herald/subscription"
)

// Herald emits order events to tenant webhooks and keeps the delivery log.
type Herald struct {
	config     Config
	store      store.Store
	catalog    *catalog.Catalog
	resolver   *subscription.Resolver
	subSvc     *subscription.Service
	dispatcher *delivery.Dispatcher
	engine     *delivery.Engine
	sweeper    *delivery.Sweeper
	limiter    *ratelimit.Limiter
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	locker     delivery.Locker
	client     *http.Client
	now        func() time.Time
	logger     *slog.Logger

	// mu guards stopped; Emit adds to inflight only while holding it.
	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
}

// Option configures a Herald instance.
type Option func(*Herald) error

// New creates a new Herald with the given options.
func New(opts ...Option) (*Herald, error) {
	h := &Herald{
		config: DefaultConfig(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	if h.store == nil {
		return nil, ErrNoStore
	}
	h.wireServices()
	return h, nil
}

// WithStore sets the persistence backend.
func WithStore(s store.Store) Option {
	return func(h *Herald) error {
		h.store = s
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Herald) error {
		h.logger = logger
		return nil
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Herald) error {
		h.metrics = m
		return nil
	}
}

// WithTracer enables OpenTelemetry spans for attempts and sweeps.
func WithTracer(t *observability.Tracer) Option {
	return func(h *Herald) error {
		h.tracer = t
		return nil
	}
}

// WithClock overrides the time source used for payload timestamps and
// retry scheduling.
func WithClock(now func() time.Time) Option {
	return func(h *Herald) error {
		h.now = now
		return nil
	}
}

// WithHTTPClient sets the client shared by all deliveries. Per-call
// timeouts come from each subscription's retry policy.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Herald) error {
		h.client = c
		return nil
	}
}

// WithProduct sets the product name sent in the User-Agent header.
func WithProduct(name string) Option {
	return func(h *Herald) error {
		h.config.Product = name
		return nil
	}
}

// WithSweepInterval sets how often the retry sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.SweepInterval = d
		return nil
	}
}

// WithSweepBatchSize sets the maximum due retries processed per sweep.
func WithSweepBatchSize(n int) Option {
	return func(h *Herald) error {
		h.config.SweepBatchSize = n
		return nil
	}
}

// WithSweepConcurrency sets how many retries a sweep dispatches in parallel.
func WithSweepConcurrency(n int) Option {
	return func(h *Herald) error {
		h.config.SweepConcurrency = n
		return nil
	}
}

// WithBackoffTable sets the waits between retry attempts.
func WithBackoffTable(table []time.Duration) Option {
	return func(h *Herald) error {
		if len(table) == 0 {
			return ErrInvalidBackoff
		}
		for i, d := range table {
			if d <= 0 {
				return fmt.Errorf("%w: entry %d is %v", ErrInvalidBackoff, i, d)
			}
		}
		h.config.BackoffTable = table
		return nil
	}
}

// WithMaxResponseBody sets how many response bytes are kept per attempt.
func WithMaxResponseBody(n int) Option {
	return func(h *Herald) error {
		h.config.MaxResponseBody = n
		return nil
	}
}

// WithShutdownTimeout sets the maximum time Stop waits for in-flight deliveries.
func WithShutdownTimeout(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.ShutdownTimeout = d
		return nil
	}
}

// WithSweepLocker coordinates sweeps across processes sharing one store.
func WithSweepLocker(l delivery.Locker) Option {
	return func(h *Herald) error {
		h.locker = l
		return nil
	}
}

// WithCatalog sets the event catalog used to validate event data.
func WithCatalog(c *catalog.Catalog) Option {
	return func(h *Herald) error {
		h.catalog = c
		return nil
	}
}

// WithTestDeliveryRate limits test deliveries per subscription per second.
func WithTestDeliveryRate(perSecond int) Option {
	return func(h *Herald) error {
		h.config.TestDeliveryRate = perSecond
		return nil
	}
}
