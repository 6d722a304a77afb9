package herald

import (
	"time"

	"github.com/xraph/herald/delivery"
)

// Config holds the configuration for a Herald instance.
type Config struct {
	// Product names the sender in the User-Agent header ("<Product>/1.0").
	Product string

	// SweepInterval is how often the retry sweep runs once started.
	SweepInterval time.Duration

	// SweepBatchSize caps the due retries picked up per sweep.
	SweepBatchSize int

	// SweepConcurrency caps the retries dispatched in parallel per sweep.
	SweepConcurrency int

	// BackoffTable holds the waits before retries 1, 2, 3...; the last
	// entry repeats.
	BackoffTable []time.Duration

	// MaxResponseBody caps the response body stored per attempt, in bytes.
	MaxResponseBody int

	// ShutdownTimeout bounds how long Stop waits for in-flight deliveries.
	ShutdownTimeout time.Duration

	// TestDeliveryRate limits test deliveries per subscription per second.
	// Zero disables the limit.
	TestDeliveryRate int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Product:          "Herald",
		SweepInterval:    delivery.DefaultSweepInterval,
		SweepBatchSize:   delivery.DefaultSweepBatchSize,
		SweepConcurrency: delivery.DefaultSweepConcurrency,
		BackoffTable:     delivery.DefaultBackoff,
		MaxResponseBody:  delivery.MaxResponseBody,
		ShutdownTimeout:  30 * time.Second,
	}
}
