// Package store defines the composite Store interface for all Herald persistence.
//
// Each subsystem defines its own store interface and the aggregate Store
// composes them, so a backend implements one type for everything.
package store

import (
	"context"

	"github.com/xraph/herald/attempt"
	"github.com/xraph/herald/subscription"
)

// Store is the aggregate persistence interface.
type Store interface {
	subscription.Store
	attempt.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
