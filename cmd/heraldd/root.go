package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/herald"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/store"
	"github.com/xraph/herald/store/memory"
	mongostore "github.com/xraph/herald/store/mongo"
	"github.com/xraph/herald/store/postgres"
	redisstore "github.com/xraph/herald/store/redis"
	"github.com/xraph/herald/store/sqlite"
)

var defaultEnvFiles = []string{".env", ".env.local"}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "heraldd",
		Short:         "Signed webhook delivery daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newSignCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newSecretCmd())
	return cmd
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// openStore connects the configured backend and runs its migrations.
// Redis also provides the cross-process sweep lock.
func openStore(ctx context.Context, cfg *Config) (store.Store, *redisstore.Locker, error) {
	var s store.Store
	switch cfg.Store {
	case "redis":
		opt, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse HERALD_REDIS_URL: %w", err)
		}
		s := redisstore.NewFromClient(goredis.NewClient(opt))
		if err := s.Ping(ctx); err != nil {
			s.Close() //nolint:errcheck // already failing
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return s, s.Locker(cfg.SweepLockTTL), nil
	case "postgres":
		drv := pgdriver.New()
		if err := drv.Open(ctx, cfg.PostgresDSN); err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			drv.Close() //nolint:errcheck // already failing
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		s = postgres.New(db)
	case "sqlite":
		drv := sqlitedriver.New()
		if err := drv.Open(ctx, cfg.SQLiteDSN); err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			drv.Close() //nolint:errcheck // already failing
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		s = sqlite.New(db)
	case "mongo":
		var opts []mongodriver.MongoOption
		if cfg.MongoDatabase != "" {
			opts = append(opts, mongodriver.WithDatabase(cfg.MongoDatabase))
		}
		drv := mongodriver.New()
		if err := drv.Open(ctx, cfg.MongoURI, opts...); err != nil {
			return nil, nil, fmt.Errorf("open mongo: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			drv.Close() //nolint:errcheck // already failing
			return nil, nil, fmt.Errorf("open mongo: %w", err)
		}
		s = mongostore.New(db)
	default:
		return memory.New(), nil, nil
	}

	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck // already failing
		return nil, nil, err
	}
	return s, nil, nil
}

// newHerald builds a Herald over s from cfg.
func newHerald(cfg *Config, s store.Store, locker *redisstore.Locker, reg prometheus.Registerer, logger *slog.Logger) (*herald.Herald, error) {
	opts := []herald.Option{
		herald.WithStore(s),
		herald.WithLogger(logger),
		herald.WithMetrics(observability.NewMetrics(reg)),
		herald.WithTracer(observability.NewTracer()),
		herald.WithProduct(cfg.Product),
		herald.WithSweepInterval(cfg.SweepInterval),
		herald.WithSweepBatchSize(cfg.SweepBatchSize),
		herald.WithSweepConcurrency(cfg.SweepConcurrency),
		herald.WithBackoffTable(cfg.Backoff),
		herald.WithMaxResponseBody(cfg.MaxResponseBody),
		herald.WithShutdownTimeout(cfg.ShutdownTimeout),
		herald.WithTestDeliveryRate(cfg.TestDeliveryRate),
	}
	if locker != nil {
		opts = append(opts, herald.WithSweepLocker(locker))
	}
	return herald.New(opts...)
}
