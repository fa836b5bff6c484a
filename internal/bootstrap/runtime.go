package bootstrap

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/imc400/tuka-backend/pkg/config"
	"github.com/imc400/tuka-backend/pkg/db"
	"github.com/imc400/tuka-backend/pkg/logger"
	"github.com/imc400/tuka-backend/pkg/migrate"
	"github.com/imc400/tuka-backend/pkg/redis"
)

// RuntimeOptions selects what a binary needs opened before it wires services.
type RuntimeOptions struct {
	Service string
	Redis   bool
}

// Runtime holds the config, logger and connections shared by one process.
type Runtime struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	Redis  *redis.Client

	closers []func() error
}

// Open loads configuration, builds the service logger, connects to the
// database (running dev migrations when enabled) and optionally to Redis.
// Failures are logged before they are returned.
func Open(ctx context.Context, opts RuntimeOptions) (*Runtime, error) {
	boot := logger.New(logger.Options{ServiceName: opts.Service})
	if err := godotenv.Load(); err != nil {
		boot.Debug(ctx, ".env not loaded, using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		boot.Error(ctx, "config.load.failed", err)
		return nil, err
	}
	cfg.Service.Kind = opts.Service

	rt := &Runtime{
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: opts.Service,
			Env:         cfg.App.Env,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
		}),
	}

	if err := rt.open(ctx, opts); err != nil {
		rt.Logger.Error(ctx, "runtime.open.failed", err)
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) open(ctx context.Context, opts RuntimeOptions) error {
	dbClient, err := db.New(ctx, rt.Config.DB, rt.Logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	rt.DB = dbClient
	rt.closers = append(rt.closers, dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, rt.Config, rt.Logger, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	if !opts.Redis {
		return nil
	}
	redisClient, err := redis.New(ctx, rt.Config.Redis, rt.Logger)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	rt.Redis = redisClient
	rt.closers = append(rt.closers, redisClient.Close)
	return nil
}

// OnClose registers fn to run during Close, before anything opened earlier.
func (rt *Runtime) OnClose(fn func() error) {
	rt.closers = append(rt.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var errs error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errs
}
