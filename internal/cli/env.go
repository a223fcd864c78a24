package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/evactor/internal/actor"
	"github.com/roach88/evactor/internal/actors"
	"github.com/roach88/evactor/internal/cache"
	"github.com/roach88/evactor/internal/config"
	"github.com/roach88/evactor/internal/ir"
	"github.com/roach88/evactor/internal/runtime"
	"github.com/roach88/evactor/internal/store"
	"github.com/roach88/evactor/internal/telemetry"
)

// env is an opened runtime with everything it depends on.
type env struct {
	cfg     config.Config
	logger  *slog.Logger
	runtime *runtime.Runtime

	store    *store.Store
	cache    *cache.Cache
	shutdown func(context.Context) error
}

// loadConfig reads the configuration and applies flag overrides.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return config.Config{}, err
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	if o.ActorsDir != "" {
		cfg.ActorsDir = o.ActorsDir
	}
	return cfg, nil
}

// newLogger builds the process logger on w. Verbose output enables debug
// records.
func newLogger(w io.Writer, format string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// openEnv assembles the runtime described by the configuration and flags.
// Callers must Close the result.
func openEnv(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*env, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.LogFormat, opts.Verbose)

	e := &env{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = e.Close()
		}
	}()

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = ir.RuntimeVersion
	tcfg.TraceExporter = cfg.Trace
	tcfg.Writer = cmd.ErrOrStderr()
	e.shutdown, err = telemetry.Setup(ctx, tcfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up tracing", err)
	}

	defs, err := actors.Load(cfg.ActorsDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load actors", err)
	}
	reg, err := actor.NewRegistry(defs...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to register actors", err)
	}

	logger.Debug("opening database", "path", cfg.Database)
	e.store, err = store.Open(cfg.Database, store.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to open database", err)
	}

	ccfg := cache.InMemoryConfig()
	if cfg.CacheDir != "" {
		ccfg = cache.DefaultConfig()
		ccfg.Path = cfg.CacheDir
	}
	ccfg.TTL = cfg.CacheTTL
	ccfg.Logger = logger
	e.cache, err = cache.Open(ccfg)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to open cache", err)
	}

	e.runtime = runtime.New(reg, e.store, e.store,
		runtime.WithActorCache(e.cache),
		runtime.WithEventCache(e.cache),
		runtime.WithSearch(e.store),
		runtime.WithNodeID(cfg.NodeID),
		runtime.WithSlots(cfg.Slots),
		runtime.WithWorkers(cfg.Workers),
		runtime.WithLogger(logger),
	)
	logger.Debug("runtime ready", "actors", reg.Types(), "node", cfg.NodeID)

	ok = true
	return e, nil
}

// Close waits for background indexing and releases every resource.
func (e *env) Close() error {
	var errs []error
	if e.runtime != nil {
		e.runtime.Wait()
	}
	if e.cache != nil {
		errs = append(errs, e.cache.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	if e.shutdown != nil {
		errs = append(errs, e.shutdown(context.Background()))
	}
	return errors.Join(errs...)
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
