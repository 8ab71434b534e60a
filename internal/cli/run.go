package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/lumehq/reflex/internal/accessor"
	"github.com/lumehq/reflex/internal/engine"
	"github.com/lumehq/reflex/internal/gate"
	"github.com/lumehq/reflex/internal/metrics"
	"github.com/lumehq/reflex/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config string

	// IDGenerator overrides the proxy id generator (for testing).
	IDGenerator engine.IDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <config-dir>",
		Short: "Start the engine with compiled domain configurations",
		Long: `Start the reflex engine.

Domains are compiled from the CUE configuration directory and written
to the domain registry. Unprocessed journal entries are re-enqueued,
then the three worker loops (events, field operations, node
evaluations) start.

Example:
  reflex run --config ./reflex.yaml ./domains
  reflex run --config /etc/reflex/prod.yaml ./domains --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML runtime config (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runEngine(opts *RunOptions, configDir string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := LoadRuntimeConfig(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load runtime config", err)
	}

	slog.Info("compiling domains", "dir", configDir)
	loadResult, loadErrors := LoadDomains(configDir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return WrapExitError(ExitCommandError, "failed to compile domains", loadErrors[0])
	}
	slog.Info("domains compiled", "count", len(loadResult.Domains))

	slog.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	for _, d := range loadResult.Domains {
		if err := st.PutDomain(ctx, d); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to register domain %s", d.DomainID), err)
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			slog.Error("error closing redis client", "error", closeErr)
		}
	}()
	if err := client.Ping(ctx).Err(); err != nil {
		return WrapExitError(ExitCommandError, "failed to reach redis", err)
	}

	reg := accessor.NewRegistry(st, accessor.NewCaseAccessor(
		unavailableCaseClient{}, accessor.DefaultRetryPolicy(),
	))
	m := metrics.New()

	var engineOpts []engine.Option
	if opts.IDGenerator != nil {
		engineOpts = append(engineOpts, engine.WithIDGenerator(opts.IDGenerator))
	}
	if cfg.MaxAttempts > 0 {
		engineOpts = append(engineOpts, engine.WithMaxAttempts(cfg.MaxAttempts))
	}
	if backoff, err := cfg.RetryBackoffDuration(); err == nil && backoff > 0 {
		engineOpts = append(engineOpts, engine.WithRetryBackoff(func(attempt int) time.Duration {
			return backoff << attempt
		}))
	}

	eng := engine.New(st, gate.New(client), reg, m, engineOpts...)

	if err := eng.Recover(ctx); err != nil {
		return WrapExitError(ExitFailure, "journal recovery failed", err)
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, m)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("engine starting", "db", cfg.Database, "config_dir", configDir)
	fmt.Fprintln(cmd.OutOrStdout(), "Engine started. Press Ctrl-C to stop.")

	if err := eng.Run(ctx); err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	slog.Info("engine stopped gracefully")
	return nil
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	slog.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("metrics server failed", "error", err)
	}
}

// unavailableCaseClient stands in when no case transport is configured.
// Reads fail terminally instead of retrying against nothing.
type unavailableCaseClient struct{}

func (unavailableCaseClient) GetCase(ctx context.Context, id string) (map[string]any, error) {
	return nil, fmt.Errorf("case %s: %w", id, accessor.ErrUnimplemented)
}
