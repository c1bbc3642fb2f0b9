package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/simclock"
	"github.com/nerdsane/deep-sci-fi-sub003/internal/world"
	"github.com/nerdsane/deep-sci-fi-sub003/internal/world/api"
	"github.com/nerdsane/deep-sci-fi-sub003/internal/world/store"
)

// ServeConfig is the environment configuration for the production server.
// Flags override environment values when set.
type ServeConfig struct {
	Addr        string        `env:"DSIM_ADDR" envDefault:":8080"`
	Database    string        `env:"DSIM_DB" envDefault:"world.db"`
	DedupTTL    time.Duration `env:"DSIM_DEDUP_TTL" envDefault:"24h"`
	ShutdownMax time.Duration `env:"DSIM_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	Database string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the world service",
		Long: `Run the world service over HTTP with the system clock and random IDs.
The simulation control surface (/sim/...) is not mounted.

Configuration comes from DSIM_* environment variables; --addr and --db
override them.

Example:
  dsim serve --addr :8080 --db ./world.db
  DSIM_DEDUP_TTL=1h dsim serve`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides DSIM_ADDR)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides DSIM_DB)")

	return cmd
}

func serve(opts *ServeOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := env.ParseAs[ServeConfig]()
	if err != nil {
		return WrapExitError(ExitCommandError, "parse environment", err)
	}
	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	clock := simclock.SystemClock{}
	slog.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database, clock)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	srv := api.New(st, clock, world.UUIDGenerator{}, nil, logger, api.Config{
		DedupTTL: cfg.DedupTTL,
	})
	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

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

	errChan := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", cfg.Addr, "dedup_ttl", cfg.DedupTTL)
		errChan <- httpSrv.ListenAndServe()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "World service listening on %s. Press Ctrl-C to stop.\n", cfg.Addr)

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitCommandError, "server error", err)
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownMax)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return WrapExitError(ExitCommandError, "shutdown", err)
		}
	}

	slog.Info("server stopped gracefully")
	return nil
}
