package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/offsync/internal/api"
	"github.com/bft-labs/offsync/internal/api/http/route"
	"github.com/bft-labs/offsync/internal/cliconfig"
	"github.com/bft-labs/offsync/pkg/log"
	"github.com/bft-labs/offsync/pkg/offsync"
	"github.com/bft-labs/offsync/plugins/policywatcher"
)

const helpDescription = `
Keep an app usable offline: writes are queued durably on this machine and
delivered to the remote in order once it is reachable again, and reads are
answered from a local cache when the network is not.

The daemon serves three things on --listen:
  - /v1/...     a control API (enqueue, queue inspection, resync, cache)
  - /metrics    Prometheus metrics
  - everything else is proxied to --remote-url through the offline cache
`

var exampleUsage = strings.TrimSpace(`
  offsync --remote-url https://api.example.com
  offsync --config $HOME/.offsync/config.toml --once
  offsync queue --pending
  offsync prune --retention 1h
`)

const shutdownTimeout = 10 * time.Second

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return offsync.Version
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	logger := cliconfig.Logger()

	// loadConfig layers file, then environment, then explicitly set flags.
	loadConfig := func(cmd *cobra.Command) error {
		cfgFile := cfgPath
		if cfgFile == "" {
			cfgFile = cliconfig.DefaultConfigPath()
		}

		changed := map[string]bool{}
		cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

		if cfgFile != "" && cliconfig.FileExists(cfgFile) {
			fc, err := cliconfig.LoadFileConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
				return err
			}
		}

		if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
			return err
		}

		if err := cfg.Validate(); err != nil {
			return err
		}

		logger = cliconfig.NewLogger(cfg)

		logCfg := cfg
		if len(logCfg.AuthKey) > 0 {
			logCfg.AuthKey = "*****"
		}
		logger.Debug().Interface("config", logCfg).Msg("configuration")
		return nil
	}

	root := &cobra.Command{
		Use:           "offsync",
		Short:         "Offline-first sync daemon: durable outbound queue and read-through cache",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Once {
				return runOnce(cfg, logger)
			}
			return runDaemon(cfg, logger)
		},
	}

	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Print queued items from the local store as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			pending, _ := cmd.Flags().GetBool("pending")
			quarantined, _ := cmd.Flags().GetBool("quarantined")
			return printQueue(cmd.Context(), cfg, logger, pending, quarantined)
		},
	}
	queueCmd.Flags().Bool("pending", false, "only items the next pass will attempt")
	queueCmd.Flags().Bool("quarantined", false, "only items set aside after repeated rejections")

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete delivered items older than --retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			return prune(cmd.Context(), cfg, logger)
		},
	}

	root.AddCommand(queueCmd, pruneCmd)

	flags := root.PersistentFlags()
	flags.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.offsync/config.toml)")
	flags.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory holding the local database")
	flags.StringVar(&cfg.RemoteURL, "remote-url", cfg.RemoteURL, "base URL of the remote API")
	flags.StringVar(&cfg.AuthKey, "auth-key", cfg.AuthKey, "bearer token sent with deliveries")
	flags.StringVar(&cfg.Listen, "listen", cfg.Listen, "address for the proxy, control API and metrics")

	flags.StringVar(&cfg.ProbeURL, "probe-url", cfg.ProbeURL, "URL probed for reachability (defaults to remote-url)")
	flags.DurationVar(&cfg.ProbeInterval, "probe-interval", cfg.ProbeInterval, "reachability probe interval (0 disables probing)")
	flags.DurationVar(&cfg.SyncInterval, "sync-interval", cfg.SyncInterval, "interval between reconciliation passes while online")
	flags.DurationVar(&cfg.DeliveryTimeout, "delivery-timeout", cfg.DeliveryTimeout, "timeout for one delivery attempt")
	flags.DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "HTTP timeout for proxied and fetched requests")
	flags.IntVar(&cfg.PoisonThreshold, "poison-threshold", cfg.PoisonThreshold, "rejections before an item is quarantined (0 never quarantines)")

	flags.DurationVar(&cfg.Retention, "retention", cfg.Retention, "how long delivered items are kept")
	flags.DurationVar(&cfg.PruneInterval, "prune-interval", cfg.PruneInterval, "how often delivered items are pruned")

	flags.StringVar(&cfg.PolicyFile, "policy", cfg.PolicyFile, "interception policy file (YAML), reloaded on change")
	flags.StringSliceVar(&cfg.Precache, "precache", cfg.Precache, "paths fetched into the cache on start")
	flags.StringToStringVar(&cfg.Endpoints, "endpoint", cfg.Endpoints, "delivery path per item kind, e.g. message=/api/sync-message")
	flags.StringSliceVar(&cfg.CORSOrigins, "cors-origin", cfg.CORSOrigins, "browser origins allowed to call the control API")

	flags.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "also write JSON logs to this rotating file")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.BoolVar(&cfg.Metrics, "metrics", cfg.Metrics, "serve Prometheus metrics on /metrics")
	root.Flags().BoolVar(&cfg.Once, "once", cfg.Once, "run one reconciliation pass and exit")

	if err := root.Execute(); err != nil {
		logger.Error().Err(err).Msg("offsync")
		os.Exit(1)
	}
}

func newEngine(cfg cliconfig.Config, logger zerolog.Logger, extra ...offsync.Option) (*offsync.Engine, log.Logger, error) {
	adapter := log.NewZerologAdapterWithLogger(logger)

	libCfg := offsync.Config{
		DataDir:         cfg.DataDir,
		RemoteURL:       cfg.RemoteURL,
		AuthKey:         cfg.AuthKey,
		Endpoints:       cfg.Endpoints,
		ProbeURL:        cfg.ProbeURL,
		ProbeInterval:   cfg.ProbeInterval,
		SyncInterval:    cfg.SyncInterval,
		DeliveryTimeout: cfg.DeliveryTimeout,
		HTTPTimeout:     cfg.HTTPTimeout,
		PoisonThreshold: cfg.PoisonThreshold,
	}

	opts := []offsync.Option{
		offsync.WithLogger(adapter),
		offsync.WithPruneConfig(offsync.PruneConfig{
			Enabled:   true,
			Retention: cfg.Retention,
			Interval:  cfg.PruneInterval,
		}),
	}
	if cfg.Metrics {
		opts = append(opts, offsync.WithMetrics())
	}
	if cfg.PolicyFile != "" {
		opts = append(opts, offsync.WithPolicy(cfg.PolicyFile))
	}
	opts = append(opts, extra...)

	e, err := offsync.New(libCfg, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create engine: %w", err)
	}
	return e, adapter, nil
}

func runDaemon(cfg cliconfig.Config, logger zerolog.Logger) error {
	opts := []offsync.Option{offsync.WithPrecache(cfg.Precache...)}
	if cfg.PolicyFile != "" {
		opts = append(opts, policywatcher.WithPolicyWatcher(policywatcher.DefaultConfig()))
	}

	engine, adapter, err := newEngine(cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: api.New(engine, adapter, route.Config{
			CORSOrigins: cfg.CORSOrigins,
			Metrics:     cfg.Metrics,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Listen).Str("remote", cfg.RemoteURL).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("received signal, stopping...")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server shutdown")
	}

	if err := engine.Stop(); err != nil && !errors.Is(err, offsync.ErrNotRunning) {
		return fmt.Errorf("stop engine: %w", err)
	}
	return nil
}

// runOnce delivers what is pending in a single pass and exits.
func runOnce(cfg cliconfig.Config, logger zerolog.Logger) error {
	engine, _, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	res, err := engine.ForceResync(ctx)
	if stopErr := engine.Stop(); stopErr != nil {
		logger.Warn().Err(stopErr).Msg("stop engine")
	}
	if err != nil {
		return fmt.Errorf("resync: %w", err)
	}

	logger.Info().
		Int("attempted", res.Attempted).
		Int("delivered", res.Delivered).
		Int("failed", res.Failed).
		Int("quarantined", res.Quarantined).
		Dur("duration", res.Duration).
		Msg("pass complete")
	if res.Systemic() {
		return res.Err
	}
	return nil
}

func printQueue(ctx context.Context, cfg cliconfig.Config, logger zerolog.Logger, pending, quarantined bool) error {
	engine, _, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	var items any
	switch {
	case pending:
		items, err = engine.Pending(ctx)
	case quarantined:
		items, err = engine.Quarantined(ctx)
	default:
		items, err = engine.Items(ctx)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

func prune(ctx context.Context, cfg cliconfig.Config, logger zerolog.Logger) error {
	engine, _, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	n, err := engine.Prune(ctx)
	if err != nil {
		return err
	}
	logger.Info().Int64("pruned", n).Dur("retention", cfg.Retention).Msg("prune complete")
	return nil
}
