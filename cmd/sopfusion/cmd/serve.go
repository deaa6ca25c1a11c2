package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/sopfusion/internal/config"
	"github.com/Aman-CERP/sopfusion/internal/logging"
	"github.com/Aman-CERP/sopfusion/internal/mcp"
	"github.com/Aman-CERP/sopfusion/internal/search"
	"github.com/Aman-CERP/sopfusion/internal/store"
	"github.com/Aman-CERP/sopfusion/internal/telemetry"
	"github.com/Aman-CERP/sopfusion/internal/watcher"
)

type serveOptions struct {
	transport   string
	watch       bool
	metricsAddr string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol server over stdio.

Tools: retrieve_sops, match_cases (when case_match.cases_path is set) and
index_status. Resources: sop://{id} and, with telemetry, query metrics.

Stdout carries JSON-RPC, so logs go to ~/.sopfusion/logs/server.log.

With --watch the corpus and case files are reindexed when they change;
requests keep being served from the previous index while rebuilding.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "", "Transport: stdio (default from config)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Reindex when the corpus or case file changes")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus /metrics on this address")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts serveOptions) error {
	logger, cleanup, err := serverLogger()
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := loadApp(ctx, logger)
	if err != nil {
		logger.Error("failed to load configuration", slog.String("error", err.Error()))
		return err
	}
	defer func() { _ = a.Close() }()

	cfg := a.cfg
	if opts.transport != "" {
		cfg.Server.Transport = opts.transport
	}
	if opts.metricsAddr != "" {
		cfg.Server.MetricsAddr = opts.metricsAddr
	}
	watch := opts.watch || cfg.Corpus.Watch

	// Only the holder of the index lock persists vectors.
	lock := store.NewIndexLock(a.dataDir())
	persist := lock.TryLock() == nil
	if persist {
		defer func() { _ = lock.Unlock() }()
	} else {
		logger.Info("index lock held elsewhere, serving without persisting vectors",
			slog.String("data_dir", a.dataDir()))
	}

	tel, err := newTelemetry(a)
	if err != nil {
		return err
	}
	defer tel.Close(logger)

	engine, err := a.newEngine(ctx, persist, search.WithMetrics(tel.recorder()))
	if err != nil {
		logger.Error("failed to build index", slog.String("error", err.Error()))
		return err
	}
	defer func() { _ = engine.Close() }()

	serverOpts := []mcp.ServerOption{mcp.WithLogger(logger), mcp.WithQueryMetrics(tel.queries)}
	matcher, err := a.newMatcher(ctx)
	if err != nil {
		logger.Warn("case corpus unavailable, match_cases disabled", slog.String("error", err.Error()))
	} else if matcher != nil {
		serverOpts = append(serverOpts, mcp.WithCaseMatcher(matcher))
	}
	defer func() {
		if matcher != nil {
			_ = matcher.Close()
		}
	}()

	server, err := mcp.NewServer(engine, cfg, serverOpts...)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if tel.prometheus != nil {
		startMetricsServer(gctx, g, cfg.Server.MetricsAddr, tel.prometheus, logger)
	}

	if watch {
		debounce := config.Duration(cfg.Corpus.WatchDebounce, watcher.DefaultOptions().DebounceWindow)
		if err := watchFile(gctx, g, a.corpusPath(), debounce, engine.Reindex, logger); err != nil {
			return err
		}
		if casesPath := a.resolve(cfg.CaseMatch.CasesPath); casesPath != "" {
			reloadCases := func(ctx context.Context) error {
				m, err := a.newMatcher(ctx)
				if err != nil {
					return err
				}
				server.SetCaseMatcher(m)
				if matcher != nil {
					_ = matcher.Close()
				}
				matcher = m
				return nil
			}
			if err := watchFile(gctx, g, casesPath, debounce, reloadCases, logger); err != nil {
				return err
			}
		}
	}

	serveErr := server.Serve(gctx, cfg.Server.Transport)
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("background task stopped with error", slog.String("error", err.Error()))
	}
	if errors.Is(serveErr, context.Canceled) {
		return nil
	}
	return serveErr
}

// serverLogger returns the file logger for stdio serving. Under --debug the
// already installed debug logger is reused.
func serverLogger() (*slog.Logger, func(), error) {
	if debugMode {
		return slog.Default(), func() {}, nil
	}
	level := "info"
	if cfg, err := config.Load(projectDir); err == nil {
		level = cfg.Server.LogLevel
	}
	logger, cleanup, err := logging.Setup(logging.StdioServerConfig(level))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	prev := slog.Default()
	slog.SetDefault(logger)
	return logger, func() {
		slog.SetDefault(prev)
		cleanup()
	}, nil
}

// telemetrySet holds the optional recorders wired into the engine.
type telemetrySet struct {
	queries    *telemetry.QueryMetrics
	store      *telemetry.SQLiteStore
	prometheus *telemetry.PrometheusRecorder
}

func newTelemetry(a *app) (*telemetrySet, error) {
	t := &telemetrySet{}

	var backing telemetry.Store
	if path := a.resolve(a.cfg.Server.TelemetryDB); path != "" {
		s, err := telemetry.OpenSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		t.store = s
		backing = s
	}
	t.queries = telemetry.NewQueryMetrics(backing, telemetry.DefaultConfig())

	if a.cfg.Server.MetricsAddr != "" {
		t.prometheus = telemetry.NewPrometheusRecorder()
	}
	return t, nil
}

func (t *telemetrySet) recorder() telemetry.Recorder {
	if t.prometheus == nil {
		return t.queries
	}
	return telemetry.MultiRecorder{t.queries, t.prometheus}
}

// Close flushes query metrics and closes the telemetry database.
func (t *telemetrySet) Close(logger *slog.Logger) {
	if err := t.queries.Close(); err != nil {
		logger.Warn("failed to flush query metrics", slog.String("error", err.Error()))
	}
	if t.store != nil {
		_ = t.store.Close()
	}
}

func startMetricsServer(ctx context.Context, g *errgroup.Group, addr string, rec *telemetry.PrometheusRecorder, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		logger.Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// watchFile reindexes through fn whenever path changes.
func watchFile(ctx context.Context, g *errgroup.Group, path string, debounce time.Duration, fn watcher.ReindexFunc, logger *slog.Logger) error {
	opts := watcher.DefaultOptions()
	opts.DebounceWindow = debounce
	w, err := watcher.NewFileWatcher([]string{path}, opts)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	logger = logger.With(slog.String("path", path))
	g.Go(func() error {
		defer func() { _ = w.Stop() }()
		if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := watcher.Run(ctx, w.Events(), fn, logger)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	logger.Info("watching for changes", slog.String("mode", w.Mode()))
	return nil
}
