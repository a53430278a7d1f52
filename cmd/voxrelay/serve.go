package main

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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/health"
	"github.com/MrWong99/voxrelay/internal/model"
	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/relay"
	"github.com/MrWong99/voxrelay/internal/resilience"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Warm up the model and serve the chat endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configPath, cmd.Flags().Changed("config"), registerBuiltinBackends)
		},
	}
}

// serve runs the relay until ctx is cancelled. register installs the model
// and codec backends the config may name.
func serve(ctx context.Context, configPath string, explicit bool, register func(*config.Registry, config.TokenizerConfig)) error {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(levelFor(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(&level))

	slog.Info("voxrelay starting",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"version", version,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Backends ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	register(reg, cfg.Tokenizer)

	b, err := buildBackends(cfg, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			slog.Warn("model close error", "err", err)
		}
	}()

	guard := model.NewGuard(b.Model)

	// ── Warm-up ───────────────────────────────────────────────────────────────
	// The model is primed before anything listens; a model that cannot warm
	// up is fatal.
	var warm health.Latch
	if err := warmup(ctx, guard, cfg.Model.WarmupFrames, metrics, &warm); err != nil {
		return fmt.Errorf("model warm-up: %w", err)
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "model",
		MaxFailures:  cfg.Breaker.MaxFailures,
		ResetTimeout: cfg.Breaker.ResetTimeout,
		IsFailure:    relay.IsModelFailure,
		OnStateChange: func(_, to resilience.State) {
			metrics.RecordBreakerTransition(ctx, to.String())
		},
	})

	relaySrv := relay.NewServer(relay.ServerConfig{
		Guard:          guard,
		Breaker:        breaker,
		OriginPatterns: cfg.Server.OriginPatterns,
		Session: relay.SessionConfig{
			Codec:         b.Codec,
			Tokenizer:     b.Tokenizer,
			PadID:         cfg.Tokenizer.Pad(),
			EndID:         cfg.Tokenizer.End(),
			WordBoundary:  cfg.Tokenizer.WordBoundary,
			InboundQueue:  cfg.Session.InboundQueue,
			OutboundQueue: cfg.Session.OutboundQueue,
			Metrics:       metrics,
		},
	})

	router := newRouter(cfg, routes{
		Relay:   relaySrv,
		Health:  health.New(warm.Checker("model", "model warming up"), breakerChecker(breaker)),
		Metrics: metrics,
	})

	// ── Startup summary ───────────────────────────────────────────────────────
	fmt.Println(startupSummary(cfg, reg))

	// ── Config hot reload ─────────────────────────────────────────────────────
	if _, statErr := os.Stat(configPath); statErr == nil {
		w, err := config.NewWatcher(configPath, func(old, new *config.Config) {
			applyReload(&level, config.Diff(old, new))
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	scheme := "http"
	if cfg.Server.TLS != nil {
		scheme = "https"
	}
	slog.Info("server ready, press Ctrl+C to shut down",
		"url", scheme+"://"+cfg.Server.ListenAddr+cfg.Server.ChatPath)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping")
	case err := <-errCh:
		runErr = fmt.Errorf("http server: %w", err)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Sessions live on hijacked connections that http.Server.Shutdown does not
	// track, so end them first.
	if err := relaySrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("relay shutdown incomplete", "err", err)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "err", err)
		if runErr == nil {
			runErr = err
		}
	}
	if runErr == nil {
		slog.Info("goodbye")
	}
	return runErr
}

// warmup runs the model warm-up under the guard and opens ready when done.
func warmup(ctx context.Context, guard *model.Guard, frames int, m *observe.Metrics, ready *health.Latch) error {
	lease, err := guard.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	start := time.Now()
	if err := model.Warmup(ctx, lease.Resource(), frames); err != nil {
		return err
	}
	elapsed := time.Since(start)
	m.WarmupDuration.Record(ctx, elapsed.Seconds())
	ready.Open()
	slog.Info("model warmed up", "frames", frames, "duration", elapsed)
	return nil
}

// applyReload applies the hot-reloadable part of a config change.
func applyReload(level *slog.LevelVar, d config.ConfigDiff) {
	if d.LogLevelChanged {
		level.Set(levelFor(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changed, restart to apply", "sections", d.RestartRequired)
	}
}

func breakerChecker(cb *resilience.CircuitBreaker) health.Checker {
	return health.Checker{Name: "breaker", Check: func(context.Context) error {
		if cb.State() == resilience.StateOpen {
			return resilience.ErrCircuitOpen
		}
		return nil
	}}
}

// routes are the handlers mounted by [newRouter].
type routes struct {
	Relay   http.Handler
	Health  *health.Handler
	Metrics *observe.Metrics
}

func newRouter(cfg *config.Config, h routes) chi.Router {
	r := chi.NewRouter()
	r.Use(observe.Middleware(h.Metrics))

	r.Handle(cfg.Server.ChatPath, h.Relay)
	h.Health.Register(r)
	r.Handle(cfg.Telemetry.MetricsPath, promhttp.Handler())

	if dir := cfg.Server.StaticDir; dir != "" {
		r.Handle("/*", http.FileServer(http.Dir(dir)))
	}
	return r
}
