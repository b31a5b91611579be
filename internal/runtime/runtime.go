package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-announcer/internal/bus"
	"github.com/loqalabs/loqa-announcer/internal/config"
	"github.com/loqalabs/loqa-announcer/internal/format"
	"github.com/loqalabs/loqa-announcer/internal/history"
	"github.com/loqalabs/loqa-announcer/internal/ingest"
	"github.com/loqalabs/loqa-announcer/internal/natsserver"
	"github.com/loqalabs/loqa-announcer/internal/orchestrator"
	"github.com/loqalabs/loqa-announcer/internal/settings"
)

const shutdownTimeout = 10 * time.Second

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	telemetryStop func(context.Context) error
	metrics       http.Handler
	ready         atomic.Bool
	wg            sync.WaitGroup

	nats     *natsserver.EmbeddedServer
	bus      *bus.Client
	history  *history.Store
	settings settings.Provider
	player   io.Closer
	orch     *orchestrator.Orchestrator
	ingest   *ingest.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires every component, serves HTTP and blocks until ctx is done.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryStop = stopTelemetry
	r.metrics = metricsHandler

	if err := r.startComponents(ctx); err != nil {
		cancel()
		r.shutdown()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if r.metrics != nil {
		mux.Handle(r.cfg.Telemetry.PrometheusPath, r.metrics)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	r.shutdown()
	return nil
}

func (r *Runtime) startComponents(ctx context.Context) error {
	provider, err := r.openSettings(ctx)
	if err != nil {
		return err
	}
	r.settings = provider

	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		ns, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return err
		}
		r.nats = ns
		busCfg.Servers = []string{ns.ClientURL()}
	}
	r.bus, err = bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}

	r.history, err = history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if _, err := r.history.BeginSession(ctx); err != nil {
		r.logger.Warn("failed to start history session", slogError(err))
	}

	buf, player, err := OpenBuffer(r.cfg, r.bus, r.logger)
	if err != nil {
		return err
	}
	r.player = player

	adapters, err := BuildEngines(ctx, r.cfg, buf, r.logger)
	if err != nil {
		return err
	}

	var svc *ingest.Service
	r.orch = orchestrator.New(provider, format.New(r.logger), adapters, orchestrator.Options{
		Grace:           time.Duration(r.cfg.Orchestrator.GraceMS) * time.Millisecond,
		ShutdownTimeout: time.Duration(r.cfg.Orchestrator.ShutdownTimeoutMS) * time.Millisecond,
		Recorder:        r.history,
		OnResult: func(res orchestrator.Result) {
			if svc != nil {
				svc.PublishResult(res)
			}
		},
	}, r.logger)
	svc = ingest.NewService(ctx, r.cfg.Ingest, r.bus, r.orch, r.logger)
	r.ingest = svc

	if err := r.orch.Start(ctx); err != nil {
		return err
	}
	if err := r.ingest.Start(); err != nil {
		return fmt.Errorf("start ingest: %w", err)
	}
	return nil
}

func (r *Runtime) openSettings(ctx context.Context) (settings.Provider, error) {
	if r.cfg.Settings.Path == "" {
		r.logger.Info("no settings file configured, using defaults")
		return settings.NewStatic(settings.Default()), nil
	}
	fp, err := settings.NewFileProvider(r.cfg.Settings.Path, r.logger)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if r.cfg.Settings.Watch {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := fp.Watch(ctx); err != nil {
				r.logger.Warn("settings watch stopped", slogError(err))
			}
		}()
	}
	return fp, nil
}

// shutdown releases components in reverse start order. Safe on partial starts.
func (r *Runtime) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slogError(err))
		}
	}
	if r.ingest != nil {
		r.ingest.Close()
	}
	if r.orch != nil {
		if err := r.orch.Close(); err != nil {
			r.logger.Warn("orchestrator shutdown error", slogError(err))
		}
	}
	if r.player != nil {
		if err := r.player.Close(); err != nil {
			r.logger.Warn("audio device close error", slogError(err))
		}
	}
	if r.history != nil {
		if err := r.history.Close(); err != nil {
			r.logger.Warn("history close error", slogError(err))
		}
	}
	r.bus.Close()
	r.nats.Shutdown()
	r.wg.Wait()

	if r.telemetryStop != nil {
		if err := r.telemetryStop(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.isReady() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) isReady() bool {
	if !r.ready.Load() {
		return false
	}
	if r.orch != nil && !r.orch.Healthy() {
		return false
	}
	if r.bus != nil && !r.bus.Healthy() {
		return false
	}
	if r.ingest != nil && !r.ingest.Healthy() {
		return false
	}
	return true
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
