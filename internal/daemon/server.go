package daemon

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"go.uber.org/zap"

	"github.com/loomworks/loom/internal/agent"
	"github.com/loomworks/loom/internal/audit"
	"github.com/loomworks/loom/internal/config"
	"github.com/loomworks/loom/internal/history"
	"github.com/loomworks/loom/internal/llm/configbuilder"
	"github.com/loomworks/loom/internal/observability"
	agentrpc "github.com/loomworks/loom/internal/rpc/agent"
	toolrpc "github.com/loomworks/loom/internal/rpc/tools"
	"github.com/loomworks/loom/internal/schedule"
	"github.com/loomworks/loom/internal/semantic"
	"github.com/loomworks/loom/internal/tools"
	"github.com/loomworks/loom/internal/watchdog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server hosts the daemon endpoints: health, metrics, tool schemas and
// the agent run stream.
type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	runner     agentrpc.Runner
	metrics    *observability.Metrics
	tools      *tools.Registry
	auditStore audit.Store
}

// NewServer wires the full engine stack from configuration.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	registry, err := configbuilder.BuildRegistryFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	metrics := observability.NewMetrics()

	sandbox, err := tools.NewSandbox(cfg.Sandbox.WorkingDir, cfg.Sandbox, cfg.Tools)
	if err != nil {
		return nil, fmt.Errorf("build sandbox: %w", err)
	}
	var index *semantic.Engine
	if cfg.Tools.EnableIndex {
		index = semantic.NewEngine(sandbox.FS, cfg.Tools.IndexMaxFiles, cfg.Tools.IndexMaxFileBytes)
	}
	toolRegistry := sandbox.BuildRegistry(index)

	var auditStore audit.Store
	var recorder *audit.Recorder
	if cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		auditStore = store
		recorder = audit.NewRecorder(store, logger.Named("audit"))
	} else {
		recorder = audit.NewRecorder(nil, logger.Named("audit"))
	}

	executor := tools.NewExecutor(
		toolRegistry,
		schedule.NewScheduler(cfg.Scheduler.ReadSlots),
		watchdog.New(),
		tools.ExecutorOptions{
			Metrics:               metrics,
			Audit:                 recorder,
			Logger:                logger.Named("tools"),
			DefaultTimeoutSeconds: cfg.Watchdog.TimeoutSeconds,
			ProgressEventsPerSec:  float64(cfg.Tools.ProgressEventsPerSec),
		},
	)

	strategy := agent.NewStrategyEngine(registry, cfg.Strategy)
	gateway := agent.NewGateway(strategy, agent.GatewayOptions{
		Index:   index,
		Metrics: metrics,
		Logger:  logger.Named("gateway"),
	})
	engine := agent.New(agent.Options{
		Gateway:  gateway,
		Executor: executor,
		Store:    history.NewStore(),
		Metrics:  metrics,
		Audit:    recorder,
		Logger:   logger.Named("agent"),
		Loop:     cfg.Loop,
		Phases:   cfg.Phases,
		History:  cfg.History,
	})
	runner := &agentrpc.EngineRunner{Engine: engine, Files: sandbox.FS, Logger: logger.Named("rpc")}

	return &Server{
		cfg:        cfg,
		logger:     logger,
		runner:     runner,
		metrics:    metrics,
		tools:      toolRegistry,
		auditStore: auditStore,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (s *Server) Run(ctx context.Context) error {
	defer s.closeAudit()

	server := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.buildHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting loom daemon", zap.String("addr", s.cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down loom daemon")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)
	mux.Handle("/tools/schemas", toolrpc.SchemaHandler{Registry: s.tools})
	// legacy NDJSON path stays routable under every transport so older
	// clients keep working during migration
	mux.Handle("/agent/run", agentrpc.NewHandler(s.runner, s.metrics))

	transport := strings.ToLower(strings.TrimSpace(s.cfg.Server.Transport))
	if transport == "ndjson" {
		return mux
	}

	path, handler := agentrpc.NewConnectHandler(s.runner, s.metrics)
	mux.Handle(path, handler)
	return h2c.NewHandler(mux, &http2.Server{})
}

func (s *Server) closeAudit() {
	if s.auditStore == nil {
		return
	}
	if err := s.auditStore.Close(); err != nil {
		s.logger.Warn("closing audit store", zap.Error(err))
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Server.MetricsEnabled {
		http.NotFound(w, r)
		return
	}

	promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
