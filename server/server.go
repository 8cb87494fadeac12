// Package server provides the HTTP surface of the submitter.
//
// The server accepts application description templates, drives their
// lifecycle through the background runner, and reports submission state.
//
// # Endpoints
//
//   - GET  /health - simple health check, returns "ok"
//   - GET  /metrics - Prometheus metrics
//   - GET  /config - current configuration as YAML, credentials redacted
//   - POST /reload - reload configuration from disk
//   - POST /v1.0/app - deploy a new application (translate + execute)
//   - POST /v1.0/validate - check a template against the registered adaptors
//   - GET  /v1.0/apps - list known applications
//   - GET  /v1.0/app/{id} - status of one application
//   - PUT  /v1.0/app/{id} - update a deployed application
//   - DELETE /v1.0/app/{id} - undeploy an application (undeploy + cleanup)
//
// # Architecture
//
// Config-derived dependencies (registry, pipeline) are swapped atomically on
// reload. Each background run builds a fresh orchestrator from the current
// dependencies, so a reload takes effect on the next run without touching
// runs in progress.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/micado-scale/submitter/adaptorclient"
	"github.com/micado-scale/submitter/config"
	"github.com/micado-scale/submitter/logging"
	"github.com/micado-scale/submitter/metrics"
	"github.com/micado-scale/submitter/orchestrator"
	"github.com/micado-scale/submitter/pipeline"
	"github.com/micado-scale/submitter/registry"
	"github.com/micado-scale/submitter/server/cron"
	"github.com/micado-scale/submitter/server/handlers"
	"github.com/micado-scale/submitter/server/runner"
	"github.com/micado-scale/submitter/submission"
	"github.com/micado-scale/submitter/template"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// serverDeps holds config-derived dependencies swapped atomically on reload.
type serverDeps struct {
	config   *config.Config
	registry *registry.Registry
	pipeline *pipeline.Pipeline
}

// Server is the submitter HTTP server.
type Server struct {
	configPath string
	logger     *slog.Logger
	logLevel   *slog.LevelVar
	deps       atomic.Pointer[serverDeps]
	httpServer *http.Server
	runner     *runner.Runner
	store      submission.Store
	scrape     *metrics.ScrapeRegistry
	metrics    *metrics.Submitter
	observers  multiObserver
	trigger    *cron.Trigger
}

// Option configures a Server.
type Option func(*Server) error

// WithStore replaces the default disk-backed submission store.
func WithStore(store submission.Store) Option {
	return func(s *Server) error {
		s.store = store
		return nil
	}
}

// New creates a Server from the config file at the given path.
func New(configPath string, opts ...Option) (*Server, error) {
	logLevel := &slog.LevelVar{}
	logLevel.Set(slog.LevelInfo)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	s := &Server{
		configPath: configPath,
		logger:     logger,
		logLevel:   logLevel,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}
	cfg := s.Config()

	if cfg.Main.Logging.Level != "" {
		level, err := logging.ParseLevel(cfg.Main.Logging.Level)
		if err != nil {
			return nil, err
		}
		logLevel.Set(level)
	}

	if s.store == nil {
		store, err := submission.NewDiskStore(cfg.Server.StateDir, s.logger)
		if err != nil {
			return nil, fmt.Errorf("opening submission store: %w", err)
		}
		s.store = store
	}

	if err := s.initMetrics(cfg); err != nil {
		return nil, err
	}

	s.runner = runner.New(s.logger, s,
		runner.WithHistory(runner.NewMemoryHistory(cfg.Server.HistoryLimit)))

	if !cfg.Maintenance.Disabled {
		trigger, err := cron.New(cfg.Maintenance.SweepSpec, s, s.logger)
		if err != nil {
			return nil, fmt.Errorf("creating maintenance trigger: %w", err)
		}
		s.trigger = trigger
	}

	return s, nil
}

func (s *Server) initMetrics(cfg *config.Config) error {
	scrape, err := metrics.NewScrapeRegistry()
	if err != nil {
		return err
	}
	sub, err := metrics.NewSubmitter(scrape)
	if err != nil {
		return err
	}
	s.scrape = scrape
	s.metrics = sub
	s.observers = multiObserver{sub}

	if cfg.Monitoring.RemoteWriteURL == "" {
		return nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("getting hostname: %w", err)
	}
	push, err := metrics.NewSubmitter(metrics.NewPushRegistry(metrics.PushConfig{
		URL:      cfg.Monitoring.RemoteWriteURL,
		Prefix:   cfg.Monitoring.MetricsPrefix,
		Job:      cfg.Monitoring.JobName,
		Instance: hostname,
	}))
	if err != nil {
		return err
	}
	s.observers = append(s.observers, push)
	return nil
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// SetLogLevel changes the server's log level at runtime.
func (s *Server) SetLogLevel(level slog.Level) {
	s.logLevel.Set(level)
}

// Reload reads the config from disk and rebuilds the registry and pipeline.
func (s *Server) Reload() error {
	cfg, err := config.LoadConfig(s.configPath)
	if err != nil {
		return err
	}
	reg, err := registry.LoadFromConfig(cfg.Adaptors)
	if err != nil {
		return err
	}
	pipe, err := pipeline.Load(cfg.Steps, reg)
	if err != nil {
		return err
	}

	s.deps.Store(&serverDeps{config: &cfg, registry: reg, pipeline: pipe})
	s.logger.Info("configuration loaded",
		"config_path", s.configPath,
		"adaptors", len(reg.All()),
	)
	return nil
}

// Config returns the current configuration.
func (s *Server) Config() *config.Config {
	return s.deps.Load().config
}

// Store returns the submission store. Part of the runner.Provider interface.
func (s *Server) Store() submission.Store {
	return s.store
}

// Orchestrator builds an orchestrator from the current dependencies, with
// adaptor logs captured into the given collector. Part of the
// runner.Provider interface.
func (s *Server) Orchestrator(collector *logging.Collector) (*orchestrator.Orchestrator, error) {
	deps := s.deps.Load()

	opts := []orchestrator.Option{
		orchestrator.WithLogger(s.logger),
		orchestrator.WithStore(s.store),
		orchestrator.WithObserver(s.observers),
	}
	for _, d := range deps.registry.All() {
		adaptorLogger := slog.New(logging.NewCapturingHandler(s.logger.Handler(), collector, d.Name))
		opts = append(opts, orchestrator.WithInvoker(adaptorclient.New(d,
			adaptorclient.WithTimeout(deps.config.Main.AdaptorTimeout),
			adaptorclient.WithLogger(adaptorLogger),
		)))
	}

	return orchestrator.New(deps.registry, deps.pipeline, opts...), nil
}

// ValidateTemplate resolves every entity of the template against the
// registered adaptors without invoking anything. Returns the entity count
// per adaptor.
func (s *Server) ValidateTemplate(tpl *template.Template) (map[string]int, error) {
	deps := s.deps.Load()
	subsets, err := orchestrator.New(deps.registry, deps.pipeline).Partition(tpl)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(subsets))
	for name, subset := range subsets {
		counts[name] = subset.Entities()
	}
	return counts, nil
}

// NextSweep returns the next scheduled sweep time, or nil when the sweep is
// disabled.
func (s *Server) NextSweep() *time.Time {
	if s.trigger == nil {
		return nil
	}
	next := s.trigger.NextRun()
	return &next
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	cfg := s.Config()
	s.httpServer = &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      mux,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}

	useTLS := cfg.Server.TLSCert != ""
	if useTLS {
		loader, err := NewCertLoader(cfg.Server.TLSCert, cfg.Server.TLSKey, s.logger)
		if err != nil {
			return fmt.Errorf("loading tls certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{GetCertificate: loader.GetCertificate}
	}

	if s.trigger != nil {
		s.logger.Info("starting maintenance trigger", "next_run", s.trigger.NextRun())
		s.trigger.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.httpServer.Addr, "tls", useTLS)
		var err error
		if useTLS {
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	deployHandler := handlers.NewDeployHandler(s.store, s.runner)
	updateHandler := handlers.NewUpdateHandler(s.store, s.runner)
	undeployHandler := handlers.NewUndeployHandler(s.store, s.runner)
	statusHandler := handlers.NewStatusHandler(s.store, s.runner)
	listHandler := handlers.NewListHandler(s.store, s.runner)
	validateHandler := handlers.NewValidateHandler(s)
	configHandler := handlers.NewConfigHandler(s)
	reloadHandler := handlers.NewReloadHandler(s.logger, s)
	historyHandler := handlers.NewHistoryHandler(s.runner)

	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.Handle("GET /metrics", s.scrape.Handler())
	mux.Handle("GET /config", configHandler)
	mux.Handle("POST /reload", s.auth(reloadHandler))
	mux.Handle("POST /v1.0/app", s.auth(deployHandler))
	mux.Handle("POST /v1.0/validate", validateHandler)
	mux.Handle("GET /v1.0/apps", listHandler)
	mux.Handle("GET /v1.0/app/{id}", statusHandler)
	mux.Handle("PUT /v1.0/app/{id}", s.auth(updateHandler))
	mux.Handle("DELETE /v1.0/app/{id}", s.auth(undeployHandler))
	mux.Handle("GET /history", historyHandler)
}

// auth guards mutating endpoints with the admin credentials from the
// current config, so reloaded credentials apply immediately.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srvCfg := s.Config().Server
		requireAuth(next, srvCfg.AdminUser, srvCfg.AdminPasswordHash).ServeHTTP(w, r)
	})
}

// multiObserver fans step outcomes out to every configured observer.
type multiObserver []orchestrator.StepObserver

func (m multiObserver) ObserveStep(step pipeline.Step, status submission.Status, d time.Duration) {
	for _, o := range m {
		o.ObserveStep(step, status, d)
	}
}
