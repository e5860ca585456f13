package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/foxzi/backoffice/internal/backend"
	"github.com/foxzi/backoffice/internal/config"
	"github.com/foxzi/backoffice/internal/metrics"
	"github.com/foxzi/backoffice/internal/session"
	"github.com/foxzi/backoffice/internal/web/handlers"
	"github.com/foxzi/backoffice/internal/web/middleware"
	"github.com/foxzi/backoffice/internal/web/static"
	"github.com/foxzi/backoffice/internal/web/views"
	"github.com/foxzi/backoffice/internal/web/workspace"
)

// sweepInterval is how often idle workspaces are dropped.
const sweepInterval = time.Minute

type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	sessions *session.BoltDB
	registry *workspace.Registry
	client   *backend.Client
	views    *views.Engine
	metrics  *metrics.Metrics
	http     *http.Server

	metricsServer *metrics.Server
	collector     *metrics.Collector
}

func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	// Open session storage
	sessions, err := session.OpenBolt(cfg.Session.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session storage: %w", err)
	}

	// Initialize views
	viewEngine, err := views.New()
	if err != nil {
		sessions.Close()
		return nil, fmt.Errorf("failed to initialize views: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		sessions: sessions,
		registry: workspace.NewRegistry(cfg.Session.TTL, logger),
		client: backend.NewClient(cfg.Backend.BaseURL, nil,
			backend.WithTimeout(cfg.Backend.Timeout),
			backend.WithLoginPath(cfg.Backend.LoginPath),
			backend.WithLogger(logger),
		),
		views: viewEngine,
	}

	if cfg.Metrics.Enabled {
		s.metrics = metrics.New()
		metrics.SetGlobal(s.metrics)
		s.collector = metrics.NewCollector(s.metrics, sessions, cfg.Session.Path, 0)
		if cfg.Metrics.ListenAddr != "" {
			exporter := metrics.NewExporter(s.metrics, cfg.Metrics.AllowedIPs, logger)
			s.metricsServer = metrics.NewServer(exporter, cfg.Metrics.ListenAddr, cfg.Metrics.Path, logger)
		}
	}

	s.http = &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      s.setupRoutes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// Handler returns the console's root handler.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) setupRoutes() http.Handler {
	h := handlers.New(handlers.Deps{
		Config:   s.cfg,
		Logger:   s.logger,
		Views:    s.views,
		Client:   s.client,
		Registry: s.registry,
		Sessions: s.sessions,
	})

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Recovery(s.logger))
	if s.metrics != nil {
		r.Use(metrics.HTTPMiddleware)
	}

	r.Get("/healthz", h.Health)
	r.Handle("/static/*", http.StripPrefix("/static/", static.Handler()))

	if s.metrics != nil && s.metricsServer == nil {
		r.Handle(s.cfg.Metrics.Path, metrics.NewExporter(s.metrics, s.cfg.Metrics.AllowedIPs, s.logger))
	}

	loginLimit := httprate.Limit(
		s.cfg.Server.LoginRateLimit,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(h.LoginRateLimited),
	)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Sessions(handlers.CookieOptions(s.cfg), s.sessions, s.registry, s.client, s.logger))

		r.Get("/login", h.LoginPage)
		r.With(loginLimit).Post("/login", h.Login)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(s.logger))

			r.Get("/", h.Dashboard)
			r.Get("/users", h.Users)

			r.Route("/roles", func(r chi.Router) {
				r.Get("/", h.Roles)
				r.Get("/{role}", h.RoleSelect)
				r.Post("/select", h.RoleConfirm)
				r.Post("/toggle", h.RoleToggle)
				r.Post("/reset", h.RoleReset)
				r.Post("/save", h.RoleSave)
				r.Post("/dismiss", h.RoleDismiss)
			})

			r.Route("/audit", func(r chi.Router) {
				r.Get("/", h.Audit)
				r.Get("/{tab}/{id}", h.AuditDetail)
			})
		})
	})

	return r
}

func (s *Server) Run(ctx context.Context) error {
	if s.collector != nil {
		s.collector.Start(ctx)
	}
	if s.metricsServer != nil {
		go func() {
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics server error", "error", err)
			}
		}()
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go s.sweep(sweepCtx)

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting web server", "addr", s.cfg.Server.ListenAddr, "backend", s.cfg.Backend.BaseURL)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.stop()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("shutdown error", "error", err)
		}
		if s.metricsServer != nil {
			if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("metrics shutdown error", "error", err)
			}
		}
		s.stop()
		return nil
	}
}

func (s *Server) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.registry.Sweep()
		}
	}
}

// Close releases the session storage. Run calls it on exit.
func (s *Server) Close() error {
	return s.sessions.Close()
}

func (s *Server) stop() {
	if s.collector != nil {
		s.collector.Stop()
	}
	if err := s.Close(); err != nil {
		s.logger.Error("failed to close session storage", "error", err)
	}
}
