package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps, version string) *Server {
	handler := NewHandler(deps, cfg.MaxUploadBytes, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if deps.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	} else {
		router.Handle("/metrics", promhttp.Handler())
	}

	// Watchlist ingestion
	router.Get("/sources", handler.ListSources)
	router.Post("/ingestion/{provider}", handler.RunIngestion)
	router.Post("/ingestion/{provider}/upload", handler.UploadList)
	router.Get("/ingestion/{provider}/runs", handler.ListRuns)
	router.Post("/entries/{id}/whitelist", handler.WhitelistEntry)

	// Customers and screening
	router.Post("/customers", handler.CreateCustomer)
	router.Get("/customers/{id}", handler.GetCustomer)
	router.Get("/customers/{id}/alerts", handler.ListCustomerAlerts)
	router.Post("/screen", handler.Screen)
	router.Post("/match", handler.Match)
	router.Post("/screening/batch", handler.ScreenBatch)
	router.Get("/screening/jobs/{id}", handler.GetJob)
	router.Post("/screening/jobs/{id}/cancel", handler.CancelJob)
	router.Get("/alerts/{id}", handler.GetAlert)

	// Compliance rules
	router.Get("/rules", handler.ListRules)
	router.Post("/rules", handler.CreateRule)
	router.Post("/rules/reload", handler.ReloadRules)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.config.ReadTimeout) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
