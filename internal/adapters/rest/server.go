package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"listing-pipeline/internal/core/port"
)

// ServerConfig параметры HTTP-сервера
type ServerConfig struct {
	Port               string
	RateLimitPerMinute int
	AllowedOrigins     []string
}

type Server struct {
	httpServer *http.Server
	logger     port.LoggerPort
}

func NewServer(cfg ServerConfig,
	listingsHandler *ListingsHandler,
	processingHandler *ProcessingHandler,
	ingestHandler *IngestHandler,
	baseLogger port.LoggerPort) *Server {

	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           newRouter(cfg, listingsHandler, processingHandler, ingestHandler, baseLogger),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: baseLogger,
	}
}

func newRouter(cfg ServerConfig,
	listingsHandler *ListingsHandler,
	processingHandler *ProcessingHandler,
	ingestHandler *IngestHandler,
	baseLogger port.LoggerPort) http.Handler {

	r := chi.NewRouter()

	r.Use(LoggerMiddleware(baseLogger), middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Trace-ID"},
		ExposedHeaders: []string{"X-Trace-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:         300,
	}))
	if cfg.RateLimitPerMinute > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
	}

	r.Get("/healthz", Healthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/listings", listingsHandler.FindListings)
		r.Get("/listings/{listingID}", listingsHandler.GetListing)
		r.Get("/processing", processingHandler.GetProcessing)
		r.Post("/ingest", ingestHandler.TriggerIngest)
	})

	return r
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST server", port.Fields{"address": s.httpServer.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping REST server...", nil)
	return s.httpServer.Shutdown(ctx)
}
