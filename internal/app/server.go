package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/regkb/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/regkb/internal/api/middlewares"
	"github.com/markdave123-py/regkb/internal/config"
	"github.com/markdave123-py/regkb/internal/core"
	"github.com/markdave123-py/regkb/internal/core/ingestion_engine"
	"github.com/markdave123-py/regkb/internal/core/ratelimit"
	"github.com/markdave123-py/regkb/internal/core/resilience"
	"github.com/markdave123-py/regkb/internal/platform/logger"
	"github.com/markdave123-py/regkb/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// DB is what the routes need from the database client
type DB interface {
	core.DbClient
	handlers.Pinger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, db DB, ing ingestion_engine.Ingestor, breakers *resilience.Breakers, limiter *ratelimit.Limiter) *Server {
	return &Server{httpServer: &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(cfg, db, ing, breakers, limiter),
		ReadHeaderTimeout: 10 * time.Second,
		// an ingestion call may run for the whole invocation budget
		WriteTimeout: cfg.InvocationTimeout + 30*time.Second,
	}}
}

// NewRouter returns the chi router serving the API
func NewRouter(cfg *config.Config, db DB, ing ingestion_engine.Ingestor, breakers *resilience.Breakers, limiter *ratelimit.Limiter) http.Handler {
	ingestHandler := handlers.NewIngestHandler(ing, cfg.MaxPayloadBytes*4/3+64<<10)
	sourceHandler := handlers.NewSourceHandler(services.NewSourceService(db))
	healthHandler := handlers.NewHealthHandler(db, breakers, ingestion_engine.BreakerExtraction, ingestion_engine.BreakerEmbedding, ingestion_engine.BreakerMetadata)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(appMiddleware.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", appMiddleware.ClientIDHeader},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Remaining"},
		AllowCredentials: false,
	}))

	r.Get("/healthz", healthHandler.Health)

	r.Route("/api", func(api chi.Router) {
		api.Use(appMiddleware.RateLimit(limiter))
		api.Use(appMiddleware.JWT(cfg.JWTSecret))

		api.Post("/ingest", ingestHandler.Ingest)
		api.Get("/sources/{id}", sourceHandler.GetSource)
		api.Get("/sources/{id}/evidence", sourceHandler.ListEvidence)
	})

	return r
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	logger.Named("http").Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Named("http").Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
