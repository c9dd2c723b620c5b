package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/triagestack/triage-engine/internal/config"
)

// NewRouter assembles the gin engine with all routes mounted.
func NewRouter(handler *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", handler.Health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/events", handler.SubmitEvent)
		v1.POST("/events/:id/approve", handler.ApproveEvent)
		v1.GET("/runs/:id", handler.GetRun)
		v1.POST("/runs/:id/feedback", handler.SubmitFeedback)
		v1.POST("/applications", handler.OnboardApplication)
		v1.GET("/applications", handler.ListApplications)
		v1.GET("/applications/:lob", handler.ListApplications)
	}

	return router
}

// Server wraps the HTTP listener with graceful shutdown.
type Server struct {
	logger *slog.Logger
	http   *http.Server
	grace  time.Duration
}

// NewServer binds the router to the configured address.
func NewServer(logger *slog.Logger, cfg config.ServerConfig, router *gin.Engine) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	grace := cfg.GracefulTimeout
	if grace <= 0 {
		grace = 10 * time.Second
	}
	return &Server{
		logger: logger,
		http: &http.Server{
			Addr:              cfg.Address,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		grace: grace,
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("address", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.grace)
	defer cancel()
	return s.http.Shutdown(ctx)
}
