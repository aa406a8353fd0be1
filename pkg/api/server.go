// Package api exposes the engine over HTTP: session lifecycle, card
// reads, and health. The API is a thin façade — all semantics live in the
// stores and the orchestrator.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orket/orket/pkg/database"
	"github.com/orket/orket/pkg/orchestrator"
	"github.com/orket/orket/pkg/store"
)

// Server is the HTTP API server.
type Server struct {
	cards    *store.CardStore
	ledger   *store.LedgerStore
	registry *orchestrator.Registry
	logger   *slog.Logger
	http     *http.Server
}

// New creates the server and wires its routes. extra routes (the webhook
// intake) register themselves on the returned engine.
func New(addr string, cards *store.CardStore, ledger *store.LedgerStore, registry *orchestrator.Registry, logger *slog.Logger) (*Server, *gin.Engine) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		cards:    cards,
		ledger:   ledger,
		registry: registry,
		logger:   logger,
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	router.GET("/health", s.health)
	v1 := router.Group("/v1")
	{
		v1.POST("/sessions", s.createSession)
		v1.GET("/sessions/:id", s.getSession)
		v1.POST("/sessions/:id/cancel", s.cancelSession)
		v1.GET("/cards", s.listCards)
		v1.GET("/cards/:id", s.getCard)
	}
	return s, router
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP API listening", slog.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// health reports process and storage liveness.
func (s *Server) health(c *gin.Context) {
	checks := map[string]database.HealthStatus{
		"cards":  s.cards.Health(c.Request.Context()),
		"ledger": s.ledger.Health(c.Request.Context()),
	}
	status := http.StatusOK
	for _, check := range checks {
		if !check.Reachable {
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, gin.H{"checks": checks})
}

// requestLogger logs one line per request in the structured format the
// rest of the engine uses.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Info("HTTP request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(started)))
	}
}
