// Package api is the ACD's REST surface: a thin verb-to-operation
// mapping over internal/ops, built on Gin the way
// libs/api/server.go builds its API server (gin.New, Recovery, a logging
// middleware, a mounted metrics handler).
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aidenlippert/acd-dispatch/internal/ops"
)

// Handlers bundles the operations layer the route handlers call into.
type Handlers struct {
	ops *ops.Ops
}

// NewHandlers constructs a Handlers bound to the given operations layer.
func NewHandlers(o *ops.Ops) *Handlers {
	return &Handlers{ops: o}
}

// Config holds the REST server's listen and lifecycle settings.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	EnableMetrics   bool
}

// DefaultConfig returns sane defaults, mirroring
// api.DefaultConfig (libs/api/server.go).
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ShutdownTimeout: 10 * time.Second,
		EnableMetrics:   true,
	}
}

// Server is the ACD REST server.
type Server struct {
	cfg    Config
	router *gin.Engine
	http   *http.Server
	logger *zap.Logger
}

// NewServer builds the Gin engine and registers every REST route the ACD exposes.
func NewServer(cfg Config, h *Handlers, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(logger))

	if cfg.EnableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	router.POST("/acd", h.setACDState)
	router.POST("/contact", h.createContact)
	router.PATCH("/contact/:key", h.completeContact)
	router.GET("/contact/:key", h.getContact)
	router.POST("/agent/:key", h.createAgent)
	router.DELETE("/agent/:key", h.deleteAgent)
	router.PATCH("/agent/:key/state", h.setAgentState)
	router.PATCH("/agent/:key", h.changeAgentInfo)
	router.PATCH("/agent/:key/skill", h.addAgentSkill)
	router.DELETE("/agent/:key/skill/:skill", h.deleteAgentSkill)
	router.DELETE("/skill/:skill", h.deleteSkill)

	return &Server{
		cfg:    cfg,
		router: router,
		logger: logger,
		http: &http.Server{
			Addr:    cfg.Addr,
			Handler: router,
		},
	}
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully within cfg.ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("acd rest surface listening", zap.String("addr", s.cfg.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api: listen and serve: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
