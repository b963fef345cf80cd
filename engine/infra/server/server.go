package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daz23456/workflow-sub005/engine/execution"
	"github.com/daz23456/workflow-sub005/engine/gateway"
	"github.com/daz23456/workflow-sub005/engine/labels"
	"github.com/daz23456/workflow-sub005/engine/streaming"
	"github.com/daz23456/workflow-sub005/engine/version"
	"github.com/daz23456/workflow-sub005/pkg/logger"
)

// Config holds the HTTP listener settings.
type Config struct {
	Host            string
	Port            int
	CORSEnabled     bool
	ShutdownTimeout time.Duration
}

// Dependencies carries everything the HTTP surface serves. Executions,
// Versions, and Labels may be nil; their routes then answer 404.
type Dependencies struct {
	Discovery  DiscoveryService
	Registry   *gateway.Registry
	Dispatcher *gateway.Dispatcher
	Executions execution.Repository
	Versions   *version.Service
	Labels     *labels.Service
	Hub        *streaming.Hub
	Metrics    prometheus.Gatherer
}

// Server is the gateway's HTTP front door.
type Server struct {
	cfg    Config
	deps   Dependencies
	router *gin.Engine
	base   logger.Logger
}

// New assembles the router with middleware, the dynamic workflow dispatch,
// and the auxiliary read API.
func New(cfg Config, deps Dependencies, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(loggerMiddleware(log), recoveryMiddleware(), requestLogMiddleware())
	if cfg.CORSEnabled {
		router.Use(corsMiddleware())
	}
	s := &Server{cfg: cfg, deps: deps, router: router, base: log}
	s.mountRoutes()
	return s
}

// Router exposes the underlying engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) mountRoutes() {
	s.router.GET("/healthz", s.health)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Metrics, promhttp.HandlerOpts{})))
	}
	if s.deps.Dispatcher != nil {
		s.deps.Dispatcher.Mount(s.router)
	}
	api := s.router.Group("/api/v1")
	api.GET("/workflows", s.listWorkflows)
	api.GET("/workflows/:name/executions", s.workflowExecutions)
	api.GET("/workflows/:name/versions", s.listVersions)
	api.GET("/workflows/:name/trends", s.durationTrends)
	api.GET("/workflows/:name/blast-radius", s.blastRadius)
	api.GET("/tasks", s.listTasks)
	api.GET("/tasks/:name/usage", s.taskUsage)
	api.GET("/executions", s.listExecutions)
	api.GET("/executions/:id", s.getExecution)
	api.GET("/executions/:id/trace", s.getTrace)
	api.GET("/statistics", s.statistics)
	api.GET("/labels", s.listLabels)
	api.GET("/events/stream", s.streamEvents)
}

// Run serves until ctx is canceled, then drains with the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.base.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	case <-ctx.Done():
	}
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.base.Info("http server stopped")
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
