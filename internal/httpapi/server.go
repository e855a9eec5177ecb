// Package httpapi serves the Typhon web console API: health, synchronous
// and streaming runs, stored run lookup, the UI string table, metrics and
// an optional MCP endpoint.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/deixis/typhonweb/internal/engine"
	"github.com/deixis/typhonweb/internal/metrics"
	"github.com/deixis/typhonweb/internal/report"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "typhon-webui"

// shutdownTimeout bounds how long Run waits for in-flight requests.
const shutdownTimeout = 10 * time.Second

// Options configure a Server. Engine and Store are required.
type Options struct {
	Engine       *engine.Engine
	Store        *report.LRUStore
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer // serves /metrics when set
	MCP          http.Handler        // mounted at /mcp when set
	AllowOrigins []string
	RateLimit    float64 // run requests per second per client; <= 0 disables
	RateBurst    int
	Debug        bool
}

// Server is the console HTTP API.
type Server struct {
	engine  *engine.Engine
	store   *report.LRUStore
	log     *zap.Logger
	metrics *metrics.Metrics
	origins []string
	router  *gin.Engine
}

// New builds the router.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:  opts.Engine,
		store:   opts.Store,
		log:     opts.Logger,
		metrics: opts.Metrics,
		origins: opts.AllowOrigins,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLog(opts.Logger, opts.Metrics))
	router.Use(CORS(opts.AllowOrigins))

	api := router.Group("/api")
	api.GET("/health", s.health)
	api.GET("/messages", s.messages)
	api.GET("/tokens", s.tokens)
	api.GET("/runs", s.listRuns)
	api.GET("/runs/:id", s.getRun)
	api.GET("/runs/:id/search", s.searchRun)

	runs := api.Group("")
	if opts.RateLimit > 0 {
		runs.Use(RateLimit(opts.RateLimit, max(opts.RateBurst, 1)))
	}
	runs.POST("/run", s.run)
	runs.GET("/run/stream", s.stream)

	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	if opts.MCP != nil {
		router.Any("/mcp", gin.WrapH(opts.MCP))
	}

	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP server", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving %s: %w", addr, err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
