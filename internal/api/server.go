// Package api serves quotes, alert management and operational endpoints
// over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"stock-price-alerts/internal/quote"
	"stock-price-alerts/internal/storage"
	"stock-price-alerts/internal/version"
)

// QuoteSource resolves a quote for a symbol. Refresh skips the process
// cache.
type QuoteSource interface {
	Get(ctx context.Context, symbol string) (quote.Result, error)
	Refresh(ctx context.Context, symbol string) (quote.Result, error)
}

// StateForgetter drops buffered state for deleted alerts.
type StateForgetter interface {
	Forget(id string)
}

// Options wire the HTTP server.
type Options struct {
	Addr    string
	Quotes  QuoteSource
	Alerts  storage.AlertStore
	States  StateForgetter
	Metrics http.Handler
	// Ready reports dependency health for /healthz.
	Ready func(ctx context.Context) error
}

// Server is the HTTP API.
type Server struct {
	opts   Options
	engine *gin.Engine
	http   *http.Server
	logger zerolog.Logger
}

// NewServer builds the router.
func NewServer(opts Options, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		opts:   opts,
		engine: gin.New(),
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)
	if s.opts.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}

	v1 := s.engine.Group("/v1")
	v1.GET("/quotes/:symbol", s.getQuote)

	alerts := v1.Group("/alerts")
	alerts.GET("", s.listAlerts)
	alerts.POST("", s.createAlert)
	alerts.GET("/:id", s.getAlert)
	alerts.PATCH("/:id", s.updateAlert)
	alerts.DELETE("/:id", s.deleteAlert)
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := s.logger.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = s.logger.Warn()
		}
		event.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	}
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "ok", "version": version.Version}
	if s.opts.Ready != nil {
		if err := s.opts.Ready(c.Request.Context()); err != nil {
			body["status"] = "degraded"
			body["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}
	c.JSON(http.StatusOK, body)
}
