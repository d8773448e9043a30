// Package server exposes the chat pipeline and conversation storage over HTTP.
//
// Authentication happens upstream; the caller's identity arrives in the
// X-User-ID header.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/legalqa/legalqa/internal/chaterr"
	"github.com/legalqa/legalqa/internal/metrics"
	"github.com/legalqa/legalqa/internal/pipeline"
	"github.com/legalqa/legalqa/internal/store"
)

const (
	userHeader   = "X-User-ID"
	apiKeyHeader = "X-API-Key"
)

// Server is the HTTP surface.
type Server struct {
	echo     *echo.Echo
	pipeline *pipeline.Pipeline
	store    store.Store
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.echo.GET("/metrics", echo.WrapHandler(h)) }
}

// New creates a Server. st may be nil, which disables the conversation
// routes.
func New(p *pipeline.Pipeline, st store.Store, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		pipeline: p,
		store:    st,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	e.HTTPErrorHandler = s.handleError
	e.Use(s.observe)
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.healthz)

	g := s.echo.Group("/api")
	g.POST("/chat", s.chat)
	g.GET("/session", s.sessionStats)
	g.POST("/session/clear", s.clearSession)
	g.GET("/backends", s.listBackends)

	g.GET("/chats", s.listChats)
	g.DELETE("/chats", s.deleteAllChats)
	g.GET("/chats/:id", s.getChat)
	g.DELETE("/chats/:id", s.deleteChat)
	g.PUT("/chats/:id/title", s.renameChat)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info().Str("addr", addr).Msg("http server listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// observe logs and counts every request.
func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := s.now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		status := c.Response().Status
		route := c.Path()
		s.metrics.ObserveRequest(c.Request().Method, route, status)

		ev := s.log.Debug()
		if status >= 500 {
			ev = s.log.Warn()
		}
		ev.Str("method", c.Request().Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", s.now().Sub(start)).
			Msg("request")
		return nil
	}
}

// handleError renders errors as JSON. Chat errors carry their kind and
// token counts.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := he.Message
		if m, ok := msg.(string); ok {
			msg = map[string]string{"error": m}
		}
		_ = c.JSON(he.Code, msg)
		return
	}
	if _, ok := chaterr.As(err); ok {
		_ = c.JSON(StatusFor(err), pipeline.NewErrorRecord(err))
		return
	}
	s.log.Error().Err(err).Str("route", c.Path()).Msg("unhandled error")
	_ = c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

// StatusFor maps a chat error to an HTTP status.
func StatusFor(err error) int {
	switch chaterr.KindOf(err) {
	case chaterr.InvalidRequest, chaterr.UnknownBackend:
		return http.StatusBadRequest
	case chaterr.BudgetExceeded, chaterr.HistoryTooLong, chaterr.ResponseExceedsBudget, chaterr.SessionReset:
		return http.StatusConflict
	case chaterr.BackendUnavailable:
		return http.StatusServiceUnavailable
	case chaterr.BackendInvocationFailed, chaterr.BackendResponseInvalid:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func requireUser(c echo.Context) (string, error) {
	id := c.Request().Header.Get(userHeader)
	if id == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing "+userHeader+" header")
	}
	return id, nil
}
