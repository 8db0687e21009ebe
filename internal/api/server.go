package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/threadscribe/internal/event"
	"github.com/threadscribe/internal/review"
	"github.com/threadscribe/internal/router"
)

// Submitter is the slice of the dispatcher the server needs.
type Submitter interface {
	Submit(ctx context.Context, ev *event.Event) (<-chan router.Outcome, error)
}

// Server represents the ingest API server
type Server struct {
	echo       *echo.Echo
	addr       string
	dispatcher Submitter
	artifacts  review.ArtifactStore
}

// NewServer creates a new ingest API server
func NewServer(addr, authSecret string, dispatcher Submitter, artifacts review.ArtifactStore) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:       e,
		addr:       addr,
		dispatcher: dispatcher,
		artifacts:  artifacts,
	}

	server.setupRoutes(authSecret)

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes(authSecret string) {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	// API v1 group, service token required
	v1 := s.echo.Group("/api/v1", RequireServiceToken(authSecret))

	v1.POST("/events", s.ingestEvent)
	v1.GET("/threads/:thread_id/artifact", s.getLatestArtifact)
}

// ingestEvent accepts one normalized chat event, runs it through the router,
// and returns the routing decision for the gateway to render.
func (s *Server) ingestEvent(c echo.Context) error {
	var ev event.Event
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event payload")
	}

	if ev.ID == "" || ev.ThreadID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event id and thread_id are required")
	}

	// The tenant comes from the token, never from the payload alone.
	tenant := TenantFromContext(c)
	if ev.TenantID == "" {
		ev.TenantID = tenant
	} else if ev.TenantID != tenant {
		return echo.NewHTTPError(http.StatusForbidden, "event tenant does not match token")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	done, err := s.dispatcher.Submit(c.Request().Context(), &ev)
	if err != nil {
		if errors.Is(err, router.ErrDispatcherClosed) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "server is shutting down")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to enqueue event")
	}

	outcome := <-done
	if outcome.Err != nil {
		if errors.Is(outcome.Err, router.ErrRetryable) {
			// Tell the gateway to redeliver; nothing was consumed.
			return echo.NewHTTPError(http.StatusServiceUnavailable, "event not processed, retry")
		}
		log.Error().Err(outcome.Err).Str("event_id", ev.ID).Msg("event processing failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "event processing failed")
	}

	return c.JSON(http.StatusOK, outcome.Decision)
}

// getLatestArtifact returns the most recent frozen review for a thread.
func (s *Server) getLatestArtifact(c echo.Context) error {
	threadID := c.Param("thread_id")
	tenant := TenantFromContext(c)

	artifact, err := s.artifacts.GetLatestByThread(c.Request().Context(), tenant, threadID)
	if err != nil {
		if errors.Is(err, review.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no frozen review for this thread")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load artifact")
	}

	return c.JSON(http.StatusOK, artifact)
}

// Start begins the API server and blocks until interrupted.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying http handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
