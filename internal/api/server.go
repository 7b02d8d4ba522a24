// Package api serves the dashboard's HTTP interface: hub proxy routes,
// derived views, historical queries and the live event stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"homedash/internal/bridge"
	"homedash/internal/clock"
	"homedash/internal/ha"
	"homedash/internal/state"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// StateSource provides the live state table
type StateSource interface {
	Snapshot() state.Table
}

// Relay is the live event stream the dashboard subscribes to
type Relay interface {
	Subscribe() *bridge.Subscription
	Status() bridge.Status
	Reconnect() error
}

// Deps are the components the server fronts
type Deps struct {
	Gateway ha.Gateway
	States  StateSource
	Relay   Relay
	Clock   clock.Clock
}

// Server provides HTTP API endpoints for the dashboard
type Server struct {
	gateway ha.Gateway
	states  StateSource
	relay   Relay
	clock   clock.Clock
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a new API server listening on addr
func NewServer(addr string, deps Deps, logger *zap.Logger) *Server {
	if deps.Clock == nil {
		deps.Clock = clock.NewRealClock()
	}

	s := &Server{
		gateway: deps.Gateway,
		states:  deps.States,
		relay:   deps.Relay,
		clock:   deps.Clock,
		logger:  logger.Named("api"),
	}

	// WriteTimeout is lifted per request by the stream handler
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.buildRouter(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/", s.handleSitemap)
	r.NotFound(s.handleSitemap)
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/states", s.handleGetStates)
		r.Get("/states/{entity_id}", s.handleGetState)
		r.Post("/services/{domain}/{service}", s.handleCallService)
		r.Post("/entities/{entity_id}/toggle", s.handleToggle)
		r.Post("/lights/all/{state}", s.handleAllLights)

		r.Get("/sensors", s.handleSensors)
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/history", s.handleHistory)

		r.Get("/stream", s.handleStream)
		r.Get("/bridge", s.handleBridgeStatus)
		r.Post("/bridge/reconnect", s.handleBridgeReconnect)
	})

	return r
}

// Handler returns the server's root handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
// Request contexts derive from ctx so open streams end on shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status string        `json:"status"`
	Bridge bridge.Status `json:"bridge"`
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Bridge: s.relay.Status(),
	})
}
