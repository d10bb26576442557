package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/harvestbin/silo/internal/auth"
	"github.com/harvestbin/silo/internal/config"
	"github.com/harvestbin/silo/internal/store"
	"github.com/harvestbin/silo/internal/web/handlers"
	"github.com/harvestbin/silo/internal/web/middleware"
	"github.com/harvestbin/silo/internal/web/sse"
)

// Server represents the web server
type Server struct {
	store        *store.Store
	port         int
	bind         string
	allowedNet   *net.IPNet
	router       *chi.Mux
	tokenService *auth.TokenService
	sseBroker    *sse.Broker
	handlers     *handlers.Handlers
}

// NewServer creates a new web server
func NewServer(s *store.Store, port int, bind string, allowedNet *net.IPNet) *Server {
	loader := config.NewLoader(s)

	srv := &Server{
		store:        s,
		port:         port,
		bind:         bind,
		allowedNet:   allowedNet,
		router:       chi.NewRouter(),
		tokenService: auth.NewTokenService(s),
		sseBroker:    sse.NewBroker(loader.DurationSeconds("events.heartbeat_seconds", 30)),
	}

	// Feed committed mutations into the event broker.
	s.OnChange(func(c store.Change) {
		srv.sseBroker.Broadcast(sse.FromChange(c))
	})

	srv.setupRoutes()
	return srv
}

// SSEBroker returns the event broker for broadcasting
func (s *Server) SSEBroker() *sse.Broker {
	return s.sseBroker
}

// TokenService returns the API token service
func (s *Server) TokenService() *auth.TokenService {
	return s.tokenService
}

// SetVersionInfo passes version information to the handlers
func (s *Server) SetVersionInfo(version, commit, date string) {
	s.handlers.SetVersionInfo(version, commit, date)
}

func (s *Server) setupRoutes() {
	r := s.router

	loader := config.NewLoader(s.store)
	requireToken := loader.Bool("api.require_token", false)

	// Global middleware. AllowSubnet must come BEFORE RealIP so we check the
	// actual connection source.
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.AllowSubnet(s.allowedNet))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// The injection plugin: every handler reaches the store proxy through
	// the request context.
	r.Use(middleware.WithStore(s.store))

	h := handlers.New(s.tokenService, s.sseBroker)
	s.handlers = h

	r.Get("/health", h.Health)

	// Event feeds - no timeout (long-lived connections)
	r.Group(func(r chi.Router) {
		r.Use(middleware.TokenAuth(s.tokenService, requireToken))
		r.Get("/api/events", s.sseBroker.ServeHTTP)
		r.Get("/api/events/ws", h.WSEvents)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))
		r.Use(middleware.TokenAuth(s.tokenService, requireToken))

		r.Route("/tables", func(r chi.Router) {
			r.Get("/", h.ListTables)
			r.Route("/{table}", func(r chi.Router) {
				r.Get("/", h.GetTable)
				r.Get("/count", h.CountRecords)
				r.Route("/records", func(r chi.Router) {
					r.Get("/", h.ListRecords)
					r.Post("/", h.CreateRecord)
					r.Put("/", h.PutRecord)
					r.Delete("/", h.ClearTable)
					r.Get("/{key}", h.GetRecord)
					r.Patch("/{key}", h.PatchRecord)
					r.Delete("/{key}", h.DeleteRecord)
				})
			})
		})

		r.Route("/tokens", func(r chi.Router) {
			r.Get("/", h.ListTokens)
			r.Post("/", h.CreateToken)
			r.Delete("/{name}", h.RevokeToken)
		})
	})
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	var addr string
	if s.bind != "" {
		addr = fmt.Sprintf("%s:%d", s.bind, s.port)
	} else {
		addr = fmt.Sprintf(":%d", s.port)
	}

	server := &http.Server{
		Addr:    addr,
		Handler: s.router,
		// ReadTimeout is for reading request body
		ReadTimeout: config.GetTimeouts().HTTPRead,
		// WriteTimeout disabled (0) to allow SSE long-lived connections
		// Chi middleware timeout (60s) protects regular requests
		WriteTimeout: 0,
		// IdleTimeout for keep-alive connections between requests
		IdleTimeout: 120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down HTTP server")
		// Stop the broker first to close all client connections gracefully
		s.sseBroker.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetTimeouts().Shutdown)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Router exposes the chi router, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
