// Package server exposes the backend over HTTP: identity under /auth/v1,
// rows under /rest/v1 and the insert feed under /realtime/v1.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dischat/backend"
	"dischat/realtime"
)

const (
	// DefaultListenAddress is used when Options.ListenAddress is empty.
	DefaultListenAddress = ":54321"
	shutdownTimeout      = 5 * time.Second
	maxBodyBytes         = 1 << 20
)

// Options configures the HTTP server.
type Options struct {
	Backend       *backend.Backend
	ListenAddress string
	Logger        *zerolog.Logger
}

// Server serves the backend API.
type Server struct {
	backend *backend.Backend
	address string
	logger  zerolog.Logger
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
}

// New builds the router. The listener is not opened until Listen or Run.
func New(options Options) (*Server, error) {
	if options.Backend == nil {
		return nil, errors.New("backend is required")
	}
	if options.ListenAddress == "" {
		options.ListenAddress = DefaultListenAddress
	}
	logger := log.Logger
	if options.Logger != nil {
		logger = *options.Logger
	}

	s := &Server{
		backend: options.Backend,
		address: options.ListenAddress,
		logger:  logger.With().Str("component", "server").Logger(),
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/auth/v1", func(r chi.Router) {
		r.Post("/signup", s.handleSignUp)
		r.Post("/token", s.handleSignIn)
		r.Group(func(r chi.Router) {
			r.Use(s.requireIdentity)
			r.Post("/logout", s.handleSignOut)
			r.Get("/user", s.handleCurrentUser)
		})
	})

	r.Route("/rest/v1", func(r chi.Router) {
		r.Use(s.requireIdentity)
		r.Get("/users", s.handleListUsers)
		r.Post("/users", s.handleInsertUser)
		r.Get("/messages", s.handleConversation)
		r.Post("/messages", s.handleInsertMessage)
		r.Patch("/messages/receipts", s.handleMarkReceipt)
	})

	feedLogger := s.logger
	r.Method(http.MethodGet, "/realtime/v1/messages",
		realtime.Handler(s.backend.Hub(), s.backend.Authenticate, &feedLogger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

// Listen opens the TCP listener without serving yet.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr(), nil
	}

	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.address, err)
	}
	s.listener = ln
	return ln.Addr(), nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr, err := s.Listen()
	if err != nil {
		return err
	}

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(ln)
	}()
	s.logger.Info().Str("address", addr.String()).Msg("serving")

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down")
	s.backend.Hub().Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := s.logger.Debug()
		if status >= http.StatusInternalServerError {
			event = s.logger.Warn()
		}
		event.
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
