// Package server serves the rendered site, its assets, the click counter
// API, a health endpoint and the live-reload websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/conneroisu/sitesmith/internal/build"
	"github.com/conneroisu/sitesmith/internal/config"
	"github.com/conneroisu/sitesmith/internal/logging"
	"github.com/conneroisu/sitesmith/internal/server/middleware"
	"github.com/conneroisu/sitesmith/internal/watcher"
)

// StatusSource reports watcher state for the health endpoint. The
// supervisor implements it.
type StatusSource interface {
	Statuses() []watcher.Status
	Metrics() *build.BuildMetrics
}

// Server is the site's HTTP front end.
type Server struct {
	cfg     *config.Config
	logger  logging.Logger
	counter *CounterStore
	status  StatusSource
	hub     *Hub

	setupOnce sync.Once
	handler   http.Handler

	httpServer   *http.Server
	serverMutex  sync.RWMutex
	shutdownOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithStatusSource exposes watcher state on /health.
func WithStatusSource(src StatusSource) Option {
	return func(s *Server) {
		s.status = src
	}
}

// New creates a server. counter may be nil, in which case /count is not
// routed.
func New(cfg *config.Config, counter *CounterStore, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logging.NewNopLogger(),
		counter: counter,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("server")
	s.hub = NewHub(s.logger)

	return s
}

// Handler returns the routed handler. The first call starts the live-reload
// hub and the rate limiter cleanup, both bound to ctx.
func (s *Server) Handler(ctx context.Context) http.Handler {
	s.setupOnce.Do(func() {
		go s.hub.Run(ctx)
		s.handler = s.routes(ctx)
	})
	return s.handler
}

// NotifyRebuild tells connected browsers about a rebuild. Wire it to the
// supervisor's OnRebuild.
func (s *Server) NotifyRebuild(e watcher.Event) {
	if !s.cfg.Server.LiveReload {
		return
	}

	msg := UpdateMessage{
		Type:      MessageReload,
		Target:    e.Target,
		Timestamp: e.At,
	}
	if e.Err != nil {
		msg.Type = MessageBuildError
		msg.Content = e.Err.Error()
	}
	s.hub.Broadcast(msg)
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Address(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or Shutdown is
// called.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(shutdownCtx, err, "Shutdown incomplete")
		}
	}()

	s.logger.Info(ctx, "Serving site",
		"address", "http://"+ln.Addr().String(),
		"output", s.cfg.Paths.Output)

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})

	return shutdownErr
}

func (s *Server) routes(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	if s.counter != nil {
		limiter := middleware.NewRateLimiter(ctx, middleware.RateLimit{
			RequestsPerMinute: s.cfg.Counter.RequestsPerMinute,
			BurstLimit:        s.cfg.Counter.Burst,
		})
		mux.Handle("/count", s.countHandler(limiter))
	}
	mux.HandleFunc("/health", s.handleHealth)

	if s.cfg.Server.LiveReload {
		mux.HandleFunc("/ws", s.handleWebSocket)
		mux.HandleFunc("/livereload.js", handleLiveReloadScript)
	}

	for _, dir := range assetDirs {
		mux.Handle("/"+dir+"/", s.assetHandler(dir))
	}
	mux.Handle("/", s.siteHandler())

	return middleware.Chain(mux,
		middleware.RequestLogger(s.logger),
		middleware.SecurityHeaders,
	)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.Serve(w, r, originPatterns(r, s.cfg.Server.Host, s.cfg.Server.Port))
}
