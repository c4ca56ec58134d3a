// Package ws serves the HTTP surface: the websocket endpoint that carries
// game sessions, token login, health and metrics.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/twentytwenty/mud/internal/config"
	"github.com/twentytwenty/mud/internal/game/session"
)

// Tokens authenticates upgrade requests and issues tokens on login.
type Tokens interface {
	Authenticate(r *http.Request) (string, error)
	Sign(identity string) (string, error)
}

// Sessions opens and closes game sessions.
type Sessions interface {
	Open(ctx context.Context, identity string) (*session.Session, error)
	Close(s *session.Session, code int)
	Count() int
}

// Logins checks a username and password and returns the identity.
type Logins interface {
	Login(ctx context.Context, username, password string) (string, error)
}

// HealthFunc reports whether backing services are reachable.
type HealthFunc func(ctx context.Context) error

// Options holds the optional parts of the HTTP surface. A nil field leaves
// the corresponding route unmounted.
type Options struct {
	Logins  Logins
	Metrics http.Handler
	Health  HealthFunc
}

// Server accepts websocket connections and runs one session per connection.
type Server struct {
	addr     string
	cfg      config.WebsocketConfig
	tokens   Tokens
	sessions Sessions
	opts     Options
	logger   *zap.Logger
	upgrader websocket.Upgrader

	httpSrv  *http.Server
	listener net.Listener
	conns    sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
	stopped  bool
}

// NewServer creates a Server listening on addr.
//
// Precondition: tokens, sessions and logger must be non-nil.
// Postcondition: Returns a Server ready for ListenAndServe, or for Handler
// when embedding in a test server.
func NewServer(addr string, cfg config.WebsocketConfig, tokens Tokens, sessions Sessions, logger *zap.Logger, opts Options) *Server {
	s := &Server{
		addr:     addr,
		cfg:      cfg,
		tokens:   tokens,
		sessions: sessions,
		opts:     opts,
		logger:   logger,
		quit:     make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// originChecker returns nil (gorilla's same-origin check) for an empty list.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Handler returns the router for every mounted route.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(s.cfg.Path, s.handleUpgrade).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.opts.Logins != nil {
		r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	}
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics).Methods(http.MethodGet)
	}
	return r
}

// ListenAndServe serves HTTP until Stop is called.
//
// Precondition: The server must not already be running.
// Postcondition: The listener is closed when this method returns.
func (s *Server) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.logger.Info("http server listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("websocket_path", s.cfg.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// Stop stops accepting requests, disconnects every session and waits for
// connection goroutines to exit or ctx to end.
//
// Postcondition: Listener closed; connection handlers have returned unless
// ctx expired first.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.running = false
	close(s.quit)
	s.mu.Unlock()

	// Hijacked websocket connections are not tracked by Shutdown.
	err := s.httpSrv.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, fmt.Errorf("waiting for connections: %w", ctx.Err()))
	}

	s.logger.Info("http server stopped")
	return err
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the server is currently accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
