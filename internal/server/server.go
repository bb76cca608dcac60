// Package server hosts the hot-update endpoint and the HTTP surface around
// the bundler pool: bundle and source map downloads, a status page and a
// health check.
package server

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/hotswap/internal/bundler"
	"github.com/conneroisu/hotswap/internal/config"
	"github.com/conneroisu/hotswap/internal/errors"
	"github.com/conneroisu/hotswap/internal/hmr"
	"github.com/conneroisu/hotswap/internal/identity"
	"github.com/conneroisu/hotswap/internal/logging"
	"github.com/conneroisu/hotswap/internal/reporting"
	"github.com/conneroisu/hotswap/internal/version"
)

// CustomMessageHandler receives application messages that are not part of
// the hot-update protocol.
type CustomMessageHandler func(clientID uint64, msg hmr.Opaque)

// Server serves hot updates for every instance in a bundler pool
type Server struct {
	config   *config.Config
	pool     *bundler.Pool
	logger   logging.Logger
	reporter reporting.Reporter

	httpServer  *http.Server
	serverMutex sync.RWMutex

	clients      map[uint64]*Client
	clientsMutex sync.RWMutex
	nextClientID atomic.Uint64

	customMutex    sync.RWMutex
	customHandlers []CustomMessageHandler

	sendQueueSize int

	startedAt     time.Time
	shutdownOnce  sync.Once
	isShutdown    bool
	shutdownMutex sync.RWMutex
}

// New creates a server over pool.
func New(cfg *config.Config, pool *bundler.Pool, logger logging.Logger, reporter reporting.Reporter) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{
		config:    cfg,
		pool:      pool,
		logger:    logger.WithComponent("server"),
		reporter:  reporting.Safe(reporter),
		clients:   make(map[uint64]*Client),
		startedAt: time.Now(),

		sendQueueSize: defaultSendQueueSize,
	}
}

// OnCustomMessage registers a handler for opaque client messages.
func (s *Server) OnCustomMessage(h CustomMessageHandler) {
	s.customMutex.Lock()
	defer s.customMutex.Unlock()
	s.customHandlers = append(s.customHandlers, h)
}

func (s *Server) emitCustom(clientID uint64, msg hmr.Opaque) {
	s.customMutex.RLock()
	handlers := s.customHandlers
	s.customMutex.RUnlock()

	if len(handlers) == 0 {
		s.logger.Debug(context.Background(), "Unhandled custom message", "client", clientID, "type", msg.Type)
		return
	}
	for _, h := range handlers {
		h(clientID, msg)
	}
}

// Handler returns the routed HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(hmr.Path, s.handleHot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/status.json", s.handleStatusJSON)
	mux.HandleFunc("/", s.handleBundle)
	return s.addMiddleware(mux)
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Hot update server listening", "addr", server.Addr, "endpoint", hmr.Path)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.NewEnhancedError("server failed", err, errors.ServerStartError(err, s.config.Server.Port))
	}
	return nil
}

// Shutdown closes every client connection and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.shutdownMutex.Lock()
		s.isShutdown = true
		s.shutdownMutex.Unlock()

		var wg sync.WaitGroup
		for _, c := range s.snapshotClients() {
			wg.Add(1)
			go func(c *Client) {
				defer wg.Done()
				c.close("server shutting down")
			}(c)
		}
		closed := make(chan struct{})
		go func() {
			wg.Wait()
			close(closed)
		}()
		select {
		case <-closed:
		case <-ctx.Done():
		}

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()
		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
		s.logger.Info(ctx, "Hot update server stopped")
	})
	return shutdownErr
}

func (s *Server) shuttingDown() bool {
	s.shutdownMutex.RLock()
	defer s.shutdownMutex.RUnlock()
	return s.isShutdown
}

func (s *Server) addClient(c *Client) {
	s.clientsMutex.Lock()
	s.clients[c.id] = c
	total := len(s.clients)
	s.clientsMutex.Unlock()

	s.logger.Info(context.Background(), "Client connected", "client", c.id, "total", total)
}

// removeClient unbinds c from its instance and forgets it. A panic while
// unbinding is logged and the client is removed regardless.
func (s *Server) removeClient(c *Client) {
	defer func() {
		s.clientsMutex.Lock()
		delete(s.clients, c.id)
		total := len(s.clients)
		s.clientsMutex.Unlock()

		s.logger.Info(context.Background(), "Client disconnected", "client", c.id, "total", total)
	}()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(context.Background(),
				errors.NewInternalError(errors.ErrCodeInternalError, "panic during client cleanup", nil),
				"Client cleanup failed", "client", c.id, "panic", r)
		}
	}()

	if inst := c.detach(); inst != nil {
		inst.Unbind(c.id)
	}
}

func (s *Server) snapshotClients() []*Client {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()

	out := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// buildOptions returns the fingerprinted options for a build target.
func (s *Server) buildOptions(platform string, dev bool) identity.Options {
	return identity.Options{
		Version:   version.CacheVersion(),
		Target:    identity.Target{Platform: platform, Dev: dev},
		Transform: s.config.Build.Transform,
		Plugins:   s.config.Build.Plugins,
	}
}

func (s *Server) addMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if s.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		start := time.Now()
		handler.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// isAllowedOrigin checks if the origin is in the allowed origins list
func (s *Server) isAllowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range s.config.Server.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}
