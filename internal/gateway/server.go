// Package gateway is the HTTP + WebSocket transport for the chat service.
// REST routes cover session management; the WebSocket endpoint streams turn
// output as it is generated.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ojage/lokkito-backend/internal/chat"
	"github.com/ojage/lokkito-backend/internal/config"
	"github.com/ojage/lokkito-backend/internal/identity"
	"github.com/ojage/lokkito-backend/internal/logging"
	"github.com/ojage/lokkito-backend/internal/version"
)

// Server is the lokkito HTTP + WebSocket server.
type Server struct {
	cfg      config.Config
	auth     ResolvedAuth
	manager  *chat.Manager
	identity *identity.Provider
	log      *logging.Logger
	version  string

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// New creates a gateway server over the given session manager.
func New(cfg config.Config, manager *chat.Manager, idp *identity.Provider, log *logging.Logger) *Server {
	return &Server{
		cfg:      cfg,
		auth:     ResolveAuth(cfg.Server.Auth),
		manager:  manager,
		identity: idp,
		log:      log.Sub("gateway"),
		version:  version.Version,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Server.AllowedOrigins),
		},
	}
}

// checkWebSocketOrigin validates WebSocket Origin headers. Requests without
// an Origin header (non-browser clients) are always allowed; browser origins
// must match the configured list.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// Handler builds the full HTTP handler with routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	h := http.Handler(mux)
	h = s.authMiddleware(h)
	h = requestIDMiddleware(h)
	h = corsMiddleware(h, s.cfg.Server.AllowedOrigins)
	h = loggingMiddleware(h, s.log)
	return h
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/chat/message", s.handleSendMessage)
	mux.HandleFunc("POST /api/chat/create", s.handleCreateSession)
	mux.HandleFunc("GET /api/chat/all", s.handleListSessions)
	mux.HandleFunc("GET /api/chat/history/{id}", s.handleHistory)
	mux.HandleFunc("GET /api/chat/stats/{id}", s.handleStats)
	mux.HandleFunc("DELETE /api/chat/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/chat/{id}/clear", s.handleClearHistory)
	mux.HandleFunc("GET /api/chat/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/auth/profile/{userId}", s.handleProfile)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)

	mux.HandleFunc("/", handleNotFound)
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.ServerConfig) string {
	switch cfg.Bind {
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start begins serving. It blocks until the context is cancelled or an
// error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Server)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // streamed turns hold the response open
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.startedAt = time.Now()
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Server.Bind).
		Bool("authEnabled", s.auth.Token != "").
		Msg("server starting")

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}
