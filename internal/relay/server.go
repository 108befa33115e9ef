package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/wagaya/voicerelay/internal/config"
	"github.com/wagaya/voicerelay/internal/observe"
	"github.com/wagaya/voicerelay/internal/voice"
)

// Server accepts voice clients over WebSocket.
type Server struct {
	logger   *zap.Logger
	cfg      *config.ServerConfig
	registry *voice.Registry
	hub      *Hub
	metrics  *observe.Metrics

	httpServer *http.Server
	listener   net.Listener

	baseCtx context.Context
	cancel  context.CancelFunc

	// mu orders connection registration against Stop so conns.Add never
	// races conns.Wait.
	mu       sync.Mutex
	stopping bool
	conns    sync.WaitGroup
}

// ServerParams holds the dependencies for creating a Server.
type ServerParams struct {
	fx.In
	Logger   *zap.Logger
	Config   *config.Config
	Registry *voice.Registry
	Hub      *Hub
	Metrics  *observe.Metrics
}

// NewServer creates a Server. It does not listen until Start is called.
func NewServer(p ServerParams) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		logger:   p.Logger.Named("relay"),
		cfg:      &p.Config.Server,
		registry: p.Registry,
		hub:      p.Hub,
		metrics:  p.Metrics,
		baseCtx:  ctx,
		cancel:   cancel,
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s)
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Relay server stopped unexpectedly", zap.Error(err))
		}
	}()

	s.logger.Info("Relay server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("path", s.cfg.Path))
	return nil
}

// Addr returns the listening address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops accepting clients, closes open connections and ends every
// voice session.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	err := s.httpServer.Shutdown(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for connections to close")
	}

	s.registry.Shutdown(context.WithoutCancel(ctx))
	return err
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.track() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.conns.Done()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(s.cfg.MaxMessageBytes)


	id := uuid.NewString()
	logger := s.logger.With(zap.String("connection_id", id))

	outbox, err := s.hub.Attach(id, s.cfg.OutboxSize)
	if err != nil {
		logger.Error("Failed to attach connection", zap.Error(err))
		ws.Close(websocket.StatusInternalError, "attach failed")
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	s.metrics.ActiveConnections.Add(ctx, 1)
	logger.Info("Client connected", zap.String("remote_addr", r.RemoteAddr))

	c := &conn{
		id:       id,
		ws:       ws,
		logger:   logger,
		registry: s.registry,
		hub:      s.hub,
		metrics:  s.metrics,
	}
	err = c.serve(ctx, outbox)

	cleanupCtx := context.WithoutCancel(ctx)
	s.registry.Disconnect(cleanupCtx, id)
	s.hub.Detach(id)
	s.metrics.ActiveConnections.Add(cleanupCtx, -1)

	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		logger.Info("Client disconnected")
	case errors.Is(err, errSlowConsumer):
		logger.Warn("Closing slow client", zap.Error(err))
		ws.Close(websocket.StatusPolicyViolation, "too slow")
	case s.baseCtx.Err() != nil:
		ws.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		logger.Info("Client connection closed", zap.Error(err))
	}
	ws.CloseNow()
}

// track registers a connection unless the server is stopping.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return false
	}
	s.conns.Add(1)
	return true
}
