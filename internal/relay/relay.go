// Package relay bridges per-session event channels to WebSocket clients so a
// live UI can watch a session without polling the events stream.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/soyeahso/waygate/internal/logging"
	"github.com/soyeahso/waygate/internal/queue"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Server serves GET /sessions/{id}/events, upgrading each request to a
// WebSocket fed from the session's pub/sub channel.
type Server struct {
	rdb      *redis.Client
	addr     string
	log      *logging.Logger
	upgrader websocket.Upgrader

	httpServer *http.Server
}

// New creates a relay server listening on addr.
func New(rdb *redis.Client, addr string, log *logging.Logger) *Server {
	return &Server{
		rdb:  rdb,
		addr: addr,
		log:  log.Sub("relay"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The relay is read-only and carries no credentials; origins
			// are not restricted.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.httpServer = &http.Server{
		Addr:        s.addr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("relay listen on %s: %w", s.addr, err)
	}

	s.log.Info().Str("addr", ln.Addr().String()).Msg("relay server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// handleEvents upgrades the request and pumps the session channel to the
// socket until either side goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	channel := queue.SessionChannel(sessionID)
	sub := s.rdb.Subscribe(r.Context(), channel)
	defer sub.Close()

	s.log.Info().
		Str("sessionId", sessionID).
		Str("remote", r.RemoteAddr).
		Msg("relay client connected")

	// Drain reads so close frames and pongs are processed; the relay never
	// acts on client messages.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			s.log.Debug().Str("sessionId", sessionID).Msg("relay client disconnected")
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				s.log.Debug().Err(err).Str("sessionId", sessionID).Msg("relay write failed")
				return
			}
		}
	}
}
