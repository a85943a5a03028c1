package broadcast

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// DefaultSendBuffer is the per-connection outbound queue length.
	DefaultSendBuffer = 256

	// SessionCookie is the cookie consulted for a session id.
	SessionCookie = "session"
)

var (
	ErrSocketClosed   = errors.New("socket closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// wsSocket adapts a gorilla connection to Socket. Frames are queued on a
// bounded channel and written by a dedicated goroutine.
type wsSocket struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	logger    *slog.Logger
}

func newWSSocket(conn *websocket.Conn, buffer int, logger *slog.Logger) *wsSocket {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	s := &wsSocket{
		conn:   conn,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.writeLoop()
	return s
}

func (s *wsSocket) Send(frame []byte) error {
	if s.closed.Load() {
		return ErrSocketClosed
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (s *wsSocket) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
	return nil
}

func (s *wsSocket) Closed() bool { return s.closed.Load() }

func (s *wsSocket) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			if err := s.write(websocket.TextMessage, frame); err != nil {
				s.logger.Debug("broadcast: websocket write failed", "err", err)
				s.Close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			s.flush()
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes frames still queued when the socket was closed, so a
// rejection reason reaches the peer before the close frame.
func (s *wsSocket) flush() {
	for {
		select {
		case frame := <-s.send:
			if err := s.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *wsSocket) write(messageType int, data []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

// Handler upgrades requests to WebSocket connections on the engine. The
// namespace is the request path, e.g. /ws/lockers.
type Handler struct {
	engine     *Engine
	upgrader   websocket.Upgrader
	sendBuffer int
	logger     *slog.Logger
}

// HandlerOptions configures NewHandler.
type HandlerOptions struct {
	// AllowedOrigins restricts the Origin header. Empty allows any origin.
	AllowedOrigins []string
	SendBuffer     int
	Logger         *slog.Logger
}

// NewHandler creates the WebSocket endpoint for e.
func NewHandler(e *Engine, opts HandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	allowed := make(map[string]bool, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return &Handler{
		engine: e,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
		sendBuffer: opts.SendBuffer,
		logger:     opts.Logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	nsPath := strings.TrimRight(r.URL.Path, "/")
	sessionID := SessionFromRequest(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("broadcast: websocket upgrade failed", "namespace", nsPath, "err", err)
		return
	}
	socket := newWSSocket(conn, h.sendBuffer, h.logger)

	id, err := h.engine.Connect(r.Context(), socket, nsPath, sessionID)
	if err != nil {
		// Connect already closed the socket and logged the reason.
		return
	}
	defer h.engine.Disconnect(id)

	// Pongs prove the transport is alive and only extend the read deadline.
	// Idleness is measured on client frames by the engine sweep.
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
				!socket.Closed() {
				h.logger.Warn("broadcast: websocket closed unexpectedly", "connection_id", id, "err", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if messageType != websocket.TextMessage {
			continue
		}
		h.engine.HandleMessage(id, message)
	}
}

// SessionFromRequest extracts a session id from the "session" query
// parameter, the session cookie, or a Bearer Authorization header, in that
// order.
func SessionFromRequest(r *http.Request) string {
	if s := strings.TrimSpace(r.URL.Query().Get("session")); s != "" {
		return s
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}
