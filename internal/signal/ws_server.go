package signal

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yourvibes/signal-relay/internal/config"
	"github.com/yourvibes/signal-relay/internal/metrics"
	"github.com/yourvibes/signal-relay/internal/origin"
	"github.com/yourvibes/signal-relay/internal/ratelimit"
)

const wsWriteWait = 1 * time.Second

// EventHandler receives connection lifecycle and message callbacks from the
// transport. Implemented by Hub.
type EventHandler interface {
	HandleConnect(conn string)
	HandleMessage(conn string, raw []byte)
	HandleDisconnect(conn string)
}

// WebSocketServer implements GET /ws, the signaling transport browser clients
// connect to. It assigns each accepted connection an opaque handle, pumps
// inbound messages to the EventHandler, and implements Transport for
// outbound delivery.
type WebSocketServer struct {
	cfg      config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	handler  EventHandler
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[string]*client
	groups map[string]map[string]struct{} // room id -> connection ids
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *client) shutdown() {
	c.once.Do(func() { close(c.done) })
}

func NewWebSocketServer(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *WebSocketServer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if m == nil {
		m = metrics.New()
	}
	s := &WebSocketServer{
		cfg:     cfg,
		log:     logger,
		metrics: m,
		conns:   make(map[string]*client),
		groups:  make(map[string]map[string]struct{}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// SetHandler wires the hub in. It must be called before the server accepts
// connections.
func (s *WebSocketServer) SetHandler(h EventHandler) {
	s.handler = h
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	originHeader := strings.TrimSpace(r.Header.Get("Origin"))
	if originHeader == "" {
		return true
	}
	normalized, host, ok := origin.Normalize(originHeader)
	if !ok {
		return false
	}
	return origin.Allowed(normalized, host, r.Host, s.cfg.AllowedOrigins)
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, s.cfg.SendQueueSize),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	s.log.Debug("websocket connected", "conn", c.id, "remote_addr", r.RemoteAddr)
	s.handler.HandleConnect(c.id)

	go s.writePump(c)
	s.readLoop(c)

	s.removeClient(c)
	s.handler.HandleDisconnect(c.id)
	s.log.Debug("websocket closed", "conn", c.id)
}

func (s *WebSocketServer) readLoop(c *client) {
	idle := s.cfg.WSIdleTimeout
	c.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	})

	limiter := ratelimit.NewMessageLimiter(nil, s.cfg.MaxMessagesPerSecond)

	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			s.writeClose(c, websocket.CloseUnsupportedData, "expected text message")
			return
		}
		if !limiter.Allow() {
			s.metrics.Inc(metrics.DropRateLimited)
			s.writeClose(c, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(idle))
		s.handler.HandleMessage(c.id, msg)
	}
}

func (s *WebSocketServer) writePump(c *client) {
	ticker := time.NewTicker(s.cfg.WSPingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (s *WebSocketServer) writeClose(c *client, code int, reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	_ = c.conn.Close()
}

func (s *WebSocketServer) removeClient(c *client) {
	s.mu.Lock()
	delete(s.conns, c.id)
	for room, members := range s.groups {
		delete(members, c.id)
		if len(members) == 0 {
			delete(s.groups, room)
		}
	}
	s.mu.Unlock()

	c.shutdown()
	_ = c.conn.Close()
}

// Send emits a named event to one specific connection. Delivery is
// best-effort: unknown connections and full send queues drop the message.
func (s *WebSocketServer) Send(conn, event string, payload any) {
	msg, ok := s.encode(event, payload)
	if !ok {
		return
	}

	s.mu.Lock()
	c, ok := s.conns[conn]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.enqueue(c, event, msg)
}

// BroadcastExcept emits to every open connection except sender.
func (s *WebSocketServer) BroadcastExcept(sender, event string, payload any) {
	msg, ok := s.encode(event, payload)
	if !ok {
		return
	}

	for _, c := range s.clientsExcept(sender, "") {
		s.enqueue(c, event, msg)
	}
}

// RoomEmitExcept emits to every connection in the named group except sender.
func (s *WebSocketServer) RoomEmitExcept(room, sender, event string, payload any) {
	msg, ok := s.encode(event, payload)
	if !ok {
		return
	}

	for _, c := range s.clientsExcept(sender, room) {
		s.enqueue(c, event, msg)
	}
}

func (s *WebSocketServer) JoinGroup(room, conn string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conns[conn]; !ok {
		return
	}
	members, ok := s.groups[room]
	if !ok {
		members = make(map[string]struct{})
		s.groups[room] = members
	}
	members[conn] = struct{}{}
}

func (s *WebSocketServer) LeaveGroup(room, conn string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.groups[room]
	if !ok {
		return
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(s.groups, room)
	}
}

// clientsExcept snapshots the delivery set: all clients (room == "") or the
// members of one group, minus the sender.
func (s *WebSocketServer) clientsExcept(sender, room string) []*client {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*client
	if room == "" {
		for id, c := range s.conns {
			if id != sender {
				out = append(out, c)
			}
		}
		return out
	}

	for id := range s.groups[room] {
		if id == sender {
			continue
		}
		if c, ok := s.conns[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *WebSocketServer) encode(event string, payload any) ([]byte, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("failed to encode payload", "event", event, "err", err)
		return nil, false
	}
	msg, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		s.log.Error("failed to encode envelope", "event", event, "err", err)
		return nil, false
	}
	return msg, true
}

func (s *WebSocketServer) enqueue(c *client, event string, msg []byte) {
	select {
	case c.send <- msg:
	default:
		// A slow consumer's queue is full. Dropping matches the relay's
		// fire-and-forget delivery policy; a stale signal is useless anyway.
		s.metrics.Inc(metrics.DropSendQueueFull)
		s.log.Warn("send queue full, dropping message", "conn", c.id, "event", event)
	}
}
