package signal

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/yourvibes/signal-relay/internal/metrics"
	"github.com/yourvibes/signal-relay/internal/presence"
	"github.com/yourvibes/signal-relay/internal/room"
)

// Hub owns the presence and room registries and serializes every inbound
// transport event against them.
//
// A single mutex guards both registries for the full duration of each event,
// so no event ever observes a half-applied update from another: presence and
// room state may only be mutually inconsistent within the synchronous
// handling of one event, never across event boundaries.
type Hub struct {
	transport Transport
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	presence *presence.Registry
	rooms    *room.Registry
	router   *Router
}

func NewHub(transport Transport, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if m == nil {
		m = metrics.New()
	}

	h := &Hub{
		transport: transport,
		log:       logger,
		metrics:   m,
		presence:  presence.NewRegistry(),
		rooms:     room.NewRegistry(),
	}
	h.router = &Router{
		presence:  h.presence,
		rooms:     h.rooms,
		transport: transport,
		log:       logger,
		metrics:   m,
		now:       time.Now,
	}
	return h
}

// HandleConnect records a newly opened connection. The connection is
// anonymous until it sends a register event.
func (h *Hub) HandleConnect(conn string) {
	h.metrics.Inc(metrics.WSConnectionsOpened)
	h.log.Debug("connection opened", "conn", conn)
}

// HandleMessage routes one inbound wire message. Malformed or unknown
// messages are counted and dropped; they do not terminate the connection.
func (h *Hub) HandleMessage(conn string, raw []byte) {
	env, err := ParseEnvelope(raw)
	if err != nil {
		h.metrics.Inc(metrics.DropBadMessage)
		h.log.Warn("dropping malformed message", "conn", conn, "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.router.route(conn, env); err != nil {
		h.metrics.Inc(metrics.DropBadMessage)
		h.log.Warn("dropping unroutable message", "conn", conn, "event", env.Event, "err", err)
	}
}

// HandleDisconnect cleans up all state owned by a closed connection: every
// presence entry bound to it (one per identity it registered), membership in
// every room, and the notifications both imply. If the connection never
// registered, there is nothing to announce.
func (h *Hub) HandleDisconnect(conn string) {
	h.metrics.Inc(metrics.WSConnectionsClosed)

	h.mu.Lock()
	defer h.mu.Unlock()

	users := h.presence.UnregisterConn(conn)
	if len(users) == 0 {
		h.log.Debug("anonymous connection closed", "conn", conn)
		return
	}
	h.log.Info("user disconnected", "users", users, "conn", conn)

	for _, user := range users {
		h.transport.BroadcastExcept(conn, EventUserOffline, UserOfflinePayload{UserID: user})

		for _, dep := range h.rooms.LeaveAll(user) {
			if dep.Deleted {
				continue
			}
			h.transport.RoomEmitExcept(dep.Room, conn, EventUserLeft, UserLeftPayload{UserID: user, RoomID: dep.Room})
		}
	}
}

// ActiveUsers returns a snapshot of all registered user ids for the status
// surface.
func (h *Hub) ActiveUsers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.presence.Users()
}

// ActiveRooms returns a snapshot of all rooms for the status surface.
func (h *Hub) ActiveRooms() map[string]room.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.Snapshot()
}
