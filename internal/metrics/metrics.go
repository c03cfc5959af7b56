package metrics

import "sync"

// Counter names used across the relay. Delivery drops carry the drop reason
// in the counter name so the best-effort policy stays observable without
// per-message logging.
const (
	WSConnectionsOpened = "ws_connections_opened"
	WSConnectionsClosed = "ws_connections_closed"
	UsersRegistered     = "users_registered"
	EventsRouted        = "events_routed"
	CallFailedOffline   = "call_failed_offline"

	DropRecipientOffline = "drop_recipient_offline"
	DropSendQueueFull    = "drop_send_queue_full"
	DropBadMessage       = "drop_bad_message"
	DropRateLimited      = "drop_rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The relay is scraped via the Prometheus text handler; this type keeps the
// routing and delivery logic testable without a metrics backend.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
