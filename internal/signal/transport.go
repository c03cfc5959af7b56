package signal

// Transport is the per-connection duplex channel the relay emits through. It
// is implemented by the WebSocket layer; the hub and router depend only on
// this interface so routing semantics are testable without sockets.
//
// All delivery is best-effort and fire-and-forget: a message reaches a
// destination only if that connection is currently open and able to accept
// it. There is no buffering beyond the per-connection send queue, no retry,
// and no acknowledgment.
type Transport interface {
	// Send emits a named event to one specific connection.
	Send(conn, event string, payload any)

	// BroadcastExcept emits to every open connection except sender.
	BroadcastExcept(sender, event string, payload any)

	// RoomEmitExcept emits to every connection joined to the named group
	// except sender.
	RoomEmitExcept(room, sender, event string, payload any)

	// JoinGroup and LeaveGroup manage a connection's membership in a named
	// group. Both are idempotent.
	JoinGroup(room, conn string)
	LeaveGroup(room, conn string)
}
