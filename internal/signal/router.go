package signal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/yourvibes/signal-relay/internal/metrics"
	"github.com/yourvibes/signal-relay/internal/presence"
	"github.com/yourvibes/signal-relay/internal/room"
)

// Router maps inbound events to registry mutations and outbound emissions.
// It is stateless beyond the registries it is handed: every routing decision
// is a pure function of registry state at the moment the event is handled.
//
// Delivery policy: call initiation reports an unreachable callee back to the
// caller as call-failed; every other event addressed to an unreachable user
// is silently dropped. Stale signaling data has no value, so nothing is
// queued or retried.
//
// The router must only be invoked by the hub, which serializes events.
type Router struct {
	presence  *presence.Registry
	rooms     *room.Registry
	transport Transport
	log       *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func (rt *Router) route(conn string, env Envelope) error {
	switch env.Event {
	case EventRegister:
		return routePayload(rt, conn, env, rt.register)
	case EventCallUser:
		return routePayload(rt, conn, env, rt.callUser)
	case EventCallAccepted:
		return routePayload(rt, conn, env, rt.callAccepted)
	case EventCallDeclined:
		return routePayload(rt, conn, env, rt.callDeclined)
	case EventEndCall:
		return routePayload(rt, conn, env, rt.endCall)
	case EventJoinRoom:
		return routePayload(rt, conn, env, rt.joinRoom)
	case EventSendSignal:
		return routePayload(rt, conn, env, func(conn string, p RoomSignalPayload) {
			rt.roomSignal(conn, p, EventUserSignal)
		})
	case EventReturnSignal:
		return routePayload(rt, conn, env, func(conn string, p RoomSignalPayload) {
			rt.roomSignal(conn, p, EventReceivingReturnSignal)
		})
	case EventLeaveRoom:
		return routePayload(rt, conn, env, rt.leaveRoom)
	default:
		return fmt.Errorf("unknown event %q", env.Event)
	}
}

// routePayload decodes and validates the payload for one event kind, then
// hands it to the event handler.
func routePayload[P interface{ validate() error }](rt *Router, conn string, env Envelope, handle func(conn string, p P)) error {
	var p P
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return fmt.Errorf("%s: %w", env.Event, err)
	}
	if err := p.validate(); err != nil {
		return err
	}
	handle(conn, p)
	rt.metrics.Inc(metrics.EventsRouted)
	return nil
}

func (rt *Router) register(conn string, p RegisterPayload) {
	prev, superseded := rt.presence.Register(p.UserID, conn)
	rt.metrics.Inc(metrics.UsersRegistered)
	if superseded {
		// Last write wins. The superseded connection stays open but is
		// orphaned from presence lookups; it is not notified.
		rt.log.Info("registration superseded", "user", p.UserID, "prev_conn", prev, "conn", conn)
	} else {
		rt.log.Debug("user registered", "user", p.UserID, "conn", conn)
	}

	rt.transport.BroadcastExcept(conn, EventUserOnline, UserOnlinePayload{UserID: p.UserID})
	rt.transport.Send(conn, EventActiveUsers, ActiveUsersPayload{UserIDs: rt.presence.Users()})
}

func (rt *Router) callUser(conn string, p CallUserPayload) {
	dest, ok := rt.presence.Lookup(p.To)
	if !ok {
		rt.metrics.Inc(metrics.CallFailedOffline)
		rt.transport.Send(conn, EventCallFailed, CallFailedPayload{To: p.To, Reason: ReasonOffline})
		return
	}
	rt.transport.Send(dest, EventCallIncoming, CallIncomingPayload{
		From:       p.From,
		SignalData: p.SignalData,
		CallType:   p.CallType,
	})
}

func (rt *Router) callAccepted(conn string, p CallAcceptedPayload) {
	dest, ok := rt.presence.Lookup(p.To)
	if !ok {
		rt.metrics.Inc(metrics.DropRecipientOffline)
		return
	}
	rt.transport.Send(dest, EventCallAccepted, CallAnsweredPayload{From: p.From, SignalData: p.SignalData})
}

func (rt *Router) callDeclined(conn string, p CallDeclinedPayload) {
	dest, ok := rt.presence.Lookup(p.To)
	if !ok {
		rt.metrics.Inc(metrics.DropRecipientOffline)
		return
	}
	rt.transport.Send(dest, EventCallDeclined, CallRejectedPayload{From: p.From, Reason: p.Reason})
}

func (rt *Router) endCall(conn string, p EndCallPayload) {
	dest, ok := rt.presence.Lookup(p.To)
	if !ok {
		rt.metrics.Inc(metrics.DropRecipientOffline)
		return
	}
	rt.transport.Send(dest, EventCallEnded, CallEndedPayload{From: p.From})
}

func (rt *Router) joinRoom(conn string, p RoomPayload) {
	participants := rt.rooms.Join(p.RoomID, p.UserID, rt.now())
	rt.transport.JoinGroup(p.RoomID, conn)

	rt.transport.RoomEmitExcept(p.RoomID, conn, EventUserJoined, UserJoinedPayload{UserID: p.UserID, RoomID: p.RoomID})
	rt.transport.Send(conn, EventRoomParticipants, RoomParticipantsPayload{RoomID: p.RoomID, Participants: participants})
}

func (rt *Router) roomSignal(conn string, p RoomSignalPayload, event string) {
	dest, ok := rt.presence.Lookup(p.To)
	if !ok {
		rt.metrics.Inc(metrics.DropRecipientOffline)
		return
	}
	rt.transport.Send(dest, event, UserSignalPayload{From: p.From, SignalData: p.SignalData, RoomID: p.RoomID})
}

func (rt *Router) leaveRoom(conn string, p RoomPayload) {
	// Remaining members are notified whenever the room exists and survives,
	// whether or not the leaver was actually in it.
	_, existed := rt.rooms.Participants(p.RoomID)
	_, deleted := rt.rooms.Leave(p.RoomID, p.UserID)
	if existed && !deleted {
		rt.transport.RoomEmitExcept(p.RoomID, conn, EventUserLeft, UserLeftPayload{UserID: p.UserID, RoomID: p.RoomID})
	}
	// The transport group membership is dropped even when the room was
	// unknown or the user was not in it.
	rt.transport.LeaveGroup(p.RoomID, conn)
}
