package signal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Inbound event names. These are the wire protocol browser clients speak;
// renaming any of them is a breaking change.
const (
	EventRegister     = "register"
	EventCallUser     = "call-user"
	EventCallAccepted = "call-accepted"
	EventCallDeclined = "call-declined"
	EventEndCall      = "end-call"
	EventJoinRoom     = "join-room"
	EventSendSignal   = "send-signal"
	EventReturnSignal = "return-signal"
	EventLeaveRoom    = "leave-room"
)

// Outbound event names.
const (
	EventUserOnline            = "user-online"
	EventActiveUsers           = "active-users"
	EventCallIncoming          = "call-incoming"
	EventCallFailed            = "call-failed"
	EventCallEnded             = "call-ended"
	EventUserJoined            = "user-joined"
	EventRoomParticipants      = "room-participants"
	EventUserSignal            = "user-signal"
	EventReceivingReturnSignal = "receiving-returned-signal"
	EventUserLeft              = "user-left"
	EventUserOffline           = "user-offline"
)

// ReasonOffline is the call-failed reason for an unreachable callee.
const ReasonOffline = "User is offline"

// Envelope is the wire framing for every signaling message in either
// direction: an event name plus an event-specific payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseEnvelope decodes an inbound wire message. Unknown top-level fields and
// trailing data are rejected; the payload itself is validated per event by
// the router.
func ParseEnvelope(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, err
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("missing event name")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("unexpected trailing data")
	}
	return env, nil
}

// RegisterPayload carries the client-supplied user identity. It is opaque to
// the relay and not authenticated.
type RegisterPayload struct {
	UserID string `json:"userId"`
}

func (p RegisterPayload) validate() error {
	if p.UserID == "" {
		return fmt.Errorf("register: missing userId")
	}
	return nil
}

// CallUserPayload initiates a 1:1 call. SignalData is the caller's opaque
// session description; the relay never inspects it.
type CallUserPayload struct {
	To         string          `json:"to"`
	From       string          `json:"from"`
	SignalData json.RawMessage `json:"signalData,omitempty"`
	CallType   string          `json:"callType,omitempty"`
}

func (p CallUserPayload) validate() error {
	if p.To == "" || p.From == "" {
		return fmt.Errorf("call-user: missing to/from")
	}
	return nil
}

// CallAcceptedPayload answers a call with the callee's session description.
type CallAcceptedPayload struct {
	To         string          `json:"to"`
	From       string          `json:"from"`
	SignalData json.RawMessage `json:"signalData,omitempty"`
}

func (p CallAcceptedPayload) validate() error {
	if p.To == "" || p.From == "" {
		return fmt.Errorf("call-accepted: missing to/from")
	}
	return nil
}

// CallDeclinedPayload rejects a call.
type CallDeclinedPayload struct {
	To     string `json:"to"`
	From   string `json:"from"`
	Reason string `json:"reason,omitempty"`
}

func (p CallDeclinedPayload) validate() error {
	if p.To == "" || p.From == "" {
		return fmt.Errorf("call-declined: missing to/from")
	}
	return nil
}

// EndCallPayload terminates an established call.
type EndCallPayload struct {
	To   string `json:"to"`
	From string `json:"from"`
}

func (p EndCallPayload) validate() error {
	if p.To == "" || p.From == "" {
		return fmt.Errorf("end-call: missing to/from")
	}
	return nil
}

// RoomPayload is shared by join-room and leave-room.
type RoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

func (p RoomPayload) validate() error {
	if p.RoomID == "" || p.UserID == "" {
		return fmt.Errorf("room event: missing roomId/userId")
	}
	return nil
}

// RoomSignalPayload is shared by send-signal and return-signal: a directed
// SDP/candidate exchange between two members of a room.
type RoomSignalPayload struct {
	To         string          `json:"to"`
	From       string          `json:"from"`
	RoomID     string          `json:"roomId"`
	SignalData json.RawMessage `json:"signalData,omitempty"`
}

func (p RoomSignalPayload) validate() error {
	if p.To == "" || p.From == "" || p.RoomID == "" {
		return fmt.Errorf("room signal: missing to/from/roomId")
	}
	return nil
}

// Outbound payloads.

type UserOnlinePayload struct {
	UserID string `json:"userId"`
}

type ActiveUsersPayload struct {
	UserIDs []string `json:"userIds"`
}

type CallIncomingPayload struct {
	From       string          `json:"from"`
	SignalData json.RawMessage `json:"signalData,omitempty"`
	CallType   string          `json:"callType,omitempty"`
}

type CallFailedPayload struct {
	To     string `json:"to"`
	Reason string `json:"reason"`
}

type CallAnsweredPayload struct {
	From       string          `json:"from"`
	SignalData json.RawMessage `json:"signalData,omitempty"`
}

type CallRejectedPayload struct {
	From   string `json:"from"`
	Reason string `json:"reason,omitempty"`
}

type CallEndedPayload struct {
	From string `json:"from"`
}

type UserJoinedPayload struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

type RoomParticipantsPayload struct {
	RoomID       string   `json:"roomId"`
	Participants []string `json:"participants"`
}

type UserSignalPayload struct {
	From       string          `json:"from"`
	SignalData json.RawMessage `json:"signalData,omitempty"`
	RoomID     string          `json:"roomId"`
}

type UserLeftPayload struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

type UserOfflinePayload struct {
	UserID string `json:"userId"`
}
