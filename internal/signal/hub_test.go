package signal

import (
	"encoding/json"
	"testing"

	"github.com/yourvibes/signal-relay/internal/metrics"
)

// emission records one outbound delivery for assertions.
type emission struct {
	kind    string // "send", "broadcast", "room"
	target  string // send: destination conn; broadcast/room: excluded sender
	room    string
	event   string
	payload any
}

type fakeTransport struct {
	emissions []emission
	groups    map[string]map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{groups: make(map[string]map[string]bool)}
}

func (f *fakeTransport) Send(conn, event string, payload any) {
	f.emissions = append(f.emissions, emission{kind: "send", target: conn, event: event, payload: payload})
}

func (f *fakeTransport) BroadcastExcept(sender, event string, payload any) {
	f.emissions = append(f.emissions, emission{kind: "broadcast", target: sender, event: event, payload: payload})
}

func (f *fakeTransport) RoomEmitExcept(room, sender, event string, payload any) {
	f.emissions = append(f.emissions, emission{kind: "room", target: sender, room: room, event: event, payload: payload})
}

func (f *fakeTransport) JoinGroup(room, conn string) {
	members, ok := f.groups[room]
	if !ok {
		members = make(map[string]bool)
		f.groups[room] = members
	}
	members[conn] = true
}

func (f *fakeTransport) LeaveGroup(room, conn string) {
	delete(f.groups[room], conn)
	if len(f.groups[room]) == 0 {
		delete(f.groups, room)
	}
}

func (f *fakeTransport) reset() {
	f.emissions = nil
}

// byEvent returns all emissions with the given event name.
func (f *fakeTransport) byEvent(event string) []emission {
	var out []emission
	for _, e := range f.emissions {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func newTestHub(t *testing.T) (*Hub, *fakeTransport, *metrics.Metrics) {
	t.Helper()
	tr := newFakeTransport()
	m := metrics.New()
	return NewHub(tr, nil, m), tr, m
}

func deliver(t *testing.T, h *Hub, conn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	raw, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	h.HandleMessage(conn, raw)
}

func register(t *testing.T, h *Hub, conn, user string) {
	t.Helper()
	h.HandleConnect(conn)
	deliver(t, h, conn, EventRegister, RegisterPayload{UserID: user})
}

func TestRegisterAnnouncesAndReplies(t *testing.T) {
	h, tr, _ := newTestHub(t)

	register(t, h, "c1", "alice")
	register(t, h, "c2", "bob")

	online := tr.byEvent(EventUserOnline)
	if len(online) != 2 {
		t.Fatalf("user-online emissions = %d, want 2", len(online))
	}
	// bob's announcement excludes bob's own connection
	if online[1].kind != "broadcast" || online[1].target != "c2" {
		t.Fatalf("user-online = %+v, want broadcast excluding c2", online[1])
	}
	if got := online[1].payload.(UserOnlinePayload).UserID; got != "bob" {
		t.Fatalf("user-online userId = %q, want %q", got, "bob")
	}

	// bob's active-users reply goes to bob only and includes bob
	replies := tr.byEvent(EventActiveUsers)
	if len(replies) != 2 {
		t.Fatalf("active-users emissions = %d, want 2", len(replies))
	}
	last := replies[1]
	if last.kind != "send" || last.target != "c2" {
		t.Fatalf("active-users = %+v, want send to c2", last)
	}
	users := last.payload.(ActiveUsersPayload).UserIDs
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Fatalf("active-users userIds = %v, want [alice bob]", users)
	}
}

func TestLastRegistrationWins(t *testing.T) {
	h, tr, _ := newTestHub(t)

	register(t, h, "c1", "alice")
	register(t, h, "c2", "alice")
	tr.reset()

	// Routing now targets c2.
	register(t, h, "c3", "bob")
	deliver(t, h, "c3", EventCallUser, CallUserPayload{To: "alice", From: "bob"})
	incoming := tr.byEvent(EventCallIncoming)
	if len(incoming) != 1 || incoming[0].target != "c2" {
		t.Fatalf("call-incoming = %+v, want send to c2", incoming)
	}

	// The superseded connection closing must not announce alice offline.
	tr.reset()
	h.HandleDisconnect("c1")
	if got := tr.byEvent(EventUserOffline); len(got) != 0 {
		t.Fatalf("user-offline emissions = %+v, want none for superseded conn", got)
	}
	if users := h.ActiveUsers(); len(users) != 2 {
		t.Fatalf("ActiveUsers = %v, want [alice bob]", users)
	}
}

func TestCallFlow(t *testing.T) {
	h, tr, _ := newTestHub(t)
	register(t, h, "c1", "alice")
	register(t, h, "c2", "bob")
	tr.reset()

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	deliver(t, h, "c1", EventCallUser, CallUserPayload{To: "bob", From: "alice", SignalData: offer, CallType: "video"})

	incoming := tr.byEvent(EventCallIncoming)
	if len(incoming) != 1 || incoming[0].kind != "send" || incoming[0].target != "c2" {
		t.Fatalf("call-incoming = %+v, want send to c2", incoming)
	}
	in := incoming[0].payload.(CallIncomingPayload)
	if in.From != "alice" || in.CallType != "video" || string(in.SignalData) != string(offer) {
		t.Fatalf("call-incoming payload = %+v", in)
	}

	tr.reset()
	answer := json.RawMessage(`{"type":"answer","sdp":"v=0"}`)
	deliver(t, h, "c2", EventCallAccepted, CallAcceptedPayload{To: "alice", From: "bob", SignalData: answer})

	accepted := tr.byEvent(EventCallAccepted)
	if len(accepted) != 1 || accepted[0].target != "c1" {
		t.Fatalf("call-accepted = %+v, want send to c1", accepted)
	}
	ans := accepted[0].payload.(CallAnsweredPayload)
	if ans.From != "bob" || string(ans.SignalData) != string(answer) {
		t.Fatalf("call-accepted payload = %+v", ans)
	}

	tr.reset()
	deliver(t, h, "c1", EventEndCall, EndCallPayload{To: "bob", From: "alice"})
	ended := tr.byEvent(EventCallEnded)
	if len(ended) != 1 || ended[0].target != "c2" {
		t.Fatalf("call-ended = %+v, want send to c2", ended)
	}
}

func TestCallDeclined(t *testing.T) {
	h, tr, _ := newTestHub(t)
	register(t, h, "c1", "alice")
	register(t, h, "c2", "bob")
	tr.reset()

	deliver(t, h, "c2", EventCallDeclined, CallDeclinedPayload{To: "alice", From: "bob", Reason: "busy"})

	declined := tr.byEvent(EventCallDeclined)
	if len(declined) != 1 || declined[0].target != "c1" {
		t.Fatalf("call-declined = %+v, want send to c1", declined)
	}
	rej := declined[0].payload.(CallRejectedPayload)
	if rej.From != "bob" || rej.Reason != "busy" {
		t.Fatalf("call-declined payload = %+v", rej)
	}
}

func TestCallOfflineUser(t *testing.T) {
	h, tr, m := newTestHub(t)
	register(t, h, "c1", "alice")
	tr.reset()

	deliver(t, h, "c1", EventCallUser, CallUserPayload{To: "ghost", From: "alice"})

	failed := tr.byEvent(EventCallFailed)
	if len(failed) != 1 || failed[0].kind != "send" || failed[0].target != "c1" {
		t.Fatalf("call-failed = %+v, want send back to caller", failed)
	}
	p := failed[0].payload.(CallFailedPayload)
	if p.To != "ghost" || p.Reason != ReasonOffline {
		t.Fatalf("call-failed payload = %+v", p)
	}
	if got := m.Get(metrics.CallFailedOffline); got != 1 {
		t.Fatalf("CallFailedOffline = %d, want 1", got)
	}

	// Non-initiation events to an offline user are dropped silently.
	tr.reset()
	deliver(t, h, "c1", EventEndCall, EndCallPayload{To: "ghost", From: "alice"})
	if len(tr.emissions) != 0 {
		t.Fatalf("emissions = %+v, want none", tr.emissions)
	}
	if got := m.Get(metrics.DropRecipientOffline); got != 1 {
		t.Fatalf("DropRecipientOffline = %d, want 1", got)
	}
}

func TestRoomFlow(t *testing.T) {
	h, tr, _ := newTestHub(t)
	register(t, h, "c1", "alice")
	register(t, h, "c2", "bob")
	tr.reset()

	deliver(t, h, "c1", EventJoinRoom, RoomPayload{RoomID: "standup", UserID: "alice"})

	joined := tr.byEvent(EventUserJoined)
	if len(joined) != 1 || joined[0].kind != "room" || joined[0].room != "standup" || joined[0].target != "c1" {
		t.Fatalf("user-joined = %+v, want room emit excluding c1", joined)
	}
	roster := tr.byEvent(EventRoomParticipants)
	if len(roster) != 1 || roster[0].target != "c1" {
		t.Fatalf("room-participants = %+v, want send to c1", roster)
	}
	first := roster[0].payload.(RoomParticipantsPayload)
	if first.RoomID != "standup" || len(first.Participants) != 1 || first.Participants[0] != "alice" {
		t.Fatalf("room-participants payload = %+v", first)
	}
	if !tr.groups["standup"]["c1"] {
		t.Fatal("c1 should be in the standup transport group")
	}

	tr.reset()
	deliver(t, h, "c2", EventJoinRoom, RoomPayload{RoomID: "standup", UserID: "bob"})
	second := tr.byEvent(EventRoomParticipants)[0].payload.(RoomParticipantsPayload)
	if len(second.Participants) != 2 || second.Participants[0] != "alice" || second.Participants[1] != "bob" {
		t.Fatalf("participants = %v, want [alice bob] in join order", second.Participants)
	}

	// Directed mesh negotiation between the two members.
	tr.reset()
	sdp := json.RawMessage(`{"type":"offer"}`)
	deliver(t, h, "c2", EventSendSignal, RoomSignalPayload{To: "alice", From: "bob", RoomID: "standup", SignalData: sdp})
	sig := tr.byEvent(EventUserSignal)
	if len(sig) != 1 || sig[0].kind != "send" || sig[0].target != "c1" {
		t.Fatalf("user-signal = %+v, want send to c1", sig)
	}

	tr.reset()
	deliver(t, h, "c1", EventReturnSignal, RoomSignalPayload{To: "bob", From: "alice", RoomID: "standup", SignalData: sdp})
	ret := tr.byEvent(EventReceivingReturnSignal)
	if len(ret) != 1 || ret[0].target != "c2" {
		t.Fatalf("receiving-returned-signal = %+v, want send to c2", ret)
	}

	// bob leaves; alice is notified and the room survives.
	tr.reset()
	deliver(t, h, "c2", EventLeaveRoom, RoomPayload{RoomID: "standup", UserID: "bob"})
	left := tr.byEvent(EventUserLeft)
	if len(left) != 1 || left[0].kind != "room" || left[0].room != "standup" {
		t.Fatalf("user-left = %+v, want room emit", left)
	}
	if tr.groups["standup"]["c2"] {
		t.Fatal("c2 should have left the standup transport group")
	}
	rooms := h.ActiveRooms()
	if rm, ok := rooms["standup"]; !ok || len(rm.Participants) != 1 {
		t.Fatalf("rooms = %+v, want standup with [alice]", rooms)
	}

	// alice leaves; the now-empty room is deleted and nobody is notified.
	tr.reset()
	deliver(t, h, "c1", EventLeaveRoom, RoomPayload{RoomID: "standup", UserID: "alice"})
	if got := tr.byEvent(EventUserLeft); len(got) != 0 {
		t.Fatalf("user-left = %+v, want none for last member", got)
	}
	if rooms := h.ActiveRooms(); len(rooms) != 0 {
		t.Fatalf("rooms = %+v, want empty", rooms)
	}
}

func TestLeaveRoomUnknownRoom(t *testing.T) {
	h, tr, _ := newTestHub(t)
	register(t, h, "c1", "alice")
	tr.reset()

	deliver(t, h, "c1", EventLeaveRoom, RoomPayload{RoomID: "nowhere", UserID: "alice"})
	if got := tr.byEvent(EventUserLeft); len(got) != 0 {
		t.Fatalf("user-left = %+v, want none", got)
	}
}

func TestLeaveRoomNonMemberNotifiesSurvivors(t *testing.T) {
	h, tr, _ := newTestHub(t)
	register(t, h, "c1", "alice")
	register(t, h, "c2", "bob")
	deliver(t, h, "c1", EventJoinRoom, RoomPayload{RoomID: "standup", UserID: "alice"})
	tr.reset()

	// bob was never in standup, but the room exists and survives, so the
	// members still hear the departure.
	deliver(t, h, "c2", EventLeaveRoom, RoomPayload{RoomID: "standup", UserID: "bob"})

	left := tr.byEvent(EventUserLeft)
	if len(left) != 1 || left[0].kind != "room" || left[0].room != "standup" || left[0].target != "c2" {
		t.Fatalf("user-left = %+v, want one room emit excluding c2", left)
	}
	if got := left[0].payload.(UserLeftPayload).UserID; got != "bob" {
		t.Fatalf("user-left userId = %q, want %q", got, "bob")
	}
	rooms := h.ActiveRooms()
	if rm := rooms["standup"]; len(rm.Participants) != 1 || rm.Participants[0] != "alice" {
		t.Fatalf("standup = %+v, want [alice] untouched", rm)
	}
}

func TestDisconnectCleanup(t *testing.T) {
	h, tr, _ := newTestHub(t)
	register(t, h, "c1", "alice")
	register(t, h, "c2", "bob")
	deliver(t, h, "c1", EventJoinRoom, RoomPayload{RoomID: "standup", UserID: "alice"})
	deliver(t, h, "c2", EventJoinRoom, RoomPayload{RoomID: "standup", UserID: "bob"})
	deliver(t, h, "c1", EventJoinRoom, RoomPayload{RoomID: "solo", UserID: "alice"})
	tr.reset()

	h.HandleDisconnect("c1")

	offline := tr.byEvent(EventUserOffline)
	if len(offline) != 1 || offline[0].kind != "broadcast" || offline[0].target != "c1" {
		t.Fatalf("user-offline = %+v, want broadcast excluding c1", offline)
	}
	if got := offline[0].payload.(UserOfflinePayload).UserID; got != "alice" {
		t.Fatalf("user-offline userId = %q, want %q", got, "alice")
	}

	// standup still has bob, so it gets a user-left; solo was deleted silently.
	left := tr.byEvent(EventUserLeft)
	if len(left) != 1 || left[0].room != "standup" {
		t.Fatalf("user-left = %+v, want one emit for standup", left)
	}

	if users := h.ActiveUsers(); len(users) != 1 || users[0] != "bob" {
		t.Fatalf("ActiveUsers = %v, want [bob]", users)
	}
	rooms := h.ActiveRooms()
	if _, ok := rooms["solo"]; ok {
		t.Fatal("solo room should have been deleted")
	}
	if rm := rooms["standup"]; len(rm.Participants) != 1 || rm.Participants[0] != "bob" {
		t.Fatalf("standup = %+v, want [bob]", rm)
	}
}

func TestDisconnectBeforeRegister(t *testing.T) {
	h, tr, _ := newTestHub(t)
	h.HandleConnect("c1")
	h.HandleDisconnect("c1")

	if len(tr.emissions) != 0 {
		t.Fatalf("emissions = %+v, want none for anonymous disconnect", tr.emissions)
	}
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	h, tr, m := newTestHub(t)
	register(t, h, "c1", "alice")
	tr.reset()

	raws := []string{
		`not json`,
		`{"event":"no-such-event","data":{}}`,
		`{"event":"call-user","data":{"from":"alice"}}`,
		`{"event":"register","data":"oops"}`,
	}
	for _, raw := range raws {
		h.HandleMessage("c1", []byte(raw))
	}

	if len(tr.emissions) != 0 {
		t.Fatalf("emissions = %+v, want none", tr.emissions)
	}
	if got := m.Get(metrics.DropBadMessage); got != uint64(len(raws)) {
		t.Fatalf("DropBadMessage = %d, want %d", got, len(raws))
	}

	// The connection is still usable afterwards.
	deliver(t, h, "c1", EventJoinRoom, RoomPayload{RoomID: "standup", UserID: "alice"})
	if got := tr.byEvent(EventRoomParticipants); len(got) != 1 {
		t.Fatalf("room-participants = %+v, want 1 after bad messages", got)
	}
}

func TestRebindConnToNewUser(t *testing.T) {
	h, tr, _ := newTestHub(t)
	register(t, h, "c1", "alice")
	register(t, h, "c2", "bob")
	tr.reset()

	// c1 re-registers as carol; the alice identity stays bound to c1 and
	// keeps resolving until the connection closes.
	deliver(t, h, "c1", EventRegister, RegisterPayload{UserID: "carol"})

	users := h.ActiveUsers()
	if len(users) != 3 || users[0] != "alice" || users[1] != "bob" || users[2] != "carol" {
		t.Fatalf("ActiveUsers = %v, want [alice bob carol]", users)
	}

	deliver(t, h, "c2", EventCallUser, CallUserPayload{To: "alice", From: "bob"})
	incoming := tr.byEvent(EventCallIncoming)
	if len(incoming) != 1 || incoming[0].target != "c1" {
		t.Fatalf("call-incoming = %+v, want send to c1 for the retained identity", incoming)
	}

	// Closing c1 sweeps both identities it carried.
	tr.reset()
	h.HandleDisconnect("c1")
	offline := tr.byEvent(EventUserOffline)
	if len(offline) != 2 {
		t.Fatalf("user-offline emissions = %+v, want one per identity", offline)
	}
	gone := []string{
		offline[0].payload.(UserOfflinePayload).UserID,
		offline[1].payload.(UserOfflinePayload).UserID,
	}
	if gone[0] != "alice" || gone[1] != "carol" {
		t.Fatalf("user-offline userIds = %v, want [alice carol]", gone)
	}
	if users := h.ActiveUsers(); len(users) != 1 || users[0] != "bob" {
		t.Fatalf("ActiveUsers = %v, want [bob]", users)
	}
}
