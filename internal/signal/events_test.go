package signal

import (
	"encoding/json"
	"testing"
)

func TestParseEnvelope(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		env, err := ParseEnvelope([]byte(`{"event":"register","data":{"userId":"alice"}}`))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if env.Event != EventRegister {
			t.Fatalf("event = %q, want %q", env.Event, EventRegister)
		}
		var p RegisterPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			t.Fatalf("unmarshal data: %v", err)
		}
		if p.UserID != "alice" {
			t.Fatalf("userId = %q, want %q", p.UserID, "alice")
		}
	})

	t.Run("data is optional at the framing layer", func(t *testing.T) {
		env, err := ParseEnvelope([]byte(`{"event":"leave-room"}`))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if env.Event != EventLeaveRoom {
			t.Fatalf("event = %q, want %q", env.Event, EventLeaveRoom)
		}
	})

	t.Run("rejects", func(t *testing.T) {
		tests := []struct {
			name string
			raw  string
		}{
			{name: "empty", raw: ``},
			{name: "not json", raw: `register alice`},
			{name: "missing event", raw: `{"data":{}}`},
			{name: "empty event", raw: `{"event":""}`},
			{name: "unknown top-level field", raw: `{"event":"register","data":{},"extra":1}`},
			{name: "trailing data", raw: `{"event":"register"}{"event":"register"}`},
			{name: "array", raw: `[{"event":"register"}]`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := ParseEnvelope([]byte(tt.raw)); err == nil {
					t.Fatalf("ParseEnvelope(%q) should have failed", tt.raw)
				}
			})
		}
	})
}

func TestPayloadValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload interface{ validate() error }
		wantErr bool
	}{
		{name: "register ok", payload: RegisterPayload{UserID: "alice"}},
		{name: "register missing user", payload: RegisterPayload{}, wantErr: true},
		{name: "call-user ok", payload: CallUserPayload{To: "bob", From: "alice"}},
		{name: "call-user missing to", payload: CallUserPayload{From: "alice"}, wantErr: true},
		{name: "call-user missing from", payload: CallUserPayload{To: "bob"}, wantErr: true},
		{name: "call-accepted ok", payload: CallAcceptedPayload{To: "alice", From: "bob"}},
		{name: "call-accepted missing from", payload: CallAcceptedPayload{To: "alice"}, wantErr: true},
		{name: "call-declined ok", payload: CallDeclinedPayload{To: "alice", From: "bob"}},
		{name: "end-call missing to", payload: EndCallPayload{From: "alice"}, wantErr: true},
		{name: "room ok", payload: RoomPayload{RoomID: "standup", UserID: "alice"}},
		{name: "room missing room", payload: RoomPayload{UserID: "alice"}, wantErr: true},
		{name: "room signal ok", payload: RoomSignalPayload{To: "bob", From: "alice", RoomID: "standup"}},
		{name: "room signal missing room", payload: RoomSignalPayload{To: "bob", From: "alice"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate() = %v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}
