// Package room tracks named groups of users collaborating on a multi-party
// call. A room is purely membership plus creation metadata; it carries no
// transport state.
package room

import (
	"sort"
	"time"
)

// Room holds a room's insertion-ordered participant list and its immutable
// creation metadata.
type Room struct {
	Participants []string  `json:"participants"`
	CreatedBy    string    `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Departure records the outcome of removing a user from one room during
// LeaveAll.
type Departure struct {
	Room    string
	Deleted bool
}

// Registry maps room ids to rooms. A room exists if and only if its
// participant set is non-empty: rooms are created lazily on first join and
// deleted as soon as the last participant leaves.
//
// Registry is not internally locked. The signaling hub serializes all access
// so every inbound event observes and mutates consistent state.
type Registry struct {
	rooms map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
	}
}

// Join adds user to the room, creating it with createdBy=user and
// createdAt=now on first use. Joining a room the user is already in is a
// no-op. Returns a snapshot of the up-to-date participant list.
func (r *Registry) Join(roomID, user string, now time.Time) []string {
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &Room{
			Participants: []string{user},
			CreatedBy:    user,
			CreatedAt:    now,
		}
		r.rooms[roomID] = rm
		return []string{user}
	}

	if !contains(rm.Participants, user) {
		rm.Participants = append(rm.Participants, user)
	}

	participants := make([]string, len(rm.Participants))
	copy(participants, rm.Participants)
	return participants
}

// Leave removes user from the room if present, deleting the room when the
// participant set empties. Leaving an unknown room or a room the user is not
// in is treated as already-left.
func (r *Registry) Leave(roomID, user string) (removed, deleted bool) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return false, false
	}

	for i, p := range rm.Participants {
		if p == user {
			rm.Participants = append(rm.Participants[:i], rm.Participants[i+1:]...)
			removed = true
			break
		}
	}
	if removed && len(rm.Participants) == 0 {
		delete(r.rooms, roomID)
		deleted = true
	}
	return removed, deleted
}

// LeaveAll removes user from every room it participates in, visiting each
// room exactly once. Departures are returned in sorted room order so callers
// emit deterministic notifications.
func (r *Registry) LeaveAll(user string) []Departure {
	var affected []string
	for id, rm := range r.rooms {
		if contains(rm.Participants, user) {
			affected = append(affected, id)
		}
	}
	sort.Strings(affected)

	departures := make([]Departure, 0, len(affected))
	for _, id := range affected {
		_, deleted := r.Leave(id, user)
		departures = append(departures, Departure{Room: id, Deleted: deleted})
	}
	return departures
}

// Participants returns a snapshot of the room's participant list.
func (r *Registry) Participants(roomID string) ([]string, bool) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	participants := make([]string, len(rm.Participants))
	copy(participants, rm.Participants)
	return participants, true
}

// Snapshot returns a deep copy of all rooms for status reporting.
func (r *Registry) Snapshot() map[string]Room {
	out := make(map[string]Room, len(r.rooms))
	for id, rm := range r.rooms {
		participants := make([]string, len(rm.Participants))
		copy(participants, rm.Participants)
		out[id] = Room{
			Participants: participants,
			CreatedBy:    rm.CreatedBy,
			CreatedAt:    rm.CreatedAt,
		}
	}
	return out
}

func (r *Registry) Len() int { return len(r.rooms) }

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
