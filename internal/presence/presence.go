// Package presence tracks which logical user owns which live signaling
// connection.
package presence

import "sort"

// Registry maps a user id to its currently active connection id and keeps a
// reverse index so disconnect cleanup stays proportional to the identities
// bound to the closing connection.
//
// A user resolves to at most one connection. The reverse direction is not
// unique: re-registering a live connection under a new user id leaves the old
// identity bound to it, so a connection may carry several identities until it
// closes. Registration is last-write-wins; a superseded connection stays open
// but no longer resolves for the stolen identity.
//
// Registry is not internally locked. The signaling hub serializes all access
// so every inbound event observes and mutates consistent state.
type Registry struct {
	byUser map[string]string              // user id -> connection id
	byConn map[string]map[string]struct{} // connection id -> bound user ids
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]string),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Register binds user to conn, overwriting any previous binding for the same
// user. If the user was registered on a different connection, that connection
// is orphaned for this identity (its later disconnect will not report the
// user). Identities previously registered on conn are left in place; they
// resolve to conn until it disconnects.
//
// Returns the superseded connection id, if any.
func (r *Registry) Register(user, conn string) (prevConn string, superseded bool) {
	if old, ok := r.byUser[user]; ok && old != conn {
		delete(r.byConn[old], user)
		if len(r.byConn[old]) == 0 {
			delete(r.byConn, old)
		}
		prevConn, superseded = old, true
	}

	r.byUser[user] = conn
	users, ok := r.byConn[conn]
	if !ok {
		users = make(map[string]struct{})
		r.byConn[conn] = users
	}
	users[user] = struct{}{}
	return prevConn, superseded
}

// Lookup resolves a user to its connection. Absence means the user is not
// currently reachable.
func (r *Registry) Lookup(user string) (conn string, ok bool) {
	conn, ok = r.byUser[user]
	return conn, ok
}

// UnregisterConn removes every identity bound to conn and returns them
// sorted. The result is empty when conn was never registered or was
// superseded for all of its identities.
func (r *Registry) UnregisterConn(conn string) []string {
	bound, ok := r.byConn[conn]
	if !ok {
		return nil
	}
	delete(r.byConn, conn)

	users := make([]string, 0, len(bound))
	for user := range bound {
		delete(r.byUser, user)
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}

// Users returns a sorted snapshot of all registered user ids.
func (r *Registry) Users() []string {
	users := make([]string, 0, len(r.byUser))
	for user := range r.byUser {
		users = append(users, user)
	}
	sort.Strings(users)
	return users
}

func (r *Registry) Len() int { return len(r.byUser) }
