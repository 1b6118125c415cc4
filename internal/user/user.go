// Package user holds the User entity (spec.md §3): the server-owned
// record of one connected client. Sessions and the matchmaker only ever
// hold a *User back-reference — the Server is the sole owner. A User is
// created by the handshake once its name passes the checks, added to the
// Server's registry when the handshake succeeds, and removed on
// disconnect.
package user

import (
	"sync"

	"github.com/rdtc8822/battleshipd/internal/conn"
)

// User represents one connected client.
type User struct {
	Name string // case-insensitive unique key within the server
	UID  string // opaque client-supplied machine identifier
	IP   string

	Conn *conn.Connection

	mu                sync.Mutex
	authorized        bool
	lookingForSession bool
	sessionID         int64 // 0 means "no session"
}

// New creates a User wrapping an accepted connection. Not yet authorized,
// not yet in any session.
func New(name, uid, ip string, c *conn.Connection) *User {
	return &User{Name: name, UID: uid, IP: ip, Conn: c}
}

func (u *User) Authorized() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.authorized
}

func (u *User) SetAuthorized(v bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.authorized = v
}

func (u *User) LookingForSession() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lookingForSession
}

func (u *User) SetLookingForSession(v bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lookingForSession = v
}

// SessionID returns the id of the session this user currently belongs to,
// or 0 if none.
func (u *User) SessionID() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sessionID
}

func (u *User) SetSessionID(id int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sessionID = id
}

// InSession reports whether the user currently belongs to a session.
func (u *User) InSession() bool {
	return u.SessionID() != 0
}
