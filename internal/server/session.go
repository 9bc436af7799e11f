// Package server manages logged-in user sessions and enforces name
// uniqueness across concurrent login attempts.
package server

import (
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/Tyrowin/petrel/internal/protocol"
)

// ErrUserNotFound reports a direct-message target that is not logged in.
var ErrUserNotFound = errors.New("user not found")

// Session is a logged-in user's server-side identity and connection handle.
// The name is immutable once assigned; at most one Session exists per name.
type Session struct {
	name   string
	conn   net.Conn
	connID string

	writeMu sync.Mutex

	mu        sync.Mutex
	loggedOut bool
}

// NewSession wraps an accepted connection for the named user. Each session
// carries a generated connection ID used to correlate audit and log lines.
func NewSession(name string, conn net.Conn) *Session {
	return &Session{
		name:   name,
		conn:   conn,
		connID: uuid.NewString(),
	}
}

// Name returns the immutable user name.
func (s *Session) Name() string {
	return s.name
}

// ConnID returns the generated connection identifier.
func (s *Session) ConnID() string {
	return s.connID
}

// RemoteAddr returns the peer address of the underlying connection.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// write sends one frame on the session's connection. A per-session mutex
// keeps frames from interleaving when handlers under different registry
// locks write to the same peer.
func (s *Session) write(msgType protocol.MessageType, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return protocol.WriteFrame(s.conn, msgType, payload)
}

// closeConn closes the underlying connection. Safe to call more than once.
func (s *Session) closeConn() {
	_ = s.conn.Close()
}

// beginLogout flips the session into the logged-out state and reports whether
// this call was the one that did it. Command logout and disconnect cleanup
// race for this flag so teardown runs exactly once.
func (s *Session) beginLogout() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loggedOut {
		return false
	}
	s.loggedOut = true
	return true
}

// SessionRegistry is the single source of truth for logged-in users. One
// exclusive mutex covers lookup and mutation so an existence check plus
// insert is atomic and duplicate names cannot race in.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	order    []*Session // insertion order, newest first
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*Session),
	}
}

// Add registers the session, returning false when the name is already taken.
func (r *SessionRegistry) Add(sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sess.name]; exists {
		return false
	}

	r.sessions[sess.name] = sess
	r.order = append([]*Session{sess}, r.order...)
	return true
}

// Remove unregisters the named session and returns it, or nil when absent.
func (r *SessionRegistry) Remove(name string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[name]
	if !exists {
		return nil
	}

	delete(r.sessions, name)
	for i, candidate := range r.order {
		if candidate == sess {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return sess
}

// Get returns the named session, or nil when absent.
func (r *SessionRegistry) Get(name string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[name]
}

// Names lists logged-in user names, newest login first, excluding the given
// name.
func (r *SessionRegistry) Names(exclude string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.order))
	for _, sess := range r.order {
		if sess.name != exclude {
			names = append(names, sess.name)
		}
	}
	return names
}

// Deliver runs the callback against the target session while the registry
// lock is held, so the lookup and the delivery write cannot race with logout.
// Returns ErrUserNotFound when the target is not logged in.
func (r *SessionRegistry) Deliver(target string, deliver func(*Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[target]
	if !exists {
		return ErrUserNotFound
	}
	deliver(sess)
	return nil
}

// Snapshot returns all current sessions, newest login first.
func (r *SessionRegistry) Snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]*Session, len(r.order))
	copy(sessions, r.order)
	return sessions
}

// Len reports the number of logged-in users.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
