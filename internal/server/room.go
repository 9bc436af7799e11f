// Package server manages live rooms: creation, ownership, membership, and
// message fan-out to room members.
package server

import (
	"errors"
	"strings"
	"sync"

	"github.com/Tyrowin/petrel/internal/protocol"
)

var (
	// ErrRoomExists reports a create against a name that is already live.
	ErrRoomExists = errors.New("room already exists")

	// ErrRoomNotFound reports an operation against a room that is not live.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomDenied reports an operation the caller is not entitled to.
	ErrRoomDenied = errors.New("room operation denied")
)

// sendFunc delivers one outbound frame to a session. The registry calls it
// while holding the room lock so fan-out for one command is never interleaved
// with membership changes from another.
type sendFunc func(sess *Session, msgType protocol.MessageType, payload []byte)

// Room is a named, creator-owned broadcast group. Members are kept newest
// join first; the creator is always the last entry and never leaves until
// the room is deleted.
type Room struct {
	name    string
	creator string
	members []*Session
}

func (r *Room) isMember(name string) bool {
	for _, member := range r.members {
		if member.name == name {
			return true
		}
	}
	return false
}

func (r *Room) removeMember(name string) {
	for i, member := range r.members {
		if member.name == name {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return
		}
	}
}

// RoomRegistry is the single source of truth for live rooms. One coarse
// mutex covers the room index and every room's membership, which keeps
// deletion and membership changes trivially ordered against each other.
type RoomRegistry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	order []*Room // insertion order, newest first
}

// NewRoomRegistry creates an empty registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[string]*Room),
	}
}

// Create makes a new room with the caller as creator and sole member.
func (r *RoomRegistry) Create(name string, creator *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[name]; exists {
		return ErrRoomExists
	}

	room := &Room{
		name:    name,
		creator: creator.name,
		members: []*Session{creator},
	}
	r.rooms[name] = room
	r.order = append([]*Room{room}, r.order...)
	return nil
}

// Delete removes the room after notifying every member except the creator
// with RoomClosed. Only the creator may delete; everyone else gets
// ErrRoomDenied.
func (r *RoomRegistry) Delete(name string, caller *Session, send sendFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[name]
	if !exists {
		return ErrRoomNotFound
	}
	if caller.name != room.creator {
		return ErrRoomDenied
	}

	for _, member := range room.members {
		if member.name != room.creator {
			send(member, protocol.TypeRoomClosed, []byte(name))
		}
	}

	r.drop(room)
	return nil
}

// Join adds the caller at the newest end of the membership. Joining a room
// the caller already belongs to succeeds without a second entry.
func (r *RoomRegistry) Join(name string, caller *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[name]
	if !exists {
		return ErrRoomNotFound
	}

	if !room.isMember(caller.name) {
		room.members = append([]*Session{caller}, room.members...)
	}
	return nil
}

// Leave removes the caller from the membership. The creator may never leave
// (ErrRoomDenied); leaving a room the caller is not in is a successful no-op.
func (r *RoomRegistry) Leave(name string, caller *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[name]
	if !exists {
		return ErrRoomNotFound
	}
	if caller.name == room.creator {
		return ErrRoomDenied
	}

	room.removeMember(caller.name)
	return nil
}

// FanOut delivers the sender's message as RoomReceive frames to every member
// except the sender. The sender must be a member (ErrRoomDenied otherwise).
// The delivered payload packs room name, sender name, and body.
func (r *RoomRegistry) FanOut(name string, sender *Session, body []byte, send sendFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[name]
	if !exists {
		return ErrRoomNotFound
	}
	if !room.isMember(sender.name) {
		return ErrRoomDenied
	}

	payload := protocol.PackFields(name, sender.name, string(body))
	for _, member := range room.members {
		if member.name != sender.name {
			send(member, protocol.TypeRoomReceive, payload)
		}
	}
	return nil
}

// Summary builds the RoomList payload: one "room: member,member\n" line per
// room, newest room first, members newest join first. No rooms yields an
// empty payload.
func (r *RoomRegistry) Summary() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) == 0 {
		return nil
	}

	var sb strings.Builder
	for _, room := range r.order {
		sb.WriteString(room.name)
		sb.WriteString(": ")
		for i, member := range room.members {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(member.name)
		}
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

// LogoutSweep handles the departing user's rooms: rooms they created are
// closed (RoomClosed to every other member, then removed), and their
// membership in every other room is dropped.
func (r *RoomRegistry) LogoutSweep(caller *Session, send sendFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owned := make([]*Room, 0)
	for _, room := range r.order {
		if room.creator == caller.name {
			owned = append(owned, room)
		} else {
			room.removeMember(caller.name)
		}
	}

	for _, room := range owned {
		for _, member := range room.members {
			if member.name != room.creator {
				send(member, protocol.TypeRoomClosed, []byte(room.name))
			}
		}
		r.drop(room)
	}
}

// Members returns the current membership names of a room, newest join first,
// or nil when the room is not live.
func (r *RoomRegistry) Members(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[name]
	if !exists {
		return nil
	}

	names := make([]string, len(room.members))
	for i, member := range room.members {
		names[i] = member.name
	}
	return names
}

// Len reports the number of live rooms.
func (r *RoomRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// drop removes the room from the index; the caller holds the lock.
func (r *RoomRegistry) drop(room *Room) {
	delete(r.rooms, room.name)
	for i, candidate := range r.order {
		if candidate == room {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
