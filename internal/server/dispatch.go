// Package server implements the command state machine that interprets each
// queued job and mutates the registries or fans messages out.
package server

import (
	"errors"
	"fmt"
	"log"

	"github.com/Tyrowin/petrel/internal/protocol"
)

// dispatch executes one popped job against the registries and writes the
// reply to the originating connection. All state lives in the registries;
// the dispatcher itself is stateless.
func (s *Server) dispatch(job Job) {
	sess := job.Sender

	switch job.Type {
	case protocol.TypeRoomCreate:
		s.handleRoomCreate(sess, job.Payload)
	case protocol.TypeRoomDelete:
		s.handleRoomDelete(sess, job.Payload)
	case protocol.TypeRoomList:
		s.handleRoomList(sess)
	case protocol.TypeRoomJoin:
		s.handleRoomJoin(sess, job.Payload)
	case protocol.TypeRoomLeave:
		s.handleRoomLeave(sess, job.Payload)
	case protocol.TypeRoomSend:
		s.handleRoomSend(sess, job.Payload)
	case protocol.TypeUserSend:
		s.handleUserSend(sess, job.Payload)
	case protocol.TypeUserList:
		s.handleUserList(sess)
	case protocol.TypeLogout:
		s.logout(sess, true)
	default:
		// Anything else on an established session is a protocol violation,
		// including a second Login.
		log.Printf("Unexpected %s from %s; replying ServerError", job.Type, sess.Name())
		s.send(sess, protocol.TypeServerError, nil)
	}
}

func (s *Server) handleRoomCreate(sess *Session, payload []byte) {
	name := string(payload)
	err := s.rooms.Create(name, sess)
	switch {
	case err == nil:
		log.Printf("Room %q created by %s", name, sess.Name())
		s.send(sess, protocol.TypeOk, nil)
	case errors.Is(err, ErrRoomExists):
		s.send(sess, protocol.TypeRoomExists, nil)
	}
}

func (s *Server) handleRoomDelete(sess *Session, payload []byte) {
	name := string(payload)
	err := s.rooms.Delete(name, sess, s.send)
	switch {
	case err == nil:
		log.Printf("Room %q closed by %s", name, sess.Name())
		s.send(sess, protocol.TypeOk, nil)
	case errors.Is(err, ErrRoomDenied):
		s.send(sess, protocol.TypeRoomDenied, nil)
	case errors.Is(err, ErrRoomNotFound):
		s.send(sess, protocol.TypeRoomNotFound, nil)
	}
}

func (s *Server) handleRoomList(sess *Session) {
	s.send(sess, protocol.TypeRoomList, s.rooms.Summary())
}

func (s *Server) handleRoomJoin(sess *Session, payload []byte) {
	err := s.rooms.Join(string(payload), sess)
	switch {
	case err == nil:
		s.send(sess, protocol.TypeOk, nil)
	case errors.Is(err, ErrRoomNotFound):
		s.send(sess, protocol.TypeRoomNotFound, nil)
	}
}

func (s *Server) handleRoomLeave(sess *Session, payload []byte) {
	err := s.rooms.Leave(string(payload), sess)
	switch {
	case err == nil:
		s.send(sess, protocol.TypeOk, nil)
	case errors.Is(err, ErrRoomDenied):
		s.send(sess, protocol.TypeRoomDenied, nil)
	case errors.Is(err, ErrRoomNotFound):
		s.send(sess, protocol.TypeRoomNotFound, nil)
	}
}

func (s *Server) handleRoomSend(sess *Session, payload []byte) {
	roomName, body, ok := protocol.SplitPacked(payload)
	if !ok {
		s.send(sess, protocol.TypeServerError, nil)
		return
	}

	err := s.rooms.FanOut(string(roomName), sess, body, s.send)
	switch {
	case err == nil:
		s.send(sess, protocol.TypeOk, nil)
	case errors.Is(err, ErrRoomDenied):
		s.send(sess, protocol.TypeRoomDenied, nil)
	case errors.Is(err, ErrRoomNotFound):
		s.send(sess, protocol.TypeRoomNotFound, nil)
	}
}

func (s *Server) handleUserSend(sess *Session, payload []byte) {
	target, body, ok := protocol.SplitPacked(payload)
	if !ok {
		s.send(sess, protocol.TypeServerError, nil)
		return
	}

	message := protocol.PackFields(sess.Name(), string(body))
	err := s.sessions.Deliver(string(target), func(recipient *Session) {
		s.send(recipient, protocol.TypeUserReceive, message)
	})
	switch {
	case err == nil:
		s.send(sess, protocol.TypeOk, nil)
	case errors.Is(err, ErrUserNotFound):
		s.send(sess, protocol.TypeUserNotFound, nil)
	}
}

func (s *Server) handleUserList(sess *Session) {
	names := s.sessions.Names(sess.Name())

	var payload []byte
	for _, name := range names {
		payload = append(payload, name...)
		payload = append(payload, '\n')
	}
	s.send(sess, protocol.TypeUserList, payload)
}

// logout tears down the caller's presence: rooms they created are closed,
// their membership elsewhere is dropped, and the session is removed. The
// room lock is taken and released before the session lock, the one place
// both locks are used for a single command. notify controls the final Ok,
// which is skipped when the teardown was driven by a dropped connection.
func (s *Server) logout(sess *Session, notify bool) {
	if !sess.beginLogout() {
		return
	}

	s.rooms.LogoutSweep(sess, s.send)
	s.sessions.Remove(sess.Name())

	if notify {
		s.send(sess, protocol.TypeOk, nil)
	}

	log.Printf("User %s logged out", sess.Name())
	s.audit.Record(fmt.Sprintf("logout: %s [%s]", sess.Name(), sess.ConnID()))
}
