// Package server manages individual client connections: the login handshake,
// the blocking read loop that feeds the job queue, and disconnect cleanup.
package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"

	"github.com/Tyrowin/petrel/internal/protocol"
)

// HandleConn performs the login handshake on an accepted connection and, on
// success, runs the blocking read loop until the peer disconnects. It is the
// entry point for both raw TCP connections and gateway-wrapped WebSocket
// connections and returns only when the connection is finished.
func (s *Server) HandleConn(conn net.Conn) {
	sess, ok := s.handshake(conn)
	if !ok {
		_ = conn.Close()
		return
	}

	s.audit.Record(fmt.Sprintf("reader started for %s [%s]", sess.Name(), sess.ConnID()))
	s.readLoop(sess)

	// Reader exit: close the connection and drive implicit logout unless a
	// Logout command already tore the session down.
	sess.closeConn()
	s.logout(sess, false)
	s.audit.Record(fmt.Sprintf("reader stopped for %s [%s]", sess.Name(), sess.ConnID()))
}

// handshake reads the one-shot login exchange: the first frame must be Login
// with a non-empty name, and the name must be free. Failed handshakes get a
// reply (ServerError or UserExists) and the connection is closed by the
// caller; the client may retry on a fresh connection.
func (s *Server) handshake(conn net.Conn) (*Session, bool) {
	msgType, payload, err := protocol.ReadFrame(conn, s.cfg.MaxPayloadSize)
	if err != nil {
		if !errors.Is(err, io.EOF) && !isExpectedCloseError(err) {
			log.Printf("Handshake read from %s failed: %v", conn.RemoteAddr(), err)
			_ = protocol.WriteFrame(conn, protocol.TypeServerError, nil)
		}
		return nil, false
	}

	if msgType != protocol.TypeLogin || len(payload) == 0 {
		log.Printf("Handshake from %s rejected: got %s", conn.RemoteAddr(), msgType)
		_ = protocol.WriteFrame(conn, protocol.TypeServerError, nil)
		return nil, false
	}

	sess := NewSession(string(payload), conn)
	if !s.sessions.Add(sess) {
		log.Printf("Login %q from %s refused: name in use", sess.Name(), conn.RemoteAddr())
		s.audit.Record(fmt.Sprintf("login denied: %s [%s]: name in use", sess.Name(), sess.ConnID()))
		_ = protocol.WriteFrame(conn, protocol.TypeUserExists, nil)
		return nil, false
	}

	if err := protocol.WriteFrame(conn, protocol.TypeOk, nil); err != nil {
		s.sessions.Remove(sess.Name())
		return nil, false
	}

	log.Printf("User %q connected from %s", sess.Name(), conn.RemoteAddr())
	s.audit.Record(fmt.Sprintf("login accepted: %s [%s] from %s", sess.Name(), sess.ConnID(), sess.RemoteAddr()))
	return sess, true
}

// readLoop reads framed messages and pushes them as jobs until end-of-stream
// or a read error. Frames are audited as they arrive, before dispatch.
func (s *Server) readLoop(sess *Session) {
	for {
		msgType, payload, err := protocol.ReadFrame(sess.conn, s.cfg.MaxPayloadSize)
		if err != nil {
			if !errors.Is(err, io.EOF) && !isExpectedCloseError(err) {
				log.Printf("Read from %s failed: %v", sess.Name(), err)
			}
			return
		}

		s.audit.Record(fmt.Sprintf("client sent %s (%d bytes) from %s [%s]", msgType, len(payload), sess.Name(), sess.ConnID()))
		s.queue.Push(Job{Type: msgType, Payload: payload, Sender: sess})
		s.audit.Record(fmt.Sprintf("job queued from %s [%s]", sess.Name(), sess.ConnID()))
	}
}
