package server

import (
	"net"
	"testing"
	"time"

	"github.com/Tyrowin/petrel/internal/protocol"
)

func expectFrame(t *testing.T, conn net.Conn, want protocol.MessageType) []byte {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, payload, err := protocol.ReadFrame(conn, 0)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if msgType != want {
		t.Fatalf("Expected %s, got %s", want, msgType)
	}
	return payload
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// TestHandshakeSuccess verifies the login exchange and session registration.
func TestHandshakeSuccess(t *testing.T) {
	s := newTestServer()
	client, srvSide := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		s.HandleConn(srvSide)
		close(done)
	}()

	if err := protocol.WriteFrame(client, protocol.TypeLogin, []byte("alice")); err != nil {
		t.Fatalf("Login write failed: %v", err)
	}
	expectFrame(t, client, protocol.TypeOk)

	waitFor(t, "session registration", func() bool { return s.sessions.Get("alice") != nil })

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Reader did not exit after client close")
	}

	// Disconnect drives implicit logout: the name is free again.
	if s.sessions.Get("alice") != nil {
		t.Error("Session survived the disconnect")
	}
}

// TestHandshakeRejectsBadFirstFrame verifies the ServerError reply for a
// first frame that is not a non-empty Login.
func TestHandshakeRejectsBadFirstFrame(t *testing.T) {
	cases := []struct {
		name    string
		msgType protocol.MessageType
		payload []byte
	}{
		{"wrong type", protocol.TypeRoomCreate, []byte("lobby")},
		{"empty login name", protocol.TypeLogin, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer()
			client, srvSide := net.Pipe()
			defer client.Close()

			done := make(chan struct{})
			go func() {
				s.HandleConn(srvSide)
				close(done)
			}()

			if err := protocol.WriteFrame(client, tc.msgType, tc.payload); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			expectFrame(t, client, protocol.TypeServerError)

			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("Connection not closed after rejected handshake")
			}
			if s.sessions.Len() != 0 {
				t.Error("Rejected handshake left a session behind")
			}
		})
	}
}

// TestHandshakeDuplicateName verifies the UserExists denial and that the
// first session stays registered.
func TestHandshakeDuplicateName(t *testing.T) {
	s := newTestServer()

	first, firstSrv := net.Pipe()
	defer first.Close()
	go s.HandleConn(firstSrv)

	if err := protocol.WriteFrame(first, protocol.TypeLogin, []byte("alice")); err != nil {
		t.Fatalf("Login write failed: %v", err)
	}
	expectFrame(t, first, protocol.TypeOk)

	second, secondSrv := net.Pipe()
	defer second.Close()
	done := make(chan struct{})
	go func() {
		s.HandleConn(secondSrv)
		close(done)
	}()

	if err := protocol.WriteFrame(second, protocol.TypeLogin, []byte("alice")); err != nil {
		t.Fatalf("Login write failed: %v", err)
	}
	expectFrame(t, second, protocol.TypeUserExists)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Duplicate connection not closed")
	}
	if s.sessions.Len() != 1 {
		t.Errorf("Expected exactly one session, got %d", s.sessions.Len())
	}
}

// TestReadLoopQueuesJobs verifies that frames read after login land on the
// job queue in order.
func TestReadLoopQueuesJobs(t *testing.T) {
	s := newTestServer()
	client, srvSide := net.Pipe()
	defer client.Close()

	go s.HandleConn(srvSide)

	if err := protocol.WriteFrame(client, protocol.TypeLogin, []byte("alice")); err != nil {
		t.Fatalf("Login write failed: %v", err)
	}
	expectFrame(t, client, protocol.TypeOk)

	if err := protocol.WriteFrame(client, protocol.TypeRoomCreate, []byte("lobby")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := protocol.WriteFrame(client, protocol.TypeRoomList, nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	waitFor(t, "jobs to be queued", func() bool { return s.queue.Len() == 2 })

	job, ok := s.queue.PopBlocking()
	if !ok || job.Type != protocol.TypeRoomCreate || string(job.Payload) != "lobby" {
		t.Errorf("Expected RoomCreate(lobby) first, got ok=%v %s(%q)", ok, job.Type, job.Payload)
	}
	if job.Sender == nil || job.Sender.Name() != "alice" {
		t.Error("Job not attributed to alice")
	}

	job, ok = s.queue.PopBlocking()
	if !ok || job.Type != protocol.TypeRoomList {
		t.Errorf("Expected RoomList second, got ok=%v %s", ok, job.Type)
	}
}
