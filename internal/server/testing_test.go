package server

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/petrel/internal/protocol"
)

// fakeAddr is a placeholder net.Addr for in-memory connections.
type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

// fakeConn is an in-memory net.Conn that records everything written to it so
// tests can decode the frames a handler produced. Reads always report EOF.
type fakeConn struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

func (c *fakeConn) Read([]byte) (int, error) { return 0, io.EOF }

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, net.ErrClosed
	}
	c.data = append(c.data, p...)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) LocalAddr() net.Addr              { return fakeAddr("local") }
func (c *fakeConn) RemoteAddr() net.Addr             { return fakeAddr("remote") }
func (c *fakeConn) SetDeadline(time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

// frame is one decoded outbound frame captured by a fakeConn.
type frame struct {
	msgType protocol.MessageType
	payload string
}

// frames decodes every frame written so far.
func (c *fakeConn) frames(t *testing.T) []frame {
	t.Helper()

	c.mu.Lock()
	buf := append([]byte(nil), c.data...)
	c.mu.Unlock()

	var frames []frame
	for len(buf) > 0 {
		msgType, payload, err := protocol.Decode(buf)
		if err != nil {
			t.Fatalf("Captured stream is not valid frames: %v", err)
		}
		frames = append(frames, frame{msgType: msgType, payload: string(payload)})
		buf = buf[protocol.HeaderSize+len(payload):]
	}
	return frames
}

// lastFrame returns the most recently written frame.
func (c *fakeConn) lastFrame(t *testing.T) frame {
	t.Helper()

	frames := c.frames(t)
	if len(frames) == 0 {
		t.Fatal("Expected at least one frame written")
	}
	return frames[len(frames)-1]
}

// memoryAudit collects audit events in memory for assertions.
type memoryAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *memoryAudit) Record(event string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *memoryAudit) snapshot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

// newTestServer builds a server that is ready for direct dispatch calls
// without a live listener.
func newTestServer() *Server {
	return NewServer(Config{}, &memoryAudit{})
}

// loginFake registers a session backed by a fakeConn, failing the test when
// the name is already taken.
func loginFake(t *testing.T, s *Server, name string) (*Session, *fakeConn) {
	t.Helper()

	conn := &fakeConn{}
	sess := NewSession(name, conn)
	if !s.sessions.Add(sess) {
		t.Fatalf("Login %q failed: name in use", name)
	}
	return sess, conn
}
