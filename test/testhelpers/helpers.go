// Package testhelpers provides common utilities and helper functions for
// testing the petrel server.
//
// This package contains a small protocol-level test client shared across
// integration tests. It wraps a connection with login, send, and expect
// helpers so scenario tests read as a sequence of protocol exchanges.
package testhelpers

import (
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/petrel/internal/protocol"
)

// ReadTimeout bounds every expectation so a missing reply fails the test
// instead of hanging it.
const ReadTimeout = 2 * time.Second

// ProtoClient is a test-side protocol client over any stream connection.
type ProtoClient struct {
	t    *testing.T
	conn net.Conn
}

// Dial connects a ProtoClient to a TCP server address.
func Dial(t *testing.T, addr string) *ProtoClient {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial %s failed: %v", addr, err)
	}
	return &ProtoClient{t: t, conn: conn}
}

// DialWS connects a ProtoClient through the WebSocket gateway. The origin is
// sent as the Origin header so the gateway's access control applies.
func DialWS(t *testing.T, url, origin string) *ProtoClient {
	t.Helper()

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}

	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("WebSocket dial %s failed: %v", url, err)
	}
	return &ProtoClient{t: t, conn: &wsClientConn{ws: ws}}
}

// Wrap builds a ProtoClient over an existing connection.
func Wrap(t *testing.T, conn net.Conn) *ProtoClient {
	return &ProtoClient{t: t, conn: conn}
}

// Login performs the handshake and asserts the Ok reply.
func (c *ProtoClient) Login(name string) {
	c.t.Helper()
	c.Send(protocol.TypeLogin, []byte(name))
	c.Expect(protocol.TypeOk)
}

// Send writes one frame.
func (c *ProtoClient) Send(msgType protocol.MessageType, payload []byte) {
	c.t.Helper()
	if err := protocol.WriteFrame(c.conn, msgType, payload); err != nil {
		c.t.Fatalf("Writing %s failed: %v", msgType, err)
	}
}

// Expect reads one frame, asserts its type, and returns the payload.
func (c *ProtoClient) Expect(msgType protocol.MessageType) []byte {
	c.t.Helper()

	_ = c.conn.SetReadDeadline(time.Now().Add(ReadTimeout))
	gotType, payload, err := protocol.ReadFrame(c.conn, 0)
	if err != nil {
		c.t.Fatalf("Expected %s, read failed: %v", msgType, err)
	}
	if gotType != msgType {
		c.t.Fatalf("Expected %s, got %s with payload %q", msgType, gotType, payload)
	}
	return payload
}

// ExpectOneOf reads one frame, asserts its type is one of the candidates,
// and returns the type that arrived.
func (c *ProtoClient) ExpectOneOf(candidates ...protocol.MessageType) protocol.MessageType {
	c.t.Helper()

	_ = c.conn.SetReadDeadline(time.Now().Add(ReadTimeout))
	gotType, payload, err := protocol.ReadFrame(c.conn, 0)
	if err != nil {
		c.t.Fatalf("Expected one of %v, read failed: %v", candidates, err)
	}
	for _, candidate := range candidates {
		if gotType == candidate {
			return gotType
		}
	}
	c.t.Fatalf("Expected one of %v, got %s with payload %q", candidates, gotType, payload)
	return gotType
}

// ExpectPayload reads one frame and asserts both type and payload.
func (c *ProtoClient) ExpectPayload(msgType protocol.MessageType, payload string) {
	c.t.Helper()

	got := c.Expect(msgType)
	if string(got) != payload {
		c.t.Fatalf("Expected %s payload %q, got %q", msgType, payload, got)
	}
}

// ExpectClosed asserts that the server closed the connection.
func (c *ProtoClient) ExpectClosed() {
	c.t.Helper()

	_ = c.conn.SetReadDeadline(time.Now().Add(ReadTimeout))
	_, _, err := protocol.ReadFrame(c.conn, 0)
	if err == nil {
		c.t.Fatal("Expected the connection to be closed, got a frame")
	}
}

// Close closes the underlying connection.
func (c *ProtoClient) Close() {
	_ = c.conn.Close()
}

// wsClientConn adapts a client-side WebSocket connection to net.Conn, the
// mirror image of the server's gateway adapter.
type wsClientConn struct {
	ws     *websocket.Conn
	reader io.Reader
}

func (c *wsClientConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, reader, err := c.ws.NextReader()
			if err != nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) {
					return 0, io.EOF
				}
				return 0, err
			}
			c.reader = reader
		}

		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsClientConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsClientConn) Close() error { return c.ws.Close() }

func (c *wsClientConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsClientConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsClientConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsClientConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsClientConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
