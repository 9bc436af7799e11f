// Package server exposes the WebSocket gateway: an HTTP endpoint that
// upgrades connections and carries protocol frames in binary WebSocket
// messages, feeding them into the same handshake and job pipeline as TCP.
package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Gateway serves the optional WebSocket transport for the engine.
type Gateway struct {
	server     *Server
	httpServer *http.Server
	upgrader   websocket.Upgrader

	listenerMu sync.Mutex
	listener   net.Listener
}

// NewGateway wires a gateway for the given engine and configuration. Routes:
// /ws upgrades to the frame transport, /healthz reports liveness.
func NewGateway(s *Server, cfg WebSocketConfig) *Gateway {
	checker := newOriginChecker(cfg.AllowedOrigins)

	g := &Gateway{
		server: s,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checker.check,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.upgradeHandler)
	mux.HandleFunc("/healthz", g.healthHandler)

	g.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return g
}

// Start runs the gateway's HTTP server until Shutdown.
func (g *Gateway) Start() error {
	listener, err := net.Listen("tcp", g.httpServer.Addr)
	if err != nil {
		return err
	}

	g.listenerMu.Lock()
	g.listener = listener
	g.listenerMu.Unlock()

	log.Printf("WebSocket gateway listening on %s", listener.Addr())

	err = g.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the bound gateway address, or nil before Start.
func (g *Gateway) Addr() net.Addr {
	g.listenerMu.Lock()
	defer g.listenerMu.Unlock()

	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// Shutdown stops accepting upgrades and closes the HTTP server. Live
// WebSocket sessions are torn down by the engine's shutdown, which closes
// every session connection.
func (g *Gateway) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := g.httpServer.Shutdown(ctx); err != nil {
		log.Printf("WebSocket gateway shutdown error: %v", err)
	}
}

func (g *Gateway) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// The handler goroutine doubles as the connection reader; it returns
	// when the session ends.
	g.server.readerWG.Add(1)
	defer g.server.readerWG.Done()
	g.server.HandleConn(newWSConn(conn))
}

func (g *Gateway) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "petrel gateway is running!\n")
}

// wsConn adapts a WebSocket connection to net.Conn so the engine can frame
// it exactly like a TCP stream. Each Write becomes one binary message;
// Read drains binary messages in order, so frames may span or share
// message boundaries without the engine noticing.
type wsConn struct {
	ws     *websocket.Conn
	reader io.Reader
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, reader, err := c.ws.NextReader()
			if err != nil {
				return 0, translateWSError(err)
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

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, translateWSError(err)
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

// translateWSError maps expected WebSocket close conditions to io.EOF so the
// read loop treats them as a clean disconnect.
func translateWSError(err error) error {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		return io.EOF
	}
	if isExpectedCloseError(err) {
		return io.EOF
	}
	return err
}
