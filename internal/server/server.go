// Package server constructs and runs the petrel engine: listener, worker
// pool, registries, audit sink, and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/Tyrowin/petrel/internal/protocol"
)

// Server aggregates the session registry, room registry, job queue, and
// audit sink behind one owned instance; there is no ambient global state.
type Server struct {
	cfg      Config
	sessions *SessionRegistry
	rooms    *RoomRegistry
	queue    *JobQueue
	audit    AuditSink

	listenerMu sync.Mutex
	listener   net.Listener

	gateway *Gateway

	workerWG sync.WaitGroup
	readerWG sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a server from the given configuration and audit sink.
// A nil sink disables auditing. The configuration is sanitized on the way in.
func NewServer(cfg Config, audit AuditSink) *Server {
	if audit == nil {
		audit = NopAudit{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      sanitizeConfig(cfg),
		sessions: NewSessionRegistry(),
		rooms:    NewRoomRegistry(),
		queue:    NewJobQueue(),
		audit:    audit,
		ctx:      ctx,
		cancel:   cancel,
	}

	if s.cfg.WebSocket.Enabled {
		s.gateway = NewGateway(s, s.cfg.WebSocket)
	}
	return s
}

// Start listens on the configured address, launches the worker pool and the
// optional WebSocket gateway, and blocks in the accept loop until Shutdown
// closes the listener.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()

	log.Printf("Server listening on %s", listener.Addr())
	s.audit.Record(fmt.Sprintf("server started on %s", listener.Addr()))

	s.startWorkers()

	if s.gateway != nil {
		go func() {
			if err := s.gateway.Start(); err != nil {
				log.Printf("WebSocket gateway stopped: %v", err)
			}
		}()
	}

	return s.acceptLoop(listener)
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// GatewayAddr returns the bound WebSocket gateway address, or nil when the
// gateway is disabled or not yet started.
func (s *Server) GatewayAddr() net.Addr {
	if s.gateway == nil {
		return nil
	}
	return s.gateway.Addr()
}

// acceptLoop hands each accepted connection to its own reader goroutine.
// Accept errors drop the one connection attempt, not the process; the loop
// ends only when the listener is closed by Shutdown.
func (s *Server) acceptLoop(listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
			}
			if isExpectedCloseError(err) {
				return nil
			}
			log.Printf("Accept failed: %v", err)
			continue
		}

		s.readerWG.Add(1)
		go func() {
			defer s.readerWG.Done()
			s.HandleConn(conn)
		}()
	}
}

// send writes one frame to the session and audits it. A failed write drops
// only the offending connection: its reader then exits and drives the
// session's implicit logout, while the rest of the server keeps serving.
func (s *Server) send(sess *Session, msgType protocol.MessageType, payload []byte) {
	if err := sess.write(msgType, payload); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Write %s to %s failed, dropping connection: %v", msgType, sess.Name(), err)
		}
		sess.closeConn()
		return
	}
	s.audit.Record(fmt.Sprintf("server sent %s to %s [%s]", msgType, sess.Name(), sess.ConnID()))
}

// Shutdown gracefully stops the server: the listener and gateway stop
// accepting, the queue closes so workers drain pending jobs and exit, then
// every client connection is closed and the readers are given until the
// timeout to finish their cleanup.
func (s *Server) Shutdown(timeout time.Duration) error {
	log.Println("Shutting down server...")
	s.cancel()

	s.listenerMu.Lock()
	listener := s.listener
	s.listenerMu.Unlock()
	if listener != nil {
		_ = listener.Close()
	}

	if s.gateway != nil {
		s.gateway.Shutdown(timeout)
	}

	s.queue.Close()
	s.workerWG.Wait()

	for _, sess := range s.sessions.Snapshot() {
		sess.closeConn()
	}

	done := make(chan struct{})
	go func() {
		s.readerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Server shutdown completed")
		s.audit.Record("server stopped")
		return nil
	case <-time.After(timeout):
		log.Println("Server shutdown timeout reached, some readers may still be running")
		return context.DeadlineExceeded
	}
}
