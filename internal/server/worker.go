// Package server runs the fixed pool of workers that drain the job queue.
package server

import (
	"fmt"
	"log"
)

// startWorkers launches the configured number of workers. Each worker is
// tracked by the server's WaitGroup so Shutdown can wait for in-flight
// commands to finish; commands are never cancelled mid-flight.
func (s *Server) startWorkers() {
	for i := 0; i < s.cfg.Workers; i++ {
		s.workerWG.Add(1)
		go func(id int) {
			defer s.workerWG.Done()
			s.workerLoop(id)
		}(i)
	}
	log.Printf("Started %d workers", s.cfg.Workers)
}

// workerLoop pops jobs in FIFO order and dispatches them until the queue is
// closed and drained.
func (s *Server) workerLoop(id int) {
	s.audit.Record(fmt.Sprintf("worker %d started", id))

	for {
		job, ok := s.queue.PopBlocking()
		if !ok {
			break
		}

		s.audit.Record(fmt.Sprintf("worker %d popped %s from %s [%s]", id, job.Type, job.Sender.Name(), job.Sender.ConnID()))
		s.dispatch(job)
	}

	s.audit.Record(fmt.Sprintf("worker %d stopped", id))
}
