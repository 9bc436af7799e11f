// Package server implements the FIFO job queue that decouples per-connection
// readers from the worker pool.
package server

import (
	"sync"

	"github.com/Tyrowin/petrel/internal/protocol"
)

// Job is one inbound command awaiting dispatch. It is created by a connection
// reader, owned by the queue until a worker pops it, and discarded after
// handling.
type Job struct {
	Type    protocol.MessageType
	Payload []byte
	Sender  *Session
}

// JobQueue is an unbounded FIFO queue guarded by one mutex plus a not-empty
// condition. Unboundedness trades memory for simplicity: readers never block
// on a full queue, so back-pressure is limited to what TCP itself provides.
type JobQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	jobs     []Job
	closed   bool
}

// NewJobQueue creates an empty, open queue.
func NewJobQueue() *JobQueue {
	q := &JobQueue{}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Push appends the job at the newest end and wakes one waiting worker.
// Pushes after Close are dropped.
func (q *JobQueue) Push(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.jobs = append(q.jobs, job)
	q.notEmpty.Signal()
}

// PopBlocking blocks until a job is available or the queue is closed and
// drained, then removes and returns the oldest job. The second return value
// is false once the queue is closed and empty.
func (q *JobQueue) PopBlocking() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.jobs) == 0 && !q.closed {
		q.notEmpty.Wait()
	}

	if len(q.jobs) == 0 {
		return Job{}, false
	}

	job := q.jobs[0]
	q.jobs[0] = Job{}
	q.jobs = q.jobs[1:]
	return job, true
}

// Len reports the number of pending jobs.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close marks the queue closed and wakes every waiter. Pending jobs are still
// drained by PopBlocking before workers observe closure.
func (q *JobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
}
