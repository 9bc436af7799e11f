// Package server implements the append-only audit sink that records every
// inbound frame, outbound frame, and lifecycle event.
package server

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// AuditSink records one event per call. Implementations must be safe for
// concurrent use; callers treat Record as fire-and-forget and never inspect
// the outcome.
type AuditSink interface {
	Record(event string)
}

// FileAudit appends timestamped audit lines to a single file. A mutex
// serializes writes so lines from concurrent goroutines never interleave.
type FileAudit struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileAudit opens (creating if necessary) the audit file at path in
// append-only mode.
func NewFileAudit(path string) (*FileAudit, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &FileAudit{file: file}, nil
}

// Record appends one timestamped line for the event. Write failures are
// logged and otherwise ignored; auditing never disturbs command processing.
func (a *FileAudit) Record(event string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	line := time.Now().Format(time.RFC3339) + " | " + event + "\n"
	if _, err := a.file.WriteString(line); err != nil {
		log.Printf("Audit write failed: %v", err)
	}
}

// Close releases the underlying audit file.
func (a *FileAudit) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// NopAudit discards all events. Used when no audit path is configured.
type NopAudit struct{}

// Record implements AuditSink by doing nothing.
func (NopAudit) Record(string) {}
