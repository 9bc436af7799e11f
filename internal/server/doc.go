// Package server implements the concurrent engine of the petrel chat server.
//
// The implementation is organized into specialized files for configuration,
// the audit sink, the job queue and worker pool, the session and room
// registries, command dispatch, per-connection readers, and the WebSocket
// gateway to keep the codebase maintainable and testable as the project grows.
package server
