// Package transport defines the narrow Transporter contract the
// Connection Manager drives, and is the home for concrete injected
// implementations (see wstransport, natstransport). The core never
// imports a concrete transport directly.
package transport

import "context"

// CloseInfo describes why a transport session ended.
type CloseInfo struct {
	Code   int
	Reason string
}

// MessageHandler receives one inbound frame.
type MessageHandler func(frame []byte)

// CloseHandler is invoked once when an opened transport session ends
// by peer close or failure. It is not invoked after a local Close,
// which detaches it.
type CloseHandler func(CloseInfo)

// Transporter is the injected socket the Connection Manager opens and
// drives; SPEC_FULL.md §4.5 treats the concrete transport as an
// external collaborator never implemented by the core.
type Transporter interface {
	// Open establishes the session against url. Open must invoke
	// onMessage for every inbound frame and onClose at most once when
	// the session ends. If Open returns an error, no session exists and
	// onClose is never invoked.
	Open(ctx context.Context, url string, onMessage MessageHandler, onClose CloseHandler) error
	// Send writes one outbound frame. Send after Close must return an
	// error, never panic.
	Send(frame []byte) error
	// Close ends the session with the given close code, detaching any
	// handlers registered in Open. Close is idempotent.
	Close(code int, reason string) error
}
