// Package transport provides byte-frame transports for the SolaceLive
// packet core: a WebSocket implementation for production use and an
// in-memory loopback pair with network-condition simulation for tests
// and soak runs.
//
// The core consumes whole binary frames, one encoded packet per frame;
// connection lifecycle (reconnect, TLS, backoff) stays with the caller.
package transport

import "errors"

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("transport closed")

// FrameHandler receives one whole inbound frame. Handlers run on the
// transport's read goroutine and must not block.
type FrameHandler func(frame []byte)

// FrameTransport is the byte-frame collaborator the packet core sends
// through and receives from.
type FrameTransport interface {
	// Send transmits one whole frame.
	Send(frame []byte) error

	// SetHandler registers the inbound frame handler. Frames arriving
	// before a handler is set are dropped.
	SetHandler(handler FrameHandler)

	// Close shuts the transport down. Idempotent.
	Close() error

	// LocalID identifies this endpoint for logging.
	LocalID() string
}
