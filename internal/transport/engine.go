package transport

import "context"

// CompletionFunc receives every async completion and every channel hangup.
type CompletionFunc func(*Message)

// Engine performs the wire exchange for request messages.
type Engine interface {
	// CreateChannel connects to host:port, or reports StatusChanExists when
	// a live channel to host is already present.
	CreateChannel(host, port string) Status
	// Send queues msg and returns immediately. On a nil error ownership of
	// msg passes to the engine; on error it stays with the caller.
	Send(msg *Message) error
	// SendAndWait blocks until msg completes or ctx ends. Ownership stays
	// with the caller on every return.
	SendAndWait(ctx context.Context, msg *Message) error
	Close() error
}
