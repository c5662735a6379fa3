package transport

import "errors"

var (
	// ErrUnknownConnection means the connection id has no open endpoint.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrBufferFull means the receiver's frame buffer is saturated. The
	// caller decides whether to retry; the frame was not delivered.
	ErrBufferFull = errors.New("connection buffer full")

	// ErrClosed means the transport has been shut down.
	ErrClosed = errors.New("transport closed")
)

// Inbound is one raw frame received from a connection.
type Inbound struct {
	ConnectionID string
	Data         []byte
}

// Sender delivers raw frames to connections. The session core never
// opens or manages sockets directly; it only sends through this
// interface and consumes the inbound stream.
type Sender interface {
	Send(connectionID string, data []byte) error
}
