package transport

import (
	"sync"
	"time"
)

// Fault describes what the fault injector does to one outbound frame.
type Fault struct {
	Drop      bool
	Duplicate bool
	Delay     time.Duration
}

// FaultFunc inspects an outbound frame and returns the fault to apply.
// A zero Fault delivers the frame normally.
type FaultFunc func(connectionID string, data []byte) Fault

const (
	// Per-connection receive buffer. A slow consumer sheds frames
	// rather than blocking senders; shed frames surface as ErrBufferFull
	// and the sender's retry policy takes over.
	connBuffer = 64

	inboundBuffer = 256
)

// Memory is an in-process transport used by tests and the simulation
// harness. Each open connection gets a buffered receive channel; frames
// sent with Send land there, frames injected with Inject land on the
// shared inbound stream the server side consumes.
type Memory struct {
	mu      sync.RWMutex
	conns   map[string]chan []byte
	inbound chan Inbound
	fault   FaultFunc
	closed  bool
}

// NewMemory creates an in-memory transport.
func NewMemory() *Memory {
	return &Memory{
		conns:   make(map[string]chan []byte),
		inbound: make(chan Inbound, inboundBuffer),
	}
}

// SetFault installs the outbound fault injector. Pass nil to clear it.
func (m *Memory) SetFault(f FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

// Open registers a connection and returns its receive channel.
// Reopening an existing id replaces the prior endpoint, modeling a
// reconnect with a fresh socket.
func (m *Memory) Open(connectionID string) <-chan []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.conns[connectionID]; ok {
		close(prior)
	}
	ch := make(chan []byte, connBuffer)
	m.conns[connectionID] = ch
	return ch
}

// CloseConn tears down one connection endpoint. Sends to it fail with
// ErrUnknownConnection until it is reopened.
func (m *Memory) CloseConn(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.conns[connectionID]; ok {
		close(ch)
		delete(m.conns, connectionID)
	}
}

// Send delivers one frame to a connection, applying any installed
// fault. A dropped frame reports success: from the sender's point of
// view a lost frame and a sent-then-lost frame are indistinguishable.
func (m *Memory) Send(connectionID string, data []byte) error {
	m.mu.RLock()
	_, ok := m.conns[connectionID]
	fault := m.fault
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if !ok {
		return ErrUnknownConnection
	}

	copies := 1
	if fault != nil {
		f := fault(connectionID, data)
		if f.Drop {
			return nil
		}
		if f.Duplicate {
			copies = 2
		}
		if f.Delay > 0 {
			frame := append([]byte(nil), data...)
			n := copies
			time.AfterFunc(f.Delay, func() {
				for i := 0; i < n; i++ {
					_ = m.deliver(connectionID, frame)
				}
			})
			return nil
		}
	}

	for i := 0; i < copies; i++ {
		if err := m.deliver(connectionID, data); err != nil {
			return err
		}
	}
	return nil
}

// deliver re-resolves the endpoint and pushes the frame while holding
// the read lock, so a concurrent CloseConn cannot close the channel
// mid-send. An endpoint torn down since the frame was accepted counts
// as unknown.
func (m *Memory) deliver(connectionID string, data []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, ok := m.conns[connectionID]
	if !ok {
		return ErrUnknownConnection
	}
	frame := append([]byte(nil), data...)
	select {
	case ch <- frame:
		return nil
	default:
		return ErrBufferFull
	}
}

// Inject feeds one client-originated frame into the inbound stream.
func (m *Memory) Inject(connectionID string, data []byte) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	frame := append([]byte(nil), data...)
	select {
	case m.inbound <- Inbound{ConnectionID: connectionID, Data: frame}:
		return nil
	default:
		return ErrBufferFull
	}
}

// Inbound returns the stream of client-originated frames.
func (m *Memory) Inbound() <-chan Inbound {
	return m.inbound
}

// Close shuts the transport down. All connection channels are closed.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	for id, ch := range m.conns {
		close(ch)
		delete(m.conns, id)
	}
	close(m.inbound)
}
