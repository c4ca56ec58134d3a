// Package session implements the per-connection session state machine and
// the manager that tracks live sessions.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOutboxFull is returned when a frame cannot be queued without blocking.
// The outbox closes itself at that point, so the consumer never sees a gap.
var ErrOutboxFull = errors.New("outbox full")

// ErrOutboxClosed is returned when pushing to a closed outbox.
var ErrOutboxClosed = errors.New("outbox closed")

// Outbox is a bounded queue of encoded frames drained by the connection's
// writer goroutine. A consumer that falls a full buffer behind is cut off:
// the outbox closes on the first push that does not fit.
type Outbox struct {
	owner      string
	frames     chan []byte
	mu         sync.Mutex
	closed     bool
	overflowed bool
}

// NewOutbox creates an Outbox for the given session ID.
//
// Postcondition: Returns an open Outbox; bufferSize <= 0 selects 64.
func NewOutbox(owner string, bufferSize int) *Outbox {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Outbox{
		owner:  owner,
		frames: make(chan []byte, bufferSize),
	}
}

// Push enqueues data without blocking.
//
// Precondition: data must be a non-nil byte slice.
// Postcondition: data is enqueued, or ErrOutboxClosed / ErrOutboxFull is
// returned. After ErrOutboxFull the outbox is closed and Overflowed is true.
func (o *Outbox) Push(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("session %s: %w", o.owner, ErrOutboxClosed)
	}
	select {
	case o.frames <- data:
		return nil
	default:
		o.overflowed = true
		o.closed = true
		close(o.frames)
		return fmt.Errorf("session %s: %w", o.owner, ErrOutboxFull)
	}
}

// Frames returns the read side. It is closed by Close after queued frames.
func (o *Outbox) Frames() <-chan []byte {
	return o.frames
}

// Close marks the outbox closed and closes the frames channel. Frames already
// queued remain readable.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.frames)
	}
}

// IsClosed reports whether the outbox has been closed.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Overflowed reports whether the outbox was closed because it filled up.
func (o *Outbox) Overflowed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.overflowed
}

// Close codes passed to Disconnect, following websocket close-code ranges.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	// CloseOverflow is "try again later": the client fell too far behind.
	CloseOverflow = 1013
	CloseRejected = 4001
)
