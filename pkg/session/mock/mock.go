// Package mock provides test doubles for the session package interfaces.
//
// Use Dialer to verify Dial calls and feed controlled sessions. Use Handle
// to drive the inbound message stream and inspect the audio chunks the
// pipeline sent.
//
// Example:
//
//	h := mock.NewHandle()
//	d := &mock.Dialer{Handle: h}
//	// ... start the controller with d, then:
//	h.Emit(session.Message{Audio: pcm})
//	h.Finish(nil) // close the message stream cleanly
package mock

import (
	"context"
	"sync"

	"github.com/voxhall/voxhall/pkg/session"
)

// Ensure the mocks implement the session interfaces at compile time.
var _ session.Dialer = (*Dialer)(nil)
var _ session.Handle = (*Handle)(nil)

// DialCall records a single invocation of Dialer.Dial.
type DialCall struct {
	// Ctx is the context passed to Dial.
	Ctx context.Context
	// Cfg is the Config passed to Dial.
	Cfg session.Config
}

// Dialer is a mock implementation of session.Dialer.
type Dialer struct {
	mu sync.Mutex

	// Handle is returned by Dial. If nil, Dial returns a new default Handle.
	Handle session.Handle

	// DialErr, if non-nil, is returned as the error from Dial.
	DialErr error

	// DialCalls records every call to Dial in order.
	DialCalls []DialCall
}

// Dial records the call and returns Handle, DialErr.
func (d *Dialer) Dial(ctx context.Context, cfg session.Config) (session.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialCalls = append(d.DialCalls, DialCall{Ctx: ctx, Cfg: cfg})
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	if d.Handle != nil {
		return d.Handle, nil
	}
	return NewHandle(), nil
}

// Calls returns a snapshot of recorded Dial calls. Thread-safe.
func (d *Dialer) Calls() []DialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DialCall(nil), d.DialCalls...)
}

// Handle is a mock implementation of session.Handle. Drive the inbound
// stream with Emit and end it with Finish.
type Handle struct {
	mu sync.Mutex

	messages chan session.Message
	errVal   error
	finished bool

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by the first Close call.
	CloseErr error

	// Sent records a copy of every chunk passed to SendAudio, in order.
	Sent [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	closed bool
}

// NewHandle creates a Handle with a buffered message stream.
func NewHandle() *Handle {
	return &Handle{messages: make(chan session.Message, 64)}
}

// Emit delivers one inbound message to the consumer. It panics if called
// after Finish, mirroring a send on a closed channel in the real transports.
func (h *Handle) Emit(msg session.Message) {
	h.messages <- msg
}

// Finish closes the message stream, optionally recording err as the
// session's terminal error. Subsequent calls are no-ops.
func (h *Handle) Finish(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return
	}
	h.finished = true
	h.errVal = err
	close(h.messages)
}

// SendAudio records the chunk and returns SendAudioErr (or
// [session.ErrClosed] after Close).
func (h *Handle) SendAudio(chunk []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return session.ErrClosed
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	h.Sent = append(h.Sent, cp)
	return h.SendAudioErr
}

// SentChunks returns a snapshot of recorded outbound chunks. Thread-safe.
func (h *Handle) SentChunks() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.Sent...)
}

// Messages returns the inbound message stream.
func (h *Handle) Messages() <-chan session.Message { return h.messages }

// Err returns the error recorded by Finish.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errVal
}

// Close marks the handle closed, finishes the message stream, and returns
// CloseErr on the first call only. Idempotent like the real transports.
func (h *Handle) Close() error {
	h.mu.Lock()
	h.CloseCallCount++
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	err := h.CloseErr
	h.mu.Unlock()

	h.Finish(nil)
	return err
}
