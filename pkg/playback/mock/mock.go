// Package mock provides a manually-driven test double for the
// playback.Clock interface.
//
// The clock's timeline only moves when the test calls Advance, which also
// completes every scheduled handle whose end position has been reached.
// This makes scheduler timing tests fully deterministic.
package mock

import (
	"sync"
	"time"

	"github.com/voxhall/voxhall/pkg/audio"
	"github.com/voxhall/voxhall/pkg/playback"
)

// Ensure the mock implements the playback interfaces at compile time.
var _ playback.Clock = (*Clock)(nil)
var _ playback.Handle = (*Handle)(nil)

// Scheduled records one Schedule call.
type Scheduled struct {
	// Buf is the buffer passed to Schedule.
	Buf audio.Buffer

	// Start is the requested start position.
	Start time.Duration

	// Handle is the handle returned to the caller.
	Handle *Handle
}

// Clock is a mock playback.Clock with a manually-advanced timeline.
type Clock struct {
	mu sync.Mutex

	// ScheduleErr, if non-nil, is returned by every Schedule call.
	ScheduleErr error

	now       time.Duration
	scheduled []Scheduled
	closed    bool

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// New creates a mock clock positioned at zero.
func New() *Clock {
	return &Clock{}
}

// Now implements [playback.Clock].
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// SetNow moves the timeline to pos without completing handles. Use Advance
// to move time and fire completions together.
func (c *Clock) SetNow(pos time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = pos
}

// Advance moves the timeline forward by d and completes every pending
// handle whose end position (start + buffer duration) has been reached.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*Handle
	for _, s := range c.scheduled {
		if !s.Handle.completed() && s.Start+s.Buf.Duration() <= c.now {
			due = append(due, s.Handle)
		}
	}
	c.mu.Unlock()

	for _, h := range due {
		h.complete()
	}
}

// Schedule implements [playback.Clock]. It records the call and returns a
// pending handle; nothing completes until Advance reaches the buffer's end.
func (c *Clock) Schedule(buf audio.Buffer, start time.Duration) (playback.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, playback.ErrClockClosed
	}
	if c.ScheduleErr != nil {
		return nil, c.ScheduleErr
	}
	h := &Handle{done: make(chan struct{})}
	c.scheduled = append(c.scheduled, Scheduled{Buf: buf, Start: start, Handle: h})
	return h, nil
}

// ScheduledCalls returns a snapshot of all Schedule calls in order.
func (c *Clock) ScheduledCalls() []Scheduled {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Scheduled(nil), c.scheduled...)
}

// Close implements [playback.Clock]. It completes every pending handle and
// rejects further Schedule calls. Idempotent.
func (c *Clock) Close() error {
	c.mu.Lock()
	c.CloseCallCount++
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := append([]Scheduled(nil), c.scheduled...)
	c.mu.Unlock()

	for _, s := range pending {
		s.Handle.complete()
	}
	return nil
}

// Handle is a mock playback.Handle completed by the owning Clock.
type Handle struct {
	once sync.Once
	done chan struct{}
}

// Done implements [playback.Handle].
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) complete() {
	h.once.Do(func() { close(h.done) })
}

func (h *Handle) completed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
