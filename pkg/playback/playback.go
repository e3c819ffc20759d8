// Package playback defines the boundary toward the output audio clock.
//
// A [Clock] provides a monotonic timestamp and schedules decoded PCM buffers
// to begin playing at exact positions on that timeline. Each scheduled
// buffer is represented by a [Handle] whose Done channel resolves when
// playback of that buffer completes (or when the clock is closed). The
// playback scheduler in internal/voice builds its gapless scheduling
// discipline on top of these primitives.
//
// Implementations are provided by output backends (playback/ffplay for a
// real speaker, playback/mock for tests).
package playback

import (
	"errors"
	"time"

	"github.com/voxhall/voxhall/pkg/audio"
)

// ErrClockClosed is returned by [Clock.Schedule] after the clock has been
// closed.
var ErrClockClosed = errors.New("playback: clock closed")

// Handle represents one scheduled, pending or currently-playing buffer.
type Handle interface {
	// Done returns a channel that is closed when playback of the buffer
	// completes or the clock is torn down. A handle completes exactly once;
	// there is no per-handle cancellation.
	Done() <-chan struct{}
}

// Clock is a monotonic output audio clock.
//
// Implementations must be safe for concurrent use.
type Clock interface {
	// Now returns the current position on the clock's monotonic timeline.
	// The zero position is the moment the clock was opened.
	Now() time.Duration

	// Schedule arranges for buf to begin playing at start on the clock's
	// timeline. A start position in the past begins playback immediately.
	// Buffers scheduled at non-overlapping positions play back-to-back with
	// no gap. Returns [ErrClockClosed] after Close.
	Schedule(buf audio.Buffer, start time.Duration) (Handle, error)

	// Close tears down the clock and cancels every pending handle
	// immediately, resolving their Done channels. Calling Close more than
	// once is safe and returns nil.
	Close() error
}
