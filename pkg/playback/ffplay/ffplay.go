// Package ffplay implements the playback.Clock interface on top of an
// ffplay subprocess.
//
// The clock pipes little-endian 16-bit mono PCM into ffplay's stdin. ffplay
// consumes the stream at the configured sample rate, so writing each
// scheduled buffer when its start position is reached yields gapless
// playback as long as buffers are scheduled back-to-back — exactly the
// discipline the playback scheduler enforces. Completion of a handle is
// derived from the clock timeline (start + duration), not from the
// subprocess, which exposes no per-sample progress.
package ffplay

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/voxhall/voxhall/pkg/audio"
	"github.com/voxhall/voxhall/pkg/playback"
)

// Compile-time assertion that Clock satisfies the playback interface.
var _ playback.Clock = (*Clock)(nil)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Clock.
type Option func(*Clock)

// WithBinary overrides the ffplay binary path. Default "ffplay".
func WithBinary(path string) Option {
	return func(c *Clock) { c.binary = path }
}

// WithVolume sets the ffplay output volume (0–100). Default 80.
func WithVolume(v int) Option {
	return func(c *Clock) { c.volume = v }
}

// ── Clock ──────────────────────────────────────────────────────────────────────

// Clock is a playback.Clock writing PCM to an ffplay subprocess.
type Clock struct {
	binary     string
	volume     int
	sampleRate int
	epoch      time.Time

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	closed bool
	done   chan struct{} // closed on Close; cancels all pending handles
}

// Open starts an ffplay subprocess configured for s16le mono PCM at
// sampleRate and returns a running Clock. The clock's timeline starts at
// zero on return.
func Open(sampleRate int, opts ...Option) (*Clock, error) {
	c := &Clock{
		binary:     "ffplay",
		volume:     80,
		sampleRate: sampleRate,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	cmd := exec.Command(c.binary,
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-autoexit",
		"-volume", fmt.Sprintf("%d", c.volume),
		"-f", "s16le",
		"-ch_layout", "mono",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-i", "-",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffplay: stdin pipe: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("ffplay: start: %w", err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.epoch = time.Now()
	return c, nil
}

// Now implements [playback.Clock].
func (c *Clock) Now() time.Duration {
	return time.Since(c.epoch)
}

// Schedule implements [playback.Clock]. The buffer's bytes are written to
// ffplay when start is reached; the handle completes at start + duration on
// the clock timeline.
func (c *Clock) Schedule(buf audio.Buffer, start time.Duration) (playback.Handle, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, playback.ErrClockClosed
	}
	c.mu.Unlock()

	h := &handle{done: make(chan struct{})}
	go c.play(buf, start, h)
	return h, nil
}

// play waits for the buffer's start position, writes it to ffplay, and
// completes the handle when the buffer's timeline slot has elapsed. A
// closed clock resolves the handle immediately without writing.
func (c *Clock) play(buf audio.Buffer, start time.Duration, h *handle) {
	defer h.complete()

	if wait := start - c.Now(); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-c.done:
			return
		}
	}

	c.mu.Lock()
	stdin := c.stdin
	closed := c.closed
	c.mu.Unlock()
	if closed || stdin == nil {
		return
	}
	// ffplay buffers internally; the write returns well before playback of
	// the buffer finishes.
	if _, err := stdin.Write(buf.PCM); err != nil {
		return
	}

	end := start + buf.Duration()
	if wait := end - c.Now(); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-c.done:
		}
	}
}

// Close implements [playback.Clock]. It cancels pending handles, closes
// ffplay's stdin, and kills the subprocess. Idempotent.
func (c *Clock) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	stdin := c.stdin
	cmd := c.cmd
	c.stdin = nil
	c.cmd = nil
	c.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
	return nil
}

// ── handle ─────────────────────────────────────────────────────────────────────

type handle struct {
	once sync.Once
	done chan struct{}
}

func (h *handle) Done() <-chan struct{} { return h.done }

func (h *handle) complete() {
	h.once.Do(func() { close(h.done) })
}
