// Package ffmpeg implements the capture.Opener interface on top of an
// ffmpeg subprocess.
//
// ffmpeg is attached to the platform's default audio input (pulse on
// Linux, avfoundation on macOS) and asked for mono f32le PCM at the
// requested rate. The device goroutine slices the stream into fixed-size
// frames; frames that cannot be delivered without blocking are dropped.
package ffmpeg

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os/exec"
	"runtime"
	"sync"

	"github.com/voxhall/voxhall/pkg/audio"
	"github.com/voxhall/voxhall/pkg/capture"
)

// Compile-time assertions that the types satisfy the capture interfaces.
var _ capture.Opener = (*Opener)(nil)
var _ capture.Device = (*device)(nil)

// frameChanBuf bounds the frame delivery channel. One slot per in-flight
// frame is enough for a prompt consumer; anything beyond that is stale.
const frameChanBuf = 4

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring an Opener.
type Option func(*Opener)

// WithBinary overrides the ffmpeg binary path. Default "ffmpeg".
func WithBinary(path string) Option {
	return func(o *Opener) { o.binary = path }
}

// WithSource overrides the input device specifier (e.g. "default" for
// pulse, ":0" for avfoundation).
func WithSource(source string) Option {
	return func(o *Opener) { o.source = source }
}

// ── Opener ─────────────────────────────────────────────────────────────────────

// Opener implements capture.Opener using an ffmpeg subprocess per device.
type Opener struct {
	binary string
	source string
}

// New creates an Opener for the platform's default audio input.
func New(opts ...Option) *Opener {
	o := &Opener{binary: "ffmpeg"}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open implements [capture.Opener]. It starts ffmpeg against the system
// microphone and begins framing its f32le output.
func (o *Opener) Open(ctx context.Context, sampleRate, frameSize int) (capture.Device, error) {
	if sampleRate <= 0 || frameSize <= 0 {
		return nil, fmt.Errorf("ffmpeg: invalid capture format %d Hz / %d samples", sampleRate, frameSize)
	}

	inputFormat, source := o.input()
	cmd := exec.Command(o.binary,
		"-hide_banner",
		"-loglevel", "error",
		"-f", inputFormat,
		"-i", source,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-f", "f32le",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: start: %w", err)
	}

	// The acquisition ctx only covers startup; a cancelled ctx at this
	// point means the caller gave up while ffmpeg was spawning.
	if ctx.Err() != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("ffmpeg: open: %w", ctx.Err())
	}

	d := &device{
		cmd:    cmd,
		stdout: stdout,
		frames: make(chan audio.Frame, frameChanBuf),
		rate:   sampleRate,
		size:   frameSize,
	}
	go d.readLoop()
	return d, nil
}

// input returns the ffmpeg input format and device specifier for the
// current platform.
func (o *Opener) input() (format, source string) {
	source = o.source
	switch runtime.GOOS {
	case "darwin":
		if source == "" {
			source = ":0"
		}
		return "avfoundation", source
	default:
		if source == "" {
			source = "default"
		}
		return "pulse", source
	}
}

// ── device ─────────────────────────────────────────────────────────────────────

type device struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	frames chan audio.Frame
	rate   int
	size   int

	mu     sync.Mutex
	closed bool
}

// readLoop slices ffmpeg's f32le stream into frames and delivers them
// without ever blocking: a full channel drops the frame. It owns the frames
// channel and closes it on exit.
func (d *device) readLoop() {
	defer close(d.frames)

	buf := make([]byte, d.size*4)
	for {
		if _, err := io.ReadFull(d.stdout, buf); err != nil {
			return
		}

		samples := make([]float32, d.size)
		for i := range samples {
			bits := binary.LittleEndian.Uint32(buf[i*4:])
			samples[i] = math.Float32frombits(bits)
		}

		select {
		case d.frames <- audio.Frame{Samples: samples, Rate: d.rate}:
		default:
			// Consumer is behind; this frame is already stale.
		}
	}
}

// Frames implements [capture.Device].
func (d *device) Frames() <-chan audio.Frame { return d.frames }

// Close implements [capture.Device]. It kills the ffmpeg subprocess, which
// ends the read loop and closes the frame channel. Idempotent.
func (d *device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	_ = d.stdout.Close()
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	_ = d.cmd.Wait()
	return nil
}
