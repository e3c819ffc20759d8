package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxhall/voxhall/internal/observe"
	"github.com/voxhall/voxhall/pkg/audio"
	"github.com/voxhall/voxhall/pkg/capture"
	"github.com/voxhall/voxhall/pkg/playback"
	"github.com/voxhall/voxhall/pkg/session"
	"github.com/voxhall/voxhall/pkg/transcript"
)

// State is the connection state of the voice pipeline.
type State int

const (
	// StateDisconnected means no session is active and all resources are
	// released. The pipeline starts and ends every attempt here.
	StateDisconnected State = iota

	// StateConnecting means the capture device and session are being
	// acquired.
	StateConnecting

	// StateConnected means the full pipeline is running.
	StateConnected

	// StateError means the attempt or the live session failed. Teardown has
	// already run; the state settles in Disconnected immediately after the
	// observer sees Error.
	StateError
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ClockFactory opens the output audio clock for one session at the given
// sample rate.
type ClockFactory func(sampleRate int) (playback.Clock, error)

// Options configures a Controller.
type Options struct {
	// Session is the configuration passed to the dialer on each Start.
	Session session.Config

	// FrameSize is the capture frame size in samples.
	FrameSize int

	// OnStateChange, if set, is invoked for every state transition, in
	// order, from the goroutine performing the transition. It must not call
	// back into the controller.
	OnStateChange func(State)

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// pipeline bundles the resources of one session attempt. Nothing in it is
// shared across attempts; a stop/start cycle builds a fresh one.
type pipeline struct {
	device      capture.Device
	sess        session.Handle
	clock       playback.Clock
	sched       *Scheduler
	connectedAt time.Time
	connected   bool
}

// Controller owns the connection state machine of the voice pipeline. It is
// the only component permitted to start and stop capture, the session, the
// clock, and the scheduler, and it guarantees full resource teardown on any
// exit from the connected state.
//
// All exported methods are safe for concurrent use.
type Controller struct {
	opener  capture.Opener
	dialer  session.Dialer
	clocks  ClockFactory
	opts    Options
	log     *slog.Logger
	met     *observe.Metrics
	agg     *transcript.Aggregator
	backend string

	mu    sync.Mutex
	state State
	pipe  *pipeline
	gen   uint64
}

// NewController creates a Controller in StateDisconnected. backend names the
// session backend for logs and metrics.
func NewController(opener capture.Opener, dialer session.Dialer, clocks ClockFactory, backend string, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	return &Controller{
		opener:  opener,
		dialer:  dialer,
		clocks:  clocks,
		opts:    opts,
		log:     opts.Logger,
		met:     opts.Metrics,
		agg:     &transcript.Aggregator{},
		backend: backend,
		state:   StateDisconnected,
	}
}

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsSpeaking reports whether model audio is currently pending or playing.
func (c *Controller) IsSpeaking() bool {
	c.mu.Lock()
	pipe := c.pipe
	c.mu.Unlock()
	return pipe != nil && pipe.sched.IsSpeaking()
}

// TranscriptLog returns the finalized transcript so far. The log survives
// stop/start cycles until [Controller.ResetTranscript] is called.
func (c *Controller) TranscriptLog() []transcript.Segment {
	return c.agg.Log()
}

// OpenSegments returns the transcript segments currently growing, if any.
func (c *Controller) OpenSegments() []transcript.Segment {
	return c.agg.OpenSegments()
}

// ResetTranscript clears the transcript log and any open segments.
func (c *Controller) ResetTranscript() {
	c.agg.Reset()
}

// setState transitions to next and notifies the observer outside the lock.
func (c *Controller) setState(next State) {
	c.mu.Lock()
	c.state = next
	cb := c.opts.OnStateChange
	c.mu.Unlock()
	if cb != nil {
		cb(next)
	}
}

// Start brings the pipeline up: capture device, duplex session, output
// clock, scheduler, then the send and receive loops. It is a no-op unless
// the current state is Disconnected or Error. Any acquisition failure tears
// down whatever was built and leaves the pipeline Disconnected.
//
// Each attempt is stamped with a generation under the lock; Stop advances
// the generation, so an attempt that raced a Stop while acquiring resources
// releases them instead of committing a pipeline the Stop never saw.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected && c.state != StateError {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	attempt := c.gen
	c.state = StateConnecting
	cb := c.opts.OnStateChange
	c.mu.Unlock()
	if cb != nil {
		cb(StateConnecting)
	}

	pipe, err := c.buildPipeline(ctx)

	c.mu.Lock()
	if c.gen != attempt {
		// A Stop intervened mid-build and already settled Disconnected.
		// Release whatever was acquired; the state machine stays untouched.
		c.mu.Unlock()
		c.teardown(pipe)
		return err
	}
	if err != nil {
		c.mu.Unlock()
		c.met.RecordSessionError(ctx, c.backend, "start")
		c.setState(StateError)
		c.teardown(pipe)
		c.setState(StateDisconnected)
		return err
	}

	pipe.connectedAt = time.Now()
	pipe.connected = true
	c.pipe = pipe
	c.state = StateConnected
	cb = c.opts.OnStateChange
	c.mu.Unlock()
	if cb != nil {
		cb(StateConnected)
	}

	c.met.ActiveSessions.Add(ctx, 1)
	c.log.Info("voice pipeline connected",
		"backend", c.backend,
		"input_rate", c.opts.Session.InputRate,
		"output_rate", c.opts.Session.OutputRate,
	)

	go c.sendLoop(pipe)
	go c.recvLoop(pipe)
	return nil
}

// buildPipeline acquires the resources of one attempt in order. On failure
// it returns the partially-built pipeline so the caller can tear it down;
// every release step tolerates resources that were never acquired.
func (c *Controller) buildPipeline(ctx context.Context) (*pipeline, error) {
	pipe := &pipeline{}

	device, err := c.opener.Open(ctx, c.opts.Session.InputRate, c.opts.FrameSize)
	if err != nil {
		return pipe, fmt.Errorf("voice: open capture device: %w", err)
	}
	pipe.device = device

	sess, err := c.dialer.Dial(ctx, c.opts.Session)
	if err != nil {
		return pipe, fmt.Errorf("voice: dial session: %w", err)
	}
	pipe.sess = sess

	clock, err := c.clocks(c.opts.Session.OutputRate)
	if err != nil {
		return pipe, fmt.Errorf("voice: open output clock: %w", err)
	}
	pipe.clock = clock
	pipe.sched = NewScheduler(clock, c.opts.Session.OutputRate, c.log, c.met)

	return pipe, nil
}

// Stop tears the pipeline down and settles in Disconnected. It is
// idempotent and safe from any state, including mid-teardown, mid-Start,
// and after the device or session already failed. Advancing the generation
// cancels any Start still acquiring resources.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.gen++
	pipe := c.pipe
	c.pipe = nil
	already := c.state == StateDisconnected && pipe == nil
	c.mu.Unlock()
	if already {
		return
	}

	c.teardown(pipe)
	c.setState(StateDisconnected)
}

// fail handles an asynchronous pipeline failure. The observer sees Error,
// then teardown runs and the state settles in Disconnected. Stale failures
// from a pipeline that has already been replaced or stopped are ignored.
func (c *Controller) fail(pipe *pipeline, stage string, err error) {
	c.mu.Lock()
	if c.pipe != pipe {
		c.mu.Unlock()
		return
	}
	c.pipe = nil
	c.mu.Unlock()

	c.log.Error("voice pipeline failed", "backend", c.backend, "stage", stage, "err", err)
	c.met.RecordSessionError(context.Background(), c.backend, stage)

	c.setState(StateError)
	c.teardown(pipe)
	c.setState(StateDisconnected)
}

// teardown releases every resource of pipe. Each step independently
// tolerates "already released"; a nil or partial pipeline is fine. Open
// transcript segments are discarded, the finalized log is retained.
func (c *Controller) teardown(pipe *pipeline) {
	if pipe == nil {
		c.agg.DiscardOpen()
		return
	}
	if pipe.device != nil {
		_ = pipe.device.Close()
	}
	if pipe.sess != nil {
		_ = pipe.sess.Close()
	}
	if pipe.clock != nil {
		_ = pipe.clock.Close()
	}
	if pipe.sched != nil {
		pipe.sched.Reset()
	}
	c.agg.DiscardOpen()

	if pipe.connected {
		pipe.connected = false
		c.met.ActiveSessions.Add(context.Background(), -1)
		c.met.SessionDuration.Record(context.Background(), time.Since(pipe.connectedAt).Seconds())
		c.log.Info("voice pipeline torn down", "backend", c.backend,
			"session_duration", time.Since(pipe.connectedAt).Round(time.Millisecond))
	}
}

// sendLoop encodes captured frames and ships them to the session. It exits
// when the capture stream ends or the session stops accepting audio. Frames
// that encode to nothing are skipped; a closed session ends the loop
// quietly because teardown is already in progress elsewhere.
func (c *Controller) sendLoop(pipe *pipeline) {
	for frame := range pipe.device.Frames() {
		chunk := audio.EncodeFrame(frame)
		if len(chunk) == 0 {
			continue
		}
		if err := pipe.sess.SendAudio(chunk); err != nil {
			if errors.Is(err, session.ErrClosed) {
				return
			}
			c.fail(pipe, "send", err)
			return
		}
	}
}

// recvLoop demultiplexes inbound session messages: audio chunks go to the
// scheduler, transcript deltas to the aggregator, turn boundaries seal the
// open segments. A message carrying several payloads is processed in that
// order. The loop exits when the session's message channel closes, then
// inspects the session error to decide between a clean stop and a failure.
func (c *Controller) recvLoop(pipe *pipeline) {
	ctx := context.Background()
	for msg := range pipe.sess.Messages() {
		if len(msg.Audio) > 0 {
			// Decode failures are already logged and counted; they must not
			// stop the stream.
			_ = pipe.sched.Enqueue(ctx, msg.Audio)
		}
		if msg.UserTranscript != "" {
			c.agg.AppendDelta(transcript.SpeakerUser, msg.UserTranscript)
		}
		if msg.ModelTranscript != "" {
			c.agg.AppendDelta(transcript.SpeakerModel, msg.ModelTranscript)
		}
		if msg.TurnComplete {
			c.agg.CompleteTurn()
			c.met.Turns.Add(ctx, 1)
		}
	}

	if err := pipe.sess.Err(); err != nil {
		c.fail(pipe, "receive", err)
		return
	}

	// Clean remote close: same teardown as an explicit Stop.
	c.mu.Lock()
	if c.pipe != pipe {
		c.mu.Unlock()
		return
	}
	c.pipe = nil
	c.mu.Unlock()
	c.teardown(pipe)
	c.setState(StateDisconnected)
}
