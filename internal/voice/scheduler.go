// Package voice implements the real-time voice pipeline: gapless playback
// scheduling for inbound model audio and the lifecycle controller that wires
// microphone capture, the duplex session, playback, and transcript
// aggregation together.
//
// This package is internal because it encapsulates application-private
// pipeline logic and is not intended for import by external code.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxhall/voxhall/internal/observe"
	"github.com/voxhall/voxhall/pkg/audio"
	"github.com/voxhall/voxhall/pkg/playback"
)

// Scheduler guarantees gap-free, non-overlapping playback of an unbounded,
// arbitrarily-jittery stream of inbound audio chunks using only the output
// clock's monotonic timeline.
//
// Its whole state is one cursor marking the end of the last scheduled
// buffer, plus the set of handles still playing. Each new chunk starts at
// max(cursor, now): never before the previous chunk ends, and never in the
// past. If the network stalls long enough for the cursor to fall behind the
// clock, the schedule re-anchors at "now" instead of cramming the backlog.
//
// All methods are safe for concurrent use; cursor and the active set are
// guarded by a single mutex so the scheduling invariant holds no matter
// which goroutine delivers the next chunk.
type Scheduler struct {
	clock playback.Clock
	rate  int
	log   *slog.Logger
	met   *observe.Metrics

	mu       sync.Mutex
	cursor   time.Duration
	anchored bool
	active   map[playback.Handle]struct{}
}

// NewScheduler creates a Scheduler that decodes inbound chunks as s16le mono
// PCM at rate Hz and schedules them on clock. The cursor stays un-anchored
// until the first chunk arrives.
func NewScheduler(clock playback.Clock, rate int, log *slog.Logger, met *observe.Metrics) *Scheduler {
	return &Scheduler{
		clock:  clock,
		rate:   rate,
		log:    log,
		met:    met,
		active: make(map[playback.Handle]struct{}),
	}
}

// Enqueue decodes one inbound chunk and schedules it for playback directly
// after the previously scheduled audio. A chunk that fails to decode is
// dropped without advancing the cursor; subsequent valid chunks still
// schedule correctly relative to the last successful one.
func (s *Scheduler) Enqueue(ctx context.Context, chunk []byte) error {
	buf, err := audio.DecodeBuffer(chunk, s.rate)
	if err != nil {
		s.log.Warn("dropping undecodable audio chunk", "err", err, "bytes", len(chunk))
		s.met.DecodeDrops.Add(ctx, 1)
		return fmt.Errorf("voice: decode chunk: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if !s.anchored {
		s.cursor = now
		s.anchored = true
	}
	start := s.cursor
	gap := time.Duration(0)
	if now > start {
		// The stream stalled past the end of the scheduled audio; re-anchor
		// at the present instead of playing stale audio late.
		gap = now - start
		start = now
	}

	handle, err := s.clock.Schedule(buf, start)
	if err != nil {
		return fmt.Errorf("voice: schedule chunk: %w", err)
	}
	s.cursor = start + buf.Duration()
	s.active[handle] = struct{}{}

	s.met.ScheduledChunks.Add(ctx, 1)
	s.met.SchedulingGap.Record(ctx, gap.Seconds())
	s.met.PlaybackBacklog.Record(ctx, (s.cursor - now).Seconds())

	go s.reap(handle)
	return nil
}

// reap removes handle from the active set once its playback completes.
func (s *Scheduler) reap(handle playback.Handle) {
	<-handle.Done()
	s.mu.Lock()
	delete(s.active, handle)
	s.mu.Unlock()
}

// IsSpeaking reports whether any scheduled audio is still pending or
// playing. This is the scheduler's only externally observable state besides
// the audio itself. Handles whose playback has already completed are pruned
// here as well as by the background reaper, so the answer never lags a
// completion that has already resolved.
func (s *Scheduler) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h := range s.active {
		select {
		case <-h.Done():
			delete(s.active, h)
		default:
		}
	}
	return len(s.active) > 0
}

// Reset forgets all active handles and un-anchors the cursor; the next
// Enqueue starts a fresh schedule at the clock's then-current position.
// Cancelling the in-flight playback itself is the clock owner's job
// (closing the clock resolves every handle).
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.active)
	s.anchored = false
	s.cursor = 0
}
