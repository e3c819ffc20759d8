// Package transcript reconstructs per-speaker conversation text from the
// incremental deltas a live voice session emits.
//
// The remote model streams transcript text in small fragments, separately
// for the user's speech recognition and the model's own reply, and marks
// conversational turn boundaries with an explicit signal. The [Aggregator]
// keeps at most one growing segment per speaker, updates it in place as
// fragments arrive, and seals segments into an append-only log when the
// turn completes.
package transcript

import (
	"strings"
	"sync"
)

// Speaker identifies who produced a transcript segment.
type Speaker string

const (
	// SpeakerUser is the human side of the conversation.
	SpeakerUser Speaker = "user"
	// SpeakerModel is the remote voice model.
	SpeakerModel Speaker = "model"
)

// Segment is one contiguous utterance by a single speaker.
type Segment struct {
	// Speaker is who said it.
	Speaker Speaker `json:"speaker"`

	// Text is the utterance text, accumulated from deltas.
	Text string `json:"text"`

	// Final reports whether the segment has been sealed by a turn
	// boundary. Final segments are never mutated again.
	Final bool `json:"final"`
}

// Aggregator accumulates transcript deltas into finalized segments.
//
// At most one open segment exists per speaker. AppendDelta grows it in
// place; CompleteTurn seals whatever is open into the log. The zero value
// is ready to use. All methods are safe for concurrent use.
type Aggregator struct {
	mu   sync.Mutex
	open map[Speaker]*strings.Builder
	log  []Segment
}

// AppendDelta appends fragment to the speaker's open segment, opening one
// if none exists. Empty fragments still open a segment, so a speaker whose
// only delta was empty is finalized like any other at the next turn
// boundary.
func (a *Aggregator) AppendDelta(speaker Speaker, fragment string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open == nil {
		a.open = make(map[Speaker]*strings.Builder, 2)
	}
	b, ok := a.open[speaker]
	if !ok {
		b = &strings.Builder{}
		a.open[speaker] = b
	}
	b.WriteString(fragment)
}

// CompleteTurn seals every open segment and appends it to the log, user
// before model when both are open. With nothing open it is a no-op.
func (a *Aggregator) CompleteTurn() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, speaker := range []Speaker{SpeakerUser, SpeakerModel} {
		b, ok := a.open[speaker]
		if !ok {
			continue
		}
		a.log = append(a.log, Segment{Speaker: speaker, Text: b.String(), Final: true})
		delete(a.open, speaker)
	}
}

// DiscardOpen drops any open segments without finalizing them. The log is
// retained. Used on session teardown, where in-flight fragments belong to
// an utterance that was cut off.
func (a *Aggregator) DiscardOpen() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.open)
}

// Reset clears the open segments and the log.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.open)
	a.log = nil
}

// Log returns a copy of the finalized transcript in order.
func (a *Aggregator) Log() []Segment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Segment(nil), a.log...)
}

// OpenSegments returns the current open segment per speaker, user first.
// Segments are reported with Final set to false.
func (a *Aggregator) OpenSegments() []Segment {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Segment
	for _, speaker := range []Speaker{SpeakerUser, SpeakerModel} {
		if b, ok := a.open[speaker]; ok {
			out = append(out, Segment{Speaker: speaker, Text: b.String()})
		}
	}
	return out
}
