// Package session defines the boundary toward the remote conversational
// voice model.
//
// A [Handle] is a bidirectional, multiplexed channel over one live session:
// outbound it accepts encoded PCM chunks, inbound it emits [Message] values
// carrying synthesised audio, incremental transcript text, and turn-boundary
// signals. Sessions are long-lived (seconds to minutes) and are consumed by
// exactly one receive loop; SendAudio may be called concurrently with it.
//
// Implementations are provided by backend packages (session/gemini,
// session/openai). This package lives under pkg/ because external code is
// expected to implement [Dialer] and [Handle].
package session

import (
	"context"
	"errors"
)

// ErrClosed is returned by [Handle.SendAudio] after the session has been
// closed.
var ErrClosed = errors.New("session: closed")

// Config is the initial configuration for a new session.
type Config struct {
	// Voice selects the model's synthesised voice (backend-specific ID).
	Voice string

	// Instructions is the system-level prompt defining the assistant's
	// persona and behavioural constraints.
	Instructions string

	// Language is an optional BCP-47 hint for input transcription.
	Language string

	// InputRate is the sample rate of outbound PCM chunks in Hz.
	InputRate int

	// OutputRate is the sample rate of inbound PCM audio in Hz.
	OutputRate int
}

// Message is one inbound session event. Any combination of fields may be
// set: in practice a message carries exactly one audio chunk or one
// transcript delta, but consumers must tolerate a message carrying both.
type Message struct {
	// Audio is one encoded inbound chunk: raw little-endian 16-bit mono PCM
	// at the session's output rate. Nil when the message carries no audio.
	Audio []byte

	// UserTranscript is an incremental transcript fragment of the user's
	// speech as recognised by the model.
	UserTranscript string

	// ModelTranscript is an incremental transcript fragment of the model's
	// spoken response.
	ModelTranscript string

	// TurnComplete signals the end of one conversational exchange. Open
	// transcript segments are sealed when it is observed.
	TurnComplete bool
}

// Handle represents an open duplex session.
//
// The session is the hot path of the voice pipeline: SendAudio must return
// quickly and never block on the model's processing. Callers must drain
// Messages promptly and must call Close when done.
type Handle interface {
	// SendAudio delivers one encoded PCM chunk to the model, fire-and-forget.
	// No acknowledgment is expected. Returns [ErrClosed] after Close, or a
	// transport error if the write fails.
	SendAudio(chunk []byte) error

	// Messages returns the read-only channel of inbound session events. The
	// channel is closed when the session ends; after it closes, call
	// [Handle.Err] to check whether the session ended cleanly.
	Messages() <-chan Message

	// Err returns the error that terminated the session, or nil if it ended
	// cleanly (remote close or local Close).
	Err() error

	// Close terminates the session and releases its resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Dialer is the abstraction over any session backend.
//
// Implementations must be safe for concurrent use; the controller opens one
// session per Start/Stop cycle.
type Dialer interface {
	// Dial establishes a new session with the given configuration. The
	// returned Handle is ready to accept audio immediately. The supplied ctx
	// governs the connection attempt only.
	Dial(ctx context.Context, cfg Config) (Handle, error)
}
