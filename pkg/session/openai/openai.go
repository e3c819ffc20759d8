// Package openai implements the session.Dialer interface for OpenAI's
// Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// Outbound audio is transmitted as base64-encoded PCM16 chunks via
// input_audio_buffer.append; inbound response.audio.delta and transcript
// delta events are translated into [session.Message] values, with
// response.done mapped to the turn-complete signal.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxhall/voxhall/pkg/session"
)

// Compile-time assertions that Dialer and conn satisfy the session interfaces.
var _ session.Dialer = (*Dialer)(nil)
var _ session.Handle = (*conn)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	messageBuf = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(d *Dialer) { d.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(d *Dialer) { d.baseURL = url }
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// Dialer implements session.Dialer for OpenAI's Realtime API.
type Dialer struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Dialer with the given API key and options.
func New(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial establishes a new OpenAI Realtime session with the given
// configuration. The returned Handle is ready to accept audio immediately
// after the session.update event is sent.
func (d *Dialer) Dial(ctx context.Context, cfg session.Config) (session.Handle, error) {
	wsURL := fmt.Sprintf("%s?model=%s", d.baseURL, d.model)

	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + d.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	c := &conn{
		ws:       ws,
		messages: make(chan session.Message, messageBuf),
		ctx:      sessCtx,
		cancel:   sessCancel,
	}

	if err := c.sendSessionUpdate(cfg); err != nil {
		sessCancel()
		ws.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go c.receiveLoop()

	return c, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice                   string                   `json:"voice,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	InputAudioFormat        string                   `json:"input_audio_format"`
	OutputAudioFormat       string                   `json:"output_audio_format"`
	InputAudioTranscription *inputAudioTranscription `json:"input_audio_transcription,omitempty"`
}

type inputAudioTranscription struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta /
	// conversation.item.input_audio_transcription.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── conn ───────────────────────────────────────────────────────────────────────

type conn struct {
	ws       *websocket.Conn
	messages chan session.Message

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate sends a session.update event to configure voice,
// instructions, audio formats, and input transcription.
func (c *conn) sendSessionUpdate(cfg session.Config) error {
	params := sessionParams{
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		InputAudioTranscription: &inputAudioTranscription{
			Model:    "whisper-1",
			Language: cfg.Language,
		},
	}
	if cfg.Voice != "" {
		params.Voice = cfg.Voice
	}
	if cfg.Instructions != "" {
		params.Instructions = cfg.Instructions
	}
	return c.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *conn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return c.ws.Write(c.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns the messages channel: it closes it when it exits.
func (c *conn) receiveLoop() {
	defer c.closeMessages()

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		if fatal := c.handleServerEvent(&evt); fatal {
			return
		}
	}
}

// handleServerEvent processes one event and reports whether it terminates
// the session.
func (c *conn) handleServerEvent(evt *serverEvent) bool {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return false
		}
		audioData, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audioData) == 0 {
			return false
		}
		c.emit(session.Message{Audio: audioData})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return false
		}
		c.emit(session.Message{ModelTranscript: evt.Delta})

	case "conversation.item.input_audio_transcription.delta":
		if evt.Delta == "" {
			return false
		}
		c.emit(session.Message{UserTranscript: evt.Delta})

	case "conversation.item.input_audio_transcription.completed":
		// Transcription models that do not stream deltas deliver the whole
		// utterance here; forward it as a single delta.
		if evt.Transcript == "" {
			return false
		}
		c.emit(session.Message{UserTranscript: evt.Transcript})

	case "response.done":
		c.emit(session.Message{TurnComplete: true})

	case "error":
		text := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			text = evt.Error.Message
		}
		c.setErr(fmt.Errorf("openai: %s", text))
		return true
	}
	return false
}

func (c *conn) emit(msg session.Message) {
	select {
	case c.messages <- msg:
	case <-c.ctx.Done():
	}
}

func (c *conn) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errVal == nil {
		c.errVal = err
	}
}

func (c *conn) closeMessages() {
	c.closeOnce.Do(func() {
		close(c.messages)
	})
}

// ── Handle methods ─────────────────────────────────────────────────────────────

// SendAudio delivers a raw PCM16 chunk to the model's input audio buffer.
func (c *conn) SendAudio(chunk []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return session.ErrClosed
	}
	c.mu.Unlock()

	return c.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
	})
}

// Messages returns the channel on which inbound session events arrive.
func (c *conn) Messages() <-chan session.Message { return c.messages }

// Err returns the first non-nil error that caused the session to terminate.
func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.ws.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
