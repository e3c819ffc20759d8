// Package gemini implements the session.Dialer interface for Google's
// Gemini Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live
// endpoint and exchanges JSON messages according to the BidiGenerateContent
// protocol. Outbound audio is transmitted as base64-encoded PCM chunks;
// inbound serverContent messages are demultiplexed into [session.Message]
// values carrying audio, transcript deltas, and turn-complete signals.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxhall/voxhall/pkg/session"
)

// Compile-time assertions that Dialer and conn satisfy the session interfaces.
var _ session.Dialer = (*Dialer)(nil)
var _ session.Handle = (*conn)(nil)

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	// messageBuf bounds the inbound event channel. The controller's receive
	// loop never blocks for long, so a shallow buffer absorbs burst arrivals.
	messageBuf = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(d *Dialer) { d.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(d *Dialer) { d.baseURL = url }
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// Dialer implements session.Dialer for Google's Gemini Live API.
type Dialer struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new Gemini Live Dialer with the given API key and options.
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

// Dial establishes a new Gemini Live session with the given configuration.
// The returned Handle is ready to accept audio immediately after the setup
// message is sent.
func (d *Dialer) Dial(ctx context.Context, cfg session.Config) (session.Handle, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		d.baseURL, d.apiKey,
	)

	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	c := &conn{
		ws:        ws,
		inputRate: cfg.InputRate,
		messages:  make(chan session.Message, messageBuf),
		done:      make(chan struct{}),
		ctx:       sessCtx,
		cancel:    sessCancel,
	}

	if err := c.sendSetup(d.model, cfg); err != nil {
		sessCancel()
		ws.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go c.receiveLoop()
	go c.keepaliveLoop()

	return c, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *json.RawMessage   `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *json.RawMessage   `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig  voiceConfig `json:"voiceConfig"`
	LanguageCode string      `json:"languageCode,omitempty"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── conn ───────────────────────────────────────────────────────────────────────

type conn struct {
	ws        *websocket.Conn
	inputRate int
	messages  chan session.Message

	mu     sync.Mutex
	errVal error
	closed bool

	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

var emptyObject = json.RawMessage(`{}`)

// sendSetup sends the initial BidiGenerateContent setup message. Input and
// output transcription are always requested; the pipeline's transcript
// aggregation depends on both delta streams.
func (c *conn) sendSetup(model string, cfg session.Config) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
			InputAudioTranscription:  &emptyObject,
			OutputAudioTranscription: &emptyObject,
		},
	}

	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}

	if cfg.Voice != "" || cfg.Language != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig:  voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice}},
			LanguageCode: cfg.Language,
		}
	}

	return c.writeJSON(msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *conn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return c.ws.Write(c.ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and dispatches them.
// It owns the messages channel: it closes it when it exits.
func (c *conn) receiveLoop() {
	defer c.closeMessages()

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			// If the session context was cancelled, exit cleanly.
			if c.ctx.Err() != nil {
				return
			}
			c.setErr(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		if msg.Error != nil {
			text := msg.Error.Message
			if text == "" {
				text = "unknown error"
			}
			c.setErr(fmt.Errorf("gemini: %s", text))
			return
		}

		if msg.ServerContent != nil {
			c.handleServerContent(msg.ServerContent)
		}
	}
}

// handleServerContent translates one serverContent payload into zero or more
// session.Message values. A single payload may legally carry audio, a
// transcript delta, and a turn-complete flag at once; all are forwarded in
// one Message so the consumer observes them atomically. When a payload holds
// several audio parts, the extra parts are flushed as bare audio messages and
// the transcript deltas and turn boundary ride the last message, so the turn
// never completes before its own audio has been delivered.
func (c *conn) handleServerContent(sc *serverContent) {
	var out session.Message

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil {
				continue
			}
			audioData, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil || len(audioData) == 0 {
				continue
			}
			if out.Audio != nil {
				// More than one audio part in a payload: flush the first so
				// arrival order is preserved.
				c.emit(out)
				out = session.Message{}
			}
			out.Audio = audioData
		}
	}

	if sc.InputTranscription != nil {
		out.UserTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		out.ModelTranscript = sc.OutputTranscription.Text
	}
	out.TurnComplete = sc.TurnComplete

	if out.Audio != nil || out.UserTranscript != "" || out.ModelTranscript != "" || out.TurnComplete {
		c.emit(out)
	}
}

func (c *conn) emit(msg session.Message) {
	select {
	case c.messages <- msg:
	case <-c.ctx.Done():
	}
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (c *conn) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			_ = c.ws.Ping(pingCtx)
			cancel()
		}
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

// SendAudio delivers a raw PCM chunk (s16le mono at the configured input
// rate) to the model as a base64-encoded realtimeInput media chunk.
func (c *conn) SendAudio(chunk []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return session.ErrClosed
	}
	c.mu.Unlock()

	rate := c.inputRate
	if rate <= 0 {
		rate = 16000
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{
					MIMEType: fmt.Sprintf("audio/pcm;rate=%d", rate),
					Data:     base64.StdEncoding.EncodeToString(chunk),
				},
			},
		},
	}
	return c.writeJSON(msg)
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

	c.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(c.done) // signals keepaliveLoop via done channel
	c.ws.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
