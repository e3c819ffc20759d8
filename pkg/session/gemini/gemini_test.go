package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxhall/voxhall/pkg/session"
	"github.com/voxhall/voxhall/pkg/session/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// recvMessage receives one session.Message or fails the test.
func recvMessage(t *testing.T, h session.Handle) session.Message {
	t.Helper()
	select {
	case msg, ok := <-h.Messages():
		if !ok {
			t.Fatalf("message channel closed unexpectedly (err: %v)", h.Err())
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session message")
	}
	return session.Message{}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestDial_SendsSetupMessage(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       *struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
					LanguageCode string `json:"languageCode"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			InputAudioTranscription  *json.RawMessage `json:"inputAudioTranscription"`
			OutputAudioTranscription *json.RawMessage `json:"outputAudioTranscription"`
		} `json:"setup"`
	}

	setupCh := make(chan setupMsg, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg setupMsg
		readJSON(t, conn, &msg)
		setupCh <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	d := gemini.New("test-key", gemini.WithModel("custom-model"), gemini.WithBaseURL(wsURL(srv)))
	h, err := d.Dial(context.Background(), session.Config{
		Voice:        "Zephyr",
		Instructions: "You are a helpful concierge.",
		Language:     "es-ES",
		InputRate:    16000,
		OutputRate:   24000,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer h.Close()

	select {
	case msg := <-setupCh:
		if want := "models/custom-model"; msg.Setup.Model != want {
			t.Errorf("model = %q, want %q", msg.Setup.Model, want)
		}
		if got := msg.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "AUDIO" {
			t.Errorf("responseModalities = %v, want [AUDIO]", got)
		}
		sc := msg.Setup.GenerationConfig.SpeechConfig
		if sc == nil {
			t.Fatal("speechConfig missing")
		}
		if sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Zephyr" {
			t.Errorf("voiceName = %q, want Zephyr", sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
		}
		if sc.LanguageCode != "es-ES" {
			t.Errorf("languageCode = %q, want es-ES", sc.LanguageCode)
		}
		si := msg.Setup.SystemInstruction
		if si == nil || len(si.Parts) != 1 || si.Parts[0].Text != "You are a helpful concierge." {
			t.Errorf("systemInstruction = %+v, want the configured instructions", si)
		}
		if msg.Setup.InputAudioTranscription == nil || msg.Setup.OutputAudioTranscription == nil {
			t.Error("transcription was not requested for both directions")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for setup message")
	}
}

func TestSendAudio_TransmitsMediaChunk(t *testing.T) {
	t.Parallel()

	type inputMsg struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}

	chunkCh := make(chan inputMsg, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		var msg inputMsg
		readJSON(t, conn, &msg)
		chunkCh <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	d := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	h, err := d.Dial(context.Background(), session.Config{InputRate: 16000, OutputRate: 24000})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer h.Close()

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	if err := h.SendAudio(pcm); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-chunkCh:
		chunks := msg.RealtimeInput.MediaChunks
		if len(chunks) != 1 {
			t.Fatalf("mediaChunks length = %d, want 1", len(chunks))
		}
		if want := "audio/pcm;rate=16000"; chunks[0].MIMEType != want {
			t.Errorf("mimeType = %q, want %q", chunks[0].MIMEType, want)
		}
		decoded, err := base64.StdEncoding.DecodeString(chunks[0].Data)
		if err != nil {
			t.Fatalf("decode chunk data: %v", err)
		}
		if string(decoded) != string(pcm) {
			t.Errorf("chunk data = %v, want %v", decoded, pcm)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for media chunk")
	}
}

func TestReceive_DemuxesServerContent(t *testing.T) {
	t.Parallel()

	audioPCM := []byte{0x10, 0x20, 0x30, 0x40}
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{"inlineData": map[string]any{
							"mimeType": "audio/pcm;rate=24000",
							"data":     base64.StdEncoding.EncodeToString(audioPCM),
						}},
					},
				},
			},
		})
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"inputTranscription": map[string]any{"text": "hola"},
			},
		})
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"outputTranscription": map[string]any{"text": "¡buenas!"},
				"turnComplete":        true,
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	d := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	h, err := d.Dial(context.Background(), session.Config{InputRate: 16000, OutputRate: 24000})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer h.Close()

	msg := recvMessage(t, h)
	if string(msg.Audio) != string(audioPCM) {
		t.Errorf("audio = %v, want %v", msg.Audio, audioPCM)
	}

	msg = recvMessage(t, h)
	if msg.UserTranscript != "hola" {
		t.Errorf("user transcript = %q, want hola", msg.UserTranscript)
	}

	msg = recvMessage(t, h)
	if msg.ModelTranscript != "¡buenas!" {
		t.Errorf("model transcript = %q, want ¡buenas!", msg.ModelTranscript)
	}
	if !msg.TurnComplete {
		t.Error("TurnComplete = false, want true")
	}
}

func TestReceive_MultipleAudioPartsKeepTurnBoundaryLast(t *testing.T) {
	t.Parallel()

	first := []byte{0x01, 0x02, 0x03, 0x04}
	second := []byte{0x05, 0x06, 0x07, 0x08}
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)

		// One payload carrying two audio parts, a transcript delta, and the
		// turn boundary all at once.
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{"inlineData": map[string]any{
							"mimeType": "audio/pcm;rate=24000",
							"data":     base64.StdEncoding.EncodeToString(first),
						}},
						{"inlineData": map[string]any{
							"mimeType": "audio/pcm;rate=24000",
							"data":     base64.StdEncoding.EncodeToString(second),
						}},
					},
				},
				"outputTranscription": map[string]any{"text": "adiós"},
				"turnComplete":        true,
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	d := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	h, err := d.Dial(context.Background(), session.Config{InputRate: 16000, OutputRate: 24000})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer h.Close()

	msg := recvMessage(t, h)
	if string(msg.Audio) != string(first) {
		t.Errorf("first audio = %v, want %v", msg.Audio, first)
	}
	if msg.TurnComplete {
		t.Error("turn completed before the payload's own audio was delivered")
	}
	if msg.ModelTranscript != "" {
		t.Errorf("first message transcript = %q, want empty", msg.ModelTranscript)
	}

	msg = recvMessage(t, h)
	if string(msg.Audio) != string(second) {
		t.Errorf("second audio = %v, want %v", msg.Audio, second)
	}
	if msg.ModelTranscript != "adiós" {
		t.Errorf("model transcript = %q, want adiós", msg.ModelTranscript)
	}
	if !msg.TurnComplete {
		t.Error("TurnComplete = false on the final message, want true")
	}
}

func TestReceive_ServerErrorTerminatesSession(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		writeJSON(t, conn, map[string]any{
			"error": map[string]any{"code": 429, "message": "quota exceeded"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	d := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	h, err := d.Dial(context.Background(), session.Config{InputRate: 16000, OutputRate: 24000})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer h.Close()

	select {
	case _, ok := <-h.Messages():
		if ok {
			t.Fatal("received a message, want channel close")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if err := h.Err(); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("Err() = %v, want quota exceeded", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		<-conn.CloseRead(context.Background()).Done()
	})

	d := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	h, err := d.Dial(context.Background(), session.Config{InputRate: 16000, OutputRate: 24000})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := h.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if err := h.SendAudio([]byte{0x01, 0x02}); !errors.Is(err, session.ErrClosed) {
		t.Errorf("SendAudio after Close = %v, want ErrClosed", err)
	}
}

func TestDial_ConnectionRefused(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	d := gemini.New("key", gemini.WithBaseURL("ws://127.0.0.1:1"))
	if _, err := d.Dial(ctx, session.Config{}); err == nil {
		t.Fatal("Dial succeeded against a closed port")
	}
}
