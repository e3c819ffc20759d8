package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/voxhall/voxhall/pkg/transcript"
)

// defaultRenderInterval paces the open-segment redraw. Finalized segments
// are printed as soon as a tick observes them.
const defaultRenderInterval = 200 * time.Millisecond

// TranscriptSource is the read-only transcript view the renderer draws
// from. Satisfied by [voice.Controller].
type TranscriptSource interface {
	TranscriptLog() []transcript.Segment
	OpenSegments() []transcript.Segment
}

// Renderer prints the conversation to a terminal: finalized segments each on
// their own line, the currently growing segments redrawn in place on one
// status line.
type Renderer struct {
	src      TranscriptSource
	out      io.Writer
	interval time.Duration

	printed  int  // finalized segments already written
	openLine bool // a partial line is currently on screen
}

// RenderOption configures a Renderer.
type RenderOption func(*Renderer)

// WithOutput overrides the render destination. Default os.Stdout.
func WithOutput(w io.Writer) RenderOption {
	return func(r *Renderer) { r.out = w }
}

// WithInterval overrides the redraw interval.
func WithInterval(d time.Duration) RenderOption {
	return func(r *Renderer) { r.interval = d }
}

// NewRenderer creates a Renderer over src.
func NewRenderer(src TranscriptSource, opts ...RenderOption) *Renderer {
	r := &Renderer{
		src:      src,
		out:      os.Stdout,
		interval: defaultRenderInterval,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run redraws the transcript until ctx is cancelled, then flushes one final
// frame so segments sealed during shutdown still appear.
func (r *Renderer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.draw()
			r.clearOpenLine()
			return
		case <-ticker.C:
			r.draw()
		}
	}
}

// draw prints finalized segments the previous frame had not seen, then
// redraws the open-segment status line.
func (r *Renderer) draw() {
	log := r.src.TranscriptLog()
	if len(log) > r.printed {
		r.clearOpenLine()
		for _, seg := range log[r.printed:] {
			fmt.Fprintf(r.out, "%s %s\n", speakerTag(seg.Speaker), seg.Text)
		}
		r.printed = len(log)
	}

	open := r.src.OpenSegments()
	if len(open) == 0 {
		r.clearOpenLine()
		return
	}

	parts := make([]string, 0, len(open))
	for _, seg := range open {
		parts = append(parts, speakerTag(seg.Speaker)+" "+seg.Text)
	}
	fmt.Fprintf(r.out, "\r\x1b[K%s", strings.Join(parts, "  "))
	r.openLine = true
}

// clearOpenLine erases the in-place status line, if one is on screen.
func (r *Renderer) clearOpenLine() {
	if !r.openLine {
		return
	}
	fmt.Fprint(r.out, "\r\x1b[K")
	r.openLine = false
}

func speakerTag(s transcript.Speaker) string {
	switch s {
	case transcript.SpeakerUser:
		return "[you]"
	case transcript.SpeakerModel:
		return "[voxhall]"
	default:
		return "[" + string(s) + "]"
	}
}
