// Package capture defines the boundary toward the microphone capture
// device.
//
// An [Opener] acquires a [Device] opened at the exact sample rate the
// remote session requires — there is no resampling stage in the pipeline.
// Once open, a device emits fixed-size frames on a buffered channel at the
// cadence dictated by its frame size and sample rate. Delivery is
// non-blocking for the producer: when the consumer falls behind, frames are
// dropped rather than queued, because stale microphone audio is worthless
// once delayed.
//
// Implementations are provided by input backends (capture/ffmpeg for a real
// microphone, capture/mock for tests).
package capture

import (
	"context"

	"github.com/voxhall/voxhall/pkg/audio"
)

// Device is an open capture device.
type Device interface {
	// Frames returns the read-only channel of captured frames. The channel
	// is closed when the device is closed or the underlying capture stream
	// ends.
	Frames() <-chan audio.Frame

	// Close releases the device. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Opener acquires capture devices.
//
// Implementations must be safe for concurrent use.
type Opener interface {
	// Open acquires the capture device at sampleRate Hz, delivering mono
	// frames of frameSize samples. The supplied ctx governs the acquisition
	// attempt only; the returned Device lives until Close.
	Open(ctx context.Context, sampleRate, frameSize int) (Device, error)
}
