// Package mock provides test doubles for the capture package interfaces.
//
// Use Opener to verify Open calls and feed controlled devices. Use Device
// to push frames into the pipeline from a test.
package mock

import (
	"context"
	"sync"

	"github.com/voxhall/voxhall/pkg/audio"
	"github.com/voxhall/voxhall/pkg/capture"
)

// Ensure the mocks implement the capture interfaces at compile time.
var _ capture.Opener = (*Opener)(nil)
var _ capture.Device = (*Device)(nil)

// OpenCall records a single invocation of Opener.Open.
type OpenCall struct {
	// SampleRate is the rate passed to Open.
	SampleRate int
	// FrameSize is the frame size passed to Open.
	FrameSize int
}

// Opener is a mock implementation of capture.Opener.
type Opener struct {
	mu sync.Mutex

	// Device is returned by Open. If nil, Open returns a new default Device.
	Device capture.Device

	// OpenErr, if non-nil, is returned as the error from Open.
	OpenErr error

	// OpenCalls records every call to Open in order.
	OpenCalls []OpenCall
}

// Open records the call and returns Device, OpenErr.
func (o *Opener) Open(_ context.Context, sampleRate, frameSize int) (capture.Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.OpenCalls = append(o.OpenCalls, OpenCall{SampleRate: sampleRate, FrameSize: frameSize})
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	if o.Device != nil {
		return o.Device, nil
	}
	return NewDevice(), nil
}

// Calls returns a snapshot of recorded Open calls. Thread-safe.
func (o *Opener) Calls() []OpenCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]OpenCall(nil), o.OpenCalls...)
}

// Device is a mock implementation of capture.Device. Push frames into the
// pipeline with Push; Close ends the stream.
type Device struct {
	mu sync.Mutex

	frames chan audio.Frame
	closed bool

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewDevice creates a Device with a buffered frame channel.
func NewDevice() *Device {
	return &Device{frames: make(chan audio.Frame, 16)}
}

// Push delivers one frame to the consumer. Returns false if the device is
// closed or the channel is full (the frame is dropped, mirroring the real
// device's non-blocking delivery).
func (d *Device) Push(f audio.Frame) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.frames <- f:
		return true
	default:
		return false
	}
}

// Frames implements [capture.Device].
func (d *Device) Frames() <-chan audio.Frame { return d.frames }

// Close implements [capture.Device]. Idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCallCount++
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.frames)
	return nil
}
