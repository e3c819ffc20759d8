// Package audio defines the frame and buffer types flowing through the
// Voxhall voice pipeline and the PCM conversions between them.
//
// Two fixed, externally-defined wire contracts apply:
//
//   - Outbound: the remote session accepts little-endian 16-bit mono PCM at
//     the capture rate. [EncodeFrame] produces it from raw float32 samples.
//   - Inbound: the remote session delivers little-endian 16-bit mono PCM at
//     the playback rate. [DecodeBuffer] validates and wraps it for scheduling.
//
// There is no resampling step: the capture device is opened at the rate the
// session requires, and the playback clock is opened at the rate the session
// delivers.
package audio

import "time"

// Frame is one fixed-size unit of raw captured audio: mono float32 samples
// in the range [-1, 1] at the capture sample rate. Frames are owned
// transiently by the capture device and handed to the encoder by value.
type Frame struct {
	// Samples holds the raw mono samples.
	Samples []float32

	// Rate is the capture sample rate in Hz (e.g. 16000).
	Rate int
}

// Duration returns the playback duration of the frame, or zero when the
// frame is empty or the rate is unset.
func (f Frame) Duration() time.Duration {
	if f.Rate <= 0 || len(f.Samples) == 0 {
		return 0
	}
	return time.Duration(int64(len(f.Samples)) * int64(time.Second) / int64(f.Rate))
}

// Buffer is decoded playback audio: little-endian 16-bit mono PCM at the
// output sample rate. A Buffer is created by [DecodeBuffer] and owned by the
// playback scheduler until its scheduled playback completes.
type Buffer struct {
	// PCM holds interleaved little-endian int16 samples.
	PCM []byte

	// Rate is the output sample rate in Hz (e.g. 24000).
	Rate int
}

// Duration returns the playback duration of the buffer, or zero when the
// buffer is empty or the rate is unset.
func (b Buffer) Duration() time.Duration {
	if b.Rate <= 0 || len(b.PCM) < 2 {
		return 0
	}
	samples := int64(len(b.PCM) / 2)
	return time.Duration(samples * int64(time.Second) / int64(b.Rate))
}
