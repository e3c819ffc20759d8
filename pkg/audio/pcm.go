package audio

import (
	"errors"
	"fmt"
)

// ErrMalformedPCM is returned by [DecodeBuffer] when inbound bytes cannot be
// interpreted as little-endian int16 PCM.
var ErrMalformedPCM = errors.New("audio: malformed pcm data")

// EncodeFrame converts a raw capture frame to the little-endian 16-bit PCM
// wire format expected by the remote session. Samples outside [-1, 1] are
// clamped. An empty frame encodes to nil: zero-length input produces no
// chunk, and there is no other failure path.
func EncodeFrame(f Frame) []byte {
	if len(f.Samples) == 0 {
		return nil
	}
	out := make([]byte, len(f.Samples)*2)
	for i, sample := range f.Samples {
		if sample > 1 {
			sample = 1
		} else if sample < -1 {
			sample = -1
		}
		var v int16
		if sample < 0 {
			v = int16(sample * 32768)
		} else {
			v = int16(sample * 32767)
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodeBuffer validates raw inbound session bytes as little-endian 16-bit
// mono PCM at rate and wraps them in a [Buffer]. It returns [ErrMalformedPCM]
// (wrapped with detail) for empty input or an odd byte count — int16 samples
// are 2 bytes each, so an odd length means a truncated or corrupt chunk.
func DecodeBuffer(data []byte, rate int) (Buffer, error) {
	if rate <= 0 {
		return Buffer{}, fmt.Errorf("%w: invalid sample rate %d", ErrMalformedPCM, rate)
	}
	if len(data) == 0 {
		return Buffer{}, fmt.Errorf("%w: empty chunk", ErrMalformedPCM)
	}
	if len(data)%2 != 0 {
		return Buffer{}, fmt.Errorf("%w: odd byte count %d", ErrMalformedPCM, len(data))
	}
	return Buffer{PCM: data, Rate: rate}, nil
}
