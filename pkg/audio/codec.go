package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrDecode is matched by every [DecodeError] via errors.Is.
var ErrDecode = errors.New("audio: decode error")

// DecodeError reports a malformed inbound audio payload. It is localised: the
// offending payload is dropped and processing continues.
type DecodeError struct {
	// Len is the length of the rejected text payload.
	Len int
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("audio: decode %d-byte payload: %v", e.Len, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is reports whether target is [ErrDecode].
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// SamplesToPCM16 scales each sample by 32768 and truncates it to a signed
// 16-bit little-endian integer.
//
// Samples outside [-1, 1) are not clamped: the scaled value is truncated to
// 16 bits and wraps around.
func SamplesToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(int32(s * 32768))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// PCM16ToSamples deinterleaves little-endian 16-bit PCM into one float slice
// per channel, dividing every sample by 32768. A trailing partial frame is
// ignored. channels < 1 is treated as mono.
func PCM16ToSamples(pcm []byte, channels int) [][]float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm) / 2 / channels
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			off := (i*channels + ch) * 2
			v := int16(binary.LittleEndian.Uint16(pcm[off:]))
			out[ch][i] = float32(v) / 32768.0
		}
	}
	return out
}

// BufferToText encodes binary audio into the transport's text-safe form.
func BufferToText(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// TextToBuffer reverses [BufferToText]. Input containing characters outside
// the encoding alphabet yields a *[DecodeError].
func TextToBuffer(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &DecodeError{Len: len(s), Err: err}
	}
	return b, nil
}
