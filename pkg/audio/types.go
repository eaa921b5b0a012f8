package audio

import (
	"fmt"
	"time"
)

// InputSampleRate is the sample rate of captured microphone audio sent to the
// realtime service.
const InputSampleRate = 16000

// OutputSampleRate is the sample rate of synthesised speech returned by the
// realtime service.
const OutputSampleRate = 24000

// AudioFrame is one fixed-duration chunk of captured audio in transit to the
// realtime service. Frames are produced by the capture pipeline and consumed
// exactly once by the session transport.
type AudioFrame struct {
	// Data is little-endian 16-bit PCM.
	Data []byte

	// SampleRate in Hz (16000 for microphone frames).
	SampleRate int

	// Channels is 1 for mono.
	Channels int

	// MIMEType tags the encoding, e.g. "audio/pcm;rate=16000".
	MIMEType string

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// PCMMIMEType returns the MIME type used for raw 16-bit PCM at rate.
func PCMMIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}
