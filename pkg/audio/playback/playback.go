// Package playback sequences synthesised speech on a shared output clock.
//
// The [Scheduler] chains every [Buffer] off a single cursor so consecutive
// buffers play back to back with no gaps and no overlap, no matter how late
// each one arrives relative to wall-clock time. [Scheduler.Interrupt] flushes
// everything at once for barge-in.
package playback

import (
	"errors"
	"time"

	"github.com/MrWong99/simi/pkg/audio"
)

// ErrClosed is returned by [Scheduler.Enqueue] after [Scheduler.Close].
var ErrClosed = errors.New("playback: scheduler closed")

// Buffer is a decoded block of audio with a known duration.
type Buffer struct {
	// Channels holds one sample slice per channel, all the same length.
	Channels [][]float32

	// SampleRate in Hz.
	SampleRate int
}

// Decode turns little-endian PCM16 into a playable Buffer.
func Decode(pcm []byte, sampleRate, channels int) *Buffer {
	return &Buffer{
		Channels:   audio.PCM16ToSamples(pcm, channels),
		SampleRate: sampleRate,
	}
}

// Frames returns the number of samples per channel.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns how long the buffer takes to play.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Mono averages all channels into a single slice. A mono buffer's only channel
// is returned as is.
func (b *Buffer) Mono() []float32 {
	switch len(b.Channels) {
	case 0:
		return nil
	case 1:
		return b.Channels[0]
	}
	out := make([]float32, b.Frames())
	for _, ch := range b.Channels {
		for i, v := range ch {
			out[i] += v
		}
	}
	n := float32(len(b.Channels))
	for i := range out {
		out[i] /= n
	}
	return out
}

// Voice is one buffer started on an [Output].
type Voice interface {
	// Stop silences the voice immediately. Done is closed afterwards.
	Stop()

	// Done is closed when the voice finishes playing or is stopped.
	Done() <-chan struct{}
}

// Output is the shared output clock together with the means to start a buffer
// at a point on it.
type Output interface {
	// Now reports the current position of the output clock.
	Now() time.Duration

	// Play schedules buf to start at the given clock position. A position in
	// the past starts immediately.
	Play(buf *Buffer, at time.Duration) (Voice, error)
}
