//go:build !portaudio

package device

import (
	"context"
	"fmt"

	"github.com/MrWong99/simi/pkg/audio/capture"
)

// Init is a no-op without the portaudio build tag.
func Init() (terminate func() error, err error) {
	return func() error { return nil }, nil
}

// Open implements [capture.Source]. Without the portaudio build tag there is
// no microphone.
func (m *Microphone) Open(ctx context.Context) (capture.Stream, error) {
	return NoMicrophone{}.Open(ctx)
}

// OpenSpeaker reports [ErrUnavailable] without the portaudio build tag.
func OpenSpeaker(sampleRate, framesPerBuffer int) (*Speaker, error) {
	return nil, fmt.Errorf("device: open output: %w", ErrUnavailable)
}
