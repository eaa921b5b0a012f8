// Package device connects the capture pipeline and playback timeline to the
// host's sound card.
//
// The PortAudio backend is compiled only with the "portaudio" build tag, which
// needs the PortAudio C library. Without it [Microphone.Open] and
// [OpenSpeaker] return [ErrUnavailable], and [NullSpeaker] can stand in for
// the speaker so that playback timing still works headless.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/simi/pkg/audio/capture"
	"github.com/MrWong99/simi/pkg/audio/playback"
)

// ErrUnavailable is returned when no audio backend is compiled in or the
// backend could not find a device.
var ErrUnavailable = errors.New("device: audio backend unavailable")

// Compile-time interface assertion.
var (
	_ capture.Source = (*Microphone)(nil)
	_ capture.Source = NoMicrophone{}
)

// Microphone is a [capture.Source] backed by the default input device.
type Microphone struct {
	// SampleRate requested from the device. Zero means 16000.
	SampleRate int

	// Channels opened on the device. Zero means mono; more are mixed down.
	Channels int

	// FramesPerBuffer is the device read size. Zero means 1600 (100 ms at 16 kHz).
	FramesPerBuffer int
}

func (m *Microphone) rate() int {
	if m.SampleRate > 0 {
		return m.SampleRate
	}
	return 16000
}

func (m *Microphone) channels() int {
	if m.Channels > 0 {
		return m.Channels
	}
	return 1
}

func (m *Microphone) frames() int {
	if m.FramesPerBuffer > 0 {
		return m.FramesPerBuffer
	}
	return 1600
}

// NoMicrophone is a [capture.Source] that always refuses, for hosts
// configured without audio devices.
type NoMicrophone struct{}

// Open implements [capture.Source].
func (NoMicrophone) Open(context.Context) (capture.Stream, error) {
	return nil, fmt.Errorf("device: open input: %w: %w", capture.ErrPermissionDenied, ErrUnavailable)
}

// Speaker drives a [playback.Timeline] from an output device callback.
type Speaker struct {
	tl    *playback.Timeline
	close func() error
	once  sync.Once
	err   error
}

// Output returns the timeline the speaker renders.
func (s *Speaker) Output() *playback.Timeline { return s.tl }

// Close stops the device. It is safe to call more than once.
func (s *Speaker) Close() error {
	s.once.Do(func() { s.err = s.close() })
	return s.err
}

// NullSpeaker renders the timeline into nothing at real-time pace, so the
// output clock advances and voices complete as if they were audible.
func NullSpeaker(sampleRate, framesPerBuffer int) *Speaker {
	if framesPerBuffer <= 0 {
		framesPerBuffer = sampleRate / 25
	}
	tl := playback.NewTimeline(sampleRate)
	period := time.Duration(framesPerBuffer) * time.Second / time.Duration(sampleRate)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		scratch := make([]float32, framesPerBuffer)
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				tl.Render(scratch)
			}
		}
	}()

	return &Speaker{
		tl: tl,
		close: func() error {
			close(stop)
			<-done
			return nil
		},
	}
}
