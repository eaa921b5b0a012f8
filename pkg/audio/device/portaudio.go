//go:build portaudio

package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/simi/pkg/audio"
	"github.com/MrWong99/simi/pkg/audio/capture"
	"github.com/MrWong99/simi/pkg/audio/playback"
)

// Init initialises PortAudio. Call the returned function on shutdown.
func Init() (terminate func() error, err error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("device: initialise portaudio: %w", err)
	}
	return portaudio.Terminate, nil
}

// Open implements [capture.Source]. Failure to open the default input device
// is reported as a permission refusal.
func (m *Microphone) Open(ctx context.Context) (capture.Stream, error) {
	channels := m.channels()
	buf := make([]float32, m.frames()*channels)
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(m.rate()), m.frames(), buf)
	if err != nil {
		return nil, fmt.Errorf("device: open input: %w: %w", capture.ErrPermissionDenied, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("device: start input: %w: %w", capture.ErrPermissionDenied, err)
	}

	ms := &micStream{
		stream:   stream,
		rate:     m.rate(),
		channels: channels,
		ch:       make(chan []float32, 8),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go ms.readLoop(buf)
	return ms, nil
}

type micStream struct {
	stream   *portaudio.Stream
	rate     int
	channels int
	ch       chan []float32
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	err      error
}

func (s *micStream) Samples() <-chan []float32 { return s.ch }
func (s *micStream) SampleRate() int           { return s.rate }

func (s *micStream) Close() error {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
		if err := s.stream.Stop(); err != nil {
			s.err = fmt.Errorf("device: stop input: %w", err)
		}
		if err := s.stream.Close(); err != nil && s.err == nil {
			s.err = fmt.Errorf("device: close input: %w", err)
		}
	})
	return s.err
}

func (s *micStream) readLoop(buf []float32) {
	defer close(s.done)
	defer close(s.ch)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if err := s.stream.Read(); err != nil {
			// Input overflow is not fatal; the block is still valid.
			if !errors.Is(err, portaudio.InputOverflowed) {
				slog.Warn("device: microphone read failed", "err", err)
				return
			}
		}
		var block []float32
		if s.channels > 1 {
			block = audio.MixDown(buf, s.channels)
		} else {
			block = make([]float32, len(buf))
			copy(block, buf)
		}
		select {
		case s.ch <- block:
		case <-s.stop:
			return
		}
	}
}

// OpenSpeaker opens the default output device and renders a fresh
// [playback.Timeline] from its callback.
func OpenSpeaker(sampleRate, framesPerBuffer int) (*Speaker, error) {
	tl := playback.NewTimeline(sampleRate)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), framesPerBuffer,
		func(out []float32) { tl.Render(out) })
	if err != nil {
		return nil, fmt.Errorf("device: open output: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("device: start output: %w", err)
	}
	return &Speaker{
		tl: tl,
		close: func() error {
			if err := stream.Stop(); err != nil {
				return fmt.Errorf("device: stop output: %w", err)
			}
			return stream.Close()
		},
	}, nil
}
