// Package mock provides in-memory implementations of [capture.Source] and
// [playback.Output] for use in unit tests.
//
// All mocks are safe for concurrent use. They record calls so that tests can
// assert on call counts and arguments, and they expose exported fields that
// the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{Rate: 16000, Blocks: [][]float32{make([]float32, 4096)}}
//	p := capture.New(src)
//	frames, err := p.Start(ctx)
//
//	out := &mock.Output{}
//	s := playback.NewScheduler(out)
//	s.Enqueue(buf)
//	out.Voices()[0].Finish()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/simi/pkg/audio/capture"
	"github.com/MrWong99/simi/pkg/audio/playback"
)

// Compile-time interface assertions.
var (
	_ capture.Source  = (*Source)(nil)
	_ capture.Stream  = (*Stream)(nil)
	_ playback.Output = (*Output)(nil)
	_ playback.Voice  = (*Voice)(nil)
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a scripted microphone. Each call to Open returns a fresh [Stream]
// pre-loaded with Blocks. The stream stays open until closed, like a real
// device, and more blocks can be pushed with [Stream.Push].
type Source struct {
	mu sync.Mutex

	// Blocks are delivered in order on every opened stream.
	Blocks [][]float32

	// Rate is the stream's native sample rate. Zero means 16000.
	Rate int

	// OpenErr, when non-nil, is returned by Open.
	OpenErr error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	streams []*Stream
}

// Open implements [capture.Source].
func (s *Source) Open(_ context.Context) (capture.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountOpen++
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	rate := s.Rate
	if rate == 0 {
		rate = 16000
	}
	st := &Stream{
		rate: rate,
		ch:   make(chan []float32, len(s.Blocks)+64),
	}
	for _, b := range s.Blocks {
		st.ch <- b
	}
	s.streams = append(s.streams, st)
	return st, nil
}

// Streams returns every stream opened so far.
func (s *Source) Streams() []*Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Stream(nil), s.streams...)
}

// Stream is an open scripted microphone.
type Stream struct {
	mu     sync.Mutex
	rate   int
	ch     chan []float32
	closed bool

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Samples implements [capture.Stream].
func (s *Stream) Samples() <-chan []float32 { return s.ch }

// SampleRate implements [capture.Stream].
func (s *Stream) SampleRate() int { return s.rate }

// Close implements [capture.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Push delivers another block. It reports false if the stream is closed or
// its buffer is full.
func (s *Stream) Push(block []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- block:
		return true
	default:
		return false
	}
}

// ─── Output ───────────────────────────────────────────────────────────────────

// Output is a playback output with a manually advanced clock. Voices never
// finish on their own; call [Voice.Finish] to simulate natural completion.
type Output struct {
	mu  sync.Mutex
	now time.Duration

	// PlayErr, when non-nil, is returned by Play.
	PlayErr error

	voices []*Voice
}

// SetNow moves the output clock.
func (o *Output) SetNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = d
}

// Now implements [playback.Output].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Play implements [playback.Output].
func (o *Output) Play(buf *playback.Buffer, at time.Duration) (playback.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.PlayErr != nil {
		return nil, o.PlayErr
	}
	v := &Voice{Buffer: buf, At: at, done: make(chan struct{})}
	o.voices = append(o.voices, v)
	return v, nil
}

// Voices returns every voice started so far, in order.
func (o *Output) Voices() []*Voice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Voice(nil), o.voices...)
}

// Voice records one Play call.
type Voice struct {
	// Buffer and At are the arguments Play was called with.
	Buffer *playback.Buffer
	At     time.Duration

	mu      sync.Mutex
	stopped bool
	once    sync.Once
	done    chan struct{}
}

// Stop implements [playback.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	v.stopped = true
	v.mu.Unlock()
	v.Finish()
}

// Done implements [playback.Voice].
func (v *Voice) Done() <-chan struct{} { return v.done }

// Finish simulates the voice reaching its natural end.
func (v *Voice) Finish() {
	v.once.Do(func() { close(v.done) })
}

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}
