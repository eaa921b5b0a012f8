// Package capture turns a live microphone stream into a steady sequence of
// fixed-size [audio.AudioFrame] values ready for the realtime transport.
//
// A [Pipeline] is single-use: once started it produces frames until it is
// stopped or its context ends, and it cannot be started again. Restarting
// capture means constructing a new Pipeline, which acquires the microphone
// afresh.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/simi/pkg/audio"
)

const (
	// DefaultChunkSize is the number of samples per emitted frame.
	DefaultChunkSize = 4096

	// defaultBuffer is the number of frames that may queue up before the
	// pipeline starts dropping.
	defaultBuffer = 16
)

var (
	// ErrPermissionDenied is returned by [Pipeline.Start] when the platform or
	// the user refuses microphone access.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrAlreadyStarted is returned by [Pipeline.Start] on a pipeline that has
	// been started before.
	ErrAlreadyStarted = errors.New("capture: pipeline already started")
)

// Source acquires a microphone stream.
type Source interface {
	// Open requests access to the microphone and starts delivering samples.
	// Implementations return an error wrapping [ErrPermissionDenied] when
	// access is refused.
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open microphone. Samples are mono floats in [-1, 1].
type Stream interface {
	// Samples delivers blocks of arbitrary length. The channel is closed when
	// the stream ends.
	Samples() <-chan []float32

	// SampleRate is the native rate of the blocks delivered by Samples.
	SampleRate() int

	// Close releases the microphone. It is safe to call more than once.
	Close() error
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithChunkSize sets the number of samples per frame. Values < 1 are ignored.
func WithChunkSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// WithBuffer sets how many frames may wait for the consumer before new frames
// are dropped.
func WithBuffer(n int) Option {
	return func(p *Pipeline) {
		if n >= 0 {
			p.buffer = n
		}
	}
}

// WithOnDrop registers a callback invoked from the capture goroutine every
// time a frame is dropped because the consumer fell behind.
func WithOnDrop(fn func()) Option {
	return func(p *Pipeline) {
		p.onDrop = fn
	}
}

// WithRunContext sets the parent context of the capture goroutine. Without it
// the context passed to [Pipeline.Start] governs both opening the microphone
// and the lifetime of capture; with it, the Start context only bounds the
// open.
func WithRunContext(ctx context.Context) Option {
	return func(p *Pipeline) {
		p.runCtx = ctx
	}
}

// Pipeline frames microphone audio into 16 kHz mono PCM16 chunks.
//
// All exported methods are safe for concurrent use.
type Pipeline struct {
	src       Source
	chunkSize int
	buffer    int
	onDrop    func()
	runCtx    context.Context

	mu      sync.Mutex
	started bool
	stream  Stream
	cancel  context.CancelFunc
	done    chan struct{}

	dropped  atomic.Uint64
	warnDrop sync.Once
}

// New creates a Pipeline reading from src.
func New(src Source, opts ...Option) *Pipeline {
	p := &Pipeline{
		src:       src,
		chunkSize: DefaultChunkSize,
		buffer:    defaultBuffer,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start acquires the microphone and returns the frame sequence. Cancelling ctx
// aborts a pending open. The returned channel is closed once capture ends,
// whether through [Pipeline.Stop], cancellation of the run context (ctx unless
// [WithRunContext] was given), or the stream running dry.
func (p *Pipeline) Start(ctx context.Context) (<-chan audio.AudioFrame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil, ErrAlreadyStarted
	}
	p.started = true

	stream, err := p.src.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) || ctx.Err() != nil {
			return nil, fmt.Errorf("capture: acquire microphone: %w", err)
		}
		return nil, fmt.Errorf("capture: acquire microphone: %w: %w", ErrPermissionDenied, err)
	}

	parent := ctx
	if p.runCtx != nil {
		parent = p.runCtx
	}
	runCtx, cancel := context.WithCancel(parent)
	out := make(chan audio.AudioFrame, p.buffer)
	p.stream = stream
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.run(runCtx, stream, out)
	return out, nil
}

// Stop halts capture, releases the microphone and waits for the frame channel
// to close. Stop on a pipeline that was never started is a no-op.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	stream, cancel, done := p.stream, p.cancel, p.done
	p.mu.Unlock()

	if stream == nil {
		return nil
	}
	cancel()
	err := stream.Close()
	<-done
	if err != nil {
		return fmt.Errorf("capture: release microphone: %w", err)
	}
	return nil
}

// Dropped returns the number of frames discarded because the consumer was
// slower than the microphone.
func (p *Pipeline) Dropped() uint64 {
	return p.dropped.Load()
}

func (p *Pipeline) run(ctx context.Context, stream Stream, out chan<- audio.AudioFrame) {
	defer close(p.done)
	defer close(out)

	resampler := audio.NewResampler(stream.SampleRate(), audio.InputSampleRate)
	pending := make([]float32, 0, p.chunkSize*2)
	frameDur := time.Duration(p.chunkSize) * time.Second / audio.InputSampleRate
	var emitted int64

	samples := stream.Samples()
	for {
		var block []float32
		var ok bool
		select {
		case <-ctx.Done():
			return
		case block, ok = <-samples:
			if !ok {
				return
			}
		}

		pending = append(pending, resampler.Process(block)...)
		for len(pending) >= p.chunkSize {
			frame := audio.AudioFrame{
				Data:       audio.SamplesToPCM16(pending[:p.chunkSize]),
				SampleRate: audio.InputSampleRate,
				Channels:   1,
				MIMEType:   audio.PCMMIMEType(audio.InputSampleRate),
				Timestamp:  time.Duration(emitted) * frameDur,
			}
			emitted++
			pending = append(pending[:0], pending[p.chunkSize:]...)

			select {
			case out <- frame:
			case <-ctx.Done():
				return
			default:
				p.drop()
			}
		}
	}
}

func (p *Pipeline) drop() {
	p.dropped.Add(1)
	p.warnDrop.Do(func() {
		slog.Warn("capture: consumer too slow, dropping frames", "chunk_size", p.chunkSize)
	})
	if p.onDrop != nil {
		p.onDrop()
	}
}
