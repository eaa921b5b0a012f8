// Package voice owns the realtime voice session: it wires the microphone
// capture pipeline and the playback scheduler to a live provider session,
// drives the session state machine and routes inbound events.
//
// A [Session] is single-use. Each voice conversation constructs a fresh one;
// after it reaches [StateClosed] or [StateErrored] a new Session is needed to
// talk again.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/simi/internal/command"
	"github.com/MrWong99/simi/internal/observe"
	"github.com/MrWong99/simi/pkg/audio"
	"github.com/MrWong99/simi/pkg/audio/capture"
	"github.com/MrWong99/simi/pkg/audio/playback"
	"github.com/MrWong99/simi/pkg/provider/live"
)

// ErrStopped is returned by [Session.Start] when [Session.Stop] is called
// before the session became active.
var ErrStopped = errors.New("voice: stopped while connecting")

const defaultAckTimeout = 5 * time.Second

// Hooks receive session signals. Every field is optional and every hook must
// return quickly.
type Hooks struct {
	// OnState reports each state change. err is set for StateErrored. It is
	// called with the session lock held and must not call Session methods.
	OnState func(st State, err error)

	// OnListening reports that the microphone is (or is no longer) streaming
	// to the remote side.
	OnListening func(bool)

	// OnSpeaking reports that synthesised speech started or that playback
	// went idle.
	OnSpeaking func(bool)

	// OnTranscript receives every transcript fragment verbatim.
	OnTranscript func(live.Transcript)

	// OnCommand receives every tool call after name normalisation.
	OnCommand func(command.Command)
}

// Config holds the collaborators and settings of a Session.
type Config struct {
	Provider   live.Provider
	Microphone capture.Source
	Speaker    playback.Output

	// Live is sent to the provider when the session opens.
	Live live.SessionConfig

	// ChunkSize is the number of samples per outbound frame.
	ChunkSize int

	// OutputSampleRate applies to inbound audio whose MIME type names no rate.
	OutputSampleRate int
}

// Option configures a Session.
type Option func(*Session)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithAckTimeout bounds each tool-call acknowledgement send.
func WithAckTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.ackTimeout = d
		}
	}
}

// Session is one realtime voice conversation.
//
// All exported methods are safe for concurrent use.
type Session struct {
	id         string
	cfg        Config
	hooks      Hooks
	metrics    *observe.Metrics
	log        *slog.Logger
	ackTimeout time.Duration

	mu          sync.Mutex
	state       State
	err         error
	startCancel context.CancelFunc
	started     chan struct{}
	runCancel   context.CancelFunc
	pipeline    *capture.Pipeline
	sched       *playback.Scheduler
	remote      live.Session
	counted     bool

	wg           sync.WaitGroup
	done         chan struct{}
	doneOnce     sync.Once
	teardownOnce sync.Once
}

// New creates an idle Session.
func New(cfg Config, hooks Hooks, opts ...Option) *Session {
	if cfg.OutputSampleRate <= 0 {
		cfg.OutputSampleRate = audio.OutputSampleRate
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = capture.DefaultChunkSize
	}
	s := &Session{
		id:         uuid.NewString(),
		cfg:        cfg,
		hooks:      hooks,
		ackTimeout: defaultAckTimeout,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("session_id", s.id)
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that moved the session to [StateErrored].
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start acquires the microphone, opens the remote session and begins
// streaming. On failure the session moves to [StateErrored] and the returned
// error wraps [capture.ErrPermissionDenied] or [ErrConnection].
//
// Start blocks until the remote side accepts the session. There is no built-in
// timeout; cancel ctx or call [Session.Stop] to give up.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if err := checkTransition(s.state, StateConnecting); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("voice: start: %w", err)
	}
	startCtx, cancel := context.WithCancel(ctx)
	s.startCancel = cancel
	s.started = make(chan struct{})
	started := s.started
	s.setStateLocked(StateConnecting, nil)
	s.mu.Unlock()

	defer close(started)
	defer cancel()

	// Background work outlives the caller's (often request-scoped) context.
	runCtx, runCancel := context.WithCancel(context.WithoutCancel(ctx))

	pipeline := capture.New(s.cfg.Microphone,
		capture.WithChunkSize(s.cfg.ChunkSize),
		capture.WithOnDrop(func() { s.metrics.RecordFrameDropped(runCtx, "backpressure") }),
		capture.WithRunContext(runCtx),
	)
	// Opening is bounded by startCtx so Stop can abandon a device that hangs.
	frames, err := pipeline.Start(startCtx)
	if err != nil {
		runCancel()
		return s.failStart(fmt.Errorf("voice: start: %w", err))
	}

	began := time.Now()
	remote, err := s.cfg.Provider.Connect(startCtx, s.liveConfig())
	s.metrics.ConnectDuration.Record(runCtx, time.Since(began).Seconds())
	if err != nil {
		pipeline.Stop()
		runCancel()
		s.metrics.RecordProviderError(runCtx, s.cfg.Provider.Name(), "connect")
		return s.failStart(fmt.Errorf("voice: start: %w: %w", ErrConnection, err))
	}

	sched := playback.NewScheduler(s.cfg.Speaker, playback.WithOnIdle(func() { s.speaking(false) }))

	s.mu.Lock()
	s.pipeline, s.remote, s.sched, s.runCancel = pipeline, remote, sched, runCancel
	if s.state != StateConnecting {
		// Stop won the race; it tears down what was just built.
		s.mu.Unlock()
		return ErrStopped
	}
	s.counted = true
	s.wg.Add(2)
	s.setStateLocked(StateActive, nil)
	s.mu.Unlock()

	s.metrics.ActiveSessions.Add(runCtx, 1)
	s.log.Info("voice session active", "provider", s.cfg.Provider.Name())
	s.listening(true)

	go s.pump(runCtx, remote, frames)
	go s.eventLoop(runCtx, remote, sched)
	return nil
}

// Stop closes the session: capture halts, playback is flushed and the remote
// connection is closed. Frames not yet sent are abandoned. Stop on an idle or
// already closed session is a no-op; on an errored session it releases the
// resources the failure left open.
func (s *Session) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StateClosed:
		s.mu.Unlock()
		return nil
	case StateClosing:
		s.mu.Unlock()
		<-s.done
		return nil
	case StateErrored:
		s.mu.Unlock()
		s.teardown()
		return nil
	}
	from := s.state
	cancel, started := s.startCancel, s.started
	s.setStateLocked(StateClosing, nil)
	s.mu.Unlock()

	if from == StateConnecting {
		cancel()
		<-started
	}
	s.teardown()

	s.mu.Lock()
	s.setStateLocked(StateClosed, nil)
	s.mu.Unlock()
	s.finish()
	s.log.Info("voice session stopped")
	return nil
}

func (s *Session) liveConfig() live.SessionConfig {
	cfg := s.cfg.Live
	if cfg.ResponseModality == "" {
		cfg.ResponseModality = live.ModalityAudio
	}
	return cfg
}

// setStateLocked moves to st and notifies the hook. s.mu must be held.
func (s *Session) setStateLocked(st State, err error) {
	s.state = st
	if err != nil {
		s.err = err
	}
	if s.hooks.OnState != nil {
		s.hooks.OnState(st, err)
	}
}

// failStart records a failure during Start. If Stop already moved the session
// to Closing the failure is the expected result of cancellation.
func (s *Session) failStart(err error) error {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return ErrStopped
	}
	s.setStateLocked(StateErrored, err)
	s.mu.Unlock()

	s.metrics.RecordSessionError(context.Background(), errorKind(err))
	s.log.Warn("voice session failed to start", "err", err)
	s.finish()
	return err
}

// fail moves an active session to Errored. The connection stays open until
// Stop.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateErrored, err)
	s.mu.Unlock()

	s.metrics.RecordSessionError(context.Background(), errorKind(err))
	s.log.Warn("voice session errored", "err", err)
	s.listening(false)
	s.finish()
}

// closeByPeer handles a clean remote close: Active → Closing → Closed.
func (s *Session) closeByPeer() {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateClosing, nil)
	s.mu.Unlock()

	s.teardown()

	s.mu.Lock()
	s.setStateLocked(StateClosed, nil)
	s.mu.Unlock()
	s.finish()
	s.log.Info("voice session closed by peer")
}

// teardown releases capture, playback and the connection, then waits for the
// session goroutines. It must not run on a session goroutine.
func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		p, sched, remote, cancel, counted := s.pipeline, s.sched, s.remote, s.runCancel, s.counted
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if p != nil {
			if err := p.Stop(); err != nil {
				s.log.Warn("release microphone", "err", err)
			}
		}
		if sched != nil {
			sched.Interrupt()
			sched.Close()
		}
		if remote != nil {
			if err := remote.Close(); err != nil {
				s.log.Warn("close remote session", "err", err)
			}
		}
		s.wg.Wait()

		if counted {
			s.metrics.ActiveSessions.Add(context.Background(), -1)
		}
		s.listening(false)
		s.speaking(false)
	})
}

func (s *Session) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) listening(v bool) {
	if s.hooks.OnListening != nil {
		s.hooks.OnListening(v)
	}
}

func (s *Session) speaking(v bool) {
	if s.hooks.OnSpeaking != nil {
		s.hooks.OnSpeaking(v)
	}
}

// ── session goroutines ────────────────────────────────────────────────────────

// pump sends captured frames in order. Frames captured while the session is
// not active are discarded.
func (s *Session) pump(ctx context.Context, remote live.Session, frames <-chan audio.AudioFrame) {
	defer s.wg.Done()
	for f := range frames {
		if s.State() != StateActive {
			s.metrics.RecordFrameDropped(ctx, "inactive")
			continue
		}
		in := live.RealtimeInput{Media: live.Media{
			Data:     audio.BufferToText(f.Data),
			MIMEType: f.MIMEType,
		}}
		if err := remote.SendRealtimeInput(ctx, in); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fail(fmt.Errorf("voice: send audio: %w: %w", ErrConnection, err))
			continue
		}
		s.metrics.FramesSent.Add(ctx, 1)
	}
}

// eventLoop consumes the provider's single ordered event stream.
func (s *Session) eventLoop(ctx context.Context, remote live.Session, sched *playback.Scheduler) {
	defer s.wg.Done()
	for ev := range remote.Events() {
		if s.State() != StateActive {
			continue
		}
		switch ev.Kind {
		case live.EventTranscript:
			if s.hooks.OnTranscript != nil && ev.Transcript != nil {
				s.hooks.OnTranscript(*ev.Transcript)
			}
		case live.EventToolCall:
			s.handleToolCalls(ctx, remote, ev.ToolCalls)
		case live.EventAudio:
			s.handleAudio(ctx, sched, ev.Audio)
		case live.EventInterrupted:
			sched.Interrupt()
			s.metrics.Interruptions.Add(ctx, 1)
			s.listening(true)
		case live.EventError:
			s.fail(fmt.Errorf("voice: remote error: %w: %w", ErrConnection, ev.Err))
		case live.EventClosed:
			if ev.Err != nil {
				s.fail(fmt.Errorf("voice: %w: %w", ErrConnection, ev.Err))
				continue
			}
			// teardown waits for this goroutine, so it cannot run here.
			go s.closeByPeer()
		case live.EventSetupComplete, live.EventTurnComplete:
		}
	}
}

// handleToolCalls forwards each call to the command sink and acknowledges it.
// Acknowledgements are sent asynchronously, once, without retry.
func (s *Session) handleToolCalls(ctx context.Context, remote live.Session, calls []live.FunctionCall) {
	for _, fc := range calls {
		cmd := command.Command{Kind: command.Normalize(fc.Name), Args: fc.Args}
		s.metrics.RecordToolCall(ctx, fc.Name, "received")
		if s.hooks.OnCommand != nil {
			s.hooks.OnCommand(cmd)
		}

		s.wg.Add(1)
		go func(fc live.FunctionCall) {
			defer s.wg.Done()
			ackCtx, cancel := context.WithTimeout(ctx, s.ackTimeout)
			defer cancel()
			if err := remote.SendToolResponse(ackCtx, live.OK(fc.ID, fc.Name)); err != nil {
				s.metrics.ToolAckFailures.Add(ctx, 1)
				s.log.Warn("tool call acknowledgement failed", "tool", fc.Name, "call_id", fc.ID, "err", err)
			}
		}(fc)
	}
}

func (s *Session) handleAudio(ctx context.Context, sched *playback.Scheduler, a *live.Audio) {
	if a == nil {
		return
	}
	pcm, err := audio.TextToBuffer(a.Data)
	if err != nil {
		s.metrics.DecodeErrors.Add(ctx, 1)
		s.log.Debug("dropping undecodable audio", "err", err)
		return
	}
	buf := playback.Decode(pcm, sampleRate(a.MIMEType, s.cfg.OutputSampleRate), 1)

	s.speaking(true)
	if _, err := sched.Enqueue(buf); err != nil {
		s.log.Warn("schedule playback", "err", err)
		return
	}
	s.metrics.PlaybackBuffers.Add(ctx, 1)
}

// sampleRate reads the rate parameter of a MIME type such as
// "audio/pcm;rate=24000".
func sampleRate(mimeType string, def int) int {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return def
	}
	if r, err := strconv.Atoi(params["rate"]); err == nil && r > 0 {
		return r
	}
	return def
}

// ── error reporting ───────────────────────────────────────────────────────────

func errorKind(err error) string {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrConnection):
		return "connection"
	default:
		return "other"
	}
}

// Message renders a session failure as a short user-facing sentence.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, capture.ErrPermissionDenied):
		return "Microphone access was denied. Allow the microphone and start again."
	case errors.Is(err, ErrConnection):
		return "Connection to Simi failed. Press start to try again."
	default:
		return "Something went wrong with the voice session."
	}
}
