package voice_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/simi/internal/command"
	"github.com/MrWong99/simi/internal/voice"
	"github.com/MrWong99/simi/pkg/audio"
	"github.com/MrWong99/simi/pkg/audio/capture"
	audiomock "github.com/MrWong99/simi/pkg/audio/mock"
	"github.com/MrWong99/simi/pkg/provider/live"
	livemock "github.com/MrWong99/simi/pkg/provider/live/mock"
)

// recorder collects hook invocations.
type recorder struct {
	mu          sync.Mutex
	states      []voice.State
	stateErrs   []error
	listening   []bool
	speaking    []bool
	transcripts []live.Transcript
	commands    []command.Command
}

func (r *recorder) hooks() voice.Hooks {
	return voice.Hooks{
		OnState: func(st voice.State, err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, st)
			r.stateErrs = append(r.stateErrs, err)
		},
		OnListening: func(v bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.listening = append(r.listening, v)
		},
		OnSpeaking: func(v bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.speaking = append(r.speaking, v)
		},
		OnTranscript: func(tr live.Transcript) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.transcripts = append(r.transcripts, tr)
		},
		OnCommand: func(c command.Command) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.commands = append(r.commands, c)
		},
	}
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		states:      append([]voice.State(nil), r.states...),
		stateErrs:   append([]error(nil), r.stateErrs...),
		listening:   append([]bool(nil), r.listening...),
		speaking:    append([]bool(nil), r.speaking...),
		transcripts: append([]live.Transcript(nil), r.transcripts...),
		commands:    append([]command.Command(nil), r.commands...),
	}
}

func last[T any](s []T) (T, bool) {
	var zero T
	if len(s) == 0 {
		return zero, false
	}
	return s[len(s)-1], true
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type fixture struct {
	src    *audiomock.Source
	out    *audiomock.Output
	remote *livemock.Session
	prov   *livemock.Provider
	rec    *recorder
	sess   *voice.Session
}

func newFixture(t *testing.T, blocks ...[]float32) *fixture {
	t.Helper()
	f := &fixture{
		src:    &audiomock.Source{Rate: audio.InputSampleRate, Blocks: blocks},
		out:    &audiomock.Output{},
		remote: livemock.NewSession(),
		rec:    &recorder{},
	}
	f.prov = &livemock.Provider{Session: f.remote}
	f.sess = voice.New(voice.Config{
		Provider:   f.prov,
		Microphone: f.src,
		Speaker:    f.out,
		Live:       live.SessionConfig{Instructions: "be Simi"},
		ChunkSize:  4,
	}, f.rec.hooks(), voice.WithAckTimeout(time.Second))
	t.Cleanup(func() { _ = f.sess.Stop() })
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

// ── lifecycle ─────────────────────────────────────────────────────────────────

func TestSession_StartBecomesActiveAndListens(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	if got := f.sess.State(); got != voice.StateActive {
		t.Fatalf("State = %s, want ACTIVE", got)
	}
	snap := f.rec.snapshot()
	if len(snap.states) != 2 || snap.states[0] != voice.StateConnecting || snap.states[1] != voice.StateActive {
		t.Errorf("states = %v, want [CONNECTING ACTIVE]", snap.states)
	}
	if v, ok := last(snap.listening); !ok || !v {
		t.Errorf("listening = %v, want trailing true", snap.listening)
	}

	calls := f.prov.Calls()
	if len(calls) != 1 {
		t.Fatalf("Connect calls = %d, want 1", len(calls))
	}
	if calls[0].Cfg.Instructions != "be Simi" {
		t.Errorf("Instructions = %q", calls[0].Cfg.Instructions)
	}
	if calls[0].Cfg.ResponseModality != live.ModalityAudio {
		t.Errorf("ResponseModality = %q, want AUDIO", calls[0].Cfg.ResponseModality)
	}
}

func TestSession_StartTwiceFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	if err := f.sess.Start(context.Background()); !errors.Is(err, voice.ErrInvalidTransition) {
		t.Errorf("second Start err = %v, want ErrInvalidTransition", err)
	}
}

func TestSession_MicrophoneDenied(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.src.OpenErr = errors.New("NotAllowedError")

	err := f.sess.Start(context.Background())
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("Start err = %v, want ErrPermissionDenied", err)
	}
	if got := f.sess.State(); got != voice.StateErrored {
		t.Errorf("State = %s, want ERRORED", got)
	}
	if len(f.prov.Calls()) != 0 {
		t.Error("provider contacted despite denied microphone")
	}
	if !errors.Is(f.sess.Err(), capture.ErrPermissionDenied) {
		t.Errorf("Err = %v", f.sess.Err())
	}
	if msg := voice.Message(f.sess.Err()); msg == "" {
		t.Error("Message is empty")
	}
	select {
	case <-f.sess.Done():
	default:
		t.Error("Done not closed after failed start")
	}
}

func TestSession_ConnectFailureReleasesMicrophone(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.prov.ConnectErr = errors.New("dial refused")

	err := f.sess.Start(context.Background())
	if !errors.Is(err, voice.ErrConnection) {
		t.Fatalf("Start err = %v, want ErrConnection", err)
	}
	if got := f.sess.State(); got != voice.StateErrored {
		t.Errorf("State = %s, want ERRORED", got)
	}
	streams := f.src.Streams()
	if len(streams) != 1 || !streams[0].Closed() {
		t.Error("microphone stream not released after connect failure")
	}
	snap := f.rec.snapshot()
	if st, _ := last(snap.states); st != voice.StateErrored {
		t.Errorf("last state = %s, want ERRORED", st)
	}
	if e, _ := last(snap.stateErrs); !errors.Is(e, voice.ErrConnection) {
		t.Errorf("errored hook err = %v", e)
	}
}

func TestSession_StopClosesEverything(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	if err := f.sess.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := f.sess.State(); got != voice.StateClosed {
		t.Errorf("State = %s, want CLOSED", got)
	}
	if !f.remote.Closed() {
		t.Error("remote session not closed")
	}
	if !f.src.Streams()[0].Closed() {
		t.Error("microphone not released")
	}
	snap := f.rec.snapshot()
	want := []voice.State{voice.StateConnecting, voice.StateActive, voice.StateClosing, voice.StateClosed}
	if len(snap.states) != len(want) {
		t.Fatalf("states = %v, want %v", snap.states, want)
	}
	for i := range want {
		if snap.states[i] != want[i] {
			t.Errorf("states[%d] = %s, want %s", i, snap.states[i], want[i])
		}
	}
	if v, _ := last(snap.listening); v {
		t.Error("still listening after Stop")
	}

	// Idempotent.
	if err := f.sess.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if f.remote.CloseCallCount != 1 {
		t.Errorf("remote Close calls = %d, want 1", f.remote.CloseCallCount)
	}
}

func TestSession_StopBeforeStartIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if err := f.sess.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := f.sess.State(); got != voice.StateIdle {
		t.Errorf("State = %s, want IDLE", got)
	}
}

// blockingProvider never answers Connect until ctx is cancelled.
type blockingProvider struct{ entered chan struct{} }

func (p *blockingProvider) Connect(ctx context.Context, _ live.SessionConfig) (live.Session, error) {
	close(p.entered)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *blockingProvider) Name() string { return "blocking" }

func TestSession_StopWhileConnecting(t *testing.T) {
	t.Parallel()
	prov := &blockingProvider{entered: make(chan struct{})}
	src := &audiomock.Source{}
	rec := &recorder{}
	sess := voice.New(voice.Config{Provider: prov, Microphone: src, Speaker: &audiomock.Output{}}, rec.hooks())

	startErr := make(chan error, 1)
	go func() { startErr <- sess.Start(context.Background()) }()
	<-prov.entered

	if err := sess.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := <-startErr; !errors.Is(err, voice.ErrStopped) {
		t.Errorf("Start err = %v, want ErrStopped", err)
	}
	if got := sess.State(); got != voice.StateClosed {
		t.Errorf("State = %s, want CLOSED", got)
	}
	if !src.Streams()[0].Closed() {
		t.Error("microphone not released")
	}
}

// hangingMicrophone blocks in Open until ctx is cancelled.
type hangingMicrophone struct{ entered chan struct{} }

func (m *hangingMicrophone) Open(ctx context.Context) (capture.Stream, error) {
	close(m.entered)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSession_StopWhileMicrophoneOpening(t *testing.T) {
	t.Parallel()
	mic := &hangingMicrophone{entered: make(chan struct{})}
	prov := &livemock.Provider{Session: livemock.NewSession()}
	sess := voice.New(voice.Config{Provider: prov, Microphone: mic, Speaker: &audiomock.Output{}}, voice.Hooks{})

	startErr := make(chan error, 1)
	go func() { startErr <- sess.Start(context.Background()) }()
	<-mic.entered

	stopped := make(chan error, 1)
	go func() { stopped <- sess.Stop() }()
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung while the microphone was opening")
	}

	if err := <-startErr; !errors.Is(err, voice.ErrStopped) {
		t.Errorf("Start err = %v, want ErrStopped", err)
	}
	if got := sess.State(); got != voice.StateClosed {
		t.Errorf("State = %s, want CLOSED", got)
	}
	if len(prov.Calls()) != 0 {
		t.Error("provider contacted after Stop")
	}
}

func TestSession_PeerCloseEndsSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.remote.PeerClose(nil)

	select {
	case <-f.sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish after peer close")
	}
	waitFor(t, "CLOSED", func() bool { return f.sess.State() == voice.StateClosed })
	if !f.src.Streams()[0].Closed() {
		t.Error("microphone not released after peer close")
	}
}

func TestSession_PeerCloseWithErrorIsErrored(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.remote.PeerClose(errors.New("connection reset"))

	waitFor(t, "ERRORED", func() bool { return f.sess.State() == voice.StateErrored })
	if !errors.Is(f.sess.Err(), voice.ErrConnection) {
		t.Errorf("Err = %v, want ErrConnection", f.sess.Err())
	}
}

// ── streaming ─────────────────────────────────────────────────────────────────

func TestSession_StreamsFramesInOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t,
		[]float32{0.5, 0.5, 0.5, 0.5},
		[]float32{-0.5, -0.5, -0.5, -0.5},
	)
	f.start(t)

	waitFor(t, "two frames", func() bool { return len(f.remote.SentInputs()) >= 2 })
	in := f.remote.SentInputs()
	want := []float32{0.5, -0.5}
	for i, w := range want {
		if in[i].Media.MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("frame %d MIME = %q", i, in[i].Media.MIMEType)
		}
		pcm, err := audio.TextToBuffer(in[i].Media.Data)
		if err != nil {
			t.Fatalf("frame %d decode: %v", i, err)
		}
		got := audio.PCM16ToSamples(pcm, 1)[0]
		if len(got) != 4 || got[0] != w {
			t.Errorf("frame %d = %v, want 4 samples of %v", i, got, w)
		}
	}
}

func TestSession_SendFailureIsErrored(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.remote.SendErr = errors.New("write: broken pipe")
	f.start(t)

	f.src.Streams()[0].Push([]float32{0.1, 0.1, 0.1, 0.1})

	waitFor(t, "ERRORED", func() bool { return f.sess.State() == voice.StateErrored })
	if !errors.Is(f.sess.Err(), voice.ErrConnection) {
		t.Errorf("Err = %v, want ErrConnection", f.sess.Err())
	}
	if f.remote.Closed() {
		t.Error("remote closed automatically on error")
	}
	_ = f.sess.Stop()
	if !f.remote.Closed() {
		t.Error("Stop did not release the errored connection")
	}
	if got := f.sess.State(); got != voice.StateErrored {
		t.Errorf("State after Stop = %s, want ERRORED", got)
	}
}

// ── inbound events ────────────────────────────────────────────────────────────

func TestSession_ForwardsTranscripts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.remote.Emit(live.Event{Kind: live.EventTranscript, Transcript: &live.Transcript{Role: live.RoleUser, Text: "Hi "}})
	f.remote.Emit(live.Event{Kind: live.EventTranscript, Transcript: &live.Transcript{Role: live.RoleModel, Text: "Hello!"}})

	waitFor(t, "transcripts", func() bool { return len(f.rec.snapshot().transcripts) == 2 })
	tr := f.rec.snapshot().transcripts
	if tr[0].Role != live.RoleUser || tr[0].Text != "Hi " {
		t.Errorf("transcript[0] = %+v", tr[0])
	}
	if tr[1].Role != live.RoleModel || tr[1].Text != "Hello!" {
		t.Errorf("transcript[1] = %+v", tr[1])
	}
}

func TestSession_ToolCallsNormalisedAndAcknowledged(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.remote.Emit(live.Event{Kind: live.EventToolCall, ToolCalls: []live.FunctionCall{
		{ID: "c1", Name: "set_visual_state", Args: map[string]any{"state": "Glow"}},
		{ID: "c2", Name: "navigate", Args: map[string]any{"mode": "shopper"}},
	}})

	waitFor(t, "commands", func() bool { return len(f.rec.snapshot().commands) == 2 })
	cmds := f.rec.snapshot().commands
	if cmds[0].Kind != command.KindVisualState {
		t.Errorf("command[0] kind = %q, want %q", cmds[0].Kind, command.KindVisualState)
	}
	if cmds[1].Kind != command.KindNavigate || cmds[1].Args["mode"] != "shopper" {
		t.Errorf("command[1] = %+v", cmds[1])
	}

	waitFor(t, "acks", func() bool { return len(f.remote.SentToolResponses()) == 2 })
	acks := map[string]live.FunctionResponse{}
	for _, r := range f.remote.SentToolResponses() {
		acks[r.FunctionResponses.ID] = r.FunctionResponses
	}
	if a := acks["c1"]; a.Name != "set_visual_state" || a.Response["result"] != "ok" {
		t.Errorf("ack c1 = %+v", a)
	}
	if a := acks["c2"]; a.Name != "navigate" {
		t.Errorf("ack c2 = %+v", a)
	}
}

func TestSession_AckFailureKeepsSessionActive(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.remote.ToolResponseErr = errors.New("ack rejected")
	f.start(t)

	f.remote.Emit(live.Event{Kind: live.EventToolCall, ToolCalls: []live.FunctionCall{{ID: "c1", Name: "navigate"}}})

	waitFor(t, "ack attempt", func() bool { return len(f.remote.SentToolResponses()) == 1 })
	if got := f.sess.State(); got != voice.StateActive {
		t.Errorf("State = %s, want ACTIVE", got)
	}
	if len(f.rec.snapshot().commands) != 1 {
		t.Error("command not delivered")
	}
}

func speech(samples int) string {
	return audio.BufferToText(audio.SamplesToPCM16(make([]float32, samples)))
}

func TestSession_SchedulesAudioGapFree(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	f.out.SetNow(time.Second)

	f.remote.Emit(live.Event{Kind: live.EventAudio, Audio: &live.Audio{Data: speech(2400), MIMEType: "audio/pcm;rate=24000"}})
	f.remote.Emit(live.Event{Kind: live.EventAudio, Audio: &live.Audio{Data: speech(4800), MIMEType: "audio/pcm;rate=24000"}})

	waitFor(t, "two voices", func() bool { return len(f.out.Voices()) == 2 })
	v := f.out.Voices()
	if v[0].At != time.Second {
		t.Errorf("first start = %v, want 1s", v[0].At)
	}
	if v[1].At != 1100*time.Millisecond {
		t.Errorf("second start = %v, want 1.1s", v[1].At)
	}
	if v[0].Buffer.SampleRate != 24000 {
		t.Errorf("buffer rate = %d, want 24000", v[0].Buffer.SampleRate)
	}
	if s, _ := last(f.rec.snapshot().speaking); !s {
		t.Error("speaking not signalled")
	}

	v[0].Finish()
	v[1].Finish()
	waitFor(t, "speaking false", func() bool {
		s, ok := last(f.rec.snapshot().speaking)
		return ok && !s
	})
}

func TestSession_MIMEWithoutRateUsesOutputRate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.remote.Emit(live.Event{Kind: live.EventAudio, Audio: &live.Audio{Data: speech(240), MIMEType: "audio/pcm"}})

	waitFor(t, "voice", func() bool { return len(f.out.Voices()) == 1 })
	if got := f.out.Voices()[0].Buffer.SampleRate; got != audio.OutputSampleRate {
		t.Errorf("rate = %d, want %d", got, audio.OutputSampleRate)
	}
}

func TestSession_UndecodableAudioDropped(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.remote.Emit(live.Event{Kind: live.EventAudio, Audio: &live.Audio{Data: "!!not base64!!", MIMEType: "audio/pcm;rate=24000"}})
	f.remote.Emit(live.Event{Kind: live.EventTranscript, Transcript: &live.Transcript{Role: live.RoleModel, Text: "still here"}})

	waitFor(t, "transcript after bad audio", func() bool { return len(f.rec.snapshot().transcripts) == 1 })
	if n := len(f.out.Voices()); n != 0 {
		t.Errorf("voices = %d, want 0", n)
	}
	if got := f.sess.State(); got != voice.StateActive {
		t.Errorf("State = %s, want ACTIVE", got)
	}
}

func TestSession_InterruptionFlushesPlayback(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	for range 3 {
		f.remote.Emit(live.Event{Kind: live.EventAudio, Audio: &live.Audio{Data: speech(2400), MIMEType: "audio/pcm;rate=24000"}})
	}
	waitFor(t, "three voices", func() bool { return len(f.out.Voices()) == 3 })

	f.out.SetNow(50 * time.Millisecond)
	f.remote.Emit(live.Event{Kind: live.EventInterrupted})

	waitFor(t, "voices stopped", func() bool {
		for _, v := range f.out.Voices() {
			if !v.Stopped() {
				return false
			}
		}
		return true
	})
	waitFor(t, "speaking false", func() bool {
		s, ok := last(f.rec.snapshot().speaking)
		return ok && !s
	})

	// The next buffer starts at the clock, not after the flushed audio.
	f.remote.Emit(live.Event{Kind: live.EventAudio, Audio: &live.Audio{Data: speech(2400), MIMEType: "audio/pcm;rate=24000"}})
	waitFor(t, "fourth voice", func() bool { return len(f.out.Voices()) == 4 })
	if at := f.out.Voices()[3].At; at != 50*time.Millisecond {
		t.Errorf("post-interrupt start = %v, want 50ms", at)
	}
}

func TestSession_ErrorEventIsErroredAndDrainsRest(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.remote.Emit(live.Event{Kind: live.EventError, Err: errors.New("quota exceeded")})
	f.remote.Emit(live.Event{Kind: live.EventTranscript, Transcript: &live.Transcript{Role: live.RoleModel, Text: "ignored"}})

	waitFor(t, "ERRORED", func() bool { return f.sess.State() == voice.StateErrored })
	if !errors.Is(f.sess.Err(), voice.ErrConnection) {
		t.Errorf("Err = %v", f.sess.Err())
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(f.rec.snapshot().transcripts); n != 0 {
		t.Errorf("transcripts after error = %d, want 0", n)
	}
	if f.remote.Closed() {
		t.Error("connection closed automatically")
	}
}

// ── state machine ─────────────────────────────────────────────────────────────

func TestCanTransition(t *testing.T) {
	t.Parallel()
	tests := []struct {
		from, to voice.State
		want     bool
	}{
		{voice.StateIdle, voice.StateConnecting, true},
		{voice.StateIdle, voice.StateActive, false},
		{voice.StateConnecting, voice.StateActive, true},
		{voice.StateConnecting, voice.StateErrored, true},
		{voice.StateConnecting, voice.StateClosing, true},
		{voice.StateActive, voice.StateClosing, true},
		{voice.StateActive, voice.StateErrored, true},
		{voice.StateActive, voice.StateIdle, false},
		{voice.StateClosing, voice.StateClosed, true},
		{voice.StateClosed, voice.StateConnecting, false},
		{voice.StateErrored, voice.StateConnecting, false},
	}
	for _, tt := range tests {
		if got := voice.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestState_Terminal(t *testing.T) {
	t.Parallel()
	for _, st := range []voice.State{voice.StateClosed, voice.StateErrored} {
		if !st.Terminal() {
			t.Errorf("%s not terminal", st)
		}
	}
	if voice.StateActive.Terminal() {
		t.Error("ACTIVE terminal")
	}
}
