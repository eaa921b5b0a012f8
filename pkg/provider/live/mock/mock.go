// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions. Use
// Session to script inbound events and inspect what the caller sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(live.Event{Kind: live.EventInterrupted})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/simi/pkg/provider/live"
)

// Compile-time interface assertions.
var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*Session)(nil)
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, every Connect returns a fresh
	// [NewSession].
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	sessions []*Session
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	s := p.Session
	if s == nil {
		s = NewSession()
	}
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Name implements live.Provider.
func (p *Provider) Name() string { return "mock" }

// Sessions returns every session handed out so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

// Session is a mock implementation of live.Session.
type Session struct {
	mu sync.Mutex

	// SendErr, if non-nil, is returned by SendRealtimeInput.
	SendErr error

	// ToolResponseErr, if non-nil, is returned by SendToolResponse.
	ToolResponseErr error

	// Inputs records every frame passed to SendRealtimeInput.
	Inputs []live.RealtimeInput

	// ToolResponses records every acknowledgement passed to SendToolResponse,
	// including failed ones.
	ToolResponses []live.ToolResponse

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	events chan live.Event
	err    error
	ended  bool
}

// NewSession returns a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan live.Event, 256)}
}

// Emit queues an inbound event. It is a no-op once the session has ended.
func (s *Session) Emit(ev live.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- ev
}

// PeerClose simulates the remote side ending the session: an [live.EventClosed]
// carrying err is emitted and the event channel closed.
func (s *Session) PeerClose(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.err = err
	s.events <- live.Event{Kind: live.EventClosed, Err: err}
	s.ended = true
	close(s.events)
}

// SendRealtimeInput records the frame and returns SendErr.
func (s *Session) SendRealtimeInput(_ context.Context, in live.RealtimeInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return live.ErrSessionClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.Inputs = append(s.Inputs, in)
	return nil
}

// SendToolResponse records the acknowledgement and returns ToolResponseErr.
func (s *Session) SendToolResponse(_ context.Context, resp live.ToolResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ToolResponses = append(s.ToolResponses, resp)
	if s.ended {
		return live.ErrSessionClosed
	}
	return s.ToolResponseErr
}

// Events implements live.Session.
func (s *Session) Events() <-chan live.Event { return s.events }

// Err implements live.Session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session without emitting a Closed event.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.ended {
		s.ended = true
		close(s.events)
	}
	return nil
}

// SentInputs returns a copy of the recorded frames.
func (s *Session) SentInputs() []live.RealtimeInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]live.RealtimeInput(nil), s.Inputs...)
}

// SentToolResponses returns a copy of the recorded acknowledgements.
func (s *Session) SentToolResponses() []live.ToolResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]live.ToolResponse(nil), s.ToolResponses...)
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount > 0
}
