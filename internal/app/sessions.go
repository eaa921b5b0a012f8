package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/simi/internal/command"
	"github.com/MrWong99/simi/internal/observe"
	"github.com/MrWong99/simi/internal/voice"
	"github.com/MrWong99/simi/pkg/audio/capture"
	"github.com/MrWong99/simi/pkg/audio/playback"
	"github.com/MrWong99/simi/pkg/provider/live"
)

// ErrSessionActive is returned by [SessionManager.Start] while a previous
// session is still connecting or active.
var ErrSessionActive = errors.New("app: a voice session is already active")

// Command sources.
const (
	SourceVoice = "voice"
	SourceAPI   = "api"
)

// SessionInfo describes the current voice session.
type SessionInfo struct {
	ID        string    `json:"id,omitempty"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"startedAt,omitzero"`
}

// SessionManagerConfig holds the collaborators of a [SessionManager].
type SessionManagerConfig struct {
	Provider   live.Provider
	Microphone capture.Source
	Speaker    playback.Output
	Store      *Store

	// Live returns the configuration for the next session. It is called on
	// every Start so persona changes apply without a restart.
	Live func() live.SessionConfig

	ChunkSize        int
	OutputSampleRate int

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// SessionManager owns at most one voice session at a time. A session that
// ended, cleanly or not, is replaced by a fresh one on the next Start.
//
// All exported methods are safe for concurrent use.
type SessionManager struct {
	cfg SessionManagerConfig

	mu        sync.Mutex
	current   *voice.Session
	startedAt time.Time
}

// NewSessionManager returns a SessionManager with no session.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Live == nil {
		cfg.Live = func() live.SessionConfig { return live.SessionConfig{} }
	}
	return &SessionManager{cfg: cfg}
}

// Start opens a new session and blocks until it is active or has failed.
// It returns [ErrSessionActive] when one is already connecting or active.
func (m *SessionManager) Start(ctx context.Context) (SessionInfo, error) {
	m.mu.Lock()
	if m.current != nil && !m.current.State().Terminal() {
		m.mu.Unlock()
		return m.Info(), ErrSessionActive
	}
	if m.cfg.Provider == nil {
		m.mu.Unlock()
		return m.Info(), fmt.Errorf("app: start session: %w: no live provider", voice.ErrConnection)
	}
	sess := voice.New(voice.Config{
		Provider:         m.cfg.Provider,
		Microphone:       m.cfg.Microphone,
		Speaker:          m.cfg.Speaker,
		Live:             m.cfg.Live(),
		ChunkSize:        m.cfg.ChunkSize,
		OutputSampleRate: m.cfg.OutputSampleRate,
	}, m.hooks(), voice.WithMetrics(m.cfg.Metrics), voice.WithLogger(m.cfg.Logger))
	m.current = sess
	m.startedAt = time.Now()
	m.mu.Unlock()

	err := sess.Start(ctx)
	if err != nil {
		return m.Info(), fmt.Errorf("app: start session: %w", err)
	}
	return m.Info(), nil
}

// Stop ends the current session. Without one it does nothing.
func (m *SessionManager) Stop() (SessionInfo, error) {
	m.mu.Lock()
	sess := m.current
	m.mu.Unlock()
	if sess == nil {
		return m.Info(), nil
	}
	if err := sess.Stop(); err != nil {
		return m.Info(), fmt.Errorf("app: stop session: %w", err)
	}
	return m.Info(), nil
}

// Info describes the current session.
func (m *SessionManager) Info() SessionInfo {
	m.mu.Lock()
	sess, started := m.current, m.startedAt
	m.mu.Unlock()
	if sess == nil {
		return SessionInfo{State: voice.StateIdle.String()}
	}
	return SessionInfo{
		ID:        sess.ID(),
		State:     sess.State().String(),
		Error:     voice.Message(sess.Err()),
		StartedAt: started,
	}
}

func (m *SessionManager) hooks() voice.Hooks {
	store := m.cfg.Store
	return voice.Hooks{
		OnState: func(st voice.State, err error) {
			store.SetStatus(st.String(), voice.Message(err))
		},
		OnListening: store.SetListening,
		OnSpeaking:  store.SetSpeaking,
		OnTranscript: func(t live.Transcript) {
			store.AppendTranscript(string(t.Role), t.Text)
		},
		OnCommand: func(cmd command.Command) {
			store.Dispatch(context.Background(), cmd, SourceVoice)
		},
	}
}
