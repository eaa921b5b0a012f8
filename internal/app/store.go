package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/simi/internal/command"
	"github.com/MrWong99/simi/internal/observe"
	"github.com/MrWong99/simi/internal/state"
)

var (
	// ErrUnknownMode is returned by [Store.Navigate] for a screen name that is
	// not an exact known mode.
	ErrUnknownMode = errors.New("app: unknown mode")

	// ErrUnknownWardrobe is returned by [Store.SetWardrobe].
	ErrUnknownWardrobe = errors.New("app: unknown wardrobe item")
)

// defaultSubscriberBuffer is the per-subscriber snapshot queue length.
const defaultSubscriberBuffer = 16

// Store owns the application state. Every mutation produces a new snapshot
// that is fanned out to subscribers without blocking: a subscriber whose queue
// is full loses its oldest pending snapshot.
type Store struct {
	disp    *command.Dispatcher
	metrics *observe.Metrics
	now     func() time.Time

	mu     sync.Mutex
	st     *state.State
	subs   map[uint64]chan *state.State
	nextID uint64
}

// NewStore returns a Store holding [state.New].
func NewStore(disp *command.Dispatcher, m *observe.Metrics) *Store {
	if disp == nil {
		disp = command.NewDispatcher()
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Store{
		disp:    disp,
		metrics: m,
		now:     time.Now,
		st:      state.New(),
		subs:    make(map[uint64]chan *state.State),
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() *state.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Clone()
}

// Dispatch applies cmd and reports whether the state changed. source labels
// the origin ("voice", "api" or "mcp") in metrics.
func (s *Store) Dispatch(ctx context.Context, cmd command.Command, source string) bool {
	changed := s.update(func(st *state.State) bool { return s.disp.Apply(st, cmd) })
	s.metrics.RecordCommand(ctx, string(cmd.Kind), source, changed)
	return changed
}

// Navigate selects mode. Only exact known modes are accepted; synonyms are
// reserved for the voice model.
func (s *Store) Navigate(mode state.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	s.update(func(st *state.State) bool {
		if st.Mode == mode {
			return false
		}
		st.Mode = mode
		return true
	})
	return nil
}

// SetWardrobe selects an outfit by id.
func (s *Store) SetWardrobe(id string) error {
	if _, ok := state.FindWardrobe(id); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownWardrobe, id)
	}
	s.update(func(st *state.State) bool {
		if st.Wardrobe == id {
			return false
		}
		st.Wardrobe = id
		return true
	})
	return nil
}

// SetStatus records the voice session state name and its user-facing error
// message, which is cleared when msg is empty.
func (s *Store) SetStatus(session, msg string) {
	s.update(func(st *state.State) bool {
		if st.Session == session && st.LastError == msg {
			return false
		}
		st.Session, st.LastError = session, msg
		return true
	})
}

// SetListening sets the microphone indicator.
func (s *Store) SetListening(v bool) {
	s.update(func(st *state.State) bool {
		if st.Listening == v {
			return false
		}
		st.Listening = v
		return true
	})
}

// SetSpeaking sets the speech indicator.
func (s *Store) SetSpeaking(v bool) {
	s.update(func(st *state.State) bool {
		if st.Speaking == v {
			return false
		}
		st.Speaking = v
		return true
	})
}

// AppendTranscript adds a fragment to the bounded transcript log.
func (s *Store) AppendTranscript(role, text string) {
	s.update(func(st *state.State) bool {
		st.AppendTranscript(state.TranscriptEntry{Role: role, Text: text, At: s.now()})
		return true
	})
}

// Subscribe registers a snapshot listener. The current snapshot is delivered
// first. Snapshots are shared between subscribers and must not be modified.
// cancel closes the channel and must be called exactly once.
func (s *Store) Subscribe() (snapshots <-chan *state.State, cancel func()) {
	ch := make(chan *state.State, defaultSubscriberBuffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	ch <- s.st.Clone()
	s.mu.Unlock()

	s.metrics.StateSubscribers.Add(context.Background(), 1)
	return ch, func() {
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
		s.metrics.StateSubscribers.Add(context.Background(), -1)
	}
}

// update runs fn under the lock and publishes when it reports a change.
func (s *Store) update(fn func(*state.State) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !fn(s.st) {
		return false
	}
	s.st.Version++
	snap := s.st.Clone()
	for _, ch := range s.subs {
		offer(ch, snap)
	}
	return true
}

// offer sends without blocking, evicting the oldest queued snapshot when ch
// is full. Only the store sends on ch, under its lock.
func offer(ch chan *state.State, snap *state.State) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}
