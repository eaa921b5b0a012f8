package playback

import (
	"fmt"
	"sync"
	"time"
)

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithOnIdle registers fn to be called whenever the scheduled set becomes
// empty, either because the last buffer finished or because of
// [Scheduler.Interrupt]. fn runs on a scheduler goroutine and must not call
// back into the Scheduler synchronously.
func WithOnIdle(fn func()) Option {
	return func(s *Scheduler) {
		s.onIdle = fn
	}
}

// Scheduler places buffers back to back on an [Output].
//
// All exported methods are safe for concurrent use.
type Scheduler struct {
	out    Output
	onIdle func()

	mu        sync.Mutex
	cursor    time.Duration
	scheduled map[uint64]Voice
	seq       uint64
	closed    bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewScheduler creates a Scheduler on out.
func NewScheduler(out Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:       out,
		scheduled: make(map[uint64]Voice),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue schedules buf at max(cursor, now), advances the cursor by the
// buffer's duration and returns the chosen start time.
func (s *Scheduler) Enqueue(buf *Buffer) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	start := max(s.cursor, s.out.Now())
	v, err := s.out.Play(buf, start)
	if err != nil {
		return 0, fmt.Errorf("playback: start buffer: %w", err)
	}
	s.cursor = start + buf.Duration()

	s.seq++
	id := s.seq
	s.scheduled[id] = v
	s.wg.Add(1)
	go s.watch(id, v)
	return start, nil
}

// Interrupt stops every scheduled buffer, empties the scheduled set, resets the
// cursor to the output clock's current time and signals idle.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stopAllLocked()
	s.cursor = s.out.Now()
	s.mu.Unlock()

	if s.onIdle != nil {
		s.onIdle()
	}
}

// Pending returns the number of buffers currently scheduled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scheduled)
}

// Cursor returns the clock position at which the next buffer would start if
// the output clock had not yet passed it.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Close stops all scheduled buffers and waits for the completion watchers to
// exit. The idle callback is not invoked. Close is idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopAllLocked()
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) stopAllLocked() {
	for id, v := range s.scheduled {
		v.Stop()
		delete(s.scheduled, id)
	}
}

// watch removes a voice from the scheduled set once it completes. A voice that
// was already flushed by Interrupt is no longer in the set, so its completion
// does not signal idle a second time.
func (s *Scheduler) watch(id uint64, v Voice) {
	defer s.wg.Done()

	select {
	case <-v.Done():
	case <-s.done:
		return
	}

	s.mu.Lock()
	_, ok := s.scheduled[id]
	if ok {
		delete(s.scheduled, id)
	}
	idle := ok && len(s.scheduled) == 0 && !s.closed
	s.mu.Unlock()

	if idle && s.onIdle != nil {
		s.onIdle()
	}
}
