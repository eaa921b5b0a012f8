package playback

import (
	"sync"
	"time"

	"github.com/MrWong99/simi/pkg/audio"
)

// Compile-time interface assertion.
var _ Output = (*Timeline)(nil)

// Timeline is a software [Output]: a mono mixing timeline whose clock advances
// only as samples are pulled through [Timeline.Render]. An audio device
// callback drives it in production; tests drive it by hand.
type Timeline struct {
	rate int

	mu     sync.Mutex
	pos    int64 // samples rendered so far
	voices []*timelineVoice
}

// NewTimeline creates a Timeline rendering at sampleRate.
func NewTimeline(sampleRate int) *Timeline {
	return &Timeline{rate: sampleRate}
}

// SampleRate returns the render rate.
func (t *Timeline) SampleRate() int { return t.rate }

// Now implements [Output].
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.toDuration(t.pos)
}

// Play implements [Output]. The buffer is mixed down to mono and resampled to
// the timeline's rate.
func (t *Timeline) Play(buf *Buffer, at time.Duration) (Voice, error) {
	samples := audio.ResampleSamples(buf.Mono(), buf.SampleRate, t.rate)

	t.mu.Lock()
	defer t.mu.Unlock()

	v := &timelineVoice{
		tl:      t,
		samples: samples,
		start:   max(t.toSamples(at), t.pos),
		done:    make(chan struct{}),
	}
	if len(samples) == 0 {
		v.finish()
		return v, nil
	}
	t.voices = append(t.voices, v)
	return v, nil
}

// Render fills dst with the next len(dst) samples of the mix and advances the
// clock. Voices that end inside the rendered window are completed.
func (t *Timeline) Render(dst []float32) {
	clear(dst)

	t.mu.Lock()
	defer t.mu.Unlock()

	from, to := t.pos, t.pos+int64(len(dst))
	kept := t.voices[:0]
	for _, v := range t.voices {
		end := v.start + int64(len(v.samples))
		lo, hi := max(v.start, from), min(end, to)
		for i := lo; i < hi; i++ {
			dst[i-from] += v.samples[i-v.start]
		}
		if end <= to {
			v.finish()
			continue
		}
		kept = append(kept, v)
	}
	clear(t.voices[len(kept):])
	t.voices = kept
	t.pos = to
}

// Active returns the number of voices not yet finished.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voices)
}

func (t *Timeline) toDuration(samples int64) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(t.rate)
}

// toSamples rounds to the nearest sample so that chained buffer durations,
// which are truncated to whole nanoseconds, land on the sample they started at.
func (t *Timeline) toSamples(d time.Duration) int64 {
	return (int64(d)*int64(t.rate) + int64(time.Second)/2) / int64(time.Second)
}

func (t *Timeline) remove(v *timelineVoice) {
	for i, w := range t.voices {
		if w == v {
			t.voices = append(t.voices[:i], t.voices[i+1:]...)
			return
		}
	}
}

type timelineVoice struct {
	tl      *Timeline
	samples []float32
	start   int64
	done    chan struct{}
	once    sync.Once
}

func (v *timelineVoice) Stop() {
	v.tl.mu.Lock()
	v.tl.remove(v)
	v.tl.mu.Unlock()
	v.finish()
}

func (v *timelineVoice) Done() <-chan struct{} { return v.done }

func (v *timelineVoice) finish() {
	v.once.Do(func() { close(v.done) })
}
