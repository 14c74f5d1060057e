package audio

import (
	"sync"
	"testing"
	"time"

	"github.com/bt-bridge/gemini-live/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeVoice struct {
	tl      *fakeTimeline
	at      time.Duration
	length  time.Duration
	onEnded func()
	stopped bool
}

func (v *fakeVoice) Stop() {
	v.tl.mu.Lock()
	if v.stopped {
		v.tl.mu.Unlock()
		return
	}
	v.stopped = true
	v.tl.mu.Unlock()
	v.onEnded()
}

type fakeTimeline struct {
	mu     sync.Mutex
	now    time.Duration
	rate   int
	voices []*fakeVoice
}

func (f *fakeTimeline) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTimeline) Schedule(samples []float32, at time.Duration, onEnded func()) Voice {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := &fakeVoice{tl: f, at: at, length: SamplesDuration(len(samples), f.rate), onEnded: onEnded}
	f.voices = append(f.voices, v)
	return v
}

func (f *fakeTimeline) advance(d time.Duration) {
	f.mu.Lock()
	f.now += d
	var ended []*fakeVoice
	for _, v := range f.voices {
		if !v.stopped && v.at+v.length <= f.now {
			v.stopped = true
			ended = append(ended, v)
		}
	}
	f.mu.Unlock()
	for _, v := range ended {
		v.onEnded()
	}
}

func chunkOf(d time.Duration, rate int) string {
	return EncodeChunk(make([]float32, FrameSamples(d, rate, 1)))
}

func TestSchedulerBackToBack(t *testing.T) {
	tl := &fakeTimeline{now: 3 * time.Second, rate: OutputSampleRate}
	s := NewScheduler(shared.NewNopLogger(), tl, OutputSampleRate)

	first, err := s.Enqueue(chunkOf(128*time.Millisecond, OutputSampleRate))
	require.NoError(t, err)
	second, err := s.Enqueue(chunkOf(128*time.Millisecond, OutputSampleRate))
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, first)
	assert.Equal(t, first+128*time.Millisecond, second)
	assert.Equal(t, 2, s.Pending())
}

func TestSchedulerGaplessProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		lengths := rapid.SliceOfN(rapid.IntRange(1, 8000), 1, 20).Draw(rt, "lengths")
		tl := &fakeTimeline{now: time.Duration(rapid.IntRange(0, 1e6).Draw(rt, "now")), rate: OutputSampleRate}
		s := NewScheduler(shared.NewNopLogger(), tl, OutputSampleRate)

		var starts []time.Duration
		for _, n := range lengths {
			starts = append(starts, s.Play(make([]float32, n)))
		}
		expected := DurationSamples(starts[0], OutputSampleRate)
		for k, n := range lengths {
			if got := DurationSamples(starts[k], OutputSampleRate); got != expected {
				rt.Fatalf("chunk %d starts at frame %d, want %d", k, got, expected)
			}
			expected += int64(n)
		}
	})
}

func TestSchedulerGaplessOnMixer(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		lengths := rapid.SliceOfN(rapid.IntRange(1, 5000), 1, 12).Draw(rt, "lengths")
		lead := rapid.IntRange(0, 4000).Draw(rt, "lead")
		m := NewMixer(OutputSampleRate)
		m.Render(make([]float32, lead))
		s := NewScheduler(shared.NewNopLogger(), m, OutputSampleRate)

		total := 0
		for _, n := range lengths {
			s.Play(constant(n, 0.25))
			total += n
		}
		out := make([]float32, total+1)
		m.Render(out)
		for i, v := range out[:total] {
			if v != 0.25 {
				rt.Fatalf("sample %d = %v, want 0.25", i, v)
			}
		}
		if out[total] != 0 {
			rt.Fatalf("sample after the last chunk = %v, want silence", out[total])
		}
	})
}

func TestSchedulerPlayOnClosedMixer(t *testing.T) {
	m := NewMixer(OutputSampleRate)
	s := NewScheduler(shared.NewNopLogger(), m, OutputSampleRate)
	require.NoError(t, m.Close())

	done := make(chan struct{})
	go func() {
		s.Play(constant(480, 0.1))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Play on a closed mixer did not return")
	}
	assert.Equal(t, 0, s.Pending())
}

func TestSchedulerCatchesUpAfterUnderrun(t *testing.T) {
	tl := &fakeTimeline{rate: OutputSampleRate}
	s := NewScheduler(shared.NewNopLogger(), tl, OutputSampleRate)

	s.Play(make([]float32, 2400))
	tl.advance(time.Second)
	assert.Equal(t, 0, s.Pending())

	start := s.Play(make([]float32, 2400))
	assert.Equal(t, time.Second, start, "late chunk starts now, not at the stale schedule end")
}

func TestSchedulerInterrupt(t *testing.T) {
	tl := &fakeTimeline{rate: OutputSampleRate}
	s := NewScheduler(shared.NewNopLogger(), tl, OutputSampleRate)

	for range 5 {
		s.Play(make([]float32, 24000))
	}
	require.Equal(t, 5*time.Second, s.Next())

	tl.advance(1500 * time.Millisecond)
	assert.Equal(t, 4, s.Pending())

	stopped := s.Interrupt()
	assert.Equal(t, 4, stopped)
	assert.Equal(t, 0, s.Pending())
	for _, v := range tl.voices {
		assert.True(t, v.stopped)
	}

	start := s.Play(make([]float32, 2400))
	assert.Equal(t, 1500*time.Millisecond, start)
	assert.Equal(t, 1, s.Interrupt(), "only the new chunk is live")
}

func TestSchedulerRejectsBadChunk(t *testing.T) {
	s := NewScheduler(shared.NewNopLogger(), &fakeTimeline{rate: OutputSampleRate}, OutputSampleRate)
	_, err := s.Enqueue("%%%")
	assert.Error(t, err)
	assert.Equal(t, time.Duration(0), s.Next())
}
