package audio

import (
	"sync"
	"time"

	"github.com/bt-bridge/gemini-live/shared"
	"go.uber.org/zap"
)

// Voice is a scheduled buffer that can be cut short.
type Voice interface {
	Stop()
}

// Timeline is an output clock that can play buffers at absolute offsets.
// onEnded is called once when the buffer finishes or is stopped, and must
// not be invoked while the timeline holds its own locks.
type Timeline interface {
	Now() time.Duration
	Schedule(samples []float32, at time.Duration, onEnded func()) Voice
}

// Scheduler queues decoded model audio back to back on a Timeline.
// Each buffer starts at max(now, next) and advances next by its length,
// so chunks never overlap and gaps only appear when the network is slower
// than realtime. The cursor counts frames; durations are derived from it.
type Scheduler struct {
	logger shared.LoggerAdapter
	tl     Timeline
	rate   int

	mu     sync.Mutex
	next   int64
	voices map[*scheduled]struct{}
}

type scheduled struct {
	voice Voice
}

func NewScheduler(logger shared.LoggerAdapter, tl Timeline, rate int) *Scheduler {
	return &Scheduler{
		logger: logger,
		tl:     tl,
		rate:   rate,
		voices: make(map[*scheduled]struct{}),
	}
}

// Enqueue decodes a base64 PCM16 chunk and schedules it. It returns the
// start offset on the timeline.
func (s *Scheduler) Enqueue(data string) (time.Duration, error) {
	samples, err := DecodeChunk(data)
	if err != nil {
		return 0, err
	}
	return s.Play(samples), nil
}

// Play schedules decoded samples and returns their start offset.
func (s *Scheduler) Play(samples []float32) time.Duration {
	s.mu.Lock()
	start := max(DurationSamples(s.tl.Now(), s.rate), s.next)
	s.next = start + int64(len(samples))
	at := s.offset(start)
	if len(samples) == 0 {
		s.mu.Unlock()
		return at
	}
	entry := &scheduled{}
	s.voices[entry] = struct{}{}
	s.mu.Unlock()

	// The timeline may call onEnded before Schedule returns.
	voice := s.tl.Schedule(samples, at, func() { s.release(entry) })

	s.mu.Lock()
	_, live := s.voices[entry]
	entry.voice = voice
	s.mu.Unlock()
	if !live {
		// Interrupted while scheduling.
		voice.Stop()
	}
	return at
}

// Interrupt stops every pending or playing buffer and rewinds the schedule
// to the current time. It returns the number of buffers stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	n := len(s.voices)
	voices := make([]Voice, 0, n)
	for e := range s.voices {
		// A nil voice is still inside Play, which stops it once it sees
		// the entry is gone.
		if e.voice != nil {
			voices = append(voices, e.voice)
		}
	}
	clear(s.voices)
	s.next = DurationSamples(s.tl.Now(), s.rate)
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	if n > 0 {
		s.logger.Debug("playback interrupted", zap.Int("stopped", n))
	}
	return n
}

// Pending is the number of buffers not yet finished.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.voices)
}

// Next is the offset at which the next buffer would start if the clock
// had not yet caught up.
func (s *Scheduler) Next() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset(s.next)
}

func (s *Scheduler) offset(frame int64) time.Duration {
	return SamplesDuration(int(frame), s.rate)
}

func (s *Scheduler) release(e *scheduled) {
	s.mu.Lock()
	delete(s.voices, e)
	s.mu.Unlock()
}
