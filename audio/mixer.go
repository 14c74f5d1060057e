package audio

import (
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"
)

// Mixer is a software Timeline. Its clock is the number of frames rendered
// so far; a device pulling from Read drives it in real time.
type Mixer struct {
	mu       sync.Mutex
	rate     int
	frames   int64
	voices   []*mixVoice
	closed   bool
	scratch  []float32
	analyser *Analyser
}

type mixVoice struct {
	m       *Mixer
	start   int64
	samples []float32
	onEnded func()
	done    bool
}

func NewMixer(rate int) *Mixer {
	return &Mixer{rate: rate, analyser: NewAnalyser(FrameSize)}
}

func (m *Mixer) SampleRate() int { return m.rate }

func (m *Mixer) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offset(m.frames)
}

func (m *Mixer) Schedule(samples []float32, at time.Duration, onEnded func()) Voice {
	v := &mixVoice{
		m:       m,
		start:   DurationSamples(at, m.rate),
		samples: samples,
		onEnded: onEnded,
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		v.done = true
		if onEnded != nil {
			onEnded()
		}
		return v
	}
	m.voices = append(m.voices, v)
	m.mu.Unlock()
	return v
}

// Render mixes the next len(out) frames into out and advances the clock.
func (m *Mixer) Render(out []float32) {
	clear(out)
	var ended []func()

	m.mu.Lock()
	from, to := m.frames, m.frames+int64(len(out))
	kept := m.voices[:0]
	for _, v := range m.voices {
		end := v.start + int64(len(v.samples))
		if v.start < to && end > from {
			lo := max(v.start, from)
			hi := min(end, to)
			src := v.samples[lo-v.start : hi-v.start]
			dst := out[lo-from : hi-from]
			for i, s := range src {
				dst[i] += s
			}
		}
		if end <= to {
			v.done = true
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(m.voices[len(kept):])
	m.voices = kept
	m.frames = to
	m.mu.Unlock()

	for i, s := range out {
		out[i] = min(1, max(-1, s))
	}
	m.analyser.Write(out)
	for _, f := range ended {
		f()
	}
}

// Read renders float32 little-endian mono frames. It returns io.EOF after
// Close.
func (m *Mixer) Read(p []byte) (int, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return 0, io.EOF
	}
	n := len(p) / 4
	if n == 0 {
		return 0, nil
	}
	if cap(m.scratch) < n {
		m.scratch = make([]float32, n)
	}
	buf := m.scratch[:n]
	m.Render(buf)
	for i, s := range buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(s))
	}
	return n * 4, nil
}

// RMS is the level of the most recently rendered window.
func (m *Mixer) RMS() float64 { return m.analyser.RMS() }

// Active is the number of scheduled voices that have not finished.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

func (m *Mixer) Close() error {
	m.mu.Lock()
	m.closed = true
	voices := m.voices
	m.voices = nil
	for _, v := range voices {
		v.done = true
	}
	m.mu.Unlock()
	for _, v := range voices {
		if v.onEnded != nil {
			v.onEnded()
		}
	}
	return nil
}

func (m *Mixer) offset(frames int64) time.Duration {
	if m.rate <= 0 {
		return 0
	}
	return time.Duration(frames * int64(time.Second) / int64(m.rate))
}

func (v *mixVoice) Stop() {
	m := v.m
	m.mu.Lock()
	if v.done {
		m.mu.Unlock()
		return
	}
	v.done = true
	for i, other := range m.voices {
		if other == v {
			m.voices = append(m.voices[:i], m.voices[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	if v.onEnded != nil {
		v.onEnded()
	}
}
