package audio

import "sync"

// Analyser keeps the most recent window of samples passing through a
// pipeline so a level can be sampled at any time.
type Analyser struct {
	mu     sync.Mutex
	window []float32
	pos    int
	filled bool
}

func NewAnalyser(size int) *Analyser {
	if size <= 0 {
		size = FrameSize
	}
	return &Analyser{window: make([]float32, size)}
}

func (a *Analyser) Write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(samples) >= len(a.window) {
		copy(a.window, samples[len(samples)-len(a.window):])
		a.pos = 0
		a.filled = true
		return
	}
	for _, s := range samples {
		a.window[a.pos] = s
		a.pos++
		if a.pos == len(a.window) {
			a.pos = 0
			a.filled = true
		}
	}
}

func (a *Analyser) RMS() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.filled {
		return RMS(a.window)
	}
	return RMS(a.window[:a.pos])
}

func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.window)
	a.pos = 0
	a.filled = false
}
