package audio

// Queue accumulates captured samples into fixed FrameSize frames.
type Queue struct {
	buf [FrameSize]float32
	n   int
}

// Push appends samples and calls flush once per completed frame. The frame
// slice is only valid for the duration of the call.
func (q *Queue) Push(samples []float32, flush func(frame []float32)) {
	for len(samples) > 0 {
		c := copy(q.buf[q.n:], samples)
		q.n += c
		samples = samples[c:]
		if q.n == FrameSize {
			flush(q.buf[:])
			q.n = 0
		}
	}
}

// Buffered is the number of samples waiting for the next frame.
func (q *Queue) Buffered() int { return q.n }
