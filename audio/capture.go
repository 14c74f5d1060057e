package audio

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/bt-bridge/gemini-live/shared"
	"go.uber.org/zap"
)

// Source produces mono float32 samples at a fixed rate. Read blocks until
// samples are available and returns io.EOF once the source is closed.
type Source interface {
	Read(p []float32) (int, error)
	Close() error
}

// Chunk is one encoded frame ready to be sent as realtime input.
type Chunk struct {
	MimeType string
	Data     string
}

const defaultChunkBuffer = 32

// Capture turns a Source into a stream of base64 PCM16 chunks of FrameSize
// samples each.
type Capture struct {
	logger   shared.LoggerAdapter
	src      Source
	rate     int
	mime     string
	out      chan Chunk
	analyser *Analyser
	queue    Queue

	startOnce sync.Once
	done      chan struct{}
}

func NewCapture(logger shared.LoggerAdapter, src Source, rate, buffer int) *Capture {
	if buffer <= 0 {
		buffer = defaultChunkBuffer
	}
	return &Capture{
		logger:   logger,
		src:      src,
		rate:     rate,
		mime:     MimeType(rate),
		out:      make(chan Chunk, buffer),
		analyser: NewAnalyser(FrameSize),
		done:     make(chan struct{}),
	}
}

func (c *Capture) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go c.run(ctx)
	})
}

// Chunks is closed after the source is exhausted or the context ends.
func (c *Capture) Chunks() <-chan Chunk { return c.out }

func (c *Capture) RMS() float64 { return c.analyser.RMS() }

func (c *Capture) SampleRate() int { return c.rate }

// Stop closes the source and waits for the pipeline to drain.
func (c *Capture) Stop() error {
	err := c.src.Close()
	c.startOnce.Do(func() { close(c.out); close(c.done) })
	<-c.done
	return err
}

func (c *Capture) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.out)
	defer func() {
		if n := c.queue.Buffered(); n > 0 {
			c.logger.Debug("discarding partial capture frame", zap.Int("samples", n))
		}
	}()
	buf := make([]float32, FrameSize/4)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := c.src.Read(buf)
		if n > 0 {
			c.analyser.Write(buf[:n])
			c.queue.Push(buf[:n], c.flush)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Error("reading capture source", err)
			}
			return
		}
	}
}

func (c *Capture) flush(frame []float32) {
	chunk := Chunk{MimeType: c.mime, Data: EncodeChunk(frame)}
	select {
	case c.out <- chunk:
	default:
		c.logger.Warn("capture buffer full, dropping frame", zap.Int("samples", len(frame)))
	}
}
