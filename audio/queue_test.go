package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestQueueFramesContinuousInput(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		blocks := rapid.SliceOf(rapid.IntRange(0, 3*FrameSize)).Draw(rt, "blocks")
		var q Queue
		var frames, total int
		for _, n := range blocks {
			total += n
			q.Push(make([]float32, n), func(frame []float32) {
				if len(frame) != FrameSize {
					rt.Fatalf("frame of %d samples", len(frame))
				}
				frames++
			})
		}
		if frames != total/FrameSize {
			rt.Fatalf("pushed %d samples, got %d frames", total, frames)
		}
		if q.Buffered() != total%FrameSize {
			rt.Fatalf("buffered %d, want %d", q.Buffered(), total%FrameSize)
		}
	})
}

func TestQueuePreservesOrderAcrossPushes(t *testing.T) {
	var q Queue
	var got []float32
	in := make([]float32, FrameSize+10)
	for i := range in {
		in[i] = float32(i) / float32(len(in))
	}
	q.Push(in[:100], func(f []float32) { got = append(got, f...) })
	q.Push(in[100:], func(f []float32) { got = append(got, f...) })
	require.Len(t, got, FrameSize)
	assert.Equal(t, in[:FrameSize], got)
	assert.Equal(t, 10, q.Buffered())
}

func TestQueueFullScaleEncoding(t *testing.T) {
	var q Queue
	in := make([]float32, FrameSize)
	in[0], in[1] = 1.0, -1.0
	var encoded []byte
	q.Push(in, func(f []float32) { encoded = EncodePCM16(f) })
	require.Len(t, encoded, FrameSize*2)
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(encoded[0:])))
	assert.Equal(t, int16(-32768), int16(binary.LittleEndian.Uint16(encoded[2:])))
}
