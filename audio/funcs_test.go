package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFrameSamples(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		rate     int
		channels int
		expected int
	}{
		{
			name:     "Mono capture frame at 16kHz for 128ms",
			duration: 128 * time.Millisecond,
			rate:     16000,
			channels: 1,
			expected: FrameSize,
		},
		{
			name:     "Mono playback at 24kHz for 1s",
			duration: time.Second,
			rate:     OutputSampleRate,
			channels: 1,
			expected: 24000,
		},
		{
			name:     "Stereo at 48kHz for 20ms",
			duration: 20 * time.Millisecond,
			rate:     48000,
			channels: 2,
			expected: 1920, // 0.02s * 48000 * 2 = 1920
		},
		{
			name:     "Zero duration",
			duration: 0,
			rate:     24000,
			channels: 1,
			expected: 0,
		},
		{
			name:     "Zero channels",
			duration: time.Second,
			rate:     24000,
			channels: 0,
			expected: 0,
		},
		{
			name:     "Zero rate",
			duration: time.Second,
			rate:     0,
			channels: 1,
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FrameSamples(tt.duration, tt.rate, tt.channels)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestSamplesDuration(t *testing.T) {
	tests := []struct {
		name     string
		samples  int
		rate     int
		expected time.Duration
	}{
		{"128ms at 24kHz", 3072, 24000, 128 * time.Millisecond},
		{"one frame at 16kHz", FrameSize, 16000, 128 * time.Millisecond},
		{"one second", 24000, 24000, time.Second},
		{"zero samples", 0, 24000, 0},
		{"zero rate", 100, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SamplesDuration(tt.samples, tt.rate))
		})
	}
}

func TestDurationSamples(t *testing.T) {
	tests := []struct {
		name     string
		d        time.Duration
		rate     int
		expected int64
	}{
		{"128ms at 24kHz", 128 * time.Millisecond, 24000, 3072},
		{"truncated 1000 samples", SamplesDuration(1000, 24000), 24000, 1000},
		{"negative", -time.Second, 24000, 0},
		{"zero rate", time.Second, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DurationSamples(tt.d, tt.rate))
		})
	}
}

func TestLevel(t *testing.T) {
	assert.Equal(t, 0.0, Level(RMS(nil)))
	assert.InDelta(t, 0.5, Level(RMS([]float32{0.25, -0.25, 0.25, -0.25})), 1e-9)
	assert.Equal(t, 1.0, Level(RMS([]float32{1, -1, 1})))
}
