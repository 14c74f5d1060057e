package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

const (
	// OutputSampleRate is the rate of synthesized speech coming back from
	// the provider.
	OutputSampleRate = 24000
	// FrameSize is the number of captured samples per outbound chunk.
	FrameSize = 2048

	mimePrefix = "audio/pcm"
)

// FloatToPCM16 converts one sample to signed 16-bit. Input is clamped to
// [-1,1]; negative values scale by 32768 and the rest by 32767 so both
// extremes map exactly onto the int16 range.
func FloatToPCM16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(FloatToPCM16(s)))
	}
	return out
}

// DecodePCM16 maps little-endian int16 samples onto [-1,1) by dividing by
// 32768. A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
	}
	return out
}

func EncodeChunk(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16(samples))
}

func DecodeChunk(data string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decoding audio chunk: %w", err)
	}
	return DecodePCM16(raw), nil
}

func MimeType(rate int) string {
	return mimePrefix + ";rate=" + strconv.Itoa(rate)
}

// IsPCM reports whether mime names raw PCM audio, with or without a rate
// parameter.
func IsPCM(mime string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mime)), mimePrefix)
}

// ParseRate extracts the rate parameter from a PCM mime type.
func ParseRate(mime string) (int, bool) {
	if !IsPCM(mime) {
		return 0, false
	}
	for _, param := range strings.Split(mime, ";")[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(k, "rate") {
			continue
		}
		rate, err := strconv.Atoi(v)
		if err != nil || rate <= 0 {
			return 0, false
		}
		return rate, true
	}
	return 0, false
}
