package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bt-bridge/gemini-live/shared"
	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// Output is a playback sink: a Timeline plus a level tap.
type Output interface {
	Timeline
	RMS() float64
	Close() error
}

const (
	defaultOtoBuffer   = 100 * time.Millisecond
	micBuffer          = 2 * time.Second
	float32SampleBytes = 4
)

// oto only allows one context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoRate int
	otoErr  error
)

func otoContext(rate int, bufferSize time.Duration) (*oto.Context, error) {
	otoOnce.Do(func() {
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   rate,
			ChannelCount: 1,
			Format:       oto.FormatFloat32LE,
			BufferSize:   bufferSize,
		})
		if otoErr == nil {
			<-ready
			otoRate = rate
		}
	})
	if otoErr != nil {
		return nil, fmt.Errorf("creating audio output context: %w", otoErr)
	}
	if otoRate != rate {
		return nil, fmt.Errorf("audio output already running at %d Hz, requested %d Hz", otoRate, rate)
	}
	return otoCtx, nil
}

// Hardware opens the default speaker through oto and the default
// microphone through malgo.
type Hardware struct {
	logger     shared.LoggerAdapter
	BufferSize time.Duration
}

func NewHardware(logger shared.LoggerAdapter) *Hardware {
	return &Hardware{logger: logger, BufferSize: defaultOtoBuffer}
}

type Speaker struct {
	*Mixer
	player    *oto.Player
	closeOnce sync.Once
}

func (h *Hardware) OpenOutput(rate int) (Output, error) {
	ctx, err := otoContext(rate, h.BufferSize)
	if err != nil {
		return nil, err
	}
	mixer := NewMixer(rate)
	player := ctx.NewPlayer(mixer)
	player.Play()
	h.logger.Debug("audio output opened", zap.Int("sampleRate", rate))
	return &Speaker{Mixer: mixer, player: player}, nil
}

func (s *Speaker) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.Mixer.Close()
		err = s.player.Close()
	})
	return err
}

type Microphone struct {
	logger    shared.LoggerAdapter
	ctx       *malgo.AllocatedContext
	device    *malgo.Device
	buf       *AudioBuffer
	raw       []byte
	closeOnce sync.Once
}

func (h *Hardware) OpenInput(rate int) (Source, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing capture backend: %w", err)
	}
	mic := &Microphone{
		logger: h.logger,
		ctx:    mctx,
		buf:    NewAudioBuffer(FrameSamples(micBuffer, rate, 1)*float32SampleBytes, float32SampleBytes),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(rate)
	cfg.Alsa.NoMMap = 1

	onRecv := func(_, in []byte, _ uint32) {
		if dropped := mic.buf.Write(in); dropped > 0 {
			h.logger.Warn("microphone buffer dropped data", zap.Int("droppedBytes", dropped))
		}
	}
	mic.device, err = malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: onRecv})
	if err != nil {
		mic.release()
		return nil, fmt.Errorf("%w: %w", shared.ErrMicrophoneDenied, err)
	}
	if err := mic.device.Start(); err != nil {
		mic.release()
		return nil, fmt.Errorf("%w: %w", shared.ErrMicrophoneDenied, err)
	}
	h.logger.Debug("microphone opened", zap.Int("sampleRate", rate))
	return mic, nil
}

func (m *Microphone) Read(p []float32) (int, error) {
	need := len(p) * float32SampleBytes
	if cap(m.raw) < need {
		m.raw = make([]byte, need)
	}
	n, err := m.buf.Read(m.raw[:need])
	samples := n / float32SampleBytes
	for i := range samples {
		p[i] = math.Float32frombits(binary.LittleEndian.Uint32(m.raw[i*float32SampleBytes:]))
	}
	return samples, err
}

func (m *Microphone) Close() error {
	m.release()
	return nil
}

func (m *Microphone) release() {
	m.closeOnce.Do(func() {
		if m.device != nil {
			m.device.Uninit()
		}
		_ = m.buf.Close()
		_ = m.ctx.Uninit()
		m.ctx.Free()
	})
}
