// Package capture records dictation audio from a local input device.
package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"

	"github.com/raine/vehicle-listing-bot/internal/dictation"
)

const (
	DefaultSampleRate  = 16000
	DefaultMaxDuration = 2 * time.Minute
)

type Config struct {
	SampleRate  int
	Channels    int
	MaxDuration time.Duration
}

// MicRecorder captures 16-bit PCM from the default capture device and
// returns it as WAV. It implements dictation.Recorder.
type MicRecorder struct {
	cfg Config

	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	pcm      []byte
	started  time.Time
}

func NewMicRecorder(cfg Config) *MicRecorder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	return &MicRecorder{cfg: cfg}
}

func (m *MicRecorder) Channel() dictation.Channel {
	return dictation.ChannelMicrophone
}

// CheckPermission opens the audio backend and looks for a capture device.
// Having none, or being refused the backend, counts as denied access.
func (m *MicRecorder) CheckPermission(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.malgoCtx == nil {
		malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return fmt.Errorf("%w: failed to initialize audio context: %v", dictation.ErrPermissionDenied, err)
		}
		m.malgoCtx = malgoCtx
	}

	infos, err := m.malgoCtx.Devices(malgo.Capture)
	if err != nil {
		return fmt.Errorf("%w: failed to list capture devices: %v", dictation.ErrPermissionDenied, err)
	}
	if len(infos) == 0 {
		return fmt.Errorf("%w: no capture device found", dictation.ErrPermissionDenied)
	}
	return nil
}

func (m *MicRecorder) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.malgoCtx == nil {
		return fmt.Errorf("audio context not initialized")
	}
	if m.device != nil {
		return dictation.ErrBusy
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(m.cfg.Channels)
	cfg.SampleRate = uint32(m.cfg.SampleRate)
	cfg.Alsa.NoMMap = 1

	maxBytes := int(m.cfg.MaxDuration.Seconds()) * m.cfg.SampleRate * m.cfg.Channels * 2
	m.pcm = m.pcm[:0]

	onData := func(_, pInput []byte, _ uint32) {
		m.mu.Lock()
		defer m.mu.Unlock()
		room := maxBytes - len(m.pcm)
		if room <= 0 {
			return
		}
		if len(pInput) > room {
			pInput = pInput[:room]
		}
		m.pcm = append(m.pcm, pInput...)
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, cfg, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	m.device = device
	m.started = time.Now()
	log.Debug().Int("sampleRate", m.cfg.SampleRate).Int("channels", m.cfg.Channels).Msg("microphone capture started")
	return nil
}

// Stop ends the capture and returns what was recorded as WAV.
func (m *MicRecorder) Stop() (dictation.Audio, error) {
	m.mu.Lock()
	device := m.device
	m.device = nil
	m.mu.Unlock()

	if device == nil {
		return dictation.Audio{}, dictation.ErrNotRecording
	}
	// The data callback takes the lock, so the device is stopped without
	// holding it.
	if err := device.Stop(); err != nil {
		log.Warn().Err(err).Msg("failed to stop capture device")
	}
	device.Uninit()

	m.mu.Lock()
	pcm := m.pcm
	m.pcm = nil
	elapsed := time.Since(m.started)
	m.mu.Unlock()

	if len(pcm) == 0 {
		return dictation.Audio{}, dictation.ErrNoAudio
	}
	data, err := EncodeWAV(pcm, m.cfg.SampleRate, m.cfg.Channels)
	if err != nil {
		return dictation.Audio{}, err
	}
	return dictation.Audio{Data: data, MIMEType: "audio/wav", Duration: elapsed}, nil
}

// Close releases the device and the audio backend. It is idempotent.
func (m *MicRecorder) Close() error {
	m.mu.Lock()
	device := m.device
	m.device = nil
	malgoCtx := m.malgoCtx
	m.malgoCtx = nil
	m.pcm = nil
	m.mu.Unlock()

	if device != nil {
		_ = device.Stop()
		device.Uninit()
	}
	if malgoCtx != nil {
		if err := malgoCtx.Uninit(); err != nil {
			malgoCtx.Free()
			return fmt.Errorf("failed to release audio context: %w", err)
		}
		malgoCtx.Free()
	}
	return nil
}

var _ dictation.Recorder = (*MicRecorder)(nil)
