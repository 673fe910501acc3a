// internal/audio/capture.go
// Package audio delivers mono float32 sample chunks, stamped with their
// capture time, from a sound card or a WAV file.
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

var (
	ErrNotInitialized = errors.New("audio capture not initialized")
	ErrAlreadyRunning = errors.New("audio capture already running")
	ErrNotRunning     = errors.New("audio capture not running")
	ErrInvalidConfig  = errors.New("invalid audio configuration")
)

// Config holds audio capture configuration
type Config struct {
	DeviceIndex int    // -1 for default device
	SampleRate  uint32 // e.g., 48000
	Channels    uint32 // channels opened on the device, downmixed to mono
	BufferSize  uint32 // frames per callback
}

// DefaultConfig returns the default capture configuration
func DefaultConfig() Config {
	return Config{
		DeviceIndex: -1,
		SampleRate:  48000,
		Channels:    1,
		BufferSize:  512,
	}
}

// Validate reports configuration values the device cannot be opened with
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate == 0 {
		errs = append(errs, fmt.Errorf("%w: sample rate must be positive", ErrInvalidConfig))
	}
	if c.Channels == 0 {
		errs = append(errs, fmt.Errorf("%w: channels must be positive", ErrInvalidConfig))
	}
	if c.BufferSize == 0 {
		errs = append(errs, fmt.Errorf("%w: buffer size must be positive", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

// SampleCallback receives mono samples and the capture time of the first
// one, measured from the start of the stream. It is invoked on the audio
// thread and must not block.
type SampleCallback func(samples []float32, at time.Duration)

// Capture reads samples from a capture device
type Capture struct {
	config Config

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	running     atomic.Bool
	callbackPtr atomic.Pointer[SampleCallback]
	clock       sampleClock
}

// New creates a new audio capture instance
func New(cfg Config) *Capture {
	return &Capture{
		config: cfg,
		clock:  sampleClock{rate: float64(cfg.SampleRate)},
	}
}

// Config returns the capture configuration
func (c *Capture) Config() Config {
	return c.config
}

// SetCallback sets the receiver of captured chunks. Set before Start.
func (c *Capture) SetCallback(cb SampleCallback) {
	if cb == nil {
		c.callbackPtr.Store(nil)
		return
	}
	c.callbackPtr.Store(&cb)
}

// Init initializes the audio backend
func (c *Capture) Init() error {
	if err := c.config.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	c.ctx = ctx
	return nil
}

// ListDevices returns available capture devices
func (c *Capture) ListDevices() ([]malgo.DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.devices()
}

func (c *Capture) devices() ([]malgo.DeviceInfo, error) {
	if c.ctx == nil {
		return nil, ErrNotInitialized
	}
	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	return infos, nil
}

// Start begins audio capture. Capture stops when ctx is cancelled.
func (c *Capture) Start(ctx context.Context) error {
	if c.running.Load() {
		return ErrAlreadyRunning
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx == nil {
		return ErrNotInitialized
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.SampleRate = c.config.SampleRate
	deviceConfig.PeriodSizeInFrames = c.config.BufferSize
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = c.config.Channels

	if c.config.DeviceIndex >= 0 {
		devices, err := c.devices()
		if err != nil {
			return err
		}
		if c.config.DeviceIndex >= len(devices) {
			return fmt.Errorf("device index %d out of range (have %d devices)",
				c.config.DeviceIndex, len(devices))
		}
		deviceConfig.Capture.DeviceID = devices[c.config.DeviceIndex].ID.Pointer()
	}

	c.clock.reset()
	channels := int(c.config.Channels)
	onRecvFrames := func(_, input []byte, frameCount uint32) {
		if len(input) == 0 {
			return
		}
		samples := downmix(input, channels)
		at := c.clock.advance(int64(frameCount))
		if cb := c.callbackPtr.Load(); cb != nil {
			(*cb)(samples, at)
		}
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		return fmt.Errorf("init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start device: %w", err)
	}

	c.device = device
	c.running.Store(true)

	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()

	return nil
}

// Stop stops audio capture
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Load() {
		return ErrNotRunning
	}
	c.stopDevice()
	return nil
}

func (c *Capture) stopDevice() {
	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	c.running.Store(false)
}

// Close releases all audio resources
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		c.stopDevice()
	}

	if c.ctx != nil {
		if err := c.ctx.Uninit(); err != nil {
			return fmt.Errorf("uninit context: %w", err)
		}
		c.ctx.Free()
		c.ctx = nil
	}
	return nil
}

// IsRunning returns true if capture is active
func (c *Capture) IsRunning() bool {
	return c.running.Load()
}

// Elapsed returns the stream time of the next frame to be captured
func (c *Capture) Elapsed() time.Duration {
	return c.clock.now()
}

// sampleClock converts a running frame count into stream time. Timestamps
// derived from it are exact multiples of the sample period, which keeps
// chunk boundaries contiguous for the re-framer.
type sampleClock struct {
	rate   float64
	frames atomic.Int64
}

// advance records n frames and returns the time of the first of them
func (s *sampleClock) advance(n int64) time.Duration {
	start := s.frames.Add(n) - n
	return s.at(start)
}

func (s *sampleClock) now() time.Duration {
	return s.at(s.frames.Load())
}

func (s *sampleClock) at(frames int64) time.Duration {
	if s.rate <= 0 {
		return 0
	}
	return time.Duration(math.Round(float64(frames) * float64(time.Second) / s.rate))
}

func (s *sampleClock) reset() {
	s.frames.Store(0)
}

// downmix converts interleaved little-endian float32 frames to mono by
// averaging channels. Trailing bytes of an incomplete frame are ignored.
func downmix(data []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frameBytes := 4 * channels
	frames := len(data) / frameBytes
	out := make([]float32, frames)

	for i := range out {
		var sum float32
		frame := data[i*frameBytes : (i+1)*frameBytes]
		for ch := 0; ch < channels; ch++ {
			sum += math.Float32frombits(binary.LittleEndian.Uint32(frame[4*ch:]))
		}
		out[i] = sum / float32(channels)
	}
	return out
}
