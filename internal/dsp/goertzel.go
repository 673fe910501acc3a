// internal/dsp/goertzel.go
package dsp

import (
	"errors"
	"math"
)

var (
	// ErrInvalidBlockSize indicates block size must be positive
	ErrInvalidBlockSize = errors.New("block size must be positive")
	// ErrInvalidSampleRate indicates sample rate must be positive
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrInvalidFrequency indicates frequency must be positive and below Nyquist
	ErrInvalidFrequency = errors.New("target frequency must be positive and less than Nyquist frequency")
	// ErrInsufficientSamples indicates not enough samples for the configured block size
	ErrInsufficientSamples = errors.New("insufficient samples for block size")
)

// GoertzelConfig holds configuration for a single-frequency energy extractor.
type GoertzelConfig struct {
	// TargetFrequency is the tone to measure in Hz
	TargetFrequency float64
	// SampleRate is the audio sample rate in Hz
	SampleRate float64
	// BlockSize is the number of samples per analysis block
	BlockSize int
}

// Goertzel measures the energy of one frequency in a block of samples.
// It keeps no state between calls; the recurrence coefficient is derived from
// the target frequency, so a new instance is built whenever the tone changes.
type Goertzel struct {
	config      GoertzelConfig
	coefficient float64 // 2 * cos(2π * f / sampleRate)
	normalizer  float64 // 2 / blockSize
}

// NewGoertzel creates a new Goertzel filter with the given configuration.
func NewGoertzel(cfg GoertzelConfig) (*Goertzel, error) {
	if cfg.BlockSize <= 0 {
		return nil, ErrInvalidBlockSize
	}
	if cfg.SampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	nyquist := cfg.SampleRate / 2.0
	if cfg.TargetFrequency <= 0 || cfg.TargetFrequency >= nyquist {
		return nil, ErrInvalidFrequency
	}

	omega := 2.0 * math.Pi * cfg.TargetFrequency / cfg.SampleRate

	return &Goertzel{
		config:      cfg,
		coefficient: 2.0 * math.Cos(omega),
		normalizer:  2.0 / float64(cfg.BlockSize),
	}, nil
}

// Magnitude computes the magnitude of the target frequency in the given block.
// A full-scale sine at the target frequency yields roughly 1.0 on an
// unwindowed block. The block must have at least BlockSize elements.
func (g *Goertzel) Magnitude(block []float64) (float64, error) {
	if len(block) < g.config.BlockSize {
		return 0, ErrInsufficientSamples
	}
	return g.computeMagnitude(block), nil
}

// MagnitudeNoAlloc computes magnitude without bounds checking for the hot path.
// Caller MUST ensure block has at least BlockSize elements.
func (g *Goertzel) MagnitudeNoAlloc(block []float64) float64 {
	return g.computeMagnitude(block)
}

func (g *Goertzel) computeMagnitude(block []float64) float64 {
	var s0, s1, s2 float64
	coeff := g.coefficient

	for _, x := range block[:g.config.BlockSize] {
		s0 = x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}

	power := s1*s1 + s2*s2 - coeff*s1*s2
	// rounding can push this slightly below zero
	if power < 0 {
		power = 0
	}

	return math.Sqrt(power) * g.normalizer
}

// Config returns the filter configuration
func (g *Goertzel) Config() GoertzelConfig {
	return g.config
}

// Frequency returns the target frequency in Hz
func (g *Goertzel) Frequency() float64 {
	return g.config.TargetFrequency
}

// Coefficient returns the pre-computed recurrence coefficient (for testing)
func (g *Goertzel) Coefficient() float64 {
	return g.coefficient
}

// BlockSize returns the configured block size
func (g *Goertzel) BlockSize() int {
	return g.config.BlockSize
}
