// internal/dsp/processor.go
// Package dsp turns audio sample chunks into CW key-down / key-up events.
package dsp

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidToneFrequency indicates the tone is outside (0, Nyquist)
var ErrInvalidToneFrequency = errors.New("tone frequency must be positive and less than Nyquist frequency")

// retuneTolerance is how far a locked frequency must differ from the active
// filter before the filter is switched
const retuneTolerance = 1.0

// ProcessorConfig is fixed at construction. When Scan is nil the processor
// listens on ToneFrequency only; otherwise it starts on ToneFrequency and
// follows the tracker's lock.
type ProcessorConfig struct {
	SampleRate    float64
	BlockSize     int
	ToneFrequency float64
	Scan          *ScanConfig
}

// DefaultProcessorConfig returns a fixed-tone configuration at 48 kHz.
// 128-sample blocks trade detection latency against frequency resolution.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		SampleRate:    48000,
		BlockSize:     128,
		ToneFrequency: 600,
	}
}

// Validate checks the configuration, reporting every problem at once
func (c ProcessorConfig) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, ErrInvalidSampleRate)
	}
	if c.BlockSize <= 0 {
		errs = append(errs, ErrInvalidBlockSize)
	}
	if c.ToneFrequency <= 0 || (c.SampleRate > 0 && c.ToneFrequency >= c.SampleRate/2) {
		errs = append(errs, fmt.Errorf("%w: %v Hz", ErrInvalidToneFrequency, c.ToneFrequency))
	}
	if c.Scan != nil {
		if c.Scan.MinFrequency <= 0 || c.Scan.MaxFrequency < c.Scan.MinFrequency {
			errs = append(errs, ErrInvalidScanRange)
		}
		if c.Scan.Step <= 0 {
			errs = append(errs, ErrInvalidScanStep)
		}
		if c.SampleRate > 0 && c.Scan.MaxFrequency >= c.SampleRate/2 {
			errs = append(errs, fmt.Errorf("%w: scan maximum %v Hz", ErrInvalidToneFrequency, c.Scan.MaxFrequency))
		}
	}
	return errors.Join(errs...)
}

// Result is the output of one Process call
type Result struct {
	// Events are the key transitions confirmed during this call, in order
	Events []KeyEvent
	// Peak is the largest block magnitude of this call, normalized to [0,1]
	Peak float64
	// KeyDown is the key state after the last block
	KeyDown bool
	// Levels are the most recent block magnitudes, oldest first
	Levels []float64
	// Calibrating is true while the threshold machine is learning levels
	Calibrating bool
	// NoiseFloor is the live noise floor, normalized to [0,1]
	NoiseFloor float64
	// SNR is the ratio of signal peak to noise floor
	SNR float64
	// Locked reports whether the tracker holds a lock (scanning mode)
	Locked bool
	// LockedFrequency is the locked tone in Hz, 0 when not scanning or unlocked
	LockedFrequency float64
	// Blocks is the number of blocks processed during this call
	Blocks int
}

// Processor is the tone-to-keying pipeline: re-framer, optional frequency
// tracker, Goertzel filter, threshold machine and result aggregation.
//
// A Processor is not safe for concurrent use; serialize calls to Process,
// Retune and Reset (see the session package).
type Processor struct {
	config    ProcessorConfig
	reframer  *Reframer
	filter    *Goertzel
	tracker   *Tracker
	threshold *Threshold
	agg       aggregator

	halfBlock time.Duration
}

// NewProcessor creates a processor for the given configuration
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	filter, err := NewGoertzel(GoertzelConfig{
		TargetFrequency: cfg.ToneFrequency,
		SampleRate:      cfg.SampleRate,
		BlockSize:       cfg.BlockSize,
	})
	if err != nil {
		return nil, err
	}

	p := &Processor{
		config:    cfg,
		reframer:  NewReframer(cfg.BlockSize, cfg.SampleRate),
		filter:    filter,
		threshold: NewThreshold(),
		halfBlock: samplesToDuration(int64(cfg.BlockSize), cfg.SampleRate) / 2,
	}

	if cfg.Scan != nil {
		p.tracker, err = NewTracker(*cfg.Scan, cfg.SampleRate, cfg.BlockSize)
		if err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Process consumes a chunk of samples whose first sample was captured at the
// given time. Chunks may be of any length; partial blocks are carried over
// to the next call.
func (p *Processor) Process(samples []float32, at time.Duration) Result {
	p.agg.begin()
	blocks := 0

	p.reframer.Push(samples, at, func(block []float64, start time.Duration) {
		blocks++
		p.processBlock(block, start+p.halfBlock)
	})

	res := Result{
		Peak:        p.agg.normalize(p.agg.peak()),
		KeyDown:     p.threshold.KeyDown(),
		Levels:      p.agg.history(),
		Calibrating: p.threshold.Calibrating(),
		NoiseFloor:  p.agg.normalize(p.threshold.NoiseFloor()),
		SNR:         p.threshold.SNR(),
		Blocks:      blocks,
	}
	if len(p.agg.events) > 0 {
		res.Events = make([]KeyEvent, len(p.agg.events))
		copy(res.Events, p.agg.events)
	}
	if p.tracker != nil {
		res.Locked = p.tracker.Locked()
		res.LockedFrequency = p.tracker.LockedFrequency()
	}
	return res
}

func (p *Processor) processBlock(block []float64, mid time.Duration) {
	magnitude := p.filter.MagnitudeNoAlloc(block)

	if p.tracker != nil {
		if freq, ok := p.tracker.Update(block, magnitude, p.threshold.NoiseFloor()); ok {
			if math.Abs(freq-p.filter.Frequency()) > retuneTolerance {
				p.lockTo(freq, mid)
				magnitude = p.filter.MagnitudeNoAlloc(block)
			}
		}
	}

	p.agg.add(magnitude)
	if ev, changed := p.threshold.Update(magnitude, mid); changed {
		p.agg.event(ev)
	}
}

// lockTo switches the tone filter to the locked bin's filter. The noise
// floor learned for the old frequency is meaningless for the new one, so the
// threshold machine starts over; an open key-down is closed first.
func (p *Processor) lockTo(freq float64, at time.Duration) {
	p.filter = p.tracker.filterFor(freq)
	if p.threshold.KeyDown() {
		p.agg.event(KeyEvent{KeyDown: false, Timestamp: at})
	}
	p.threshold.Reset()
}

// Retune switches the tone filter to a new fixed frequency. Threshold
// learning is kept; call Reset as well to recalibrate.
func (p *Processor) Retune(freq float64) error {
	return p.retune(freq)
}

func (p *Processor) retune(freq float64) error {
	g, err := NewGoertzel(GoertzelConfig{
		TargetFrequency: freq,
		SampleRate:      p.config.SampleRate,
		BlockSize:       p.config.BlockSize,
	})
	if err != nil {
		return fmt.Errorf("retune to %v Hz: %w", freq, err)
	}
	p.filter = g
	return nil
}

// Reset returns calibration, noise floor, peak, lock state and buffered
// samples to their initial values. The configuration and the current tone
// frequency are kept.
func (p *Processor) Reset() {
	p.reframer.Reset()
	p.threshold.Reset()
	p.agg.reset()
	if p.tracker != nil {
		p.tracker.Reset()
	}
}

// Frequency returns the frequency of the active tone filter
func (p *Processor) Frequency() float64 {
	return p.filter.Frequency()
}

// Config returns the processor configuration
func (p *Processor) Config() ProcessorConfig {
	return p.config
}

// Scanning reports whether the frequency tracker is enabled
func (p *Processor) Scanning() bool {
	return p.tracker != nil
}

// Pending returns the number of samples waiting for a full block
func (p *Processor) Pending() int {
	return p.reframer.Pending()
}

// BlockDuration returns the time covered by one block
func (p *Processor) BlockDuration() time.Duration {
	return p.reframer.BlockDuration()
}
