// internal/dsp/tracker.go
package dsp

import (
	"errors"
	"math"
)

// Frequency scanning constants
const (
	// DetectionRatio is the minimum ratio of magnitude to noise floor that
	// counts as a tone
	DetectionRatio = 5.0
	// LockThreshold is the number of consecutive qualifying blocks on the
	// same candidate required to lock
	LockThreshold = 15
	// PreemptRatio is how much stronger another bin must be than the locked
	// bin to become a new candidate
	PreemptRatio = 2.5

	binSmoothing = 0.85
	silenceDecay = 0.9
)

var (
	// ErrInvalidScanRange indicates the scan range is empty or inverted
	ErrInvalidScanRange = errors.New("scan range must satisfy 0 < min <= max")
	// ErrInvalidScanStep indicates the scan step must be positive
	ErrInvalidScanStep = errors.New("scan step must be positive")
)

// ScanConfig describes the frequency bank of the tracker.
//
// MinFrequency must be positive and not above MaxFrequency, Step must be
// positive, and MaxFrequency must lie below the Nyquist frequency.
// NewTracker and NewProcessor reject configurations that break this.
type ScanConfig struct {
	MinFrequency float64
	MaxFrequency float64
	Step         float64
}

// DefaultScanConfig covers the usual CW sidetone range
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		MinFrequency: 400,
		MaxFrequency: 900,
		Step:         50,
	}
}

// FrequencyBin is one filter of the scanning bank with its smoothed magnitude
type FrequencyBin struct {
	Frequency float64
	Smoothed  float64
	filter    *Goertzel
}

// Tracker scans a bank of Goertzel filters for the dominant tone and locks
// onto it once it has been stable for LockThreshold blocks.
type Tracker struct {
	config ScanConfig
	bins   []FrequencyBin

	candidate    float64 // 0 means no candidate
	lockCount    int
	locked       bool
	lockedFreq   float64
	hasLockedBin bool
}

// NewTracker builds the filter bank from MinFrequency to MaxFrequency
// inclusive in Step increments.
func NewTracker(cfg ScanConfig, sampleRate float64, blockSize int) (*Tracker, error) {
	if cfg.MinFrequency <= 0 || cfg.MaxFrequency < cfg.MinFrequency {
		return nil, ErrInvalidScanRange
	}
	if cfg.Step <= 0 {
		return nil, ErrInvalidScanStep
	}

	count := int(math.Floor((cfg.MaxFrequency-cfg.MinFrequency)/cfg.Step+1e-9)) + 1
	bins := make([]FrequencyBin, 0, count)
	for i := 0; i < count; i++ {
		freq := cfg.MinFrequency + float64(i)*cfg.Step
		g, err := NewGoertzel(GoertzelConfig{
			TargetFrequency: freq,
			SampleRate:      sampleRate,
			BlockSize:       blockSize,
		})
		if err != nil {
			return nil, err
		}
		bins = append(bins, FrequencyBin{Frequency: freq, filter: g})
	}

	return &Tracker{config: cfg, bins: bins}, nil
}

// Update scans one windowed block. lockedMagnitude is the magnitude measured
// by the active tone filter and noiseFloor the keying noise floor. It returns
// a frequency and true when the tracker locks (or re-confirms a lock).
func (t *Tracker) Update(block []float64, lockedMagnitude, noiseFloor float64) (float64, bool) {
	if t.locked && !hasActiveSignal(lockedMagnitude, noiseFloor) {
		for i := range t.bins {
			t.bins[i].Smoothed *= silenceDecay
		}
		return 0, false
	}

	best := 0
	for i := range t.bins {
		bin := &t.bins[i]
		raw := bin.filter.MagnitudeNoAlloc(block)
		bin.Smoothed = bin.Smoothed*binSmoothing + raw*(1-binSmoothing)
		if bin.Smoothed > t.bins[best].Smoothed {
			best = i
		}
	}
	selected := t.bins[best]

	if !hasStrongSignal(selected.Smoothed, noiseFloor) {
		if !t.locked {
			t.lockCount = decrement(t.lockCount)
		}
		return 0, false
	}

	if t.locked {
		lockedBin := t.nearestBin(t.lockedFreq)
		if t.sameFrequency(selected.Frequency, t.lockedFreq) {
			t.candidate = t.lockedFreq
			t.lockCount = min(t.lockCount+1, LockThreshold)
			return 0, false
		}
		if selected.Smoothed > lockedBin.Smoothed*PreemptRatio {
			t.candidate = selected.Frequency
			t.lockCount = 1
			t.locked = false
		}
		return 0, false
	}

	if t.candidate != 0 && t.sameFrequency(selected.Frequency, t.candidate) {
		t.lockCount++
	} else {
		t.candidate = selected.Frequency
		t.lockCount = 1
	}

	if t.lockCount >= LockThreshold {
		t.lockCount = LockThreshold
		t.locked = true
		t.lockedFreq = t.candidate
		t.hasLockedBin = true
		return t.lockedFreq, true
	}
	return 0, false
}

// hasActiveSignal decides whether the locked tone is currently keyed
func hasActiveSignal(magnitude, noiseFloor float64) bool {
	return magnitude >= MinSignalMagnitude && magnitude/max(noiseFloor, MinNoiseFloor) >= DetectionRatio
}

// hasStrongSignal decides whether a scanned bin carries a tone.
// Same test as hasActiveSignal for now.
func hasStrongSignal(magnitude, noiseFloor float64) bool {
	return magnitude >= MinSignalMagnitude && magnitude/max(noiseFloor, MinNoiseFloor) >= DetectionRatio
}

func (t *Tracker) sameFrequency(a, b float64) bool {
	return math.Abs(a-b) < t.config.Step/2
}

func (t *Tracker) nearestBin(freq float64) FrequencyBin {
	best := 0
	for i := range t.bins {
		if math.Abs(t.bins[i].Frequency-freq) < math.Abs(t.bins[best].Frequency-freq) {
			best = i
		}
	}
	return t.bins[best]
}

// filterFor returns the bank filter nearest to freq. The bank was validated
// by NewTracker, so switching to a locked frequency cannot fail.
func (t *Tracker) filterFor(freq float64) *Goertzel {
	return t.nearestBin(freq).filter
}

// Locked reports whether a frequency is currently locked
func (t *Tracker) Locked() bool {
	return t.locked
}

// LockedFrequency returns the last locked frequency, or 0 if none
func (t *Tracker) LockedFrequency() float64 {
	if !t.hasLockedBin {
		return 0
	}
	return t.lockedFreq
}

// Candidate returns the frequency currently gathering lock confidence
func (t *Tracker) Candidate() (float64, int) {
	return t.candidate, t.lockCount
}

// Bins returns a copy of the frequency bank
func (t *Tracker) Bins() []FrequencyBin {
	out := make([]FrequencyBin, len(t.bins))
	copy(out, t.bins)
	return out
}

// Config returns the scan configuration
func (t *Tracker) Config() ScanConfig {
	return t.config
}

// Reset clears the smoothed magnitudes and all lock state
func (t *Tracker) Reset() {
	for i := range t.bins {
		t.bins[i].Smoothed = 0
	}
	t.candidate = 0
	t.lockCount = 0
	t.locked = false
	t.lockedFreq = 0
	t.hasLockedBin = false
}
