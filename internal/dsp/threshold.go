// internal/dsp/threshold.go
package dsp

import "time"

// Keying thresholds and time constants
const (
	// CalibrationBlocks is the number of blocks used to learn noise and
	// signal levels before any key event can be emitted
	CalibrationBlocks = 30
	// BaseOnThreshold is the on-threshold (ratio to noise floor) at high SNR
	BaseOnThreshold = 8.0
	// MinOnThreshold is the on-threshold at low SNR
	MinOnThreshold = 6.0
	// HighSNR is the SNR above which BaseOnThreshold applies
	HighSNR = 10.0
	// LowSNR is the SNR at or below which MinOnThreshold applies
	LowSNR = 3.0
	// ConfirmBlocks is the number of consecutive blocks beyond a threshold
	// required to change key state
	ConfirmBlocks = 3
	// MinStateDuration guards against transitions closer together than this
	MinStateDuration = 12 * time.Millisecond
	// TransmissionTimeout is the key-up time after which a transmission ends
	TransmissionTimeout = 2 * time.Second

	magnitudeSmoothing = 0.5
	peakDecay          = 0.995
	activeLevelDecay   = 0.95
	fastExitRatio      = 0.6
	fastExitBlocks     = 2

	floorFallIdle        = 0.1
	floorFallTransmitted = 0.02
	floorRiseCalibrating = 0.1
	floorRise            = 0.02

	// MinNoiseFloor keeps ratio computations away from division by zero
	MinNoiseFloor = 1e-9
	// MinSignalMagnitude is the absolute magnitude a tone must reach to key
	// the machine or be tracked. Anything weaker is treated as noise, which
	// lets the floor recover after digital silence.
	MinSignalMagnitude = 0.001
)

// KeyEvent is a key state transition. Timestamp is the midpoint of the block
// in which the transition was confirmed.
type KeyEvent struct {
	KeyDown   bool
	Timestamp time.Duration
}

// Threshold is the keying hysteresis machine. It consumes one magnitude per
// block and decides whether the key is up or down.
//
// Update order matters: level estimates are updated before the thresholds are
// evaluated, and the thresholds before the transition check.
type Threshold struct {
	blocks int // processed blocks, saturates after calibration

	smoothed   float64
	signalPeak float64
	noiseFloor float64
	seeded     bool

	lockedFloor    float64
	inTransmission bool

	keyDown    bool
	lastChange time.Duration
	changed    bool // lastChange is valid
	lastEvent  time.Duration

	above       int
	below       int
	drops       int
	activeLevel float64
}

// NewThreshold creates a threshold machine in its calibrating state
func NewThreshold() *Threshold {
	t := &Threshold{}
	t.Reset()
	return t
}

// Update feeds one block magnitude observed at the given time. It returns the
// key event and true if the key state changed on this block.
func (t *Threshold) Update(magnitude float64, at time.Duration) (KeyEvent, bool) {
	t.smoothed = t.smoothed*magnitudeSmoothing + magnitude*(1-magnitudeSmoothing)

	calibrating := t.blocks < CalibrationBlocks
	t.updateEstimates(t.smoothed, calibrating)
	if calibrating {
		t.blocks++
		return KeyEvent{}, false
	}
	if t.blocks == CalibrationBlocks {
		t.blocks++
	}

	ratio := t.smoothed / t.effectiveFloor()
	on := t.onThreshold()
	off := on / 2

	switch {
	case ratio > on && t.smoothed >= MinSignalMagnitude:
		t.above++
		t.below = 0
	case ratio < off:
		t.below++
		t.above = 0
	default:
		t.above = decrement(t.above)
		t.below = decrement(t.below)
	}

	wasDown := t.keyDown
	if t.keyDown {
		t.updateKeyDown(at)
	} else {
		t.updateKeyUp(at)
	}

	if !t.keyDown && t.inTransmission && at-t.lastEvent > TransmissionTimeout {
		t.inTransmission = false
	}

	if t.keyDown == wasDown {
		return KeyEvent{}, false
	}
	return KeyEvent{KeyDown: t.keyDown, Timestamp: at}, true
}

func (t *Threshold) updateKeyUp(at time.Duration) {
	if t.above < ConfirmBlocks || !t.settled(at) {
		return
	}
	if !t.inTransmission {
		t.lockedFloor = t.noiseFloor
		t.inTransmission = true
	}
	t.keyDown = true
	t.activeLevel = t.smoothed
	t.drops = 0
	t.above = 0
	t.markChange(at)
}

func (t *Threshold) updateKeyDown(at time.Duration) {
	if t.smoothed < t.activeLevel*fastExitRatio {
		t.drops++
	} else {
		t.drops = 0
	}
	if t.smoothed > t.activeLevel {
		t.activeLevel = t.smoothed
	} else {
		t.activeLevel *= activeLevelDecay
	}

	if (t.below < ConfirmBlocks && t.drops < fastExitBlocks) || !t.settled(at) {
		return
	}
	t.keyDown = false
	t.below = 0
	t.drops = 0
	t.markChange(at)
}

func (t *Threshold) markChange(at time.Duration) {
	t.lastChange = at
	t.lastEvent = at
	t.changed = true
}

// settled reports whether the current state has lasted MinStateDuration
func (t *Threshold) settled(at time.Duration) bool {
	return !t.changed || at-t.lastChange >= MinStateDuration
}

func (t *Threshold) updateEstimates(magnitude float64, calibrating bool) {
	if magnitude > t.signalPeak {
		t.signalPeak = magnitude
	} else {
		t.signalPeak *= peakDecay
	}

	if !t.seeded {
		t.noiseFloor = max(magnitude, MinNoiseFloor)
		t.seeded = true
		return
	}

	on := t.onThreshold()
	switch {
	case magnitude < t.noiseFloor:
		rate := floorFallIdle
		if t.inTransmission {
			rate = floorFallTransmitted
		}
		t.noiseFloor += (magnitude - t.noiseFloor) * rate
	case !t.inTransmission && (magnitude < t.noiseFloor*on || magnitude < MinSignalMagnitude):
		rate := floorRise
		if calibrating {
			rate = floorRiseCalibrating
		}
		t.noiseFloor += (magnitude - t.noiseFloor) * rate
	}

	if t.noiseFloor < MinNoiseFloor {
		t.noiseFloor = MinNoiseFloor
	}
}

func (t *Threshold) effectiveFloor() float64 {
	if t.inTransmission {
		return max(t.lockedFloor, MinNoiseFloor)
	}
	return t.noiseFloor
}

// onThreshold interpolates the on-threshold between MinOnThreshold and
// BaseOnThreshold according to the current SNR
func (t *Threshold) onThreshold() float64 {
	snr := t.SNR()
	switch {
	case snr > HighSNR:
		return BaseOnThreshold
	case snr <= LowSNR:
		return MinOnThreshold
	default:
		return MinOnThreshold + (snr-LowSNR)/(HighSNR-LowSNR)*(BaseOnThreshold-MinOnThreshold)
	}
}

// OnThreshold returns the current on-threshold ratio
func (t *Threshold) OnThreshold() float64 {
	return t.onThreshold()
}

// Calibrating reports whether the machine is still learning levels
func (t *Threshold) Calibrating() bool {
	return t.blocks <= CalibrationBlocks
}

// KeyDown returns the current key state
func (t *Threshold) KeyDown() bool {
	return t.keyDown
}

// NoiseFloor returns the live noise floor estimate
func (t *Threshold) NoiseFloor() float64 {
	return t.noiseFloor
}

// SignalPeak returns the decaying signal peak estimate
func (t *Threshold) SignalPeak() float64 {
	return t.signalPeak
}

// Smoothed returns the low-pass filtered magnitude of the last block
func (t *Threshold) Smoothed() float64 {
	return t.smoothed
}

// SNR returns the ratio of signal peak to noise floor, or 0 while the noise
// floor is degenerate
func (t *Threshold) SNR() float64 {
	if t.noiseFloor <= MinNoiseFloor {
		return 0
	}
	return t.signalPeak / t.noiseFloor
}

// InTransmission reports whether the noise floor is currently locked
func (t *Threshold) InTransmission() bool {
	return t.inTransmission
}

// Reset returns every field to its initial value and restarts calibration
func (t *Threshold) Reset() {
	*t = Threshold{noiseFloor: MinNoiseFloor}
}

func decrement(n int) int {
	if n > 0 {
		return n - 1
	}
	return 0
}
