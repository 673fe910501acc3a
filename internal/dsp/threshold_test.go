// internal/dsp/threshold_test.go
package dsp

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

const (
	quietMagnitude  = 0.001
	strongMagnitude = 1.0
)

// feeder drives a Threshold with one magnitude per millisecond
type feeder struct {
	th     *Threshold
	now    time.Duration
	events []KeyEvent
}

func newFeeder() *feeder {
	return &feeder{th: NewThreshold()}
}

func (f *feeder) feed(magnitude float64, blocks int) {
	for i := 0; i < blocks; i++ {
		f.now += time.Millisecond
		if ev, ok := f.th.Update(magnitude, f.now); ok {
			f.events = append(f.events, ev)
		}
	}
}

func (f *feeder) calibrate() {
	f.feed(quietMagnitude, CalibrationBlocks)
}

// requireEvents stops the test unless exactly n events were emitted
func (f *feeder) requireEvents(t *testing.T, n int) {
	t.Helper()
	if len(f.events) != n {
		t.Fatalf("got %d events, want %d: %v", len(f.events), n, f.events)
	}
}

func TestThreshold_CalibrationWindow(t *testing.T) {
	th := NewThreshold()
	if !th.Calibrating() {
		t.Fatal("new threshold should be calibrating")
	}

	for i := 1; i <= CalibrationBlocks; i++ {
		if _, changed := th.Update(strongMagnitude*float64(i%2), time.Duration(i)*time.Millisecond); changed {
			t.Errorf("block %d emitted an event during calibration", i)
		}
		if !th.Calibrating() {
			t.Errorf("block %d: Calibrating() = false", i)
		}
	}

	th.Update(quietMagnitude, 100*time.Millisecond)
	if th.Calibrating() {
		t.Error("Calibrating() = true after the calibration window")
	}
}

func TestThreshold_QuietInputStaysUp(t *testing.T) {
	f := newFeeder()
	f.feed(quietMagnitude, 500)

	f.requireEvents(t, 0)
	if f.th.KeyDown() {
		t.Error("KeyDown() = true on constant input")
	}
	if floor := f.th.NoiseFloor(); math.Abs(floor-quietMagnitude) > quietMagnitude*0.01 {
		t.Errorf("NoiseFloor() = %v, want about %v", floor, quietMagnitude)
	}
}

func TestThreshold_SilenceThenNoiseStaysUp(t *testing.T) {
	tests := []struct {
		name  string
		noise func(rng *rand.Rand) float64
	}{
		{"constant", func(*rand.Rand) float64 { return 2e-4 }},
		{"fluctuating", func(rng *rand.Rand) float64 { return 1e-4 + rng.Float64()*4e-4 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFeeder()
			// digital silence pins the floor at its minimum
			f.feed(0, 200)
			if f.th.NoiseFloor() != MinNoiseFloor {
				t.Fatalf("NoiseFloor() = %v after silence, want %v", f.th.NoiseFloor(), MinNoiseFloor)
			}

			rng := rand.New(rand.NewSource(4))
			for i := 0; i < 1000; i++ {
				f.feed(tt.noise(rng), 1)
			}

			f.requireEvents(t, 0)
			if f.th.InTransmission() {
				t.Error("noise started a transmission")
			}
			if f.th.NoiseFloor() < 5e-5 {
				t.Errorf("NoiseFloor() = %v, floor did not recover toward the noise", f.th.NoiseFloor())
			}
		})
	}
}

func TestThreshold_ToneAfterSilenceKeys(t *testing.T) {
	f := newFeeder()
	f.feed(0, 200)
	f.feed(2e-4, 300)

	f.feed(strongMagnitude, 20)
	f.requireEvents(t, 1)
	if !f.events[0].KeyDown {
		t.Error("first event should be a key-down")
	}
}

func TestThreshold_KeyDownNeedsConfirmation(t *testing.T) {
	f := newFeeder()
	f.calibrate()

	f.feed(strongMagnitude, ConfirmBlocks-1)
	f.requireEvents(t, 0)

	f.feed(strongMagnitude, 1)
	f.requireEvents(t, 1)
	if !f.events[0].KeyDown {
		t.Error("event should be a key-down")
	}
	if f.events[0].Timestamp != f.now {
		t.Errorf("Timestamp = %v, want %v", f.events[0].Timestamp, f.now)
	}
	if !f.th.InTransmission() {
		t.Error("key-down should start a transmission")
	}
}

func TestThreshold_FastExit(t *testing.T) {
	f := newFeeder()
	f.calibrate()
	f.feed(strongMagnitude, 20)
	f.requireEvents(t, 1)
	downAt := f.events[0].Timestamp

	// a fading tone: the smoothed level halves each block, which is well
	// under 60% of the active level long before the off-threshold is reached
	f.feed(quietMagnitude, 2)
	f.requireEvents(t, 2)
	if f.events[1].KeyDown {
		t.Error("second event should be a key-up")
	}
	if d := f.events[1].Timestamp - downAt; d <= MinStateDuration {
		t.Errorf("key-down lasted %v, want more than %v", d, MinStateDuration)
	}
}

func TestThreshold_MinStateDurationSuppressesEarlyRelease(t *testing.T) {
	f := newFeeder()
	f.calibrate()

	f.feed(strongMagnitude, ConfirmBlocks)
	f.requireEvents(t, 1)

	// the exit condition is met after two blocks but must wait for the guard
	f.feed(quietMagnitude, 5)
	f.requireEvents(t, 1)
	if !f.th.KeyDown() {
		t.Fatal("key released before MinStateDuration")
	}

	f.feed(quietMagnitude, 20)
	f.requireEvents(t, 2)
	if d := f.events[1].Timestamp - f.events[0].Timestamp; d != MinStateDuration {
		t.Errorf("key-down lasted %v, want %v", d, MinStateDuration)
	}
}

func TestThreshold_MinStateDurationSuppressesEarlyPress(t *testing.T) {
	f := newFeeder()
	f.calibrate()
	f.feed(strongMagnitude, ConfirmBlocks)
	f.feed(quietMagnitude, 12)
	f.requireEvents(t, 2)
	upAt := f.events[1].Timestamp
	if upAt != f.now {
		t.Fatalf("key-up at %v, want %v", upAt, f.now)
	}

	// confirmed after three blocks, pressed only once the guard expires
	f.feed(strongMagnitude, ConfirmBlocks)
	f.requireEvents(t, 2)

	f.feed(strongMagnitude, 30)
	f.requireEvents(t, 3)
	if !f.events[2].KeyDown {
		t.Error("third event should be a key-down")
	}
	if d := f.events[2].Timestamp - upAt; d != MinStateDuration {
		t.Errorf("key-up lasted %v, want %v", d, MinStateDuration)
	}
}

func TestThreshold_EventsAlternate(t *testing.T) {
	f := newFeeder()
	f.calibrate()
	for i := 0; i < 10; i++ {
		f.feed(strongMagnitude, 40)
		f.feed(quietMagnitude, 60)
	}

	f.requireEvents(t, 20)
	for i, ev := range f.events {
		if ev.KeyDown != (i%2 == 0) {
			t.Errorf("event %d: KeyDown = %v", i, ev.KeyDown)
		}
		if i > 0 && ev.Timestamp-f.events[i-1].Timestamp < MinStateDuration {
			t.Errorf("event %d only %v after the previous one", i, ev.Timestamp-f.events[i-1].Timestamp)
		}
	}
}

func TestThreshold_NoiseFloorLockedDuringTransmission(t *testing.T) {
	f := newFeeder()
	f.calibrate()
	f.feed(strongMagnitude, 10)
	if !f.th.KeyDown() {
		t.Fatal("key not down")
	}
	floor := f.th.NoiseFloor()

	// within a transmission the floor never rises toward the signal
	f.feed(strongMagnitude, 100)
	if got := f.th.NoiseFloor(); got != floor {
		t.Errorf("NoiseFloor() = %v, want %v", got, floor)
	}
	if !f.th.InTransmission() {
		t.Error("InTransmission() = false while keyed")
	}
}

func TestThreshold_TransmissionTimeout(t *testing.T) {
	f := newFeeder()
	f.calibrate()
	f.feed(strongMagnitude, 10)
	f.feed(quietMagnitude, 100)
	if f.th.KeyDown() || !f.th.InTransmission() {
		t.Fatalf("KeyDown() = %v, InTransmission() = %v; want key up inside a transmission",
			f.th.KeyDown(), f.th.InTransmission())
	}

	f.feed(quietMagnitude, int(TransmissionTimeout/time.Millisecond))
	if f.th.InTransmission() {
		t.Error("transmission did not end after the timeout")
	}
}

func TestThreshold_OnThresholdFollowsSNR(t *testing.T) {
	testCases := []struct {
		name string
		snr  float64
		want float64
	}{
		{"high snr", 20, BaseOnThreshold},
		{"just above high", 10.5, BaseOnThreshold},
		{"at high boundary", 10, 8.0},
		{"midway", 6.5, 7.0},
		{"at low boundary", 3, MinOnThreshold},
		{"low snr", 1.5, MinOnThreshold},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			th := NewThreshold()
			th.noiseFloor = 0.01
			th.signalPeak = tc.snr * 0.01
			if got := th.OnThreshold(); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("OnThreshold() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestThreshold_SNR(t *testing.T) {
	th := NewThreshold()
	if th.SNR() != 0 {
		t.Errorf("SNR() = %v before any input, want 0", th.SNR())
	}

	th.noiseFloor = 0.5
	th.signalPeak = 2
	if got := th.SNR(); math.Abs(got-4) > 1e-12 {
		t.Errorf("SNR() = %v, want 4", got)
	}
}

func TestThreshold_NoiseFloorNeverDegenerate(t *testing.T) {
	f := newFeeder()
	f.feed(0, 200)

	if f.th.NoiseFloor() < MinNoiseFloor {
		t.Errorf("NoiseFloor() = %v, below %v", f.th.NoiseFloor(), MinNoiseFloor)
	}
	f.requireEvents(t, 0)
}

func TestThreshold_Reset(t *testing.T) {
	f := newFeeder()
	f.calibrate()
	f.feed(strongMagnitude, 10)
	if !f.th.KeyDown() {
		t.Fatal("key not down")
	}

	f.th.Reset()

	if !f.th.Calibrating() {
		t.Error("Calibrating() = false after Reset")
	}
	if f.th.KeyDown() || f.th.InTransmission() {
		t.Error("key state survived Reset")
	}
	if f.th.SignalPeak() != 0 || f.th.Smoothed() != 0 {
		t.Errorf("SignalPeak() = %v, Smoothed() = %v; want 0", f.th.SignalPeak(), f.th.Smoothed())
	}
	if f.th.NoiseFloor() != MinNoiseFloor {
		t.Errorf("NoiseFloor() = %v, want %v", f.th.NoiseFloor(), MinNoiseFloor)
	}
}
