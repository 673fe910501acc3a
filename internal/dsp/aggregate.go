// internal/dsp/aggregate.go
package dsp

import "gonum.org/v1/gonum/floats"

const (
	// LevelHistory is the number of block magnitudes kept for display
	LevelHistory = 128

	displayDecay = 0.9995
	displayFloor = 1e-12
)

// aggregator tracks display-only state: a slowly decaying running maximum
// used to normalize levels into [0,1] and a rolling history of magnitudes.
// Nothing here feeds back into detection.
type aggregator struct {
	runningMax float64
	levels     [LevelHistory]float64
	next       int
	filled     int

	events []KeyEvent
	mags   []float64
}

func (a *aggregator) begin() {
	a.events = a.events[:0]
	a.mags = a.mags[:0]
}

func (a *aggregator) add(magnitude float64) {
	a.runningMax *= displayDecay
	if magnitude > a.runningMax {
		a.runningMax = magnitude
	}

	a.levels[a.next] = magnitude
	a.next = (a.next + 1) % LevelHistory
	if a.filled < LevelHistory {
		a.filled++
	}
	a.mags = append(a.mags, magnitude)
}

func (a *aggregator) event(ev KeyEvent) {
	a.events = append(a.events, ev)
}

// peak returns the largest magnitude seen since begin
func (a *aggregator) peak() float64 {
	if len(a.mags) == 0 {
		return 0
	}
	return floats.Max(a.mags)
}

// normalize maps a magnitude into [0,1] against the running maximum
func (a *aggregator) normalize(v float64) float64 {
	if a.runningMax < displayFloor || v <= 0 {
		return 0
	}
	return min(v/a.runningMax, 1)
}

// history returns the rolling magnitudes, oldest first
func (a *aggregator) history() []float64 {
	out := make([]float64, a.filled)
	start := (a.next - a.filled + LevelHistory) % LevelHistory
	for i := range out {
		out[i] = a.levels[(start+i)%LevelHistory]
	}
	return out
}

func (a *aggregator) reset() {
	*a = aggregator{events: a.events[:0], mags: a.mags[:0]}
}
