// internal/dsp/reframer.go
package dsp

import (
	"math"
	"time"

	"github.com/mjibson/go-dsp/window"
)

// BlockFunc receives one windowed analysis block and the timestamp of its
// first sample. The block slice is reused by the next call.
type BlockFunc func(block []float64, start time.Duration)

// Reframer cuts arbitrarily sized sample chunks into fixed-size, Hamming
// windowed blocks. Samples that do not fill a block are kept for the next call.
//
// Block timestamps come from a sample clock. A chunk whose timestamp continues
// the clock keeps it, so the block timing does not depend on how the caller
// splits the stream. A chunk that does not continue the clock (a gap, or the
// very first chunk) re-anchors it at the chunk's timestamp.
type Reframer struct {
	blockSize  int
	sampleRate float64
	window     []float64

	pending []float32
	block   []float64

	anchored     bool
	anchor       time.Duration
	pendingStart int64 // clock position of pending[0], in samples since anchor
	tolerance    time.Duration
}

// NewReframer creates a re-framer for the given block size and sample rate.
// Both must be positive.
func NewReframer(blockSize int, sampleRate float64) *Reframer {
	return &Reframer{
		blockSize:  blockSize,
		sampleRate: sampleRate,
		window:     window.Hamming(blockSize),
		pending:    make([]float32, 0, 2*blockSize),
		block:      make([]float64, blockSize),
		tolerance:  samplesToDuration(1, sampleRate) / 2,
	}
}

// Push appends samples captured starting at the given timestamp and calls fn
// for every complete block, in order.
func (r *Reframer) Push(samples []float32, at time.Duration, fn BlockFunc) {
	if len(samples) == 0 {
		return
	}

	expected := r.anchor + samplesToDuration(r.pendingStart+int64(len(r.pending)), r.sampleRate)
	if !r.anchored || absDuration(at-expected) > r.tolerance {
		r.anchor = at - samplesToDuration(int64(len(r.pending)), r.sampleRate)
		r.pendingStart = 0
		r.anchored = true
	}

	r.pending = append(r.pending, samples...)

	offset := 0
	for len(r.pending)-offset >= r.blockSize {
		for i, s := range r.pending[offset : offset+r.blockSize] {
			r.block[i] = float64(s) * r.window[i]
		}
		fn(r.block, r.anchor+samplesToDuration(r.pendingStart, r.sampleRate))
		offset += r.blockSize
		r.pendingStart += int64(r.blockSize)
	}

	if offset > 0 {
		n := copy(r.pending, r.pending[offset:])
		r.pending = r.pending[:n]
	}
}

// Pending returns the number of buffered samples waiting for a full block
func (r *Reframer) Pending() int {
	return len(r.pending)
}

// BlockDuration returns the time covered by one block
func (r *Reframer) BlockDuration() time.Duration {
	return samplesToDuration(int64(r.blockSize), r.sampleRate)
}

// Window returns the analysis window applied to every block
func (r *Reframer) Window() []float64 {
	return r.window
}

// Reset drops buffered samples and the clock anchor
func (r *Reframer) Reset() {
	r.pending = r.pending[:0]
	r.anchored = false
	r.anchor = 0
	r.pendingStart = 0
}

func samplesToDuration(n int64, sampleRate float64) time.Duration {
	return time.Duration(math.Round(float64(n) * float64(time.Second) / sampleRate))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
