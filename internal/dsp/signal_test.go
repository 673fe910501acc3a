// internal/dsp/signal_test.go
package dsp

import (
	"math"
	"math/rand"
	"time"
)

// Pipeline tests run at 8 kHz with 128-sample blocks (16 ms per block)
const (
	pipeSampleRate = 8000.0
	pipeBlockSize  = 128
	pipeBlockTime  = 16 * time.Millisecond
	noiseAmplitude = 0.01
	toneAmplitude  = 0.5
)

// toneSpan is a tone present from block From (inclusive) to To (exclusive)
type toneSpan struct {
	From, To  int
	Frequency float64
}

// synthesize builds a stream of the given number of blocks of uniform noise
// with tones mixed in. Tone phase is continuous across blocks.
func synthesize(seed int64, blocks int, spans ...toneSpan) []float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float32, blocks*pipeBlockSize)
	for i := range out {
		v := (rng.Float64()*2 - 1) * noiseAmplitude
		block := i / pipeBlockSize
		for _, s := range spans {
			if block >= s.From && block < s.To {
				v += toneAmplitude * math.Sin(2*math.Pi*s.Frequency*float64(i)/pipeSampleRate)
			}
		}
		out[i] = float32(v)
	}
	return out
}

func pipeConfig() ProcessorConfig {
	return ProcessorConfig{
		SampleRate:    pipeSampleRate,
		BlockSize:     pipeBlockSize,
		ToneFrequency: 600,
	}
}

func blockTime(block int) time.Duration {
	return time.Duration(block) * pipeBlockTime
}

// windowedTone returns one Hamming-windowed block of a tone
func windowedTone(freq, amplitude float64, block int) []float64 {
	r := NewReframer(pipeBlockSize, pipeSampleRate)
	samples := make([]float32, pipeBlockSize)
	for i := range samples {
		n := block*pipeBlockSize + i
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(n)/pipeSampleRate))
	}
	var out []float64
	r.Push(samples, 0, func(b []float64, _ time.Duration) {
		out = append([]float64(nil), b...)
	})
	return out
}
