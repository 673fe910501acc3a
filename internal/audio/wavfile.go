// internal/audio/wavfile.go
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

var (
	ErrInvalidWAV     = errors.New("invalid WAV file")
	ErrUnsupportedWAV = errors.New("unsupported WAV encoding")
)

// DefaultChunkFrames is the number of frames delivered per WAV chunk
const DefaultChunkFrames = 1024

// WAVReader streams a PCM WAV file as timestamped mono chunks
type WAVReader struct {
	decoder *wav.Decoder
	closer  io.Closer

	buf      goaudio.IntBuffer
	channels int
	rate     int
	offset   float64
	scale    float64
	clock    sampleClock
}

// OpenWAV opens a WAV file for reading
func OpenWAV(path string, chunkFrames int) (*WAVReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	r, err := NewWAVReader(f, chunkFrames)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// NewWAVReader reads WAV data from r. chunkFrames below 1 uses
// DefaultChunkFrames.
func NewWAVReader(r io.ReadSeeker, chunkFrames int) (*WAVReader, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, ErrInvalidWAV
	}
	if decoder.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: format tag %d", ErrUnsupportedWAV, decoder.WavAudioFormat)
	}

	format := decoder.Format()
	depth := int(decoder.BitDepth)
	switch depth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedWAV, depth)
	}
	if format.NumChannels < 1 || format.SampleRate < 1 {
		return nil, ErrInvalidWAV
	}

	if chunkFrames < 1 {
		chunkFrames = DefaultChunkFrames
	}

	w := &WAVReader{
		decoder:  decoder,
		buf:      goaudio.IntBuffer{Format: format, Data: make([]int, chunkFrames*format.NumChannels)},
		channels: format.NumChannels,
		rate:     format.SampleRate,
		scale:    float64(int(1) << (depth - 1)),
		clock:    sampleClock{rate: float64(format.SampleRate)},
	}
	// 8-bit WAV samples are unsigned
	if depth == 8 {
		w.offset = 128
	}
	return w, nil
}

// SampleRate returns the file's sample rate in Hz
func (w *WAVReader) SampleRate() int {
	return w.rate
}

// Channels returns the file's channel count
func (w *WAVReader) Channels() int {
	return w.channels
}

// Elapsed returns the stream time of the next frame to be read
func (w *WAVReader) Elapsed() time.Duration {
	return w.clock.now()
}

// Next reads the next chunk and the stream time of its first frame. It
// returns io.EOF once the data is exhausted.
func (w *WAVReader) Next() ([]float32, time.Duration, error) {
	n, err := w.decoder.PCMBuffer(&w.buf)
	if err != nil {
		return nil, 0, fmt.Errorf("read pcm: %w", err)
	}
	frames := n / w.channels
	if frames == 0 {
		return nil, 0, io.EOF
	}

	out := make([]float32, frames)
	for i := range out {
		var sum float64
		for ch := 0; ch < w.channels; ch++ {
			sum += (float64(w.buf.Data[i*w.channels+ch]) - w.offset) / w.scale
		}
		out[i] = float32(sum / float64(w.channels))
	}
	return out, w.clock.advance(int64(frames)), nil
}

// Stream delivers every chunk to fn in order. It stops at the end of the
// file, when ctx is done or when fn returns an error.
func (w *WAVReader) Stream(ctx context.Context, fn func(samples []float32, at time.Duration) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		samples, at, err := w.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(samples, at); err != nil {
			return err
		}
	}
}

// Close closes the underlying file when the reader was opened by path
func (w *WAVReader) Close() error {
	if w.closer == nil {
		return nil
	}
	err := w.closer.Close()
	w.closer = nil
	return err
}
