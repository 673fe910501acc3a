// internal/report/printer.go
// Package report writes key events and processing status as text or JSON lines.
package report

import (
	"errors"
	"fmt"
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/ColonelBlimp/cwkeyer/internal/dsp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnknownFormat indicates an output format other than text or json
var ErrUnknownFormat = errors.New("unknown output format")

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

type keyLine struct {
	T    float64 `json:"t"`
	Down bool    `json:"down"`
}

type statusLine struct {
	Peak        float64 `json:"peak"`
	NoiseFloor  float64 `json:"noise_floor"`
	SNR         float64 `json:"snr"`
	Calibrating bool    `json:"calibrating"`
	KeyDown     bool    `json:"key_down"`
	LockedHz    float64 `json:"locked_hz,omitempty"`
}

// Printer writes results to an io.Writer. It is safe for concurrent use.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	enc    *jsoniter.Encoder
	format string
	status bool
}

// NewPrinter creates a printer for the given format. When status is set,
// every result with processed blocks also produces a status line.
func NewPrinter(w io.Writer, format string, status bool) (*Printer, error) {
	switch format {
	case FormatText, FormatJSON:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return &Printer{
		w:      w,
		enc:    json.NewEncoder(w),
		format: format,
		status: status,
	}, nil
}

// Event writes a single key transition
func (p *Printer) Event(ev dsp.KeyEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.event(ev)
}

// Result writes the events of a result in order, followed by a status line
// when enabled
func (p *Printer) Result(res dsp.Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ev := range res.Events {
		if err := p.event(ev); err != nil {
			return err
		}
	}
	if !p.status || res.Blocks == 0 {
		return nil
	}

	line := statusLine{
		Peak:        res.Peak,
		NoiseFloor:  res.NoiseFloor,
		SNR:         res.SNR,
		Calibrating: res.Calibrating,
		KeyDown:     res.KeyDown,
		LockedHz:    res.LockedFrequency,
	}
	if p.format == FormatJSON {
		return p.enc.Encode(line)
	}

	state := "up"
	if line.KeyDown {
		state = "down"
	}
	var extra string
	if line.Calibrating {
		extra = " calibrating"
	}
	if line.LockedHz > 0 {
		extra += fmt.Sprintf(" lock=%.0fHz", line.LockedHz)
	}
	_, err := fmt.Fprintf(p.w, "  peak=%.3f floor=%.3f snr=%.1f key=%s%s\n",
		line.Peak, line.NoiseFloor, line.SNR, state, extra)
	return err
}

func (p *Printer) event(ev dsp.KeyEvent) error {
	if p.format == FormatJSON {
		return p.enc.Encode(keyLine{T: ev.Timestamp.Seconds(), Down: ev.KeyDown})
	}
	state := "UP"
	if ev.KeyDown {
		state = "DOWN"
	}
	_, err := fmt.Fprintf(p.w, "+%.3fs %s\n", ev.Timestamp.Seconds(), state)
	return err
}
