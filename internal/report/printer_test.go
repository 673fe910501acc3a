package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ColonelBlimp/cwkeyer/internal/dsp"
)

func TestNewPrinter_UnknownFormat(t *testing.T) {
	_, err := NewPrinter(&bytes.Buffer{}, "xml", false)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestPrinter_TextEvents(t *testing.T) {
	var buf bytes.Buffer
	p, err := NewPrinter(&buf, FormatText, false)
	require.NoError(t, err)

	require.NoError(t, p.Result(dsp.Result{
		Events: []dsp.KeyEvent{
			{KeyDown: true, Timestamp: 123 * time.Millisecond},
			{KeyDown: false, Timestamp: 456 * time.Millisecond},
		},
		Blocks: 4,
	}))

	assert.Equal(t, "+0.123s DOWN\n+0.456s UP\n", buf.String())
}

func TestPrinter_JSONEvents(t *testing.T) {
	var buf bytes.Buffer
	p, err := NewPrinter(&buf, FormatJSON, false)
	require.NoError(t, err)

	require.NoError(t, p.Event(dsp.KeyEvent{KeyDown: true, Timestamp: 123 * time.Millisecond}))
	require.NoError(t, p.Event(dsp.KeyEvent{KeyDown: false, Timestamp: 2 * time.Second}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"t":0.123,"down":true}`, lines[0])
	assert.JSONEq(t, `{"t":2,"down":false}`, lines[1])
}

func TestPrinter_StatusLines(t *testing.T) {
	res := dsp.Result{
		Peak:            0.5,
		NoiseFloor:      0.05,
		SNR:             10,
		KeyDown:         true,
		LockedFrequency: 750,
		Blocks:          2,
	}

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		p, err := NewPrinter(&buf, FormatText, true)
		require.NoError(t, err)

		require.NoError(t, p.Result(res))
		assert.Equal(t, "  peak=0.500 floor=0.050 snr=10.0 key=down lock=750Hz\n", buf.String())
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		p, err := NewPrinter(&buf, FormatJSON, true)
		require.NoError(t, err)

		require.NoError(t, p.Result(res))
		assert.JSONEq(t,
			`{"peak":0.5,"noise_floor":0.05,"snr":10,"calibrating":false,"key_down":true,"locked_hz":750}`,
			buf.String())
	})

	t.Run("calibrating", func(t *testing.T) {
		var buf bytes.Buffer
		p, err := NewPrinter(&buf, FormatText, true)
		require.NoError(t, err)

		require.NoError(t, p.Result(dsp.Result{Calibrating: true, Blocks: 1}))
		assert.Equal(t, "  peak=0.000 floor=0.000 snr=0.0 key=up calibrating\n", buf.String())
	})
}

func TestPrinter_NoStatusWithoutBlocks(t *testing.T) {
	var buf bytes.Buffer
	p, err := NewPrinter(&buf, FormatText, true)
	require.NoError(t, err)

	require.NoError(t, p.Result(dsp.Result{}))
	assert.Empty(t, buf.String())
}
