package display

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"

	"github.com/norasector/txsweep/pkg/device"
	"github.com/norasector/txsweep/pkg/util"
)

const (
	// Coherent gain of the Blackman window.
	blackmanGain = 0.42

	powerFloorDB = -150
)

// PowerSpectrum returns the Blackman-windowed power of samples in dBFS, ordered from the
// most negative to the most positive baseband frequency in Hz.
func PowerSpectrum(samples []complex64, sampleRateHz float64) (plotter.XYs, error) {
	n := len(samples)
	if n < 2 {
		return nil, fmt.Errorf("spectrum needs at least 2 samples, got %d", n)
	}

	win := window.Blackman(n)
	data := make([]complex128, n)
	norm := blackmanGain * float64(n)
	for i, s := range samples {
		data[i] = complex128(s) * complex(win[i]/norm, 0)
	}

	f := fourier.NewCmplxFFT(n)
	coeffs := f.Coefficients(nil, data)

	ret := make(plotter.XYs, n)
	for i := 0; i < n; i++ {
		idx := f.ShiftIdx(i)
		power := float64(powerFloorDB)
		if mag := cmplx.Abs(coeffs[idx]); mag > 0 {
			power = math.Max(20*math.Log10(mag), powerFloorDB)
		}
		ret[i] = plotter.XY{X: f.Freq(idx) * sampleRateHz, Y: power}
	}
	return ret, nil
}

// SpectrumPNG renders the power spectrum of a capture offset to its centre frequency.
func SpectrumPNG(c *device.Capture, opts ...PlotOptions) ([]byte, error) {
	if c == nil || len(c.Samples) == 0 {
		return nil, ErrEmptyCapture
	}
	xys, err := PowerSpectrum(c.Samples, c.SampleRateHz)
	if err != nil {
		return nil, err
	}

	p := plotWithDefaults()
	p.Title.Text = fmt.Sprintf("Spectrum @ %s", util.MHzToString(c.FrequencyHz))
	p.X.Label.Text = "Offset (Hz)"
	p.Y.Label.Text = "Power (dBFS)"
	p.Y.Min = -120
	p.Y.Max = 0

	for _, opt := range opts {
		opt(p)
	}

	if err := plotutil.AddLines(p, "power", xys); err != nil {
		return nil, err
	}
	return renderPNG(p)
}
