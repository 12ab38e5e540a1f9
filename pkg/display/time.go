package display

import (
	"errors"

	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"

	"github.com/norasector/txsweep/pkg/device"
)

var ErrEmptyCapture = errors.New("capture has no samples")

// IQSeries splits samples into in-phase and quadrature series indexed by sample number.
func IQSeries(samples []complex64) (i, q plotter.XYs) {
	i = make(plotter.XYs, len(samples))
	q = make(plotter.XYs, len(samples))
	for n, s := range samples {
		i[n] = plotter.XY{X: float64(n), Y: float64(real(s))}
		q[n] = plotter.XY{X: float64(n), Y: float64(imag(s))}
	}
	return i, q
}

// TimeDomainPNG renders the I and Q components of a capture against sample index.
func TimeDomainPNG(c *device.Capture, opts ...PlotOptions) ([]byte, error) {
	if c == nil || len(c.Samples) == 0 {
		return nil, ErrEmptyCapture
	}

	p := plotWithDefaults()
	p.Title.Text = "Received Signal"
	p.X.Label.Text = "Sample"
	p.Y.Label.Text = "Amplitude"

	for _, opt := range opts {
		opt(p)
	}

	i, q := IQSeries(c.Samples)
	if err := plotutil.AddLines(p, "I", i, "Q", q); err != nil {
		return nil, err
	}
	return renderPNG(p)
}
