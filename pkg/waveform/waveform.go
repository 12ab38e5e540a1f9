package waveform

import (
	"errors"
	"fmt"
	"math"
)

const (
	tau float64 = math.Pi * 2
)

// ErrInvalidParameter is returned when synthesis inputs cannot produce a buffer.
var ErrInvalidParameter = errors.New("invalid waveform parameter")

// SampleBuffer is a finite run of unit-scale complex baseband samples.
type SampleBuffer []complex64

// Spec describes the shape of a waveform. It is implemented by Tone and LinearChirp.
type Spec interface {
	// cycles returns the accumulated phase, in cycles, at time t of a waveform lasting duration.
	cycles(t, duration float64) float64
	String() string
}

// Tone is a continuous wave at a fixed baseband frequency.
type Tone struct {
	FrequencyHz float64
}

func (t Tone) cycles(at, _ float64) float64 {
	return t.FrequencyHz * at
}

func (t Tone) String() string {
	return fmt.Sprintf("tone(%.0f Hz)", t.FrequencyHz)
}

// LinearChirp sweeps its instantaneous frequency linearly from StartFreqHz to EndFreqHz
// over the length of the generated buffer.
type LinearChirp struct {
	StartFreqHz float64
	EndFreqHz   float64
}

func (c LinearChirp) cycles(at, duration float64) float64 {
	rate := (c.EndFreqHz - c.StartFreqHz) / duration
	return c.StartFreqHz*at + 0.5*rate*at*at
}

func (c LinearChirp) String() string {
	return fmt.Sprintf("chirp(%.0f Hz -> %.0f Hz)", c.StartFreqHz, c.EndFreqHz)
}

// Length returns the number of samples Generate produces for the given rate and duration.
func Length(sampleRateHz, durationS float64) (int, error) {
	if sampleRateHz <= 0 || math.IsNaN(sampleRateHz) || math.IsInf(sampleRateHz, 0) {
		return 0, fmt.Errorf("%w: sample rate %v must be positive", ErrInvalidParameter, sampleRateHz)
	}
	if durationS <= 0 || math.IsNaN(durationS) || math.IsInf(durationS, 0) {
		return 0, fmt.Errorf("%w: duration %v must be positive", ErrInvalidParameter, durationS)
	}
	return int(math.Round(sampleRateHz * durationS)), nil
}

// Generate synthesises spec at sampleRateHz for durationS seconds. Sample i is taken at
// t = i/sampleRateHz and has unit magnitude.
func Generate(spec Spec, sampleRateHz, durationS float64) (SampleBuffer, error) {
	if spec == nil {
		return nil, fmt.Errorf("%w: no waveform shape", ErrInvalidParameter)
	}
	n, err := Length(sampleRateHz, durationS)
	if err != nil {
		return nil, err
	}

	buf := make(SampleBuffer, n)
	for i := 0; i < n; i++ {
		t := float64(i) / sampleRateHz
		c := spec.cycles(t, durationS)
		// Only the fractional cycle matters; RF-scale frequencies lose precision otherwise.
		c -= math.Floor(c)

		sin, cos := math.Sincos(tau * c)
		buf[i] = complex(float32(cos), float32(sin))
	}

	return buf, nil
}

// Scale returns a copy of buf multiplied by amplitude. Radios such as the Pluto expect
// full-scale samples around ±2^14 rather than ±1.
func Scale(buf SampleBuffer, amplitude float32) SampleBuffer {
	ret := make(SampleBuffer, len(buf))
	a := complex(amplitude, 0)
	for i, s := range buf {
		ret[i] = s * a
	}
	return ret
}

// PeakMagnitude returns the largest sample magnitude in buf.
func PeakMagnitude(buf SampleBuffer) float64 {
	var peak float64
	for _, s := range buf {
		if m := math.Hypot(float64(real(s)), float64(imag(s))); m > peak {
			peak = m
		}
	}
	return peak
}
