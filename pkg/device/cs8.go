package device

import (
	"github.com/norasector/turbine-common/types"
)

// cs8FullScale maps int8 samples onto the unit circle.
const cs8FullScale = 128

// ComplexFromCS8 converts interleaved signed 8-bit I/Q (I first) into unit-scale samples.
// SegmentCS8Raw.ToComplex64 returns each pair as (Q, I) at raw int8 scale, so the
// components are swapped back and scaled here.
func ComplexFromCS8(data []byte, sampleRateHz, frequencyHz float64) []complex64 {
	seg := types.SegmentCS8Raw{
		SampleRate: int(sampleRateHz),
		Data:       data,
		Frequency:  int(frequencyHz),
	}
	raw := seg.ToComplex64().Data

	out := make([]complex64, len(raw))
	for i, s := range raw {
		out[i] = complex(imag(s)/cs8FullScale, real(s)/cs8FullScale)
	}
	return out
}

// ValidateCapture checks a receive request before any buffer is sized from it.
func ValidateCapture(sampleRateHz float64, numSamples int) error {
	if numSamples <= 0 {
		return &ConfigError{Param: "num_samples", Value: numSamples}
	}
	if sampleRateHz <= 0 {
		return &ConfigError{Param: "sample_rate", Value: sampleRateHz}
	}
	return nil
}
