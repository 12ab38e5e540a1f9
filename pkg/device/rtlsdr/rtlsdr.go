package rtlsdr

import (
	"context"
	"fmt"
	"sync"

	gsdr "github.com/jpoirier/gortlsdr"

	"github.com/norasector/txsweep/pkg/device"
)

const (
	maxSampleRate = 2.4e6

	// ReadSync wants multiples of 512 bytes.
	readChunk = 16 * 1024
)

type tuner interface {
	SetCenterFreq(freq int) error
	SetSampleRate(rate int) error
	ResetBuffer() error
	ReadSync(buf []uint8, length int) (int, error)
	Close() error
}

// RTLSDRDevice is a receive-only monitor used to look at what the transmitter emits.
type RTLSDRDevice struct {
	mu     sync.Mutex
	tuner  tuner
	closed bool
}

func NewRTLSDRDevice(deviceIdx int) (*RTLSDRDevice, error) {
	dev, err := gsdr.Open(deviceIdx)
	if err != nil {
		return nil, err
	}
	return &RTLSDRDevice{tuner: dev}, nil
}

func (r *RTLSDRDevice) MaxSampleRate() float64 {
	return maxSampleRate
}

// Receive tunes and reads numSamples synchronously.
func (r *RTLSDRDevice) Receive(ctx context.Context, frequencyHz, sampleRateHz float64, numSamples int) (*device.Capture, error) {
	if err := device.ValidateCapture(sampleRateHz, numSamples); err != nil {
		return nil, err
	}
	if sampleRateHz > maxSampleRate {
		return nil, &device.ConfigError{Param: "sample_rate", Value: sampleRateHz}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, device.ErrNotConnected
	}
	if err := r.tuner.SetCenterFreq(int(frequencyHz)); err != nil {
		return nil, fmt.Errorf("set center freq: %w", err)
	}
	if err := r.tuner.SetSampleRate(int(sampleRateHz)); err != nil {
		return nil, fmt.Errorf("set sample rate: %w", err)
	}
	if err := r.tuner.ResetBuffer(); err != nil {
		return nil, fmt.Errorf("reset buffer: %w", err)
	}

	out := make([]complex64, 0, numSamples)
	buf := make([]uint8, readChunk)
	for len(out) < numSamples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.tuner.ReadSync(buf, readChunk)
		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			return nil, fmt.Errorf("read: no samples after %d", len(out))
		}

		// The dongle emits unsigned bytes centred on 0x80.
		signed := make([]byte, n)
		for i := 0; i < n; i++ {
			signed[i] = buf[i] ^ 0x80
		}
		samples := device.ComplexFromCS8(signed, sampleRateHz, frequencyHz)

		remaining := numSamples - len(out)
		if remaining > len(samples) {
			remaining = len(samples)
		}
		out = append(out, samples[:remaining]...)
	}

	return &device.Capture{
		FrequencyHz:  frequencyHz,
		SampleRateHz: sampleRateHz,
		Samples:      out,
	}, nil
}

func (r *RTLSDRDevice) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.tuner.Close()
}
