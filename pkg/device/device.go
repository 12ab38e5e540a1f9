package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/norasector/txsweep/pkg/waveform"
)

var (
	// ErrConfig is wrapped by every error a device returns when it rejects a configuration.
	ErrConfig = errors.New("device rejected configuration")
	// ErrTransmit is wrapped by every error a device returns from a transmit or stop call.
	ErrTransmit = errors.New("device transmit failed")
	// ErrNotConnected is returned by calls on a closed or never-opened device.
	ErrNotConnected = errors.New("device not connected")
)

// Config is the complete transmit configuration applied to a device before each buffer.
type Config struct {
	SampleRateHz  float64
	RFBandwidthHz float64
	LOFreqHz      float64
	GainDB        int
	// CyclicBuffer makes the device repeat the last submitted buffer until it is replaced
	// or StopTransmit is called. Without it transmission ends when the buffer runs out.
	CyclicBuffer bool
}

// Validate checks the fields every backend requires. Range checks against hardware
// limits are left to the backend.
func (c Config) Validate() error {
	if c.SampleRateHz <= 0 {
		return &ConfigError{Param: "sample_rate", Value: c.SampleRateHz}
	}
	if c.RFBandwidthHz < 0 {
		return &ConfigError{Param: "rf_bandwidth", Value: c.RFBandwidthHz}
	}
	if c.LOFreqHz < 0 {
		return &ConfigError{Param: "lo_frequency", Value: c.LOFreqHz}
	}
	return nil
}

// ConfigError names a configuration parameter a device refused.
type ConfigError struct {
	Param string
	Value interface{}
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s=%v: %v", ErrConfig, e.Param, e.Value, e.Err)
	}
	return fmt.Sprintf("%s: %s=%v out of range", ErrConfig, e.Param, e.Value)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// TransmitError wraps a failure reported by the transmit path of a device.
func TransmitError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransmit, op, err)
}

// Device is a transmit-capable radio owned by a single session.
type Device interface {
	// Configure applies cfg atomically. It must be safe to call before every transmit.
	Configure(cfg Config) error
	// Transmit hands buf to the hardware and returns once it has been accepted.
	Transmit(ctx context.Context, buf waveform.SampleBuffer) error
	// StopTransmit halts an active (typically cyclic) transmission.
	StopTransmit() error
}

// Capture is one buffer of received samples.
type Capture struct {
	FrequencyHz  float64
	SampleRateHz float64
	Samples      []complex64
}

// Receiver is implemented by devices that can capture samples for display.
type Receiver interface {
	Receive(ctx context.Context, frequencyHz, sampleRateHz float64, numSamples int) (*Capture, error)
}
