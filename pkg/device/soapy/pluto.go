package soapy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/norasector/txsweep/pkg/device"
	"github.com/norasector/txsweep/pkg/util"
	"github.com/norasector/txsweep/pkg/waveform"
)

const (
	// The PlutoSDR module exposes TX gain as 0..89 dB; 89 is zero attenuation.
	maxTXGain = 89

	minSampleRate = 520834
	maxSampleRate = 61440000

	// Samples handed to the driver per write call.
	writeChunk = 1 << 16
)

// Variant selects the transceiver build the device is driven as.
type Variant string

const (
	VariantPluto  Variant = "pluto"
	VariantAD9361 Variant = "ad9361"
	VariantAD9364 Variant = "ad9364"
)

// loRange returns the tunable LO range of a variant. Stock Pluto firmware reports an
// AD9363 and tunes 325 MHz to 3.8 GHz; the AD9361/AD9364 personalities extend it.
func (v Variant) loRange() (low, high float64, err error) {
	switch v {
	case VariantPluto, "":
		return 325e6, 3.8e9, nil
	case VariantAD9361, VariantAD9364:
		return 70e6, 6e9, nil
	default:
		return 0, 0, fmt.Errorf("unknown device variant %q", v)
	}
}

// PlutoDevice drives an ADALM-Pluto through SoapySDR. Cyclic transmission is emulated
// by a feeder goroutine that rewrites the last buffer until it is replaced or stopped.
type PlutoDevice struct {
	mu sync.Mutex

	uri     string
	variant Variant
	fe      frontend
	tx      txStream
	active  bool
	cfg     *device.Config

	feederStop chan struct{}
	feederDone chan struct{}
	feederErr  error

	logger zerolog.Logger
}

func newPlutoDevice(fe frontend, uri string, variant Variant) *PlutoDevice {
	return &PlutoDevice{
		uri:     uri,
		variant: variant,
		fe:      fe,
		logger:  log.Logger.With().Str("device", "pluto").Str("uri", uri).Logger(),
	}
}

func (p *PlutoDevice) URI() string { return p.uri }

func (p *PlutoDevice) Configure(cfg device.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	low, high, err := p.variant.loRange()
	if err != nil {
		return &device.ConfigError{Param: "variant", Value: p.variant, Err: err}
	}
	if cfg.LOFreqHz < low || cfg.LOFreqHz > high {
		return &device.ConfigError{Param: "lo_frequency", Value: util.MHzToString(cfg.LOFreqHz)}
	}
	if cfg.SampleRateHz < minSampleRate || cfg.SampleRateHz > maxSampleRate {
		return &device.ConfigError{Param: "sample_rate", Value: cfg.SampleRateHz}
	}
	if cfg.GainDB < -maxTXGain || cfg.GainDB > 0 {
		return &device.ConfigError{Param: "gain_db", Value: cfg.GainDB}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fe == nil {
		return &device.ConfigError{Param: "device", Value: p.uri, Err: device.ErrNotConnected}
	}

	if err := p.fe.setSampleRate(cfg.SampleRateHz); err != nil {
		return &device.ConfigError{Param: "sample_rate", Value: cfg.SampleRateHz, Err: err}
	}
	if cfg.RFBandwidthHz > 0 {
		if err := p.fe.setBandwidth(cfg.RFBandwidthHz); err != nil {
			return &device.ConfigError{Param: "rf_bandwidth", Value: cfg.RFBandwidthHz, Err: err}
		}
	}
	if err := p.fe.setFrequency(cfg.LOFreqHz); err != nil {
		return &device.ConfigError{Param: "lo_frequency", Value: cfg.LOFreqHz, Err: err}
	}
	if err := p.fe.setGain(float64(maxTXGain + cfg.GainDB)); err != nil {
		return &device.ConfigError{Param: "gain_db", Value: cfg.GainDB, Err: err}
	}

	p.cfg = &cfg
	p.logger.Debug().
		Str("lo", util.MHzToString(cfg.LOFreqHz)).
		Int("gain_db", cfg.GainDB).
		Bool("cyclic", cfg.CyclicBuffer).
		Msg("configured")
	return nil
}

// Transmit writes buf once and, in cyclic mode, keeps repeating it in the background.
// Any cyclic transmission already running is replaced.
func (p *PlutoDevice) Transmit(ctx context.Context, buf waveform.SampleBuffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fe == nil {
		return device.TransmitError("transmit", device.ErrNotConnected)
	}
	if p.cfg == nil {
		return device.TransmitError("transmit", errors.New("transmit before configure"))
	}
	if err := p.stopFeeder(); err != nil {
		p.logger.Warn().Err(err).Msg("previous cyclic transmission failed")
	}

	if p.tx == nil {
		tx, err := p.fe.openTX()
		if err != nil {
			return device.TransmitError("setup stream", err)
		}
		p.tx = tx
	}
	if !p.active {
		if err := p.tx.activate(); err != nil {
			return device.TransmitError("activate stream", err)
		}
		p.active = true
	}

	samples := []complex64(buf)
	if err := writeAll(ctx, p.tx, samples); err != nil {
		return device.TransmitError("write", err)
	}

	if p.cfg.CyclicBuffer {
		p.startFeeder(samples)
	}
	return nil
}

func (p *PlutoDevice) startFeeder(samples []complex64) {
	stop := make(chan struct{})
	done := make(chan struct{})
	p.feederStop, p.feederDone, p.feederErr = stop, done, nil

	tx := p.tx
	go func() {
		defer close(done)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-stop:
				cancel()
			case <-ctx.Done():
			}
		}()

		for {
			if err := writeAll(ctx, tx, samples); err != nil {
				if ctx.Err() == nil {
					p.feederErr = err
				}
				return
			}
		}
	}()
}

// stopFeeder ends a cyclic transmission and returns the error it ended with. Callers hold p.mu.
func (p *PlutoDevice) stopFeeder() error {
	if p.feederStop == nil {
		return nil
	}
	close(p.feederStop)
	<-p.feederDone
	p.feederStop, p.feederDone = nil, nil
	err := p.feederErr
	p.feederErr = nil
	return err
}

func (p *PlutoDevice) StopTransmit() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	feederErr := p.stopFeeder()
	if p.tx != nil && p.active {
		p.active = false
		if err := p.tx.deactivate(); err != nil {
			return device.TransmitError("deactivate stream", err)
		}
	}
	if feederErr != nil {
		return device.TransmitError("cyclic write", feederErr)
	}
	return nil
}

// Receive captures numSamples on the RX path.
func (p *PlutoDevice) Receive(ctx context.Context, frequencyHz, sampleRateHz float64, numSamples int) (*device.Capture, error) {
	if err := device.ValidateCapture(sampleRateHz, numSamples); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fe == nil {
		return nil, device.ErrNotConnected
	}
	samples, err := p.fe.receive(ctx, frequencyHz, sampleRateHz, numSamples)
	if err != nil {
		return nil, err
	}
	return &device.Capture{
		FrequencyHz:  frequencyHz,
		SampleRateHz: sampleRateHz,
		Samples:      samples,
	}, nil
}

func (p *PlutoDevice) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fe == nil {
		return nil
	}

	var errs []error
	if err := p.stopFeeder(); err != nil {
		errs = append(errs, err)
	}
	if p.tx != nil {
		if p.active {
			if err := p.tx.deactivate(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := p.tx.close(); err != nil {
			errs = append(errs, err)
		}
		p.tx, p.active = nil, false
	}
	if err := p.fe.close(); err != nil {
		errs = append(errs, err)
	}
	p.fe = nil
	return errors.Join(errs...)
}

func writeAll(ctx context.Context, tx txStream, samples []complex64) error {
	for len(samples) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := samples
		if len(chunk) > writeChunk {
			chunk = chunk[:writeChunk]
		}
		n, err := tx.write(chunk)
		if err != nil {
			return err
		}
		if n <= 0 {
			return errors.New("driver accepted no samples")
		}
		samples = samples[n:]
	}
	return nil
}
