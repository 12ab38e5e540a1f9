package soapy

import (
	"context"
	"fmt"

	sdrdevice "github.com/pothosware/go-soapy-sdr/pkg/device"
	"github.com/pothosware/go-soapy-sdr/pkg/modules"
	"github.com/pothosware/go-soapy-sdr/pkg/sdrlogger"
	"github.com/pothosware/go-soapy-sdr/pkg/version"
	"github.com/rs/zerolog"
)

const (
	channel        = 0
	writeTimeoutUs = 1000000
	readTimeoutUs  = 1000000
)

// frontend is the slice of the SoapySDR API the Pluto backend needs.
type frontend interface {
	setSampleRate(rate float64) error
	setBandwidth(bw float64) error
	setFrequency(freq float64) error
	setGain(gain float64) error
	openTX() (txStream, error)
	receive(ctx context.Context, freq, rate float64, n int) ([]complex64, error)
	close() error
}

type txStream interface {
	activate() error
	// write returns the number of samples the driver accepted.
	write(buf []complex64) (int, error)
	deactivate() error
	close() error
}

type soapyFrontend struct {
	dev *sdrdevice.SDRDevice
}

func makeSoapyFrontend(args map[string]string) (frontend, error) {
	dev, err := sdrdevice.Make(args)
	if err != nil {
		return nil, err
	}
	return &soapyFrontend{dev: dev}, nil
}

func (s *soapyFrontend) setSampleRate(rate float64) error {
	return s.dev.SetSampleRate(sdrdevice.DirectionTX, channel, rate)
}

func (s *soapyFrontend) setBandwidth(bw float64) error {
	return s.dev.SetBandwidth(sdrdevice.DirectionTX, channel, bw)
}

func (s *soapyFrontend) setFrequency(freq float64) error {
	return s.dev.SetFrequency(sdrdevice.DirectionTX, channel, freq, nil)
}

func (s *soapyFrontend) setGain(gain float64) error {
	return s.dev.SetGain(sdrdevice.DirectionTX, channel, gain)
}

func (s *soapyFrontend) openTX() (txStream, error) {
	stream, err := s.dev.SetupSDRStreamCF32(sdrdevice.DirectionTX, []uint{channel}, nil)
	if err != nil {
		return nil, err
	}
	return &soapyTXStream{stream: stream}, nil
}

func (s *soapyFrontend) receive(ctx context.Context, freq, rate float64, n int) ([]complex64, error) {
	if err := s.dev.SetSampleRate(sdrdevice.DirectionRX, channel, rate); err != nil {
		return nil, fmt.Errorf("set rx sample rate: %w", err)
	}
	if err := s.dev.SetFrequency(sdrdevice.DirectionRX, channel, freq, nil); err != nil {
		return nil, fmt.Errorf("set rx frequency: %w", err)
	}

	stream, err := s.dev.SetupSDRStreamCF32(sdrdevice.DirectionRX, []uint{channel}, nil)
	if err != nil {
		return nil, fmt.Errorf("setup rx stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Activate(0, 0, 0); err != nil {
		return nil, fmt.Errorf("activate rx stream: %w", err)
	}
	defer stream.Deactivate(0, 0)

	out := make([]complex64, 0, n)
	buffers := [][]complex64{make([]complex64, n)}
	flags := make([]int, 1)
	for len(out) < n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, numSamples, err := stream.Read(buffers, uint(n-len(out)), flags, readTimeoutUs)
		if err != nil {
			return nil, fmt.Errorf("read rx stream: %w", err)
		}
		out = append(out, buffers[0][:numSamples]...)
	}
	return out, nil
}

func (s *soapyFrontend) close() error {
	return s.dev.Unmake()
}

type soapyTXStream struct {
	stream *sdrdevice.SDRStreamCF32
}

func (t *soapyTXStream) activate() error {
	return t.stream.Activate(0, 0, 0)
}

func (t *soapyTXStream) write(buf []complex64) (int, error) {
	flags := make([]int, 1)
	n, err := t.stream.Write([][]complex64{buf}, uint(len(buf)), flags, 0, writeTimeoutUs)
	return int(n), err
}

func (t *soapyTXStream) deactivate() error {
	return t.stream.Deactivate(0, 0)
}

func (t *soapyTXStream) close() error {
	return t.stream.Close()
}

// LogModules reports the SoapySDR installation and every device it can enumerate.
func LogModules(logger zerolog.Logger) {
	logger.Info().
		Str("abi", version.GetABIVersion()).
		Str("api", version.GetAPIVersion()).
		Str("lib", version.GetLibVersion()).
		Str("root", modules.GetRootPath()).
		Msg("SoapySDR")

	for _, module := range modules.ListModules() {
		moduleVersion := modules.GetModuleVersion(module)
		if len(moduleVersion) == 0 {
			moduleVersion = "[None]"
		}
		logger.Info().Str("module", module).Str("version", moduleVersion).Msg("found SoapySDR module")
	}

	sdrlogger.SetLogLevel(sdrlogger.Error)

	devices := sdrdevice.Enumerate(nil)
	logger.Info().Int("count", len(devices)).Msg("enumerated devices")
	for idx, dev := range devices {
		ev := logger.Info().Int("index", idx)
		for k, v := range dev {
			ev = ev.Str(k, v)
		}
		ev.Msg("device")
	}
}
