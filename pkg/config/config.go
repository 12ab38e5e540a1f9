package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/norasector/txsweep/pkg/device"
	"github.com/norasector/txsweep/pkg/session"
	"github.com/norasector/txsweep/pkg/sweep"
	"github.com/norasector/txsweep/pkg/waveform"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	InfluxDB struct {
		Host         string `yaml:"host"`
		Token        string `yaml:"token"`
		Organization string `yaml:"organization"`
		Bucket       string `yaml:"bucket"`
	} `yaml:"influxdb"`
	Display  Display   `yaml:"display"`
	Channels []Channel `yaml:"channels"`
	// Stop every channel as soon as one fails.
	FailFast bool `yaml:"fail_fast"`
}

type Display struct {
	Port              int           `yaml:"port"`
	UpdateInterval    time.Duration `yaml:"update_interval"`
	Device            string        `yaml:"device"`
	RTLSDRDeviceIndex int           `yaml:"rtlsdr_device_index"`
	Frequency         float64       `yaml:"frequency"`
	SampleRate        float64       `yaml:"sample_rate"`
	NumSamples        int           `yaml:"num_samples"`
}

type Channel struct {
	Name string `yaml:"name"`

	Device  string   `yaml:"device"`
	Variant string   `yaml:"variant"`
	URIs    []string `yaml:"uris,flow"`
	File    string   `yaml:"file"`

	SampleRate      float64       `yaml:"sample_rate"`
	RFBandwidth     float64       `yaml:"rf_bandwidth"`
	CyclicBuffer    bool          `yaml:"cyclic_buffer"`
	SynthesisWindow time.Duration `yaml:"synthesis_window"`

	Waveform Waveform `yaml:"waveform"`
	Sweep    Sweep    `yaml:"sweep"`
}

const (
	DeviceSoapy  = "soapy"
	DeviceHackRF = "hackrf"
	DeviceFile   = "file"
	DeviceRTLSDR = "rtlsdr"

	WaveformTone     = "tone"
	WaveformChirp    = "chirp"
	WaveformStepTone = "step_tone"

	SweepPower     = "power"
	SweepFrequency = "frequency"
	SweepSingle    = "single"
)

type Waveform struct {
	Type      string  `yaml:"type"`
	Frequency float64 `yaml:"frequency"`
	Start     float64 `yaml:"start"`
	End       float64 `yaml:"end"`
}

// Sweep describes either a power sweep (Start/Stop/Step in dB at Frequency), a frequency
// sweep (Start/Stop/Step in Hz at Gain), or a single tone at Frequency and Gain.
type Sweep struct {
	Type      string        `yaml:"type"`
	Frequency float64       `yaml:"frequency"`
	Gain      int           `yaml:"gain"`
	Start     float64       `yaml:"start"`
	Stop      float64       `yaml:"stop"`
	Step      float64       `yaml:"step"`
	Hold      time.Duration `yaml:"hold"`
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return Parse(contents)
}

func Parse(contents []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(contents, &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every channel by building its plan, shape and device config.
func (c *Config) Validate() error {
	if len(c.Channels) == 0 {
		return fmt.Errorf("%w: no channels", ErrInvalidConfig)
	}
	var errs []error
	if err := c.Display.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("display: %w", err))
	}
	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		name := ch.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("channel %s: duplicate name", name))
		}
		seen[name] = true
		if err := ch.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validate checks the viewer settings. A zero port disables the viewer and skips
// everything but the interval; a zero interval means the server default.
func (d Display) Validate() error {
	if d.UpdateInterval < 0 {
		return fmt.Errorf("negative update interval %v", d.UpdateInterval)
	}
	if d.Port == 0 {
		return nil
	}
	if d.Port < 0 || d.Port > 65535 {
		return fmt.Errorf("invalid port %d", d.Port)
	}
	switch d.Device {
	case DeviceRTLSDR, DeviceHackRF, DeviceSoapy:
	default:
		return fmt.Errorf("unknown display device %q", d.Device)
	}
	if d.Frequency <= 0 {
		return fmt.Errorf("invalid frequency %v", d.Frequency)
	}
	if d.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %v", d.SampleRate)
	}
	if d.NumSamples < 0 {
		return fmt.Errorf("negative num_samples %d", d.NumSamples)
	}
	return nil
}

func (ch Channel) Validate() error {
	switch ch.Device {
	case DeviceSoapy, DeviceHackRF:
	case DeviceFile:
		if ch.File == "" {
			return errors.New("file device needs a file")
		}
	default:
		return fmt.Errorf("unknown device %q", ch.Device)
	}
	if ch.SynthesisWindow < 0 {
		return fmt.Errorf("negative synthesis window %v", ch.SynthesisWindow)
	}
	if err := ch.DeviceConfig().Validate(); err != nil {
		return err
	}
	if _, err := ch.Shape(); err != nil {
		return err
	}
	if _, err := ch.Plan(); err != nil {
		return err
	}
	return nil
}

// DeviceConfig returns the base radio configuration. LO and gain are placeholders the
// session overrides on every step.
func (ch Channel) DeviceConfig() device.Config {
	cfg := device.Config{
		SampleRateHz:  ch.SampleRate,
		RFBandwidthHz: ch.RFBandwidth,
		CyclicBuffer:  ch.CyclicBuffer,
	}
	if step := ch.firstStep(); step != nil {
		cfg.LOFreqHz = step.FrequencyHz
		cfg.GainDB = step.GainDB
	}
	return cfg
}

func (ch Channel) firstStep() *sweep.Step {
	plan, err := ch.Plan()
	if err != nil {
		return nil
	}
	step, ok := plan.At(0)
	if !ok {
		return nil
	}
	return &step
}

func (ch Channel) Shape() (session.Shape, error) {
	switch ch.Waveform.Type {
	case WaveformTone, "":
		return session.FixedShape(waveform.Tone{FrequencyHz: ch.Waveform.Frequency}), nil
	case WaveformChirp:
		return session.FixedShape(waveform.LinearChirp{
			StartFreqHz: ch.Waveform.Start,
			EndFreqHz:   ch.Waveform.End,
		}), nil
	case WaveformStepTone:
		return session.StepTone, nil
	default:
		return nil, fmt.Errorf("unknown waveform %q", ch.Waveform.Type)
	}
}

func (ch Channel) Plan() (*sweep.Plan, error) {
	s := ch.Sweep
	switch s.Type {
	case SweepPower:
		for _, v := range []float64{s.Start, s.Stop, s.Step} {
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("power sweep needs whole dB values, got %v", v)
			}
		}
		return sweep.PowerSweep(s.Frequency, int(s.Start), int(s.Stop), int(s.Step), s.Hold)
	case SweepFrequency:
		return sweep.FrequencySweep(s.Gain, s.Start, s.Stop, s.Step, s.Hold)
	case SweepSingle:
		return sweep.SingleTone(s.Frequency, s.Gain, s.Hold)
	default:
		return nil, fmt.Errorf("unknown sweep %q", s.Type)
	}
}
