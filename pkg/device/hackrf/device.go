package hackrf

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samuel/go-hackrf/hackrf"

	"github.com/norasector/txsweep/pkg/device"
	"github.com/norasector/txsweep/pkg/util"
	"github.com/norasector/txsweep/pkg/waveform"
)

const (
	maxSampleRate = 20e6
	minSampleRate = 2e6

	// TX VGA gain runs 0..47 dB; gain_db 0 maps to the top of the range.
	maxTXVGAGain = 47

	minFrequency = 1e6
	maxFrequency = 6e9
)

// radio is the part of a HackRF handle the backend drives.
type radio interface {
	SetFreq(freqHz uint64) error
	SetSampleRateManual(freqHz, divider int) error
	SetBasebandFilterBandwidth(hz int) error
	SetTXVGAGain(gain int) error
	SetLNAGain(gain int) error
	SetAmpEnable(enable bool) error
	StartTX(cb func(buf []byte) error) error
	StopTX() error
	StartRX(cb func(buf []byte) error) error
	StopRX() error
	Close() error
}

type hackrfRadio struct {
	dev *hackrf.Device
}

func (h *hackrfRadio) SetFreq(freqHz uint64) error { return h.dev.SetFreq(freqHz) }
func (h *hackrfRadio) SetSampleRateManual(freqHz, divider int) error {
	return h.dev.SetSampleRateManual(freqHz, divider)
}
func (h *hackrfRadio) SetBasebandFilterBandwidth(hz int) error {
	return h.dev.SetBasebandFilterBandwidth(hz)
}
func (h *hackrfRadio) SetTXVGAGain(gain int) error    { return h.dev.SetTXVGAGain(gain) }
func (h *hackrfRadio) SetLNAGain(gain int) error      { return h.dev.SetLNAGain(gain) }
func (h *hackrfRadio) SetAmpEnable(enable bool) error { return h.dev.SetAmpEnable(enable) }
func (h *hackrfRadio) StartTX(cb func(buf []byte) error) error {
	return h.dev.StartTX(func(buf []byte) error { return cb(buf) })
}
func (h *hackrfRadio) StopTX() error { return h.dev.StopTX() }
func (h *hackrfRadio) StartRX(cb func(buf []byte) error) error {
	return h.dev.StartRX(func(buf []byte) error { return cb(buf) })
}
func (h *hackrfRadio) StopRX() error { return h.dev.StopRX() }
func (h *hackrfRadio) Close() error  { return h.dev.Close() }

// HackRFDevice transmits through a HackRF One. The driver pulls samples through a
// callback, so cyclic mode simply rewinds the current buffer when it runs out.
type HackRFDevice struct {
	radio radio

	mu        sync.Mutex
	cfg       *device.Config
	samples   []byte
	pos       int
	cyclic    bool
	streaming bool

	logger zerolog.Logger
}

// NewHackRFDevice opens the first HackRF. hackrf.Init must have been called.
func NewHackRFDevice() (*HackRFDevice, error) {
	dev, err := hackrf.Open()
	if err != nil {
		return nil, err
	}

	return newHackRFDevice(&hackrfRadio{dev: dev}), nil
}

func newHackRFDevice(r radio) *HackRFDevice {
	return &HackRFDevice{
		radio:  r,
		logger: log.Logger.With().Str("device", "hackrf").Logger(),
	}
}

func (h *HackRFDevice) Configure(cfg device.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.SampleRateHz < minSampleRate || cfg.SampleRateHz > maxSampleRate {
		return &device.ConfigError{Param: "sample_rate", Value: cfg.SampleRateHz}
	}
	if cfg.LOFreqHz < minFrequency || cfg.LOFreqHz > maxFrequency {
		return &device.ConfigError{Param: "lo_frequency", Value: util.MHzToString(cfg.LOFreqHz)}
	}
	if cfg.GainDB < -maxTXVGAGain || cfg.GainDB > 0 {
		return &device.ConfigError{Param: "gain_db", Value: cfg.GainDB}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := setSampleRate(h.radio, cfg.SampleRateHz); err != nil {
		return &device.ConfigError{Param: "sample_rate", Value: cfg.SampleRateHz, Err: err}
	}
	bw := cfg.RFBandwidthHz
	if bw == 0 {
		bw = cfg.SampleRateHz
	}
	if err := h.radio.SetBasebandFilterBandwidth(int(bw)); err != nil {
		return &device.ConfigError{Param: "rf_bandwidth", Value: bw, Err: err}
	}
	if err := h.radio.SetFreq(uint64(cfg.LOFreqHz)); err != nil {
		return &device.ConfigError{Param: "lo_frequency", Value: cfg.LOFreqHz, Err: err}
	}
	if err := h.radio.SetTXVGAGain(maxTXVGAGain + cfg.GainDB); err != nil {
		return &device.ConfigError{Param: "gain_db", Value: cfg.GainDB, Err: err}
	}
	if err := h.radio.SetAmpEnable(false); err != nil {
		return &device.ConfigError{Param: "amp", Value: false, Err: err}
	}

	h.cfg = &cfg
	h.cyclic = cfg.CyclicBuffer
	h.logger.Debug().
		Str("lo", util.MHzToString(cfg.LOFreqHz)).
		Int("gain_db", cfg.GainDB).
		Msg("configured")
	return nil
}

// Transmit replaces the buffer the TX callback reads from and starts streaming if needed.
func (h *HackRFDevice) Transmit(ctx context.Context, buf waveform.SampleBuffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cfg == nil {
		return device.TransmitError("transmit", errors.New("transmit before configure"))
	}

	h.samples = ToCS8(buf)
	h.pos = 0

	if !h.streaming {
		if err := h.radio.StartTX(h.callback); err != nil {
			return device.TransmitError("start tx", err)
		}
		h.streaming = true
	}
	return nil
}

func (h *HackRFDevice) callback(buf []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for n < len(buf) {
		if h.pos >= len(h.samples) {
			if !h.cyclic || len(h.samples) == 0 {
				break
			}
			h.pos = 0
		}
		c := copy(buf[n:], h.samples[h.pos:])
		n += c
		h.pos += c
	}
	// Silence once a one-shot buffer is exhausted.
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

func (h *HackRFDevice) StopTransmit() error {
	h.mu.Lock()
	streaming := h.streaming
	h.streaming = false
	h.samples = nil
	h.pos = 0
	h.mu.Unlock()

	if !streaming {
		return nil
	}
	if err := h.radio.StopTX(); err != nil {
		return device.TransmitError("stop tx", err)
	}
	return nil
}

// ErrTransmitting is returned by Receive while the TX path is streaming.
var ErrTransmitting = errors.New("hackrf is transmitting")

// Receive captures numSamples from the RX path. The radio is half duplex, so a capture
// is refused while a transmission is streaming.
func (h *HackRFDevice) Receive(ctx context.Context, frequencyHz, sampleRateHz float64, numSamples int) (*device.Capture, error) {
	if err := device.ValidateCapture(sampleRateHz, numSamples); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.streaming {
		return nil, ErrTransmitting
	}
	// The next Transmit must retune for TX.
	h.cfg = nil

	if err := setSampleRate(h.radio, sampleRateHz); err != nil {
		return nil, err
	}
	if err := h.radio.SetBasebandFilterBandwidth(int(sampleRateHz)); err != nil {
		return nil, err
	}
	if err := h.radio.SetFreq(uint64(frequencyHz)); err != nil {
		return nil, err
	}
	if err := h.radio.SetLNAGain(16); err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		out  = make([]complex64, 0, numSamples)
		once sync.Once
	)
	done := make(chan struct{})

	err := h.radio.StartRX(func(buf []byte) error {
		data := make([]byte, len(buf))
		copy(data, buf)
		samples := device.ComplexFromCS8(data, sampleRateHz, frequencyHz)

		mu.Lock()
		defer mu.Unlock()
		remaining := numSamples - len(out)
		if remaining <= 0 {
			return nil
		}
		if remaining > len(samples) {
			remaining = len(samples)
		}
		out = append(out, samples[:remaining]...)
		if len(out) >= numSamples {
			once.Do(func() { close(done) })
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-done:
	}
	if stopErr := h.radio.StopRX(); stopErr != nil && err == nil {
		err = stopErr
	}
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	return &device.Capture{
		FrequencyHz:  frequencyHz,
		SampleRateHz: sampleRateHz,
		Samples:      out,
	}, nil
}

func (h *HackRFDevice) Close() error {
	if err := h.StopTransmit(); err != nil {
		h.logger.Warn().Err(err).Msg("stop on close")
	}
	return h.radio.Close()
}

// setSampleRate programs the rate with a divider of two, which keeps fractional
// rates exact to half a hertz.
func setSampleRate(r radio, rateHz float64) error {
	return r.SetSampleRateManual(int(math.Round(rateHz*2)), 2)
}

// ToCS8 converts unit-scale samples to the interleaved int8 I/Q the HackRF streams.
func ToCS8(buf waveform.SampleBuffer) []byte {
	out := make([]byte, 2*len(buf))
	for i, s := range buf {
		out[2*i] = byte(toInt8(real(s)))
		out[2*i+1] = byte(toInt8(imag(s)))
	}
	return out
}

func toInt8(v float32) int8 {
	r := math.Round(float64(v) * 127)
	if r > 127 {
		return 127
	}
	if r < -128 {
		return -128
	}
	return int8(r)
}
