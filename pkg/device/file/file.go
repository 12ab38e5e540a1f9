package file

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/norasector/txsweep/pkg/device"
	"github.com/norasector/txsweep/pkg/util"
	"github.com/norasector/txsweep/pkg/waveform"
)

// FullScale is the sample magnitude the Pluto DAC treats as full scale.
const FullScale = 1 << 14

var errNotConfigured = errors.New("transmit before configure")

// FileDevice records transmitted buffers as interleaved little-endian int16 I/Q and
// plays recordings back as received samples. It stands in for a radio during dry runs.
type FileDevice struct {
	mu sync.Mutex

	recordFile *os.File
	writer     *bufio.Writer

	playbackFile *os.File

	cfg     *device.Config
	written int
	logger  zerolog.Logger
}

// NewRecordingFileDevice creates (or truncates) recordLocation.
func NewRecordingFileDevice(recordLocation string) (*FileDevice, error) {
	f, err := os.Create(recordLocation)
	if err != nil {
		return nil, err
	}

	return &FileDevice{
		recordFile: f,
		writer:     bufio.NewWriter(f),
		logger:     log.Logger.With().Str("device", "file").Str("file", recordLocation).Logger(),
	}, nil
}

// NewPlaybackFileDevice opens a recording produced by a FileDevice (or a Pluto CS16 capture).
func NewPlaybackFileDevice(playbackLocation string) (*FileDevice, error) {
	f, err := os.Open(playbackLocation)
	if err != nil {
		return nil, err
	}

	return &FileDevice{
		playbackFile: f,
		logger:       log.Logger.With().Str("device", "file").Str("file", playbackLocation).Logger(),
	}, nil
}

func (f *FileDevice) Configure(cfg device.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	f.cfg = &cfg
	f.mu.Unlock()

	f.logger.Debug().
		Str("lo", util.MHzToString(cfg.LOFreqHz)).
		Int("gain_db", cfg.GainDB).
		Float64("sample_rate", cfg.SampleRateHz).
		Msg("configured")
	return nil
}

// Transmit appends buf to the recording. A cyclic buffer is recorded once.
func (f *FileDevice) Transmit(ctx context.Context, buf waveform.SampleBuffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writer == nil {
		return device.TransmitError("write", device.ErrNotConnected)
	}
	if f.cfg == nil {
		return device.TransmitError("write", errNotConfigured)
	}

	if err := WriteCS16(f.writer, buf, FullScale); err != nil {
		return device.TransmitError("write", err)
	}
	f.written += len(buf)
	return nil
}

func (f *FileDevice) StopTransmit() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.writer == nil {
		return nil
	}
	if err := f.writer.Flush(); err != nil {
		return device.TransmitError("flush", err)
	}
	return nil
}

// SamplesWritten returns the number of samples recorded so far.
func (f *FileDevice) SamplesWritten() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

// Receive reads the next numSamples from the playback file.
func (f *FileDevice) Receive(ctx context.Context, frequencyHz, sampleRateHz float64, numSamples int) (*device.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := device.ValidateCapture(sampleRateHz, numSamples); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.playbackFile == nil {
		return nil, device.ErrNotConnected
	}

	samples, err := ReadCS16(f.playbackFile, numSamples, FullScale)
	if err != nil {
		return nil, err
	}

	return &device.Capture{
		FrequencyHz:  frequencyHz,
		SampleRateHz: sampleRateHz,
		Samples:      samples,
	}, nil
}

func (f *FileDevice) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	if f.writer != nil {
		if err := f.writer.Flush(); err != nil {
			errs = append(errs, err)
		}
		if err := f.recordFile.Close(); err != nil {
			errs = append(errs, err)
		}
		f.writer = nil
	}
	if f.playbackFile != nil {
		if err := f.playbackFile.Close(); err != nil {
			errs = append(errs, err)
		}
		f.playbackFile = nil
	}
	return errors.Join(errs...)
}

// WriteCS16 encodes buf as interleaved int16 I/Q scaled by fullScale, clamping at the int16 range.
func WriteCS16(w io.Writer, buf waveform.SampleBuffer, fullScale float32) error {
	out := make([]int16, 2*len(buf))
	for i, s := range buf {
		out[2*i] = toInt16(real(s) * fullScale)
		out[2*i+1] = toInt16(imag(s) * fullScale)
	}
	return binary.Write(w, binary.LittleEndian, out)
}

// ReadCS16 decodes up to numSamples interleaved int16 I/Q samples, dividing by fullScale.
// A short final read returns the samples available; an empty read returns io.EOF.
func ReadCS16(r io.Reader, numSamples int, fullScale float32) ([]complex64, error) {
	raw := make([]byte, 4*numSamples)
	n, err := io.ReadFull(r, raw)
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
	case err != nil:
		return nil, err
	}

	count := n / 4
	ret := make([]complex64, count)
	for i := 0; i < count; i++ {
		re := int16(binary.LittleEndian.Uint16(raw[4*i:]))
		im := int16(binary.LittleEndian.Uint16(raw[4*i+2:]))
		ret[i] = complex(float32(re)/fullScale, float32(im)/fullScale)
	}
	if count == 0 {
		return nil, fmt.Errorf("short read of %d bytes: %w", n, io.EOF)
	}
	return ret, nil
}

func toInt16(v float32) int16 {
	r := math.Round(float64(v))
	if r > math.MaxInt16 {
		return math.MaxInt16
	}
	if r < math.MinInt16 {
		return math.MinInt16
	}
	return int16(r)
}
