package soapy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/norasector/txsweep/pkg/device"
	"github.com/norasector/txsweep/pkg/waveform"
)

type fakeFrontend struct {
	mu sync.Mutex

	sampleRate, bandwidth, frequency, gain float64
	gainErr                                error
	tx                                     *fakeTX
	closed                                 bool
}

func (f *fakeFrontend) setSampleRate(rate float64) error { f.sampleRate = rate; return nil }
func (f *fakeFrontend) setBandwidth(bw float64) error    { f.bandwidth = bw; return nil }
func (f *fakeFrontend) setFrequency(freq float64) error  { f.frequency = freq; return nil }
func (f *fakeFrontend) setGain(gain float64) error {
	if f.gainErr != nil {
		return f.gainErr
	}
	f.gain = gain
	return nil
}

func (f *fakeFrontend) openTX() (txStream, error) {
	f.tx = &fakeTX{}
	return f.tx, nil
}

func (f *fakeFrontend) receive(_ context.Context, _, _ float64, n int) ([]complex64, error) {
	return make([]complex64, n), nil
}

func (f *fakeFrontend) close() error {
	f.closed = true
	return nil
}

type fakeTX struct {
	mu          sync.Mutex
	written     int
	writes      int
	active      bool
	activations int
}

func (t *fakeTX) activate() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = true
	t.activations++
	return nil
}

func (t *fakeTX) write(buf []complex64) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Accept at most 1000 samples per call like a driver with a small MTU.
	n := len(buf)
	if n > 1000 {
		n = 1000
	}
	t.written += n
	t.writes++
	return n, nil
}

func (t *fakeTX) deactivate() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = false
	return nil
}

func (t *fakeTX) close() error { return nil }

func (t *fakeTX) samplesWritten() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written
}

func withFrontends(t *testing.T, results map[string]frontend) *[]string {
	t.Helper()
	var tried []string
	orig := makeFrontend
	makeFrontend = func(args map[string]string) (frontend, error) {
		tried = append(tried, args["uri"])
		if args["driver"] != "plutosdr" {
			t.Errorf("driver = %q, want plutosdr", args["driver"])
		}
		if fe, ok := results[args["uri"]]; ok {
			return fe, nil
		}
		return nil, errors.New("no such device")
	}
	t.Cleanup(func() { makeFrontend = orig })
	return &tried
}

var plutoConfig = device.Config{
	SampleRateHz:  10e6,
	RFBandwidthHz: 10e6,
	LOFreqHz:      1575e6,
	GainDB:        -10,
}

func TestConnectTriesCandidatesInOrder(t *testing.T) {
	fe := &fakeFrontend{}
	tried := withFrontends(t, map[string]frontend{"usb:1.10.5": fe})

	dev, err := Connect(context.Background(), []string{"usb:1.15.5", "usb:1.8.5", "usb:1.10.5", "usb:1.12.5"}, VariantAD9364)
	if err != nil {
		t.Fatal(err)
	}
	if dev.URI() != "usb:1.10.5" {
		t.Errorf("URI() = %q", dev.URI())
	}
	if len(*tried) != 3 {
		t.Errorf("tried %v, want 3 attempts", *tried)
	}
}

func TestConnectNoDevice(t *testing.T) {
	tried := withFrontends(t, nil)

	_, err := Connect(context.Background(), nil, VariantPluto)
	if !errors.Is(err, ErrNoDevice) {
		t.Fatalf("Connect() err = %v, want ErrNoDevice", err)
	}
	if len(*tried) != len(DefaultURIs) {
		t.Errorf("tried %d uris, want %d", len(*tried), len(DefaultURIs))
	}

	if _, err := Connect(context.Background(), nil, Variant("ad9999")); err == nil || errors.Is(err, ErrNoDevice) {
		t.Errorf("unknown variant err = %v", err)
	}
}

func TestConfigure(t *testing.T) {
	tests := []struct {
		name    string
		variant Variant
		mutate  func(c *device.Config)
		wantErr bool
	}{
		{"valid", VariantPluto, func(c *device.Config) {}, false},
		{"below pluto range", VariantPluto, func(c *device.Config) { c.LOFreqHz = 70e6 }, true},
		{"ad9364 extended range", VariantAD9364, func(c *device.Config) { c.LOFreqHz = 70e6 }, false},
		{"above ad9361 range", VariantAD9361, func(c *device.Config) { c.LOFreqHz = 6.5e9 }, true},
		{"positive gain", VariantPluto, func(c *device.Config) { c.GainDB = 5 }, true},
		{"gain floor", VariantPluto, func(c *device.Config) { c.GainDB = -89 }, false},
		{"below gain floor", VariantPluto, func(c *device.Config) { c.GainDB = -90 }, true},
		{"sample rate too low", VariantPluto, func(c *device.Config) { c.SampleRateHz = 100e3 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := &fakeFrontend{}
			dev := newPlutoDevice(fe, "usb:1.7.5", tt.variant)
			cfg := plutoConfig
			tt.mutate(&cfg)

			err := dev.Configure(cfg)
			if tt.wantErr {
				if !errors.Is(err, device.ErrConfig) {
					t.Errorf("Configure() err = %v, want ErrConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Configure() err = %v", err)
			}
			if fe.frequency != cfg.LOFreqHz || fe.sampleRate != cfg.SampleRateHz || fe.bandwidth != cfg.RFBandwidthHz {
				t.Errorf("frontend = %+v, config = %+v", fe, cfg)
			}
			if fe.gain != float64(maxTXGain+cfg.GainDB) {
				t.Errorf("gain = %v, want %v", fe.gain, maxTXGain+cfg.GainDB)
			}
		})
	}
}

func TestConfigureDriverError(t *testing.T) {
	fe := &fakeFrontend{gainErr: errors.New("attribute write failed")}
	dev := newPlutoDevice(fe, "usb:1.7.5", VariantPluto)

	err := dev.Configure(plutoConfig)
	var cfgErr *device.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Param != "gain_db" {
		t.Fatalf("Configure() err = %v, want gain_db ConfigError", err)
	}
	if !errors.Is(err, device.ErrConfig) {
		t.Errorf("err %v does not match ErrConfig", err)
	}
}

func TestTransmitOneShot(t *testing.T) {
	fe := &fakeFrontend{}
	dev := newPlutoDevice(fe, "usb:1.7.5", VariantPluto)

	buf := make(waveform.SampleBuffer, 4500)
	if err := dev.Transmit(context.Background(), buf); !errors.Is(err, device.ErrTransmit) {
		t.Errorf("Transmit() before Configure() err = %v", err)
	}
	if err := dev.Configure(plutoConfig); err != nil {
		t.Fatal(err)
	}
	if err := dev.Transmit(context.Background(), buf); err != nil {
		t.Fatal(err)
	}
	if got := fe.tx.samplesWritten(); got != len(buf) {
		t.Errorf("samples written = %d, want %d", got, len(buf))
	}
	if fe.tx.writes != 5 {
		t.Errorf("write calls = %d, want 5", fe.tx.writes)
	}
	if err := dev.StopTransmit(); err != nil {
		t.Fatal(err)
	}
	if fe.tx.active {
		t.Error("stream still active after StopTransmit()")
	}
	if err := dev.Close(); err != nil {
		t.Fatal(err)
	}
	if !fe.closed {
		t.Error("frontend not closed")
	}
	if err := dev.Configure(plutoConfig); !errors.Is(err, device.ErrNotConnected) {
		t.Errorf("Configure() after Close() err = %v", err)
	}
}

func TestTransmitCyclic(t *testing.T) {
	fe := &fakeFrontend{}
	dev := newPlutoDevice(fe, "usb:1.7.5", VariantPluto)

	cfg := plutoConfig
	cfg.CyclicBuffer = true
	if err := dev.Configure(cfg); err != nil {
		t.Fatal(err)
	}

	buf := make(waveform.SampleBuffer, 2000)
	if err := dev.Transmit(context.Background(), buf); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for fe.tx.samplesWritten() < 5*len(buf) {
		if time.Now().After(deadline) {
			t.Fatalf("cyclic feeder wrote only %d samples", fe.tx.samplesWritten())
		}
		time.Sleep(time.Millisecond)
	}

	// Replacing the buffer restarts the feeder rather than stacking a second one.
	if err := dev.Transmit(context.Background(), buf); err != nil {
		t.Fatal(err)
	}
	if fe.tx.activations != 1 {
		t.Errorf("activations = %d, want 1", fe.tx.activations)
	}

	if err := dev.StopTransmit(); err != nil {
		t.Fatal(err)
	}
	stopped := fe.tx.samplesWritten()
	time.Sleep(10 * time.Millisecond)
	if got := fe.tx.samplesWritten(); got != stopped {
		t.Errorf("feeder kept writing after StopTransmit(): %d -> %d", stopped, got)
	}
}

func TestReceive(t *testing.T) {
	dev := newPlutoDevice(&fakeFrontend{}, "usb:1.7.5", VariantPluto)
	capture, err := dev.Receive(context.Background(), 1090e6, 20e6, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if len(capture.Samples) != 1024 || capture.SampleRateHz != 20e6 {
		t.Errorf("capture = %d samples at %v", len(capture.Samples), capture.SampleRateHz)
	}
}

func TestReceiveRejectsBadRequest(t *testing.T) {
	dev := newPlutoDevice(&fakeFrontend{}, "usb:1.7.5", VariantPluto)
	if _, err := dev.Receive(context.Background(), 1090e6, 20e6, -1); !errors.Is(err, device.ErrConfig) {
		t.Errorf("Receive() negative samples err = %v, want ErrConfig", err)
	}
	if _, err := dev.Receive(context.Background(), 1090e6, 0, 16); !errors.Is(err, device.ErrConfig) {
		t.Errorf("Receive() zero rate err = %v, want ErrConfig", err)
	}
}
