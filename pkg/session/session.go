package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/norasector/txsweep/pkg/device"
	"github.com/norasector/txsweep/pkg/sweep"
	"github.com/norasector/txsweep/pkg/util"
	"github.com/norasector/txsweep/pkg/waveform"
)

const defaultSynthesisWindow = time.Second

// ErrRunning is returned when Run is called on a session that is already running.
var ErrRunning = errors.New("session already running")

type State int32

const (
	StateIdle State = iota
	StateConfiguring
	StateTransmitting
	StateHolding
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfiguring:
		return "configuring"
	case StateTransmitting:
		return "transmitting"
	case StateHolding:
		return "holding"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Shape picks the waveform transmitted for a step.
type Shape func(step sweep.Step) waveform.Spec

// FixedShape transmits spec on every step.
func FixedShape(spec waveform.Spec) Shape {
	return func(sweep.Step) waveform.Spec { return spec }
}

// StepTone synthesises a baseband tone at the step's own frequency. Frequencies above
// the sample rate alias.
func StepTone(step sweep.Step) waveform.Spec {
	return waveform.Tone{FrequencyHz: step.FrequencyHz}
}

// StepError reports the step at which a run halted.
type StepError struct {
	Index int
	Step  sweep.Step
	Op    string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s, %d dB): %s: %v", e.Index, util.MHzToString(e.Step.FrequencyHz), e.Step.GainDB, e.Op, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Session drives one device through a sweep plan.
type Session struct {
	name     string
	device   device.Device
	base     device.Config
	clock    Clock
	window   time.Duration
	logger   zerolog.Logger
	writeAPI api.WriteAPI

	state int32

	mu         sync.Mutex
	running    bool
	lastConfig *device.Config
}

type SessionOption func(s *Session) error

func WithLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) error {
		s.logger = logger
		return nil
	}
}

func WithInfluxDB(writeAPI api.WriteAPI) SessionOption {
	return func(s *Session) error {
		s.writeAPI = writeAPI
		return nil
	}
}

func WithClock(clock Clock) SessionOption {
	return func(s *Session) error {
		if clock == nil {
			return errors.New("nil clock")
		}
		s.clock = clock
		return nil
	}
}

func WithName(name string) SessionOption {
	return func(s *Session) error {
		s.name = name
		return nil
	}
}

// WithSynthesisWindow sets the length of the buffer generated for each step.
func WithSynthesisWindow(window time.Duration) SessionOption {
	return func(s *Session) error {
		if window <= 0 {
			return fmt.Errorf("synthesis window %s must be positive", window)
		}
		s.window = window
		return nil
	}
}

// New binds a session to dev. base supplies sample rate, bandwidth and cyclic mode;
// each step overrides the LO frequency and gain.
func New(dev device.Device, base device.Config, opts ...SessionOption) (*Session, error) {
	if dev == nil {
		return nil, device.ErrNotConnected
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		name:     "session",
		device:   dev,
		base:     base,
		clock:    WallClock(),
		window:   defaultSynthesisWindow,
		logger:   log.Logger,
		writeAPI: &util.MockWriteAPI{}, // overwritten with option
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With().Str("session", s.name).Logger()

	return s, nil
}

func (s *Session) Name() string { return s.name }

func (s *Session) State() State {
	return State(atomic.LoadInt32(&s.state))
}

func (s *Session) setState(state State) {
	atomic.StoreInt32(&s.state, int32(state))
}

// LastConfig returns the configuration most recently accepted by the device.
func (s *Session) LastConfig() (device.Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastConfig == nil {
		return device.Config{}, false
	}
	return *s.lastConfig, true
}

// Run executes plan until it is exhausted, a device call fails, or ctx is done.
// Cancellation returns ctx.Err(); device failures return a *StepError.
func (s *Session) Run(ctx context.Context, plan *sweep.Plan, shape Shape) error {
	if plan == nil || shape == nil {
		return errors.New("session needs a plan and a waveform shape")
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunning
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.setState(StateStopped)
	}()

	r := &run{Session: s, plan: plan, shape: shape}
	return r.loop(ctx)
}

type run struct {
	*Session
	plan         *sweep.Plan
	shape        Shape
	transmitting bool
}

func (r *run) loop(ctx context.Context) error {
	r.logger.Info().
		Int("steps", r.plan.Len()).
		Bool("repeat", r.plan.Repeat()).
		Bool("cyclic", r.base.CyclicBuffer).
		Msg("starting sweep")

	for {
		if err := ctx.Err(); err != nil {
			r.stopTransmit("cancelled")
			return err
		}

		step, ok := r.plan.Next()
		if !ok {
			r.stopTransmit("plan complete")
			r.logger.Info().Int("steps", r.plan.Index()).Msg("sweep complete")
			return nil
		}

		if err := r.step(ctx, r.plan.Index()-1, step); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				r.stopTransmit("cancelled")
				return ctxErr
			}
			r.stopTransmit("step failed")
			return err
		}
	}
}

func (r *run) step(ctx context.Context, index int, step sweep.Step) error {
	start := r.clock.Now()

	r.setState(StateConfiguring)
	cfg := r.base
	cfg.LOFreqHz = step.FrequencyHz
	cfg.GainDB = step.GainDB

	configureUs, err := util.TimeOperationMicroseconds(func() error {
		return r.device.Configure(cfg)
	})
	if err != nil {
		if !errors.Is(err, device.ErrConfig) {
			err = &device.ConfigError{Param: "config", Value: cfg, Err: err}
		}
		return &StepError{Index: index, Step: step, Op: "configure", Err: err}
	}
	r.mu.Lock()
	r.lastConfig = &cfg
	r.mu.Unlock()

	r.setState(StateTransmitting)
	spec := r.shape(step)
	buf, err := waveform.Generate(spec, cfg.SampleRateHz, r.window.Seconds())
	if err != nil {
		return &StepError{Index: index, Step: step, Op: "generate", Err: err}
	}

	r.transmitting = true
	transmitUs, err := util.TimeOperationMicroseconds(func() error {
		return r.device.Transmit(ctx, buf)
	})
	if err != nil {
		if !errors.Is(err, device.ErrTransmit) {
			err = device.TransmitError("transmit", err)
		}
		return &StepError{Index: index, Step: step, Op: "transmit", Err: err}
	}

	r.logger.Info().
		Int("step", index).
		Str("lo", util.MHzToString(step.FrequencyHz)).
		Int("gain_db", step.GainDB).
		Str("waveform", spec.String()).
		Dur("hold", step.HoldDuration).
		Msg("transmitting")

	r.setState(StateHolding)
	if err := r.clock.Sleep(ctx, step.HoldDuration); err != nil {
		return err
	}

	r.writeAPI.WritePoint(influxdb2.NewPoint("sweep.step",
		map[string]string{
			"session":   r.name,
			"frequency": util.MHzToString(step.FrequencyHz),
		},
		map[string]interface{}{
			"step":         index,
			"gain_db":      step.GainDB,
			"samples":      len(buf),
			"configure_us": configureUs,
			"transmit_us":  transmitUs,
			"hold_ms":      step.HoldDuration.Milliseconds(),
		}, start))

	return nil
}

// stopTransmit halts the device best-effort; the caller is already returning.
func (r *run) stopTransmit(reason string) {
	if !r.transmitting {
		return
	}
	r.transmitting = false
	if err := r.device.StopTransmit(); err != nil {
		r.logger.Warn().Err(err).Str("reason", reason).Msg("failed to stop transmitter")
		return
	}
	r.logger.Debug().Str("reason", reason).Msg("transmitter stopped")
}
