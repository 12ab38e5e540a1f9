package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samuel/go-hackrf/hackrf"
	"golang.org/x/sync/errgroup"

	"github.com/norasector/txsweep/pkg/config"
	"github.com/norasector/txsweep/pkg/device/soapy"
	"github.com/norasector/txsweep/pkg/display"
	"github.com/norasector/txsweep/pkg/session"
	"github.com/norasector/txsweep/pkg/util"
)

var cli struct {
	Verbose bool   `help:"Enable debug logging"`
	Config  string `help:"YAML config file" default:"txsweep.yaml" type:"path"`

	Run     struct{} `cmd:"" help:"Run the sweep of every configured channel"`
	Devices struct{} `cmd:"" help:"List the SoapySDR modules and devices"`

	Receive struct {
		Device     string   `help:"Receiver to capture from" default:"rtlsdr" enum:"rtlsdr,hackrf,soapy,file"`
		Frequency  float64  `help:"Center frequency in Hz" required:""`
		SampleRate float64  `help:"Sample rate in Hz" default:"2048000"`
		Samples    int      `help:"Samples per capture" default:"1024"`
		Index      int      `help:"RTL-SDR device index"`
		URI        []string `help:"Pluto URIs to try, in order"`
		File       string   `help:"CS16 capture to play back for the file receiver" type:"path"`
		Out        string   `help:"Directory the PNGs are written to" default:"." type:"path"`
		Serve      int      `help:"Serve a live display on this port instead of writing PNGs"`
	} `cmd:"" help:"Capture from a receiver and render the I/Q and spectrum plots"`
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)

	flags := kong.Parse(&cli,
		kong.Name("txsweep"),
		kong.Description("Drive SDR transmitters through power and frequency sweeps."))
	if cli.Verbose {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var err error
	switch flags.Command() {
	case "devices":
		soapy.LogModules(log.Logger)
	case "run":
		err = run(ctx)
	case "receive":
		err = receive(ctx)
	default:
		log.Fatal().Str("command", flags.Command()).Msg("command not recognized")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("exited program")
	}
}

// interruptible runs fn under an errgroup that is cancelled on SIGINT or SIGTERM.
func interruptible(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	eg.Go(func() error {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("stopping")
			return context.Canceled
		case <-ctx.Done():
			return nil
		}
	})

	eg.Go(func() error {
		defer cancel()
		return fn(ctx)
	})

	return eg.Wait()
}

func run(ctx context.Context) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	if usesHackRF(cfg) {
		if err := hackrf.Init(); err != nil {
			return fmt.Errorf("failed to initialize hackRF: %w", err)
		}
		defer hackrf.Exit()
	}

	var writeAPI api.WriteAPI = &util.MockWriteAPI{}
	if cfg.InfluxDB.Host != "" {
		client := influxdb2.NewClient(cfg.InfluxDB.Host, cfg.InfluxDB.Token)
		defer client.Close()
		writeAPI = client.WriteAPI(cfg.InfluxDB.Organization, cfg.InfluxDB.Bucket)
		defer writeAPI.Flush()
	}

	type job struct {
		s     *session.Session
		ch    config.Channel
		close func() error
	}
	var jobs []job
	defer func() {
		for _, j := range jobs {
			if err := j.close(); err != nil {
				log.Warn().Str("channel", j.ch.Name).Err(err).Msg("failed to close device")
			}
		}
	}()

	for _, ch := range cfg.Channels {
		log.Info().Str("channel", ch.Name).Str("device", ch.Device).Msg("initializing device...")
		dev, err := openTransmitter(ctx, ch)
		if err != nil {
			return err
		}

		opts := []session.SessionOption{
			session.WithName(ch.Name),
			session.WithLogger(log.Logger),
			session.WithInfluxDB(writeAPI),
		}
		if ch.SynthesisWindow > 0 {
			opts = append(opts, session.WithSynthesisWindow(ch.SynthesisWindow))
		}
		s, err := session.New(dev, ch.DeviceConfig(), opts...)
		if err != nil {
			dev.Close()
			return err
		}
		jobs = append(jobs, job{s: s, ch: ch, close: dev.Close})
	}

	return interruptible(ctx, func(ctx context.Context) error {
		group := session.NewGroup(ctx, cfg.FailFast)
		for _, j := range jobs {
			plan, err := j.ch.Plan()
			if err != nil {
				return err
			}
			shape, err := j.ch.Shape()
			if err != nil {
				return err
			}

			// Range plans are monotonic, so the ends bound every step.
			first, _ := plan.At(0)
			last, _ := plan.At(plan.Len() - 1)
			low, high := util.FrequencyRange(first.FrequencyHz, last.FrequencyHz)
			log.Info().
				Str("channel", j.s.Name()).
				Int("steps", plan.Len()).
				Bool("repeat", plan.Repeat()).
				Str("low", util.MHzToString(low)).
				Str("high", util.MHzToString(high)).
				Msg("sweep planned")

			group.Go(j.s, plan, shape)
		}

		if cfg.Display.Port > 0 {
			recv, err := openReceiver(ctx, cfg.Display.Device, cfg.Display.RTLSDRDeviceIndex, nil, "")
			if err != nil {
				log.Warn().Err(err).Msg("display disabled")
			} else {
				defer recv.Close()
				srv := display.NewServer(cfg.Display.Port, recv, display.Capture{
					FrequencyHz:  cfg.Display.Frequency,
					SampleRateHz: cfg.Display.SampleRate,
					NumSamples:   cfg.Display.NumSamples,
				}, cfg.Display.UpdateInterval)

				displayCtx, stopDisplay := context.WithCancel(ctx)
				defer stopDisplay()
				go func() {
					if err := srv.Run(displayCtx); err != nil {
						log.Error().Err(err).Msg("display server failed")
					}
				}()
			}
		}

		err := group.Wait()
		if err == nil {
			log.Info().Msg("all sweeps complete")
		}
		return err
	})
}

func receive(ctx context.Context) error {
	opts := cli.Receive
	if opts.Samples <= 0 {
		return fmt.Errorf("--samples must be positive, got %d", opts.Samples)
	}
	if opts.SampleRate <= 0 {
		return fmt.Errorf("--sample-rate must be positive, got %v", opts.SampleRate)
	}
	if opts.Device == "hackrf" {
		if err := hackrf.Init(); err != nil {
			return err
		}
		defer hackrf.Exit()
	}

	recv, err := openReceiver(ctx, opts.Device, opts.Index, opts.URI, opts.File)
	if err != nil {
		return err
	}
	defer recv.Close()

	if opts.Serve > 0 {
		srv := display.NewServer(opts.Serve, recv, display.Capture{
			FrequencyHz:  opts.Frequency,
			SampleRateHz: opts.SampleRate,
			NumSamples:   opts.Samples,
		}, display.DefaultUpdateInterval)
		return interruptible(ctx, srv.Run)
	}

	capture, err := recv.Receive(ctx, opts.Frequency, opts.SampleRate, opts.Samples)
	if err != nil {
		return err
	}
	paths, err := display.SaveCapture(opts.Out, capture)
	if err != nil {
		return err
	}
	log.Info().
		Str("freq", util.MHzToString(opts.Frequency)).
		Int("samples", len(capture.Samples)).
		Strs("files", paths).
		Msg("capture rendered")
	return nil
}
