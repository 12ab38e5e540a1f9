package display

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/norasector/txsweep/pkg/device"
	"github.com/norasector/txsweep/pkg/util"
)

const (
	ImageTimeDomain = "iq"
	ImageSpectrum   = "spectrum"

	DefaultNumSamples     = 1024
	DefaultUpdateInterval = 500 * time.Millisecond
)

// Capture describes what the viewer asks the receiver for on each refresh.
type Capture struct {
	FrequencyHz  float64
	SampleRateHz float64
	NumSamples   int
}

// Render produces every image the viewer shows for one capture, keyed by image name.
func Render(c *device.Capture) (map[string][]byte, error) {
	iq, err := TimeDomainPNG(c)
	if err != nil {
		return nil, fmt.Errorf("time domain: %w", err)
	}
	spectrum, err := SpectrumPNG(c)
	if err != nil {
		return nil, fmt.Errorf("spectrum: %w", err)
	}
	return map[string][]byte{
		ImageTimeDomain: iq,
		ImageSpectrum:   spectrum,
	}, nil
}

// SaveCapture renders a capture and writes one PNG per image into dir.
func SaveCapture(dir string, c *device.Capture) ([]string, error) {
	images, err := Render(c)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(images))
	for name := range images {
		names = append(names, name)
	}
	sort.Strings(names)

	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name+".png")
		if err := os.WriteFile(path, images[name], 0o644); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Server periodically captures from a receiver and serves the latest plots.
type Server struct {
	receiver       device.Receiver
	capture        Capture
	updateInterval time.Duration

	mu      sync.RWMutex
	images  map[string][]byte
	updated time.Time

	srv    *http.Server
	logger zerolog.Logger
}

func NewServer(port int, receiver device.Receiver, capture Capture, updateInterval time.Duration) *Server {
	if capture.NumSamples <= 0 {
		capture.NumSamples = DefaultNumSamples
	}
	if updateInterval <= 0 {
		updateInterval = DefaultUpdateInterval
	}
	s := &Server{
		receiver:       receiver,
		capture:        capture,
		updateInterval: updateInterval,
		images:         make(map[string][]byte),
		srv:            &http.Server{Addr: fmt.Sprintf(":%d", port)},
		logger:         log.Logger.With().Str("component", "display").Logger(),
	}
	s.srv.Handler = s.Handler()
	return s
}

// Refresh takes one capture and replaces the served images.
func (s *Server) Refresh(ctx context.Context) error {
	c, err := s.receiver.Receive(ctx, s.capture.FrequencyHz, s.capture.SampleRateHz, s.capture.NumSamples)
	if err != nil {
		return err
	}
	images, err := Render(c)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.images = images
	s.updated = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *Server) Run(ctx context.Context) error {
	go func() {
		for {
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("refresh failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.updateInterval):
			}
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.srv.Addr).Msg("serving display")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Handler() http.Handler {
	handler := httprouter.New()

	handler.GET("/", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s.mu.RLock()
		updated := s.updated
		s.mu.RUnlock()

		w.Header().Add("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><head><title>txsweep</title>
		<script type="text/javascript">
			window.onload = function() {
				setInterval(function() {
					for (const img of document.getElementsByTagName('img')) {
						img.src = img.src.split("?")[0] + "?" + new Date().getTime();
					}
				}, %d);
			}
		</script></head>`, s.updateInterval.Milliseconds())
		fmt.Fprintf(w, `<body style='background-color: black; color: white'><p>%s, updated %s</p>`,
			s.capture.String(), updated.Format(time.RFC3339))
		w.Write([]byte(`<div style="display: flex; flex-direction: row; flex-wrap: wrap">`))
		for _, name := range []string{ImageTimeDomain, ImageSpectrum} {
			fmt.Fprintf(w, `<div><img src="/img/%s?%d" /></div>`, name, time.Now().UnixMicro())
		}
		w.Write([]byte(`</div></body></html>`))
	})

	handler.GET("/img/:img", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		s.mu.RLock()
		img, ok := s.images[params.ByName("img")]
		s.mu.RUnlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Add("Content-Type", "image/png")
		w.Write(img)
	})

	return handler
}

func (c Capture) String() string {
	return fmt.Sprintf("%s, %.3f MS/s, %d samples", util.MHzToString(c.FrequencyHz), c.SampleRateHz/1e6, c.NumSamples)
}
