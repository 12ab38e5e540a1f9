package soapy

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ErrNoDevice is returned when none of the candidate URIs yields a device.
var ErrNoDevice = errors.New("no device found on any candidate uri")

// DefaultURIs are the USB paths the bench Plutos enumerate on. Check with `iio_info -s`.
var DefaultURIs = []string{
	"usb:1.15.5", "usb:1.8.5", "usb:1.10.5", "usb:1.12.5", "usb:1.3.5",
	"usb:1.4.5", "usb:1.5.5", "usb:1.7.5",
}

var makeFrontend = makeSoapyFrontend

// deviceArgs returns the SoapySDR arguments for a URI. Every variant uses the PlutoSDR
// module; the variant only changes which LO range is accepted.
func deviceArgs(uri string) map[string]string {
	return map[string]string{
		"driver": "plutosdr",
		"uri":    uri,
	}
}

// Connect tries each candidate URI in order and returns the first device that opens.
// When every attempt fails the returned error wraps ErrNoDevice and each attempt's error.
func Connect(ctx context.Context, candidates []string, variant Variant) (*PlutoDevice, error) {
	if _, _, err := variant.loRange(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		candidates = DefaultURIs
	}

	errs := []error{ErrNoDevice}
	for _, uri := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fe, err := makeFrontend(deviceArgs(uri))
		if err != nil {
			log.Debug().Str("uri", uri).Err(err).Msg("no device, checking next uri")
			errs = append(errs, fmt.Errorf("%s: %w", uri, err))
			continue
		}

		log.Info().Str("uri", uri).Str("variant", string(variant)).Msg("connected")
		return newPlutoDevice(fe, uri, variant), nil
	}

	return nil, errors.Join(errs...)
}
