package main

import (
	"context"
	"fmt"

	"github.com/norasector/txsweep/pkg/config"
	"github.com/norasector/txsweep/pkg/device"
	"github.com/norasector/txsweep/pkg/device/file"
	hackrfDevice "github.com/norasector/txsweep/pkg/device/hackrf"
	"github.com/norasector/txsweep/pkg/device/rtlsdr"
	"github.com/norasector/txsweep/pkg/device/soapy"
)

type transmitter interface {
	device.Device
	Close() error
}

type receiver interface {
	device.Receiver
	Close() error
}

func openTransmitter(ctx context.Context, ch config.Channel) (transmitter, error) {
	switch ch.Device {
	case config.DeviceSoapy:
		return soapy.Connect(ctx, ch.URIs, soapy.Variant(ch.Variant))
	case config.DeviceHackRF:
		return hackrfDevice.NewHackRFDevice()
	case config.DeviceFile:
		return file.NewRecordingFileDevice(ch.File)
	default:
		return nil, fmt.Errorf("channel %s: unknown device %q", ch.Name, ch.Device)
	}
}

func openReceiver(ctx context.Context, kind string, rtlsdrIndex int, uris []string, path string) (receiver, error) {
	switch kind {
	case config.DeviceRTLSDR:
		return rtlsdr.NewRTLSDRDevice(rtlsdrIndex)
	case config.DeviceHackRF:
		return hackrfDevice.NewHackRFDevice()
	case config.DeviceSoapy:
		return soapy.Connect(ctx, uris, soapy.VariantPluto)
	case config.DeviceFile:
		return file.NewPlaybackFileDevice(path)
	default:
		return nil, fmt.Errorf("unknown receiver %q", kind)
	}
}

func usesHackRF(cfg *config.Config) bool {
	if cfg.Display.Port > 0 && cfg.Display.Device == config.DeviceHackRF {
		return true
	}
	for _, ch := range cfg.Channels {
		if ch.Device == config.DeviceHackRF {
			return true
		}
	}
	return false
}
