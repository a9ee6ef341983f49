package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/samuel/go-hackrf/hackrf"

	"github.com/norasector/syncstream/pkg/syncstream/config"
	"github.com/norasector/syncstream/pkg/syncstream/device"
	"github.com/norasector/syncstream/pkg/syncstream/device/file"
	hackrfDevice "github.com/norasector/syncstream/pkg/syncstream/device/hackrf"
	"github.com/norasector/syncstream/pkg/syncstream/device/rtlsdr"
	"github.com/norasector/syncstream/pkg/syncstream/device/sim"
	"github.com/norasector/syncstream/pkg/syncstream/device/soapy"
	"github.com/norasector/syncstream/pkg/syncstream/stream"
)

// openDevice returns the configured backend and a function releasing any
// library state it needed.
func openDevice(opts config.Config, logger zerolog.Logger) (device.Device, func(), error) {
	nop := func() {}
	if opts.PlaybackLocation != "" && opts.Device == "" {
		opts.Device = "file"
	}
	logger = logger.With().Str("device", opts.Device).Logger()
	logger.Info().Msg("initializing device...")

	switch opts.Device {
	case "sim", "":
		return sim.New(sim.Options{ToneAmplitude: stream.FullScale}), nop, nil
	case "file":
		dev, err := file.NewFileDevice(opts.PlaybackLocation, opts.RecordLocation,
			time.Duration(opts.PlaybackInterval)*time.Millisecond, opts.PlaybackLoop)
		return dev, nop, err
	case "rtlsdr":
		dev, err := rtlsdr.NewRTLSDRDevice(opts.RTLSDRDeviceIndex)
		return dev, nop, err
	case "hackrf":
		if err := hackrf.Init(); err != nil {
			return nil, nop, fmt.Errorf("initializing hackrf: %w", err)
		}
		dev, err := hackrfDevice.NewHackRFDevice(opts.HackRFAmp)
		if err != nil {
			hackrf.Exit()
			return nil, nop, err
		}
		return dev, func() { hackrf.Exit() }, nil
	case "soapy":
		if err := soapy.Init(logger, opts.DeviceLogLevel); err != nil {
			return nil, nop, err
		}
		dev, err := soapy.NewSoapyDevice(opts.DeviceArgs)
		return dev, nop, err
	}
	return nil, nop, fmt.Errorf("unknown device %q", opts.Device)
}
