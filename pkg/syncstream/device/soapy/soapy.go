// Package soapy adapts any SoapySDR supported radio to the sync interface.
// Streams use CS16; hardware time in nanoseconds is converted to sample
// ticks at the configured rate.
package soapy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	soapy "github.com/pothosware/go-soapy-sdr/pkg/device"
	"github.com/pothosware/go-soapy-sdr/pkg/modules"
	"github.com/pothosware/go-soapy-sdr/pkg/sdrerror"
	"github.com/pothosware/go-soapy-sdr/pkg/sdrlogger"
	"github.com/pothosware/go-soapy-sdr/pkg/version"
	"github.com/rs/zerolog"

	"github.com/norasector/syncstream/pkg/syncstream/device"
)

// Init sets the SoapySDR log level ("error", "warning", "info" or "debug")
// and reports the library setup.
func Init(logger zerolog.Logger, level string) error {
	switch level {
	case "", "error":
		sdrlogger.SetLogLevel(sdrlogger.Error)
	case "warning":
		sdrlogger.SetLogLevel(sdrlogger.Warning)
	case "info":
		sdrlogger.SetLogLevel(sdrlogger.Info)
	case "debug":
		sdrlogger.SetLogLevel(sdrlogger.Debug)
	default:
		return fmt.Errorf("unknown soapysdr log level %q", level)
	}

	logger.Debug().
		Str("abi", version.GetABIVersion()).
		Str("api", version.GetAPIVersion()).
		Str("lib", version.GetLibVersion()).
		Str("root", modules.GetRootPath()).
		Msg("soapysdr")
	for _, m := range modules.ListModules() {
		logger.Debug().Str("module", m).Str("version", modules.GetModuleVersion(m)).Msg("soapysdr module")
	}
	return nil
}

// Enumerate lists the devices SoapySDR can see.
func Enumerate() []map[string]string {
	return soapy.Enumerate(nil)
}

type stream struct {
	s        *soapy.SDRStreamCS16
	channels int
	bufs     [][]int16
	next     uint64
}

type SoapyDevice struct {
	dev *soapy.SDRDevice

	mu      sync.Mutex
	rate    uint32
	sync    *device.SyncConfig
	enabled map[device.Channel]bool
	streams map[device.Direction]*stream
}

// NewSoapyDevice opens the device matching args, e.g. {"driver": "bladerf"}.
func NewSoapyDevice(args map[string]string) (*SoapyDevice, error) {
	dev, err := soapy.Make(args)
	if err != nil {
		return nil, err
	}
	return &SoapyDevice{
		dev:     dev,
		enabled: make(map[device.Channel]bool),
		streams: make(map[device.Direction]*stream),
	}, nil
}

func direction(ch device.Channel) soapy.Direction {
	if ch.Direction() == device.TX {
		return soapy.DirectionTX
	}
	return soapy.DirectionRX
}

func (d *SoapyDevice) SetFrequency(ch device.Channel, hz uint64) error {
	return d.dev.SetFrequency(direction(ch), ch.Index(), float64(hz), nil)
}

func (d *SoapyDevice) SetSampleRate(ch device.Channel, hz uint32) error {
	if err := d.dev.SetSampleRate(direction(ch), ch.Index(), float64(hz)); err != nil {
		return err
	}
	d.mu.Lock()
	d.rate = hz
	d.mu.Unlock()
	return nil
}

func (d *SoapyDevice) SetGainMode(ch device.Channel, mode device.GainMode) error {
	return d.dev.SetGainMode(direction(ch), ch.Index(), mode != device.GainModeManual)
}

func (d *SoapyDevice) SetGain(ch device.Channel, db int) error {
	return d.dev.SetGain(direction(ch), ch.Index(), float64(db))
}

func (d *SoapyDevice) ConfigureSync(cfg device.SyncConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) > 0 {
		return device.ErrBusy
	}
	d.sync = &cfg
	return nil
}

// EnableModule sets up and activates the stream for the channel's
// direction when its first channel is enabled, and tears it down with the
// last.
func (d *SoapyDevice) EnableModule(ch device.Channel, enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sync == nil {
		return device.ErrNotConfigured
	}
	dir := ch.Direction()
	st, active := d.streams[dir]
	if !enable {
		d.enabled[ch] = false
	}

	switch {
	case enable && !active:
		n := d.sync.Layout.Channels()
		channels := make([]uint, n)
		for i := range channels {
			channels[i] = uint(i)
		}
		s, err := d.dev.SetupSDRStreamCS16(direction(ch), channels, nil)
		if err != nil {
			return err
		}
		if err := s.Activate(0, 0, 0); err != nil {
			s.Close()
			return err
		}
		d.streams[dir] = &stream{s: s, channels: n, bufs: make([][]int16, n)}
		d.enabled[ch] = true
	case enable:
		d.enabled[ch] = true
	case !enable && active:
		for c, on := range d.enabled {
			if on && c.Direction() == dir {
				return nil
			}
		}
		delete(d.streams, dir)
		return closeStream(st)
	}
	return nil
}

func closeStream(st *stream) error {
	if err := st.s.Deactivate(0, 0); err != nil {
		st.s.Close()
		return err
	}
	return st.s.Close()
}

func (d *SoapyDevice) CurrentTimestamp(device.Direction) (uint64, error) {
	d.mu.Lock()
	rate := d.rate
	d.mu.Unlock()
	if rate == 0 {
		return 0, device.ErrNotConfigured
	}
	return nsToTicks(uint64(d.dev.GetHardwareTime("")), rate), nil
}

func (d *SoapyDevice) active(dir device.Direction) (*stream, *device.SyncConfig, uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.streams[dir]
	if !ok {
		return nil, nil, 0, fmt.Errorf("%s is not streaming", dir)
	}
	return st, d.sync, d.rate, nil
}

func (st *stream) size(count int) error {
	if count%st.channels != 0 {
		return fmt.Errorf("count %d does not divide across %d channels", count, st.channels)
	}
	per := 2 * (count / st.channels)
	for i := range st.bufs {
		if cap(st.bufs[i]) < per {
			st.bufs[i] = make([]int16, per)
		}
		st.bufs[i] = st.bufs[i][:per]
	}
	return nil
}

func microseconds(d time.Duration) uint {
	return uint(d / time.Microsecond)
}

// streamError maps a SoapySDR timeout onto device.ErrTimeout so callers see
// the same error from every backend.
func streamError(op string, err error) error {
	var timeout *sdrerror.Timeout
	if errors.As(err, &timeout) {
		return fmt.Errorf("soapy %s: %w", op, device.ErrTimeout)
	}
	return fmt.Errorf("soapy %s: %w", op, err)
}

// hasTime reports whether a read carried a hardware timestamp. The library
// wants one flag slot per stream channel; only the first is inspected.
func hasTime(flags []int) bool {
	return len(flags) > 0 && soapy.StreamFlag(flags[0])&soapy.StreamFlagHasTime != 0
}

// txFlags builds the per-channel write flags for a block. timed is false
// when the block goes out immediately.
func txFlags(channels int, meta *device.Metadata, timed bool) []int {
	var f soapy.StreamFlag
	if timed {
		f |= soapy.StreamFlagHasTime
	}
	if meta.Flags&device.FlagBurstEnd != 0 {
		f |= soapy.StreamFlagEndBurst
	}
	flags := make([]int, channels)
	for i := range flags {
		flags[i] = int(f)
	}
	return flags
}

// SyncRX reads until the block starting at meta.Timestamp is complete.
// Samples before it are discarded; a discontinuity ends the block early with
// the overrun bit set. Multi-channel blocks are interleaved per sample.
func (d *SoapyDevice) SyncRX(buf []int16, count int, meta *device.Metadata, timeout time.Duration) error {
	if err := device.CheckBuffer(buf, count); err != nil {
		return err
	}
	st, sc, rate, err := d.active(device.RX)
	if err != nil {
		return err
	}
	if err := st.size(count); err != nil {
		return err
	}

	now := meta.Flags&device.FlagRXNow != 0 || sc.Format == device.FormatSC16Q11
	target := meta.Timestamp
	per := count / st.channels
	deadline := time.Now().Add(timeout)
	meta.Status = 0
	meta.ActualCount = 0
	filled := 0
	flags := make([]int, st.channels)

	for filled < per {
		remaining := time.Until(deadline)
		if timeout > 0 && remaining <= 0 {
			return device.ErrTimeout
		}
		views := make([][]int16, st.channels)
		for i := range views {
			views[i] = st.bufs[i][2*filled:]
		}
		timeNs, n, err := st.s.Read(views, uint(per-filled), flags, microseconds(remaining))
		if err != nil {
			return streamError("read", err)
		}
		if n == 0 {
			continue
		}

		ts := st.next
		if hasTime(flags) {
			ts = nsToTicks(uint64(timeNs), rate)
		}
		st.next = ts + uint64(n)

		if filled > 0 && ts != meta.Timestamp+uint64(filled) {
			meta.Status |= device.StatusOverrun
			break
		}
		if filled == 0 && !now && ts < target {
			skip := target - ts
			if skip >= uint64(n) {
				continue
			}
			for i := range st.bufs {
				copy(st.bufs[i], st.bufs[i][2*skip:2*uint64(n)])
			}
			ts += skip
			n -= uint(skip)
		}
		if filled == 0 {
			meta.Timestamp = ts
		}
		filled += int(n)
	}

	for k := 0; k < filled; k++ {
		for c := 0; c < st.channels; c++ {
			o := 2 * (k*st.channels + c)
			buf[o], buf[o+1] = st.bufs[c][2*k], st.bufs[c][2*k+1]
		}
	}
	meta.ActualCount = filled * st.channels
	return nil
}

func (d *SoapyDevice) SyncTX(buf []int16, count int, meta *device.Metadata, timeout time.Duration) error {
	if err := device.CheckBuffer(buf, count); err != nil {
		return err
	}
	st, sc, rate, err := d.active(device.TX)
	if err != nil {
		return err
	}
	if err := st.size(count); err != nil {
		return err
	}

	per := count / st.channels
	for k := 0; k < per; k++ {
		for c := 0; c < st.channels; c++ {
			o := 2 * (k*st.channels + c)
			st.bufs[c][2*k], st.bufs[c][2*k+1] = buf[o], buf[o+1]
		}
	}

	timed := meta.Flags&device.FlagTXNow == 0 && sc.Format == device.FormatSC16Q11Meta
	flags := txFlags(st.channels, meta, timed)
	var timeNs uint64
	if timed {
		timeNs = ticksToNs(meta.Timestamp, rate)
	}

	n, err := st.s.Write(st.bufs, uint(per), flags, uint(timeNs), microseconds(timeout))
	if err != nil {
		return streamError("write", err)
	}
	meta.Status = 0
	meta.ActualCount = int(n) * st.channels
	if int(n) < per {
		meta.Status |= device.StatusUnderrun
	}
	return nil
}

func (d *SoapyDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for dir, st := range d.streams {
		closeStream(st)
		delete(d.streams, dir)
	}
	return d.dev.Unmake()
}
