// Package sim provides a deterministic software transceiver. It keeps a
// sample clock per direction, honors scheduled timestamps and can be scripted
// to fail or overrun on chosen transfer calls.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/norasector/syncstream/pkg/syncstream/device"
)

type Options struct {
	StartTimestamp uint64
	// ToneAmplitude, when non-zero, fills received buffers with a Fs/4 tone.
	ToneAmplitude int16
	// Latency is how long every transfer blocks. A latency longer than the
	// call timeout yields device.ErrTimeout.
	Latency time.Duration
	// FailAt maps a 1-based transfer call number to the error it returns.
	FailAt map[int]error
	// OverrunAt maps a 1-based transfer call number to the short count it
	// reports together with the overrun status bit.
	OverrunAt map[int]int
	// FailSetup maps a setup operation name ("frequency", "sample_rate",
	// "gain_mode", "gain", "sync_config", "enable") to the error it returns.
	FailSetup map[string]error
	// TimestampSkew is added to the timestamp reported for every transfer.
	TimestampSkew int64
}

type Device struct {
	opts Options

	mu         sync.Mutex
	clock      map[device.Direction]uint64
	sync       *device.SyncConfig
	enabled    map[device.Channel]bool
	freq       map[device.Channel]uint64
	rate       map[device.Channel]uint32
	gain       map[device.Channel]int
	gainMode   map[device.Channel]device.GainMode
	calls      int
	bursts     []Burst
	timestamps []uint64
	closed     bool
}

// Burst is a transmitted block as seen by the simulated RF front end.
type Burst struct {
	Timestamp uint64
	Flags     device.Flags
	Samples   []int16
}

func New(opts Options) *Device {
	return &Device{
		opts: opts,
		clock: map[device.Direction]uint64{
			device.RX: opts.StartTimestamp,
			device.TX: opts.StartTimestamp,
		},
		enabled:  make(map[device.Channel]bool),
		freq:     make(map[device.Channel]uint64),
		rate:     make(map[device.Channel]uint32),
		gain:     make(map[device.Channel]int),
		gainMode: make(map[device.Channel]device.GainMode),
	}
}

func (d *Device) setupErr(op string) error {
	if d.closed {
		return device.ErrClosed
	}
	if err, ok := d.opts.FailSetup[op]; ok {
		return err
	}
	return nil
}

func (d *Device) SetFrequency(ch device.Channel, hz uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.setupErr("frequency"); err != nil {
		return err
	}
	d.freq[ch] = hz
	return nil
}

func (d *Device) SetSampleRate(ch device.Channel, hz uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.setupErr("sample_rate"); err != nil {
		return err
	}
	if hz == 0 {
		return fmt.Errorf("sample rate must be positive")
	}
	d.rate[ch] = hz
	return nil
}

func (d *Device) SetGainMode(ch device.Channel, mode device.GainMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.setupErr("gain_mode"); err != nil {
		return err
	}
	d.gainMode[ch] = mode
	return nil
}

func (d *Device) SetGain(ch device.Channel, db int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.setupErr("gain"); err != nil {
		return err
	}
	d.gain[ch] = db
	return nil
}

func (d *Device) ConfigureSync(cfg device.SyncConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.setupErr("sync_config"); err != nil {
		return err
	}
	d.sync = &cfg
	return nil
}

func (d *Device) EnableModule(ch device.Channel, enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.setupErr("enable"); err != nil && enable {
		return err
	}
	d.enabled[ch] = enable
	return nil
}

func (d *Device) CurrentTimestamp(dir device.Direction) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, device.ErrClosed
	}
	return d.clock[dir], nil
}

func (d *Device) ready(dir device.Direction) error {
	if d.closed {
		return device.ErrClosed
	}
	if d.sync == nil {
		return device.ErrNotConfigured
	}
	for ch, on := range d.enabled {
		if on && ch.Direction() == dir {
			return nil
		}
	}
	return fmt.Errorf("no %s module enabled", dir)
}

// transfer runs the bookkeeping shared by both directions and returns the
// timestamp the block lands on.
func (d *Device) transfer(dir device.Direction, count int, meta *device.Metadata, timeout time.Duration) (uint64, error) {
	if err := d.ready(dir); err != nil {
		return 0, err
	}
	d.calls++
	call := d.calls

	if d.opts.Latency > 0 {
		if timeout > 0 && d.opts.Latency > timeout {
			return 0, device.ErrTimeout
		}
		time.Sleep(d.opts.Latency)
	}
	if err, ok := d.opts.FailAt[call]; ok {
		return 0, err
	}

	ts := meta.Timestamp
	if meta.Flags&device.FlagRXNow != 0 || d.sync.Format == device.FormatSC16Q11 || ts < d.clock[dir] {
		ts = d.clock[dir]
	}
	ts = uint64(int64(ts) + d.opts.TimestampSkew)

	meta.Status = 0
	meta.ActualCount = count
	if short, ok := d.opts.OverrunAt[call]; ok {
		meta.Status |= device.StatusOverrun
		if short < count {
			meta.ActualCount = short
		}
	}
	d.clock[dir] = ts + uint64(count)
	d.timestamps = append(d.timestamps, ts)
	return ts, nil
}

func (d *Device) SyncRX(buf []int16, count int, meta *device.Metadata, timeout time.Duration) error {
	if err := device.CheckBuffer(buf, count); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	ts, err := d.transfer(device.RX, count, meta, timeout)
	if err != nil {
		return err
	}
	meta.Timestamp = ts

	fill(buf[:2*meta.ActualCount], ts, d.opts.ToneAmplitude)
	return nil
}

func (d *Device) SyncTX(buf []int16, count int, meta *device.Metadata, timeout time.Duration) error {
	if err := device.CheckBuffer(buf, count); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	ts, err := d.transfer(device.TX, count, meta, timeout)
	if err != nil {
		return err
	}
	meta.Timestamp = ts

	samples := make([]int16, 2*count)
	copy(samples, buf)
	d.bursts = append(d.bursts, Burst{Timestamp: ts, Flags: meta.Flags, Samples: samples})
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Calls is the number of transfer calls that reached the device.
func (d *Device) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *Device) Bursts() []Burst {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Burst(nil), d.bursts...)
}

// Timestamps lists the timestamp of every successful transfer in call order.
func (d *Device) Timestamps() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint64(nil), d.timestamps...)
}

func (d *Device) Enabled(ch device.Channel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled[ch]
}

func (d *Device) Frequency(ch device.Channel) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freq[ch]
}

func (d *Device) GainMode(ch device.Channel) (device.GainMode, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mode, ok := d.gainMode[ch]
	return mode, ok
}

func (d *Device) SyncConfig() (device.SyncConfig, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sync == nil {
		return device.SyncConfig{}, false
	}
	return *d.sync, true
}

var (
	iMask = [4]int16{0, 1, 0, -1}
	qMask = [4]int16{1, 0, -1, 0}
)

// fill writes a tone at -Fs/4 whose phase follows the sample clock so that
// consecutive blocks are continuous.
func fill(buf []int16, ts uint64, amplitude int16) {
	for i := 0; i+1 < len(buf); i += 2 {
		phase := (ts + uint64(i/2)) % 4
		buf[i] = amplitude * iMask[phase]
		buf[i+1] = amplitude * qMask[phase]
	}
}
