package rtlsdr

import (
	"fmt"
	"sync"
	"time"

	gsdr "github.com/jpoirier/gortlsdr"

	"github.com/norasector/syncstream/pkg/syncstream/device"
)

const (
	maxSampleRate = 3.2e6
	// ReadSync lengths must be a multiple of the USB packet size.
	packetSize = 512
)

// RTLSDRDevice is a receive-only backend. A reader goroutine pulls blocks
// with ReadSync so that SyncRX can honor its timeout; timestamps count the
// samples read since the device was opened.
type RTLSDRDevice struct {
	deviceIdx int
	device    *gsdr.Context

	mu   sync.Mutex
	sync *device.SyncConfig
	rx   *device.RXQueue
	stop chan struct{}
	wg   sync.WaitGroup

	errMu   sync.Mutex
	readErr error
}

func NewRTLSDRDevice(deviceIdx int) (*RTLSDRDevice, error) {
	dev, err := gsdr.Open(deviceIdx)
	if err != nil {
		return nil, err
	}
	return &RTLSDRDevice{deviceIdx: deviceIdx, device: dev}, nil
}

func (r *RTLSDRDevice) MaxSampleRate() uint32 {
	return maxSampleRate
}

func checkChannel(ch device.Channel) error {
	if ch != device.RX1 {
		return fmt.Errorf("rtlsdr has no channel %s: %w", ch, device.ErrUnsupported)
	}
	return nil
}

func (r *RTLSDRDevice) SetFrequency(ch device.Channel, hz uint64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	return r.device.SetCenterFreq(int(hz))
}

func (r *RTLSDRDevice) SetSampleRate(ch device.Channel, hz uint32) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if hz == 0 || hz > maxSampleRate {
		return fmt.Errorf("sample rate %d out of range: %w", hz, device.ErrUnsupported)
	}
	return r.device.SetSampleRate(int(hz))
}

// SetGainMode maps every automatic mode onto the tuner AGC.
func (r *RTLSDRDevice) SetGainMode(ch device.Channel, mode device.GainMode) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	return r.device.SetTunerGainMode(mode == device.GainModeManual)
}

func (r *RTLSDRDevice) SetGain(ch device.Channel, db int) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	// tenths of a dB
	return r.device.SetTunerGain(db * 10)
}

func (r *RTLSDRDevice) ConfigureSync(cfg device.SyncConfig) error {
	if cfg.Layout != device.LayoutRXX1 {
		return fmt.Errorf("rtlsdr supports a single rx channel: %w", device.ErrUnsupported)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return device.ErrBusy
	}
	r.sync = &cfg
	r.rx = device.NewRXQueue(cfg.NumBuffers, device.DecodeCU8)
	return nil
}

func readLength(bufferSize int) int {
	n := 2 * bufferSize / packetSize * packetSize
	if n < packetSize {
		n = packetSize
	}
	return n
}

func (r *RTLSDRDevice) EnableModule(ch device.Channel, enable bool) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sync == nil {
		return device.ErrNotConfigured
	}

	if !enable {
		r.stopReader()
		return nil
	}
	if r.stop != nil {
		return nil
	}
	if err := r.device.ResetBuffer(); err != nil {
		return err
	}
	r.rx.Drain()
	r.setReadErr(nil)
	r.stop = make(chan struct{})
	r.wg.Add(1)
	go r.read(r.stop, readLength(r.sync.BufferSize))
	return nil
}

func (r *RTLSDRDevice) read(stop chan struct{}, length int) {
	defer r.wg.Done()
	buf := make([]uint8, length)
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := r.device.ReadSync(buf, length)
		if err != nil {
			r.setReadErr(err)
			return
		}
		r.rx.Push(buf[:n])
	}
}

// The reader records its error under errMu since stopReader waits for it
// while holding mu.
func (r *RTLSDRDevice) setReadErr(err error) {
	r.errMu.Lock()
	r.readErr = err
	r.errMu.Unlock()
}

func (r *RTLSDRDevice) lastReadErr() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.readErr
}

func (r *RTLSDRDevice) stopReader() {
	if r.stop == nil {
		return
	}
	close(r.stop)
	r.wg.Wait()
	r.stop = nil
}

func (r *RTLSDRDevice) CurrentTimestamp(dir device.Direction) (uint64, error) {
	if dir == device.TX {
		return 0, fmt.Errorf("rtlsdr cannot transmit: %w", device.ErrUnsupported)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rx == nil {
		return 0, device.ErrNotConfigured
	}
	return r.rx.Clock(), nil
}

func (r *RTLSDRDevice) SyncRX(buf []int16, count int, meta *device.Metadata, timeout time.Duration) error {
	r.mu.Lock()
	rx, sc, running := r.rx, r.sync, r.stop != nil
	r.mu.Unlock()
	if sc == nil {
		return device.ErrNotConfigured
	}
	if !running {
		return fmt.Errorf("rx is not streaming")
	}
	if err := r.lastReadErr(); err != nil {
		return err
	}
	now := meta.Flags&device.FlagRXNow != 0 || sc.Format == device.FormatSC16Q11
	return rx.Read(buf, count, meta, timeout, now)
}

func (r *RTLSDRDevice) SyncTX([]int16, int, *device.Metadata, time.Duration) error {
	return fmt.Errorf("rtlsdr cannot transmit: %w", device.ErrUnsupported)
}

func (r *RTLSDRDevice) Close() error {
	r.mu.Lock()
	r.stopReader()
	r.mu.Unlock()
	return r.device.Close()
}
