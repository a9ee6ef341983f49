package hackrf

import (
	"fmt"
	"sync"
	"time"

	"github.com/samuel/go-hackrf/hackrf"

	"github.com/norasector/syncstream/pkg/syncstream/device"
)

const (
	maxSampleRate = 20e6
	maxLNAGain    = 40
	maxVGAGain    = 62
	maxTXVGAGain  = 47
)

// HackRFDevice drives a half-duplex HackRF One through its streaming
// callbacks. The hardware has no sample clock, so timestamps count the
// samples streamed since the device was opened.
type HackRFDevice struct {
	device *hackrf.Device
	amp    bool

	mu   sync.Mutex
	rate uint32
	sync *device.SyncConfig
	rxOn bool
	txOn bool

	rx *device.RXQueue
	tx *txQueue
}

// NewHackRFDevice opens the first HackRF. hackrf.Init must have been called.
func NewHackRFDevice(amp bool) (*HackRFDevice, error) {
	dev, err := hackrf.Open()
	if err != nil {
		return nil, err
	}
	return &HackRFDevice{device: dev, amp: amp}, nil
}

func (h *HackRFDevice) MaxSampleRate() uint32 {
	return maxSampleRate
}

func checkChannel(ch device.Channel) error {
	if ch != device.RX1 && ch != device.TX1 {
		return fmt.Errorf("hackrf has no channel %s: %w", ch, device.ErrUnsupported)
	}
	return nil
}

func (h *HackRFDevice) SetFrequency(ch device.Channel, hz uint64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	return h.device.SetFreq(hz)
}

func (h *HackRFDevice) SetSampleRate(ch device.Channel, hz uint32) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if hz == 0 || hz > maxSampleRate {
		return fmt.Errorf("sample rate %d out of range: %w", hz, device.ErrUnsupported)
	}
	if err := h.device.SetSampleRateManual(int(hz)*2, 2); err != nil {
		return err
	}
	if err := h.device.SetBasebandFilterBandwidth(int(hz)); err != nil {
		return err
	}
	h.mu.Lock()
	h.rate = hz
	h.mu.Unlock()
	return nil
}

func (h *HackRFDevice) SetGainMode(ch device.Channel, mode device.GainMode) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if mode != device.GainModeManual && mode != device.GainModeDefault {
		return fmt.Errorf("gain mode %d: %w", mode, device.ErrUnsupported)
	}
	return h.device.SetAmpEnable(h.amp)
}

// SetGain spreads an RX gain over the LNA (8 dB steps) and the baseband VGA
// (2 dB steps). TX gain goes to the TX VGA.
func (h *HackRFDevice) SetGain(ch device.Channel, db int) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if ch.Direction() == device.TX {
		return h.device.SetTXVGAGain(clamp(db, 0, maxTXVGAGain))
	}

	lna, vga := splitGain(db)
	if err := h.device.SetLNAGain(lna); err != nil {
		return err
	}
	return h.device.SetVGAGain(vga)
}

func splitGain(db int) (lna, vga int) {
	lna = clamp(db, 0, maxLNAGain) / 8 * 8
	vga = clamp(db-lna, 0, maxVGAGain) &^ 1
	return lna, vga
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (h *HackRFDevice) ConfigureSync(cfg device.SyncConfig) error {
	if cfg.Layout.Channels() != 1 {
		return fmt.Errorf("hackrf streams a single channel: %w", device.ErrUnsupported)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rxOn || h.txOn {
		return device.ErrBusy
	}
	h.sync = &cfg
	if h.rx == nil {
		h.rx = device.NewRXQueue(cfg.NumBuffers, device.DecodeCS8)
	}
	if h.tx == nil {
		h.tx = newTXQueue(cfg.NumBuffers)
	}
	return nil
}

func (h *HackRFDevice) EnableModule(ch device.Channel, enable bool) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sync == nil {
		return device.ErrNotConfigured
	}

	switch {
	case ch == device.RX1 && enable && !h.rxOn:
		if h.txOn {
			return fmt.Errorf("hackrf is half duplex, tx is streaming: %w", device.ErrBusy)
		}
		h.rx.Drain()
		if err := h.device.StartRX(h.rxCallback); err != nil {
			return err
		}
		h.rxOn = true
	case ch == device.RX1 && !enable && h.rxOn:
		h.rxOn = false
		return h.device.StopRX()
	case ch == device.TX1 && enable && !h.txOn:
		if h.rxOn {
			return fmt.Errorf("hackrf is half duplex, rx is streaming: %w", device.ErrBusy)
		}
		if err := h.device.StartTX(h.tx.fill); err != nil {
			return err
		}
		h.txOn = true
	case ch == device.TX1 && !enable && h.txOn:
		h.txOn = false
		return h.device.StopTX()
	}
	return nil
}

func (h *HackRFDevice) rxCallback(buf []byte) error {
	h.rx.Push(buf)
	return nil
}

func (h *HackRFDevice) CurrentTimestamp(dir device.Direction) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sync == nil {
		return 0, device.ErrNotConfigured
	}
	if dir == device.TX {
		return h.tx.clock(), nil
	}
	return h.rx.Clock(), nil
}

func (h *HackRFDevice) streaming(dir device.Direction) (*device.SyncConfig, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sync == nil {
		return nil, device.ErrNotConfigured
	}
	if (dir == device.RX && !h.rxOn) || (dir == device.TX && !h.txOn) {
		return nil, fmt.Errorf("%s is not streaming", dir)
	}
	return h.sync, nil
}

func (h *HackRFDevice) SyncRX(buf []int16, count int, meta *device.Metadata, timeout time.Duration) error {
	sc, err := h.streaming(device.RX)
	if err != nil {
		return err
	}
	now := meta.Flags&device.FlagRXNow != 0 || sc.Format == device.FormatSC16Q11
	return h.rx.Read(buf, count, meta, timeout, now)
}

func (h *HackRFDevice) SyncTX(buf []int16, count int, meta *device.Metadata, timeout time.Duration) error {
	if err := device.CheckBuffer(buf, count); err != nil {
		return err
	}
	sc, err := h.streaming(device.TX)
	if err != nil {
		return err
	}
	now := meta.Flags&device.FlagTXNow != 0 || sc.Format == device.FormatSC16Q11
	return h.tx.write(buf[:2*count], meta, timeout, now)
}

func (h *HackRFDevice) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rxOn {
		h.device.StopRX()
		h.rxOn = false
	}
	if h.txOn {
		h.device.StopTX()
		h.txOn = false
	}
	return h.device.Close()
}
