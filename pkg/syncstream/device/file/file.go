package file

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/norasector/syncstream/pkg/syncstream/device"
)

// FileDevice plays back a little-endian SC16 capture as its RX channel and
// appends transmitted bursts to a record file. Timestamps count samples.
type FileDevice struct {
	readFile    *os.File
	reader      *bufio.Reader
	writeFile   *os.File
	writer      *bufio.Writer
	timeBetween time.Duration
	lastRead    time.Time
	loop        bool

	rxClock uint64
	txClock uint64
	sync    *device.SyncConfig
	enabled map[device.Channel]bool
	raw     []byte
}

// NewFileDevice opens playback and record files. Either path may be empty.
// timeBetween paces successive RX transfers, zero means as fast as possible.
func NewFileDevice(playback, record string, timeBetween time.Duration, loop bool) (*FileDevice, error) {
	f := &FileDevice{
		timeBetween: timeBetween,
		loop:        loop,
		enabled:     make(map[device.Channel]bool),
	}
	if playback != "" {
		r, err := os.Open(playback)
		if err != nil {
			return nil, err
		}
		f.readFile = r
		f.reader = bufio.NewReader(r)
	}
	if record != "" {
		w, err := os.Create(record)
		if err != nil {
			if f.readFile != nil {
				f.readFile.Close()
			}
			return nil, err
		}
		f.writeFile = w
		f.writer = bufio.NewWriter(w)
	}
	return f, nil
}

func (f *FileDevice) SetFrequency(device.Channel, uint64) error { return nil }

func (f *FileDevice) SetSampleRate(_ device.Channel, hz uint32) error {
	if hz == 0 {
		return fmt.Errorf("sample rate must be positive")
	}
	return nil
}

func (f *FileDevice) SetGainMode(device.Channel, device.GainMode) error { return nil }

func (f *FileDevice) SetGain(device.Channel, int) error { return nil }

func (f *FileDevice) ConfigureSync(cfg device.SyncConfig) error {
	f.sync = &cfg
	return nil
}

func (f *FileDevice) EnableModule(ch device.Channel, enable bool) error {
	switch {
	case !enable:
	case ch.Direction() == device.RX && f.reader == nil:
		return fmt.Errorf("%s: no playback file: %w", ch, device.ErrUnsupported)
	case ch.Direction() == device.TX && f.writer == nil:
		return fmt.Errorf("%s: no record file: %w", ch, device.ErrUnsupported)
	}
	f.enabled[ch] = enable
	if !enable && ch.Direction() == device.TX && f.writer != nil {
		return f.writer.Flush()
	}
	return nil
}

func (f *FileDevice) CurrentTimestamp(dir device.Direction) (uint64, error) {
	if dir == device.TX {
		return f.txClock, nil
	}
	return f.rxClock, nil
}

func (f *FileDevice) ready(dir device.Direction) error {
	if f.sync == nil {
		return device.ErrNotConfigured
	}
	for ch, on := range f.enabled {
		if on && ch.Direction() == dir {
			return nil
		}
	}
	return fmt.Errorf("no %s module enabled", dir)
}

func (f *FileDevice) SyncRX(buf []int16, count int, meta *device.Metadata, timeout time.Duration) error {
	if err := device.CheckBuffer(buf, count); err != nil {
		return err
	}
	if err := f.ready(device.RX); err != nil {
		return err
	}

	if f.timeBetween > 0 && !f.lastRead.IsZero() {
		wait := f.timeBetween - time.Since(f.lastRead)
		if timeout > 0 && wait > timeout {
			return device.ErrTimeout
		}
		if wait > 0 {
			time.Sleep(wait)
		}
	}
	f.lastRead = time.Now()

	// Samples before the requested timestamp are skipped so the block starts
	// where it was scheduled.
	if meta.Timestamp > f.rxClock && meta.Flags&device.FlagRXNow == 0 && f.sync.Format == device.FormatSC16Q11Meta {
		if err := f.skip(meta.Timestamp - f.rxClock); err != nil {
			return err
		}
	}

	meta.Status = 0
	meta.Timestamp = f.rxClock
	n, err := f.read(count)
	if err != nil {
		return err
	}
	for i := 0; i < 2*n; i++ {
		buf[i] = int16(binary.LittleEndian.Uint16(f.raw[2*i:]))
	}
	meta.ActualCount = n
	if n < count {
		meta.Status |= device.StatusOverrun
	}
	return nil
}

// read consumes up to count pairs into f.raw, rewinding at end of file when
// looping. It advances the RX clock by the pairs read.
func (f *FileDevice) read(count int) (int, error) {
	need := 4 * count
	if cap(f.raw) < need {
		f.raw = make([]byte, need)
	}
	f.raw = f.raw[:need]

	got := 0
	// rewound is set until a read after rewinding returns data; hitting EOF
	// again in that state means the capture is empty.
	rewound := false
	for got < need {
		n, err := io.ReadFull(f.reader, f.raw[got:])
		got += n
		if n > 0 {
			rewound = false
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, err
		}
		if !f.loop || rewound {
			break
		}
		if err := f.rewind(); err != nil {
			return 0, err
		}
		rewound = true
	}

	pairs := got / 4
	if pairs == 0 && count > 0 {
		return 0, io.EOF
	}
	f.rxClock += uint64(pairs)
	return pairs, nil
}

func (f *FileDevice) skip(pairs uint64) error {
	rewound := false
	for pairs > 0 {
		n, err := f.reader.Discard(int(min(pairs, 1<<20)) * 4)
		f.rxClock += uint64(n / 4)
		pairs -= uint64(n / 4)
		if n > 0 {
			rewound = false
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) || !f.loop {
			return err
		}
		if rewound {
			return io.EOF
		}
		if err := f.rewind(); err != nil {
			return err
		}
		rewound = true
	}
	return nil
}

func (f *FileDevice) rewind() error {
	if _, err := f.readFile.Seek(0, io.SeekStart); err != nil {
		return err
	}
	f.reader.Reset(f.readFile)
	return nil
}

func (f *FileDevice) SyncTX(buf []int16, count int, meta *device.Metadata, _ time.Duration) error {
	if err := device.CheckBuffer(buf, count); err != nil {
		return err
	}
	if err := f.ready(device.TX); err != nil {
		return err
	}

	// Gaps between scheduled bursts are written as silence.
	if meta.Flags&device.FlagTXNow == 0 && meta.Timestamp > f.txClock {
		if err := f.silence(meta.Timestamp - f.txClock); err != nil {
			return err
		}
	}

	out := make([]byte, 4*count)
	for i := 0; i < 2*count; i++ {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(buf[i]))
	}
	if _, err := f.writer.Write(out); err != nil {
		return err
	}

	meta.Timestamp = f.txClock
	meta.ActualCount = count
	meta.Status = 0
	f.txClock += uint64(count)

	if meta.Flags&device.FlagBurstEnd != 0 {
		return f.writer.Flush()
	}
	return nil
}

var zeros [4096]byte

func (f *FileDevice) silence(pairs uint64) error {
	for pairs > 0 {
		n := min(pairs, uint64(len(zeros)/4))
		if _, err := f.writer.Write(zeros[:4*n]); err != nil {
			return err
		}
		pairs -= n
		f.txClock += n
	}
	return nil
}

func (f *FileDevice) Close() error {
	var errs []error
	if f.writer != nil {
		errs = append(errs, f.writer.Flush(), f.writeFile.Close())
	}
	if f.readFile != nil {
		errs = append(errs, f.readFile.Close())
	}
	return errors.Join(errs...)
}
