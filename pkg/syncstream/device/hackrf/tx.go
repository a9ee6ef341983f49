package hackrf

import (
	"sync"
	"time"

	"github.com/norasector/syncstream/pkg/syncstream/device"
)

// txQueue holds encoded bursts until the TX callback asks for samples. Gaps
// between scheduled bursts are queued as silence, so the callback position
// is the device timeline.
type txQueue struct {
	bursts chan []byte

	mu     sync.Mutex
	queued uint64

	// Owned by the callback.
	pending []byte
}

func newTXQueue(depth int) *txQueue {
	if depth < 1 {
		depth = 1
	}
	return &txQueue{bursts: make(chan []byte, depth)}
}

func (t *txQueue) clock() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queued
}

func (t *txQueue) write(samples []int16, meta *device.Metadata, timeout time.Duration, now bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := t.queued
	if !now && meta.Timestamp > ts {
		ts = meta.Timestamp
	}
	gap := ts - t.queued

	pairs := len(samples) / 2
	raw := make([]byte, 2*(uint64(pairs)+gap))
	out := raw[2*gap:]
	for k := 0; k < pairs; k++ {
		out[2*k], out[2*k+1] = device.EncodeCS8(samples[2*k], samples[2*k+1])
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case t.bursts <- raw:
	case <-expired:
		return device.ErrTimeout
	}

	t.queued = ts + uint64(pairs)
	meta.Timestamp = ts
	meta.ActualCount = pairs
	meta.Status = 0
	return nil
}

// fill is the StartTX callback. It never blocks: when nothing is queued the
// radio transmits zeros.
func (t *txQueue) fill(buf []byte) error {
	n := 0
	for n < len(buf) {
		if len(t.pending) == 0 {
			select {
			case b := <-t.bursts:
				t.pending = b
				continue
			default:
			}
			for k := n; k < len(buf); k++ {
				buf[k] = 0
			}
			return nil
		}
		c := copy(buf[n:], t.pending)
		t.pending = t.pending[c:]
		n += c
	}
	return nil
}
