package device

import (
	"sync/atomic"
	"time"
)

// Decoder converts one raw interleaved I/Q byte pair to SC16 Q11.
type Decoder func(i, q byte) (int16, int16)

// DecodeCS8 scales signed 8-bit samples, as produced by a HackRF.
func DecodeCS8(i, q byte) (int16, int16) {
	return int16(int8(i)) << 4, int16(int8(q)) << 4
}

// DecodeCU8 recenters and scales unsigned 8-bit samples, as produced by an
// RTL-SDR.
func DecodeCU8(i, q byte) (int16, int16) {
	return (int16(i) - 127) << 4, (int16(q) - 127) << 4
}

// EncodeCS8 is the inverse of DecodeCS8.
func EncodeCS8(i, q int16) (byte, byte) {
	return byte(int8(i >> 4)), byte(int8(q >> 4))
}

type chunk struct {
	timestamp uint64
	data      []byte
}

// RXQueue bridges a driver that pushes raw sample buffers from its own
// goroutine to blocking, timestamped SyncRX calls. The timestamp of a sample
// is its position in everything the driver produced, dropped chunks
// included, so a dropped chunk shows up as a gap.
type RXQueue struct {
	chunks   chan chunk
	decode   Decoder
	produced atomic.Uint64
	dropped  atomic.Uint64

	// Owned by the reader.
	pending []byte
	pos     uint64
}

func NewRXQueue(depth int, decode Decoder) *RXQueue {
	if depth < 1 {
		depth = 1
	}
	return &RXQueue{
		chunks: make(chan chunk, depth),
		decode: decode,
	}
}

// Push copies raw I/Q bytes into the queue without blocking. It reports
// false when the queue was full and the data was dropped.
func (q *RXQueue) Push(raw []byte) bool {
	pairs := uint64(len(raw) / 2)
	ts := q.produced.Add(pairs) - pairs

	data := make([]byte, 2*pairs)
	copy(data, raw)
	select {
	case q.chunks <- chunk{timestamp: ts, data: data}:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Clock is the timestamp of the next sample the driver will produce.
func (q *RXQueue) Clock() uint64 {
	return q.produced.Load()
}

// Dropped is the number of chunks lost to a full queue.
func (q *RXQueue) Dropped() uint64 {
	return q.dropped.Load()
}

// Drain discards everything queued, typically after the driver stopped.
func (q *RXQueue) Drain() {
	q.pending = nil
	for {
		select {
		case <-q.chunks:
		default:
			return
		}
	}
}

// Read fills buf with count pairs starting at meta.Timestamp, or at the
// oldest queued sample when now is set or that timestamp has passed. A gap
// in the middle of the block ends it early with the overrun bit set.
func (q *RXQueue) Read(buf []int16, count int, meta *Metadata, timeout time.Duration, now bool) error {
	if err := CheckBuffer(buf, count); err != nil {
		return err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	target := meta.Timestamp
	if now {
		target = 0
	}
	meta.Status = 0
	meta.ActualCount = 0
	started := false

	for meta.ActualCount < count {
		if len(q.pending) == 0 {
			select {
			case c := <-q.chunks:
				if started && c.timestamp != q.pos {
					q.pending, q.pos = c.data, c.timestamp
					meta.Status |= StatusOverrun
					return nil
				}
				q.pending, q.pos = c.data, c.timestamp
			case <-expired:
				return ErrTimeout
			}
			continue
		}

		avail := len(q.pending) / 2
		if !started && q.pos < target {
			skip := target - q.pos
			if skip > uint64(avail) {
				skip = uint64(avail)
			}
			q.pending = q.pending[2*skip:]
			q.pos += skip
			continue
		}
		if !started {
			meta.Timestamp = q.pos
			started = true
		}

		n := count - meta.ActualCount
		if n > avail {
			n = avail
		}
		out := buf[2*meta.ActualCount:]
		for k := 0; k < n; k++ {
			out[2*k], out[2*k+1] = q.decode(q.pending[2*k], q.pending[2*k+1])
		}
		q.pending = q.pending[2*n:]
		q.pos += uint64(n)
		meta.ActualCount += n
	}
	return nil
}
