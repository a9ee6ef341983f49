package device

import (
	"errors"
	"testing"
	"time"
)

func ramp(start, n int) []byte {
	raw := make([]byte, 2*n)
	for k := 0; k < n; k++ {
		raw[2*k] = byte(start + k)
		raw[2*k+1] = byte(-(start + k))
	}
	return raw
}

func TestRXQueueSkipsToTimestamp(t *testing.T) {
	q := NewRXQueue(4, DecodeCS8)
	q.Push(ramp(0, 8))
	q.Push(ramp(8, 8))

	buf := make([]int16, 2*6)
	meta := Metadata{Timestamp: 5}
	if err := q.Read(buf, 6, &meta, time.Second, false); err != nil {
		t.Fatal(err)
	}
	if meta.Timestamp != 5 || meta.ActualCount != 6 || meta.Overrun() {
		t.Fatalf("meta = %+v", meta)
	}
	for k := 0; k < 6; k++ {
		if want := int16(5+k) << 4; buf[2*k] != want || buf[2*k+1] != -want {
			t.Fatalf("pair %d = (%d, %d), want (%d, %d)", k, buf[2*k], buf[2*k+1], want, -want)
		}
	}
	if q.Clock() != 16 {
		t.Fatalf("clock = %d", q.Clock())
	}
}

func TestRXQueueGapIsOverrun(t *testing.T) {
	q := NewRXQueue(1, DecodeCS8)
	q.Push(ramp(0, 4))
	if q.Push(ramp(4, 4)) {
		t.Fatal("push into a full queue succeeded")
	}

	buf := make([]int16, 2*8)
	meta := Metadata{}
	if err := q.Read(buf, 4, &meta, time.Second, true); err != nil {
		t.Fatal(err)
	}
	q.Push(ramp(8, 4))

	meta = Metadata{Timestamp: 4}
	if err := q.Read(buf, 4, &meta, time.Second, false); err != nil {
		t.Fatal(err)
	}
	// Samples 4..7 were dropped, so the block lands late.
	if meta.Timestamp != 8 || meta.ActualCount != 4 {
		t.Fatalf("meta = %+v", meta)
	}
	if q.Dropped() != 1 {
		t.Fatalf("dropped = %d", q.Dropped())
	}
}

func TestRXQueueShortBlockOnGap(t *testing.T) {
	q := NewRXQueue(2, DecodeCS8)
	q.Push(ramp(0, 4))
	q.produced.Add(4)
	q.Push(ramp(8, 4))

	buf := make([]int16, 2*8)
	meta := Metadata{}
	if err := q.Read(buf, 8, &meta, time.Second, true); err != nil {
		t.Fatal(err)
	}
	if !meta.Overrun() || meta.ActualCount != 4 || meta.Timestamp != 0 {
		t.Fatalf("meta = %+v", meta)
	}

	meta = Metadata{}
	if err := q.Read(buf, 4, &meta, time.Second, true); err != nil {
		t.Fatal(err)
	}
	if meta.Overrun() || meta.Timestamp != 8 {
		t.Fatalf("meta after gap = %+v", meta)
	}
}

func TestRXQueueTimeout(t *testing.T) {
	q := NewRXQueue(1, DecodeCU8)
	buf := make([]int16, 8)
	meta := Metadata{}
	if err := q.Read(buf, 4, &meta, 10*time.Millisecond, true); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Read() = %v, want ErrTimeout", err)
	}
}

func TestCodecs(t *testing.T) {
	i, q := DecodeCU8(127, 255)
	if i != 0 || q != 128<<4 {
		t.Fatalf("DecodeCU8 = (%d, %d)", i, q)
	}
	bi, bq := EncodeCS8(2047, -2048)
	if di, dq := DecodeCS8(bi, bq); di != 127<<4 || dq != -128<<4 {
		t.Fatalf("CS8 round trip = (%d, %d)", di, dq)
	}
}
