package device

import (
	"context"
	"errors"
	"testing"
	"time"
)

type nopDevice struct {
	closed int
}

func (n *nopDevice) SetFrequency(Channel, uint64) error         { return nil }
func (n *nopDevice) SetSampleRate(Channel, uint32) error        { return nil }
func (n *nopDevice) SetGainMode(Channel, GainMode) error        { return nil }
func (n *nopDevice) SetGain(Channel, int) error                 { return nil }
func (n *nopDevice) ConfigureSync(SyncConfig) error             { return nil }
func (n *nopDevice) EnableModule(Channel, bool) error           { return nil }
func (n *nopDevice) CurrentTimestamp(Direction) (uint64, error) { return 0, nil }
func (n *nopDevice) SyncRX([]int16, int, *Metadata, time.Duration) error {
	return nil
}
func (n *nopDevice) SyncTX([]int16, int, *Metadata, time.Duration) error {
	return nil
}
func (n *nopDevice) Close() error {
	n.closed++
	return nil
}

func TestHandleExclusive(t *testing.T) {
	h := NewHandle(&nopDevice{})

	err := h.With(context.Background(), func(Device) error {
		if err := h.TryWith(func(Device) error { return nil }); !errors.Is(err, ErrBusy) {
			t.Errorf("nested TryWith = %v, want ErrBusy", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if err := h.With(ctx, func(Device) error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("nested With = %v, want deadline exceeded", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("With failed: %v", err)
	}

	if err := h.TryWith(func(Device) error { return nil }); err != nil {
		t.Fatalf("TryWith after release failed: %v", err)
	}
}

func TestHandleCancelledContext(t *testing.T) {
	h := NewHandle(&nopDevice{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The semaphore is free, so only the context check keeps fn from running.
	for i := 0; i < 100; i++ {
		ran := false
		err := h.With(ctx, func(Device) error {
			ran = true
			return nil
		})
		if !errors.Is(err, context.Canceled) || ran {
			t.Fatalf("attempt %d: With = %v, ran = %v", i, err, ran)
		}
	}
}

func TestHandleClose(t *testing.T) {
	dev := &nopDevice{}
	h := NewHandle(dev)

	if err := h.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if dev.closed != 1 {
		t.Fatalf("device closed %d times", dev.closed)
	}
	if err := h.TryWith(func(Device) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("TryWith after close = %v, want ErrClosed", err)
	}
}

func TestChannelDirection(t *testing.T) {
	tests := []struct {
		ch    Channel
		dir   Direction
		index uint
		name  string
	}{
		{RX1, RX, 0, "rx1"},
		{TX1, TX, 0, "tx1"},
		{RX2, RX, 1, "rx2"},
		{TX2, TX, 1, "tx2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ch.Direction(); got != tt.dir {
				t.Errorf("Direction() = %v, want %v", got, tt.dir)
			}
			if got := tt.ch.Index(); got != tt.index {
				t.Errorf("Index() = %d, want %d", got, tt.index)
			}
			if got := tt.ch.String(); got != tt.name {
				t.Errorf("String() = %q, want %q", got, tt.name)
			}
		})
	}
}

func TestLayoutFor(t *testing.T) {
	if l, err := LayoutFor(RX, 2); err != nil || l != LayoutRXX2 {
		t.Fatalf("LayoutFor(RX, 2) = %v, %v", l, err)
	}
	if l, err := LayoutFor(TX, 1); err != nil || l != LayoutTXX1 {
		t.Fatalf("LayoutFor(TX, 1) = %v, %v", l, err)
	}
	if _, err := LayoutFor(RX, 3); err == nil {
		t.Fatal("expected error for three channels")
	}
}

func TestParseChannel(t *testing.T) {
	for _, ch := range []Channel{RX1, TX1, RX2, TX2} {
		got, err := ParseChannel(ch.String())
		if err != nil || got != ch {
			t.Errorf("ParseChannel(%q) = %v, %v", ch.String(), got, err)
		}
	}
	if ch, err := ParseChannel("TX1"); err != nil || ch != TX1 {
		t.Errorf("ParseChannel is case sensitive: %v, %v", ch, err)
	}
	if _, err := ParseChannel("rx3"); err == nil {
		t.Error("expected error for rx3")
	}
}
