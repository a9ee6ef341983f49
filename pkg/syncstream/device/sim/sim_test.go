package sim

import (
	"errors"
	"testing"
	"time"

	"github.com/norasector/syncstream/pkg/syncstream/device"
)

func configured(t *testing.T, opts Options, ch device.Channel) *Device {
	t.Helper()
	d := New(opts)
	if err := d.ConfigureSync(device.DefaultSyncConfig()); err != nil {
		t.Fatalf("sync config failed: %v", err)
	}
	if err := d.EnableModule(ch, true); err != nil {
		t.Fatalf("enable failed: %v", err)
	}
	return d
}

func TestRXHonorsScheduledTimestamp(t *testing.T) {
	d := configured(t, Options{StartTimestamp: 100, ToneAmplitude: 2047}, device.RX1)
	buf := make([]int16, 2*16)

	meta := device.Metadata{Timestamp: 500}
	if err := d.SyncRX(buf, 16, &meta, time.Second); err != nil {
		t.Fatalf("rx failed: %v", err)
	}
	if meta.Timestamp != 500 || meta.ActualCount != 16 || meta.Overrun() {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	// Phase 500%4 == 0: I=0, Q=+A.
	if buf[0] != 0 || buf[1] != 2047 {
		t.Fatalf("unexpected first pair (%d, %d)", buf[0], buf[1])
	}

	// A timestamp in the past is served from the current clock.
	meta = device.Metadata{Timestamp: 10}
	if err := d.SyncRX(buf, 16, &meta, time.Second); err != nil {
		t.Fatalf("rx failed: %v", err)
	}
	if meta.Timestamp != 516 {
		t.Fatalf("timestamp = %d, want 516", meta.Timestamp)
	}
}

func TestScriptedFaults(t *testing.T) {
	boom := errors.New("usb stall")
	d := configured(t, Options{
		FailAt:    map[int]error{3: boom},
		OverrunAt: map[int]int{2: 4},
	}, device.RX1)
	buf := make([]int16, 2*8)

	var meta device.Metadata
	if err := d.SyncRX(buf, 8, &meta, time.Second); err != nil {
		t.Fatalf("call 1 failed: %v", err)
	}
	if err := d.SyncRX(buf, 8, &meta, time.Second); err != nil {
		t.Fatalf("call 2 failed: %v", err)
	}
	if !meta.Overrun() || meta.ActualCount != 4 {
		t.Fatalf("call 2 metadata %+v, want overrun with 4 samples", meta)
	}
	if err := d.SyncRX(buf, 8, &meta, time.Second); !errors.Is(err, boom) {
		t.Fatalf("call 3 = %v, want %v", err, boom)
	}
	if d.Calls() != 3 {
		t.Fatalf("calls = %d", d.Calls())
	}
}

func TestTimeoutAndReadiness(t *testing.T) {
	d := New(Options{})
	buf := make([]int16, 2)
	var meta device.Metadata
	if err := d.SyncRX(buf, 1, &meta, time.Second); !errors.Is(err, device.ErrNotConfigured) {
		t.Fatalf("unconfigured rx = %v", err)
	}

	d = configured(t, Options{Latency: 20 * time.Millisecond}, device.TX1)
	if err := d.SyncTX(buf, 1, &meta, time.Millisecond); !errors.Is(err, device.ErrTimeout) {
		t.Fatalf("slow tx = %v, want timeout", err)
	}
	if err := d.SyncRX(buf, 1, &meta, time.Second); err == nil {
		t.Fatal("rx without an enabled rx module succeeded")
	}
}

func TestTXRecordsBursts(t *testing.T) {
	d := configured(t, Options{StartTimestamp: 1000}, device.TX1)
	payload := []int16{1, 2, 3, 4}

	meta := device.Metadata{Timestamp: 2000, Flags: device.FlagBurstStart | device.FlagBurstEnd}
	if err := d.SyncTX(payload, 2, &meta, time.Second); err != nil {
		t.Fatalf("tx failed: %v", err)
	}
	payload[0] = 99

	bursts := d.Bursts()
	if len(bursts) != 1 {
		t.Fatalf("got %d bursts", len(bursts))
	}
	if bursts[0].Timestamp != 2000 || bursts[0].Samples[0] != 1 {
		t.Fatalf("unexpected burst %+v", bursts[0])
	}
	if ts, _ := d.CurrentTimestamp(device.TX); ts != 2002 {
		t.Fatalf("tx clock = %d, want 2002", ts)
	}
}
