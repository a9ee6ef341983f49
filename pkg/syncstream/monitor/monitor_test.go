package monitor

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/norasector/syncstream/pkg/syncstream/device"
	"github.com/norasector/syncstream/pkg/syncstream/stream"
)

func rxBlock(i int, samples []int16) stream.Block {
	return stream.Block{
		Direction:   device.RX,
		Iteration:   i,
		Timestamp:   uint64(i * 1000),
		ActualCount: len(samples) / 2,
		Samples:     samples,
		PowerDBFS:   stream.AveragePowerDBFS(samples),
		HasPower:    true,
	}
}

func TestObserve(t *testing.T) {
	m := New(1e6)
	tone := stream.CWTone(2048, stream.FullScale)
	m.Observe(rxBlock(1, tone))
	b := rxBlock(2, tone[:200])
	b.Overrun, b.HasPower = true, false
	m.Observe(b)
	b = rxBlock(3, tone)
	b.Sync = stream.SyncCompleted
	m.Observe(b)

	st := m.Status()
	if st.Iterations != 3 || st.Overruns != 1 || st.Resyncs != 1 || st.LastTimestamp != 3000 {
		t.Fatalf("status = %+v", st)
	}
	if st.Samples != 2048+2048+100 {
		t.Fatalf("samples = %d", st.Samples)
	}

	powers, samples := m.snapshot()
	if len(powers) != 2 || len(samples) != 2*fftSize {
		t.Fatalf("kept %d powers and %d samples", len(powers), len(samples))
	}
	// The retained block must not alias the scheduler buffer.
	tone[1] = 0
	if _, samples := m.snapshot(); samples[1] != stream.FullScale {
		t.Fatal("spectrum aliases the block buffer")
	}
}

func TestSpectrumPeak(t *testing.T) {
	xys := spectrum(stream.CWTone(fftSize, stream.FullScale), 1e6)
	best := 0
	for i := range xys {
		if xys[i].Y > xys[best].Y {
			best = i
		}
	}
	// The tone sits at Fs/4 below the carrier.
	if got := xys[best].X; math.Abs(got+250000) > 1 {
		t.Fatalf("peak at %v Hz, want -250000", got)
	}
	if math.Abs(xys[best].Y) > 0.5 {
		t.Fatalf("peak level %v dBFS, want about 0", xys[best].Y)
	}
}

func TestServer(t *testing.T) {
	m := New(1e6)
	s := NewServer(m, 0, time.Second, zerolog.Nop())
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	for _, path := range []string{"/power.png", "/spectrum.png"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s before data: %d", path, resp.StatusCode)
		}
	}

	m.Observe(rxBlock(1, stream.CWTone(512, stream.FullScale)))
	m.Observe(rxBlock(2, stream.CWTone(512, 1024)))

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	var st Status
	err = json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if st.Iterations != 2 || st.Direction != "rx" || st.LastPowerDBFS == nil {
		t.Fatalf("status = %+v", st)
	}

	pngMagic := []byte("\x89PNG")
	for _, path := range []string{"/power.png", "/spectrum.png"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		var body bytes.Buffer
		body.ReadFrom(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
			t.Fatalf("%s: %d %s", path, resp.StatusCode, resp.Header.Get("Content-Type"))
		}
		if !bytes.HasPrefix(body.Bytes(), pngMagic) {
			t.Fatalf("%s is not a png", path)
		}
	}
}
