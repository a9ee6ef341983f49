package stream

import (
	"testing"

	"github.com/norasector/syncstream/pkg/syncstream/device"
)

func TestBurstFramer(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		in      device.Flags
		want    device.Flags
	}{
		{"marks complete burst", true, 0, device.FlagBurstStart | device.FlagBurstEnd},
		{"keeps other flags", true, device.FlagTXNow, device.FlagTXNow | device.FlagBurstStart | device.FlagBurstEnd},
		{"continuous clears markers", false, device.FlagBurstStart | device.FlagBurstEnd, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := device.Metadata{Flags: tt.in}
			BurstFramer{Enabled: tt.enabled}.Frame(&meta)
			if meta.Flags != tt.want {
				t.Errorf("flags = %b, want %b", meta.Flags, tt.want)
			}
			// Framing twice gives the same result: no state between calls.
			BurstFramer{Enabled: tt.enabled}.Frame(&meta)
			if meta.Flags != tt.want {
				t.Errorf("second frame flags = %b, want %b", meta.Flags, tt.want)
			}
		})
	}
}
