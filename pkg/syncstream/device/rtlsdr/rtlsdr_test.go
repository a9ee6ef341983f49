package rtlsdr

import "testing"

func TestReadLength(t *testing.T) {
	tests := []struct {
		bufferSize int
		want       int
	}{
		{32768, 65536},
		{100, 512},
		{300, 512},
		{1000, 1536},
	}
	for _, tt := range tests {
		if got := readLength(tt.bufferSize); got != tt.want {
			t.Errorf("readLength(%d) = %d, want %d", tt.bufferSize, got, tt.want)
		}
	}
}
