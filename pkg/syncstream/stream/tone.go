package stream

var (
	toneI = [4]int16{0, 1, 0, -1}
	toneQ = [4]int16{1, 0, -1, 0}
)

// CWTone returns n interleaved I/Q pairs of a carrier at Fc - Fs/4.
func CWTone(n int, amplitude int16) []int16 {
	if n <= 0 {
		return nil
	}
	samples := make([]int16, 2*n)
	for i := 0; i < n; i++ {
		samples[2*i] = amplitude * toneI[i%4]
		samples[2*i+1] = amplitude * toneQ[i%4]
	}
	return samples
}
