package stream

import "math"

const (
	// FullScale is the largest SC16 Q11 magnitude.
	FullScale = 2047
	// PowerFloorDBFS is reported for a non-empty block of silence, where the
	// logarithm would be minus infinity.
	PowerFloorDBFS = -200.0
)

// AveragePowerDBFS returns the mean I²+Q² of an interleaved I/Q block relative
// to full scale. A block without a complete pair reports 0; a trailing
// unpaired value is ignored.
func AveragePowerDBFS(samples []int16) float64 {
	pairs := len(samples) / 2
	if pairs == 0 {
		return 0
	}

	var total float64
	for i := 0; i < 2*pairs; i += 2 {
		re := float64(samples[i])
		im := float64(samples[i+1])
		total += re*re + im*im
	}
	if total == 0 {
		return PowerFloorDBFS
	}

	total /= float64(pairs)
	total /= FullScale * FullScale
	return math.Max(10*math.Log10(total), PowerFloorDBFS)
}
