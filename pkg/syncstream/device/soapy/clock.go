package soapy

const nsPerSecond = 1e9

// nsToTicks converts hardware nanoseconds to sample ticks without
// overflowing for long uptimes at high rates.
func nsToTicks(ns uint64, rate uint32) uint64 {
	r := uint64(rate)
	return ns/nsPerSecond*r + ns%nsPerSecond*r/nsPerSecond
}

func ticksToNs(ticks uint64, rate uint32) uint64 {
	if rate == 0 {
		return 0
	}
	r := uint64(rate)
	return ticks/r*nsPerSecond + ticks%r*nsPerSecond/r
}
