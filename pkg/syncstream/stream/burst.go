package stream

import "github.com/norasector/syncstream/pkg/syncstream/device"

const burstFlags = device.FlagBurstStart | device.FlagBurstEnd

// BurstFramer marks TX transfers. Every transfer is a complete burst: there
// is no continuation across calls, so the framer keeps no state.
type BurstFramer struct {
	Enabled bool
}

func (b BurstFramer) Frame(meta *device.Metadata) {
	if b.Enabled {
		meta.Flags |= burstFlags
		return
	}
	meta.Flags &^= burstFlags
}
