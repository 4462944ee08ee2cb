// Package audiobridge implements the Audio Bridge component (C4): the
// consumer side of the shared region, presenting ring and timestamp to
// a host audio framework and copying between host float buffers and
// the ring via internal/wire.
package audiobridge

import "ploytecd/internal/wire"

// Properties are the format descriptor the bridge advertises to the
// host audio framework (spec.md §4.4).
type Properties struct {
	ChannelsIn          int
	ChannelsOut         int
	SampleRate          uint32
	SafetyOffsetFrames  uint32
	LatencyFrames       uint32
	ZeroTimestampPeriod uint32
}

// PropertiesFor builds the advertised properties for a device running
// at sampleRate with the given urbCount/framesPerPacket/
// updateIntervalFrames geometry (spec.md §4.4: safety offset =
// urbCount*framesPerPacket, reference 160 frames; latency = 0;
// zero-timestamp period = updateIntervalFrames, reference 640).
func PropertiesFor(sampleRate, urbCount, framesPerPacket, updateIntervalFrames uint32) Properties {
	return Properties{
		ChannelsIn:          wire.ChannelCount,
		ChannelsOut:         wire.ChannelCount,
		SampleRate:          sampleRate,
		SafetyOffsetFrames:  urbCount * framesPerPacket,
		LatencyFrames:       0,
		ZeroTimestampPeriod: updateIntervalFrames,
	}
}
