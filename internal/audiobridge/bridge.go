package audiobridge

import (
	"fmt"

	"ploytecd/internal/shmring"
	"ploytecd/internal/wire"
)

// HostFramework is the minimal surface the bridge needs from its
// caller (spec.md §4.4, §6: the host plugin ABI itself — CoreAudio
// AudioServerPlugIn, ALSA PCM/RawMIDI, DriverKit IOUserAudio — is out
// of scope; this is the boundary a real plugin shim would implement).
type HostFramework interface {
	// DeviceListChanged is signalled whenever the bridge detects the
	// shared region no longer matches the session it cached, so the
	// host can re-enumerate (spec.md §4.4 "Disconnect handling").
	DeviceListChanged()
}

// Bridge is the consumer side of one shared region: it presents the
// ring and timestamp to a HostFramework and performs the float<->ring
// copies via internal/wire (spec.md §4.4).
type Bridge struct {
	region   *shmring.Region
	layout   wire.Layout
	host     HostFramework
	urbCount uint32

	cachedSessionID uint32
	started         bool
}

// New builds a Bridge over region using layout to address its PCM
// rings. urbCount is the engine's in-flight transfer count, used only
// to compute the advertised safety offset (spec.md §4.4). Call Start
// once the bridge is ready to begin serving callbacks; Start snapshots
// the current session id (spec.md §4.2 invariant 4: "readers cache it
// at map-in").
func New(region *shmring.Region, layout wire.Layout, urbCount uint32, host HostFramework) *Bridge {
	return &Bridge{region: region, layout: layout, urbCount: urbCount, host: host}
}

// Start snapshots the region's current session id.
func (b *Bridge) Start() {
	b.cachedSessionID = b.region.Header.SessionID.Load()
	b.started = true
}

// Properties returns the format descriptor to advertise to the host
// framework, derived from the region's current geometry.
func (b *Bridge) Properties() Properties {
	return PropertiesFor(
		b.region.Audio.SampleRate.Load(),
		b.urbCount,
		b.region.Audio.FramesPerPacket.Load(),
		b.region.Audio.UpdateIntervalFrames.Load(),
	)
}

// connected implements spec.md §4.4's pre-callback check: magic,
// hardwarePresent, driverReady, and a session id that still matches
// what Start cached.
func (b *Bridge) connected() bool {
	if b.region.Header.Magic.Load() != shmring.MagicValue {
		return false
	}
	if !b.region.Audio.HardwarePresent.Load() || !b.region.Audio.DriverReady.Load() {
		return false
	}
	if b.started && b.region.Header.SessionID.Load() != b.cachedSessionID {
		return false
	}
	return true
}

// signalDisconnect notifies the host framework that it should
// re-enumerate (spec.md §4.4). It is called on every callback made
// while disconnected, not only on the transition.
func (b *Bridge) signalDisconnect() {
	if b.host != nil {
		b.host.DeviceListChanged()
	}
}

// WriteOutput is the host write callback: it encodes frameCount host
// float frames starting at sampleTime into the output ring and
// advances halWritePosition (spec.md §4.4 "Write callback"). When the
// region is disconnected, the frames are ignored and the host is
// signalled to re-enumerate.
func (b *Bridge) WriteOutput(srcFrames [][wire.ChannelCount]float32, sampleTime uint64, frameCount uint32) error {
	if !b.connected() {
		b.signalDisconnect()
		return nil
	}
	if err := b.layout.WriteOutput(b.region.OutputBuffer, srcFrames, sampleTime, frameCount); err != nil {
		return fmt.Errorf("audiobridge: write output: %w", err)
	}
	b.region.Audio.HALWritePosition.Store(sampleTime + uint64(frameCount))
	return nil
}

// ReadInput is the host read callback: it decodes frameCount frames
// starting at sampleTime from the input ring into dstFrames (spec.md
// §4.4 "Read callback"). When the region is disconnected, dstFrames is
// zeroed (silence) and the host is signalled to re-enumerate.
func (b *Bridge) ReadInput(dstFrames [][wire.ChannelCount]float32, sampleTime uint64, frameCount uint32) error {
	if !b.connected() {
		for i := uint32(0); i < frameCount && int(i) < len(dstFrames); i++ {
			dstFrames[i] = [wire.ChannelCount]float32{}
		}
		b.signalDisconnect()
		return nil
	}
	if err := b.layout.ReadInput(dstFrames, b.region.InputBuffer, sampleTime, frameCount); err != nil {
		return fmt.Errorf("audiobridge: read input: %w", err)
	}
	return nil
}

// Timestamp performs the sequence-lock reader protocol and returns the
// session id as the seed, so a session restart invalidates the host's
// cached clock (spec.md §4.4 "Timestamp read").
func (b *Bridge) Timestamp() (sampleTime, hostTime uint64, seed uint32) {
	sampleTime, hostTime = b.region.Audio.Timestamp.Read()
	return sampleTime, hostTime, b.region.Header.SessionID.Load()
}
