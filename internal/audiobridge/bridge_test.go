package audiobridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ploytecd/internal/shmring"
	"ploytecd/internal/wire"
)

type fakeHost struct {
	changedCount int
}

func (h *fakeHost) DeviceListChanged() { h.changedCount++ }

func newTestRegion(t *testing.T) *shmring.Region {
	t.Helper()
	name := "ploytecd-bridge-test-" + time.Now().Format("150405.000000")
	region, err := shmring.Create(name, 4, 8192)
	require.NoError(t, err)
	t.Cleanup(func() { region.Close() })
	return region
}

func TestWriteOutputAdvancesHALWritePosition(t *testing.T) {
	region := newTestRegion(t)
	region.Audio.HardwarePresent.Store(true)
	region.Audio.DriverReady.Store(true)

	layout := wire.Layout{Mode: wire.ModeBulk, NumPackets: 4, MaxPacketSize: 8192}
	host := &fakeHost{}
	bridge := New(region, layout, 2, host)
	bridge.Start()

	frames := make([][wire.ChannelCount]float32, 80)
	for i := range frames {
		frames[i] = [wire.ChannelCount]float32{0.5, -0.5, 0.25, -0.25, 0.1, -0.1, 0, 0}
	}

	require.NoError(t, bridge.WriteOutput(frames, 0, 80))
	assert.Equal(t, uint64(80), region.Audio.HALWritePosition.Load())
	assert.Zero(t, host.changedCount)
}

func TestReadInputRoundTrip(t *testing.T) {
	region := newTestRegion(t)
	region.Audio.HardwarePresent.Store(true)
	region.Audio.DriverReady.Store(true)

	layout := wire.Layout{Mode: wire.ModeBulk, NumPackets: 4, MaxPacketSize: 8192}
	bridge := New(region, layout, 2, &fakeHost{})
	bridge.Start()

	// Build real PCM-in wire frames (64 bytes each, the shape
	// DecodeFrame actually reads) directly into the input ring at the
	// offsets Layout.ReadInput indexes for packet slot 0 — the same
	// bytes genuine device hardware would have written there.
	src := make([][wire.ChannelCount]float32, 80)
	for i := range src {
		src[i] = [wire.ChannelCount]float32{0.5, -0.5, 0.25, -0.25, 0.1, -0.1, 0, 0}
	}
	for i, frame := range src {
		off := i * wire.DecodedFrameBytes
		wire.EncodeInputFrame(region.InputBuffer[off:off+wire.DecodedFrameBytes], frame)
	}

	dst := make([][wire.ChannelCount]float32, 80)
	require.NoError(t, bridge.ReadInput(dst, 0, 80))

	for ch := 0; ch < wire.ChannelCount; ch++ {
		assert.InDelta(t, src[0][ch], dst[0][ch], 1e-3)
	}
}

func TestDisconnectedCallbacksReturnSilenceAndSignal(t *testing.T) {
	region := newTestRegion(t)
	// HardwarePresent/DriverReady left false: disconnected.

	layout := wire.Layout{Mode: wire.ModeBulk, NumPackets: 4, MaxPacketSize: 8192}
	host := &fakeHost{}
	bridge := New(region, layout, 2, host)
	bridge.Start()

	dst := make([][wire.ChannelCount]float32, 4)
	for i := range dst {
		dst[i] = [wire.ChannelCount]float32{1, 1, 1, 1, 1, 1, 1, 1}
	}
	require.NoError(t, bridge.ReadInput(dst, 0, 4))
	for _, f := range dst {
		assert.Equal(t, [wire.ChannelCount]float32{}, f)
	}
	assert.Equal(t, 1, host.changedCount)

	frames := make([][wire.ChannelCount]float32, 4)
	require.NoError(t, bridge.WriteOutput(frames, 0, 4))
	assert.Equal(t, 2, host.changedCount)
	assert.Zero(t, region.Audio.HALWritePosition.Load())
}

func TestSessionRestartInvalidatesConnection(t *testing.T) {
	region := newTestRegion(t)
	region.Audio.HardwarePresent.Store(true)
	region.Audio.DriverReady.Store(true)

	layout := wire.Layout{Mode: wire.ModeBulk, NumPackets: 4, MaxPacketSize: 8192}
	host := &fakeHost{}
	bridge := New(region, layout, 2, host)
	bridge.Start()

	// Simulate a fresh engine session stamping a new session id
	// (spec.md §8 scenario S6).
	region.Header.SessionID.Store(region.Header.SessionID.Load() + 1)

	dst := make([][wire.ChannelCount]float32, 4)
	require.NoError(t, bridge.ReadInput(dst, 0, 4))
	assert.Equal(t, 1, host.changedCount)
}

func TestTimestampReturnsSessionIDAsSeed(t *testing.T) {
	region := newTestRegion(t)
	region.Audio.Timestamp.Publish(320, 123456)

	layout := wire.Layout{Mode: wire.ModeBulk, NumPackets: 4, MaxPacketSize: 8192}
	bridge := New(region, layout, 2, &fakeHost{})

	sampleTime, hostTime, seed := bridge.Timestamp()
	assert.Equal(t, uint64(320), sampleTime)
	assert.Equal(t, uint64(123456), hostTime)
	assert.Equal(t, region.Header.SessionID.Load(), seed)
}
