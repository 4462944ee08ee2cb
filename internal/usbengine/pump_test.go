package usbengine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ploytecd/internal/shmring"
)

// fullMidiInPipe returns the same fixed packet on every read; its
// MaxPacketSize is the packet's length.
type fullMidiInPipe struct{ packet []byte }

func (p *fullMidiInPipe) MaxPacketSize() int { return len(p.packet) }

func (p *fullMidiInPipe) Read(ctx context.Context, buf []byte) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	return copy(buf, p.packet), nil
}

// TestMidiInPumpOverflowIsObservable covers spec.md §7's
// MidiRingOverflow: once the MIDI-in ring is full, runOnce must still
// drop the byte (not fail the pump) but report ErrMidiRingOverflow so
// an errors.Is caller can observe it, and the registered callback must
// fire.
func TestMidiInPumpOverflowIsObservable(t *testing.T) {
	var midiIn shmring.MIDIRing
	// Fill the ring to capacity with a distinct byte first.
	for i := 0; i < 1024; i++ {
		require.True(t, midiIn.Push(0x01))
	}

	var shutdown atomic.Bool
	var overflowed int
	pump := &midiInPump{
		pipe:       &fullMidiInPipe{packet: []byte{0x90, 0x40}},
		midiIn:     &midiIn,
		shutdown:   &shutdown,
		onOverflow: func() { overflowed++ },
	}

	err := pump.runOnce(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMidiRingOverflow))
	assert.Equal(t, 1, overflowed)
}

// TestMidiInPumpFiltersSentinelNoOverflow confirms a normal packet with
// room in the ring neither overflows nor errors.
func TestMidiInPumpFiltersSentinelNoOverflow(t *testing.T) {
	var midiIn shmring.MIDIRing
	var shutdown atomic.Bool
	pump := &midiInPump{
		pipe:     &fullMidiInPipe{packet: []byte{0x90, shmring.SentinelIgnore, 0x40}},
		midiIn:   &midiIn,
		shutdown: &shutdown,
	}

	require.NoError(t, pump.runOnce(context.Background()))
	assert.Equal(t, uint32(2), midiIn.Len())
}
