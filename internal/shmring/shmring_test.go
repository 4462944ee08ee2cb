package shmring

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMIDIRingPushPopOrder(t *testing.T) {
	var r MIDIRing
	for _, b := range []byte{0x90, 0x40, 0x7F} {
		require.True(t, r.Push(b))
	}
	assert.Equal(t, uint32(3), r.Len())

	for _, want := range []byte{0x90, 0x40, 0x7F} {
		got, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.True(t, r.Empty())
	_, ok := r.Pop()
	assert.False(t, ok)
}

func TestMIDIRingOverflowDropsNewest(t *testing.T) {
	var r MIDIRing
	for i := 0; i < midiRingSize; i++ {
		require.True(t, r.Push(byte(i)))
	}
	// Ring is now full; the next push must be rejected (spec.md §7
	// MidiRingOverflow: drop the newest byte).
	assert.False(t, r.Push(0xAA))
	assert.Equal(t, uint32(midiRingSize), r.Len())

	first, ok := r.Pop()
	require.True(t, ok)
	assert.Equal(t, byte(0), first)
}

// TestTimestampSeqlockConcurrentReaders is spec.md §8 Invariant 2: for
// all interleavings of the writer with N concurrent readers, every
// successful observation must be an atomically-published pair.
func TestTimestampSeqlockConcurrentReaders(t *testing.T) {
	var cell TimestampCell

	const writes = 2000
	const readers = 8

	done := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				sampleTime, hostTime := cell.Read()
				// Published pairs always satisfy hostTime == sampleTime*1000
				// in this test's writer, so a torn read would violate
				// that relationship.
				if sampleTime != 0 {
					assert.Equal(t, sampleTime*1000, hostTime)
				}
			}
		}()
	}

	for i := uint64(1); i <= writes; i++ {
		cell.Publish(i, i*1000)
	}
	close(done)
	wg.Wait()
}

func TestTimestampSeqlockBasic(t *testing.T) {
	var cell TimestampCell
	cell.Publish(710, 123456789)
	sampleTime, hostTime := cell.Read()
	assert.Equal(t, uint64(710), sampleTime)
	assert.Equal(t, uint64(123456789), hostTime)
}

func TestRegionCreateOpenCloseRoundTrip(t *testing.T) {
	name := "ploytecd-test-" + time.Now().Format("150405.000000")

	r, err := Create(name, 4, 8192)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, MagicValue, r.Header.Magic.Load())
	assert.Equal(t, RegionVersion, r.Header.Version.Load())
	assert.NotEqual(t, uint32(0), r.Header.SessionID.Load())
	assert.Len(t, r.InputBuffer, 4*8192)
	assert.Len(t, r.OutputBuffer, 4*8192)

	opened, err := Open(name, 4, 8192)
	require.NoError(t, err)
	defer opened.Unmap()

	assert.Equal(t, r.Header.SessionID.Load(), opened.Header.SessionID.Load())

	r.Audio.HardwarePresent.Store(true)
	assert.True(t, opened.Audio.HardwarePresent.Load())
}

func TestSetNameAndName(t *testing.T) {
	var field [nameFieldSize]byte
	SetName(&field, "Allen & Heath")
	assert.Equal(t, "Allen & Heath", Name(&field))

	long := make([]byte, nameFieldSize*2)
	for i := range long {
		long[i] = 'x'
	}
	SetName(&field, string(long))
	assert.Len(t, Name(&field), nameFieldSize-1)
}
