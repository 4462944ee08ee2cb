package shmring

import "sync/atomic"

// SentinelIgnore is the Ploytec wire protocol's "ignore this MIDI
// byte" value. The engine writes it into unused MIDI slots and drops
// it on receipt from MIDI-in (spec.md §4.2).
const SentinelIgnore byte = 0xFD

// MIDIRing is a single-producer/single-consumer byte ring with
// free-running 32-bit indices, used for both the MIDI-out and MIDI-in
// rings (spec.md §3, §4.2). The mask is size-1 since the buffer is a
// power of two.
type MIDIRing struct {
	write atomic.Uint32
	_pad0 [padBytes]byte
	read  atomic.Uint32
	_pad1 [padBytes]byte
	buf   [midiRingSize]byte
}

// Push enqueues one byte. It reports false (overflow = drop-newest,
// spec.md §7 MidiRingOverflow) if the ring is full.
func (r *MIDIRing) Push(b byte) bool {
	w := r.write.Load()
	read := r.read.Load()
	if w-read >= midiRingSize {
		return false
	}
	r.buf[w&midiRingMask] = b
	r.write.Store(w + 1) // release: publishes buf[w] to the consumer
	return true
}

// Pop dequeues one byte under SPSC discipline. ok is false if the ring
// is empty.
func (r *MIDIRing) Pop() (b byte, ok bool) {
	read := r.read.Load()
	w := r.write.Load() // acquire: pairs with Push's release store
	if read == w {
		return 0, false
	}
	b = r.buf[read&midiRingMask]
	r.read.Store(read + 1)
	return b, true
}

// Len reports the number of bytes currently queued.
func (r *MIDIRing) Len() uint32 {
	return r.write.Load() - r.read.Load()
}

// Empty reports whether the ring currently holds no bytes.
func (r *MIDIRing) Empty() bool {
	return r.Len() == 0
}
