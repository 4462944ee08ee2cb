package usbengine

import (
	"context"
	"errors"
	"sync/atomic"

	"ploytecd/internal/shmring"
	"ploytecd/internal/wire"
)

// pcmOutPump drives the PCM-out endpoint: on every completion it muxes
// one MIDI-out byte into the rotating next slot, submits that slot,
// and advances the sample clock (spec.md §4.3 "PCM-out completion").
type pcmOutPump struct {
	pipe       OutPipe
	layout     wire.Layout
	ring       []byte
	midiOut    *shmring.MIDIRing
	clock      *SampleClock
	urbCount   uint32
	numPackets uint32
	completed  atomic.Uint64
	shutdown   *atomic.Bool
}

// processMIDIOut implements spec.md §4.3's mux: pop one byte from the
// MIDI-out ring if available, else write the sentinel; the second
// slot always gets the sentinel.
func (p *pcmOutPump) processMIDIOut(slot uint32) {
	off := p.layout.MIDISlotOffset(slot)
	b, ok := p.midiOut.Pop()
	if !ok {
		b = shmring.SentinelIgnore
	}
	p.ring[off] = b
	p.ring[off+1] = shmring.SentinelIgnore
}

// submit sends the packet at the given slot. shutdownInProgress is
// checked before submission, not after: a cancelled write must not be
// retried (spec.md §5 "Cancellation").
func (p *pcmOutPump) submit(ctx context.Context, slot uint32) error {
	if p.shutdown.Load() {
		return ErrPipeAborted
	}
	off := uint64(slot) * uint64(p.layout.MaxPacketSize)
	packet := p.ring[off : off+uint64(p.layout.OutputPacketBytes())]
	_, err := p.pipe.Write(ctx, packet)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ErrPipeAborted
		}
		return ErrTransientTransferError
	}
	return nil
}

// runOnce drives a single completion: mux MIDI into the next slot,
// submit it, and on success advance the clock. Framed as a method
// rather than an inline loop so tests can step it deterministically.
func (p *pcmOutPump) runOnce(ctx context.Context) error {
	if p.shutdown.Load() {
		return ErrPipeAborted
	}
	finished := p.completed.Load()
	next := uint32((finished + uint64(p.urbCount)) % uint64(p.numPackets))

	p.processMIDIOut(next)
	if err := p.submit(ctx, next); err != nil {
		if errors.Is(err, ErrPipeAborted) {
			return err
		}
		// Transient error: still advance so the slot isn't starved
		// (spec.md §7 TransientTransferError).
		p.completed.Add(1)
		return err
	}

	p.completed.Add(1)
	p.clock.Advance(wire.FramesPerPacket)
	return nil
}

// run pumps completions until ctx is cancelled or shutdown is set.
func (p *pcmOutPump) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if p.shutdown.Load() {
			return
		}
		if err := p.runOnce(ctx); err != nil && errors.Is(err, ErrPipeAborted) {
			return
		}
	}
}

// pcmInPump drives the PCM-in endpoint: a symmetric rotating
// resubmission loop with no timestamp work (spec.md §4.3 "PCM-in
// completion").
type pcmInPump struct {
	pipe       InPipe
	ring       []byte
	maxPacket  uint32
	urbCount   uint32
	numPackets uint32
	completed  atomic.Uint64
	shutdown   *atomic.Bool
	onComplete func()
}

func (p *pcmInPump) runOnce(ctx context.Context) error {
	if p.shutdown.Load() {
		return ErrPipeAborted
	}
	finished := p.completed.Load()
	next := uint32((finished + uint64(p.urbCount)) % uint64(p.numPackets))

	off := uint64(next) * uint64(p.maxPacket)
	buf := p.ring[off : off+uint64(InputPacketBytes)]

	n, err := p.pipe.Read(ctx, buf)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ErrPipeAborted
		}
		p.completed.Add(1)
		return ErrTransientTransferError
	}
	_ = n

	p.completed.Add(1)
	if p.onComplete != nil {
		p.onComplete()
	}
	return nil
}

func (p *pcmInPump) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if p.shutdown.Load() {
			return
		}
		if err := p.runOnce(ctx); err != nil && errors.Is(err, ErrPipeAborted) {
			return
		}
	}
}

// midiInPump drives the MIDI-in endpoint: filters the 0xFD sentinel
// and pushes survivors into the MIDI-in ring with overflow =
// drop-newest (spec.md §4.3 "MIDI-in completion").
type midiInPump struct {
	pipe       InPipe
	midiIn     *shmring.MIDIRing
	shutdown   *atomic.Bool
	onOverflow func()
}

// runOnce reads one MIDI-in packet and pushes every non-sentinel byte
// into the ring. If the ring is full, the byte is dropped (not the
// pump: spec.md §7 MidiRingOverflow is reported, not fatal) and
// runOnce returns ErrMidiRingOverflow so callers can observe it via
// errors.Is; run() does not treat this as a reason to stop.
func (p *midiInPump) runOnce(ctx context.Context) error {
	if p.shutdown.Load() {
		return ErrPipeAborted
	}
	buf := make([]byte, p.pipe.MaxPacketSize())
	n, err := p.pipe.Read(ctx, buf)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ErrPipeAborted
		}
		return ErrTransientTransferError
	}
	overflowed := false
	for _, b := range buf[:n] {
		if b == shmring.SentinelIgnore {
			continue
		}
		if !p.midiIn.Push(b) {
			overflowed = true
			continue
		}
	}
	if overflowed {
		if p.onOverflow != nil {
			p.onOverflow()
		}
		return ErrMidiRingOverflow
	}
	return nil
}

func (p *midiInPump) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if p.shutdown.Load() {
			return
		}
		if err := p.runOnce(ctx); err != nil && errors.Is(err, ErrPipeAborted) {
			return
		}
	}
}
