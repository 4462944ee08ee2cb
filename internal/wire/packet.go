package wire

import "fmt"

// TransferMode selects the USB transfer type the PCM-out endpoint uses,
// which in turn decides whether the MIDI byte gap is present inside
// each sub-packet (spec.md §4.3 step 2, §6).
type TransferMode int

const (
	ModeBulk TransferMode = iota
	ModeInterrupt
)

const (
	// FramesPerPacket is the number of audio frames one USB packet
	// carries, for both PCM-out and PCM-in, on the reference device.
	FramesPerPacket = 80

	// subPacketsPerPacket divides a packet into 8 equal sub-packets.
	subPacketsPerPacket = 8

	// framesPerSubPacket is 10 regardless of mode: 10 tightly-packed
	// frames in bulk mode, or 9+1 straddling a 2-byte MIDI gap in
	// interrupt mode.
	framesPerSubPacket = FramesPerPacket / subPacketsPerPacket

	bulkSubPacketBytes = 512
	bulkPCMBytes       = 480 // 10 frames * 48 bytes

	interruptSubPacketBytes  = 482
	interruptPCMBeforeGap    = 432 // 9 frames * 48 bytes
	interruptGapBytes        = 2
	interruptPCMAfterGapSize = 48 // 1 frame
)

// Layout describes the geometry of one transfer mode's output packet
// and the shared ring it is written into/read from. midiSubPacketOffset
// gives the byte offset of the first of the two MIDI slots within a
// sub-packet (see spec.md §4.3 step 2: 480 in bulk mode, 432 in
// interrupt mode — the count of PCM bytes that precede the gap in the
// sub-packet).
type Layout struct {
	Mode          TransferMode
	NumPackets    uint32
	MaxPacketSize uint32
}

// OutputPacketBytes returns the wire size of one PCM-out packet for
// this layout's mode (spec.md §6).
func (l Layout) OutputPacketBytes() uint32 {
	if l.Mode == ModeBulk {
		return subPacketsPerPacket * bulkSubPacketBytes
	}
	return subPacketsPerPacket * interruptSubPacketBytes
}

// midiSubPacketOffset returns the byte offset, within one sub-packet,
// of the first MIDI slot.
func (l Layout) midiSubPacketOffset() uint32 {
	if l.Mode == ModeBulk {
		return bulkPCMBytes
	}
	return interruptPCMBeforeGap
}

func (l Layout) subPacketBytes() uint32 {
	if l.Mode == ModeBulk {
		return bulkSubPacketBytes
	}
	return interruptSubPacketBytes
}

// ringSizeFrames is the total frame capacity of the audio ring this
// layout addresses.
func (l Layout) ringSizeFrames() uint64 {
	return uint64(l.NumPackets) * FramesPerPacket
}

// encodeFrameOffset returns the byte offset, within one packet, that
// frame frameInPacket (0..79) occupies in the encoded (PCM-out) wire
// layout for this mode.
func (l Layout) encodeFrameOffset(frameInPacket uint32) uint32 {
	sub := frameInPacket / framesPerSubPacket
	within := frameInPacket % framesPerSubPacket
	base := sub * l.subPacketBytes()

	if l.Mode == ModeBulk || within < framesPerSubPacket-1 {
		return base + within*EncodedFrameBytes
	}
	// Interrupt mode, last frame of the sub-packet: skip the 2-byte
	// MIDI gap that sits after the first 9 frames.
	return base + interruptPCMBeforeGap + interruptGapBytes
}

// WriteOutput encodes frameCount frames starting at host sample time
// sampleTime into ring, which must be sized
// NumPackets*MaxPacketSize bytes. Wrap at the ring boundary is handled
// per-frame, which makes wrapping calls byte-identical to the
// equivalent pair of non-wrapping calls split at the boundary (spec.md
// §8 Invariant 6).
func (l Layout) WriteOutput(ring []byte, srcFrames [][ChannelCount]float32, sampleTime uint64, frameCount uint32) error {
	if uint32(len(srcFrames)) < frameCount {
		return fmt.Errorf("wire: srcFrames too short: have %d, need %d", len(srcFrames), frameCount)
	}
	ringFrames := l.ringSizeFrames()
	if ringFrames == 0 {
		return fmt.Errorf("wire: zero-size ring layout")
	}

	for i := uint32(0); i < frameCount; i++ {
		globalFrame := (sampleTime + uint64(i)) % ringFrames
		packetIdx := globalFrame / FramesPerPacket
		frameInPacket := uint32(globalFrame % FramesPerPacket)
		slot := packetIdx % uint64(l.NumPackets)

		off := uint32(slot)*l.MaxPacketSize + l.encodeFrameOffset(frameInPacket)
		EncodeFrame(ring[off:off+EncodedFrameBytes], srcFrames[i])
	}
	return nil
}

// ReadInput decodes frameCount frames starting at sampleTime from
// ring (a PCM-in ring, 64 bytes/frame, no MIDI gaps) into dstFrames.
func (l Layout) ReadInput(dstFrames [][ChannelCount]float32, ring []byte, sampleTime uint64, frameCount uint32) error {
	if uint32(len(dstFrames)) < frameCount {
		return fmt.Errorf("wire: dstFrames too short: have %d, need %d", len(dstFrames), frameCount)
	}
	ringFrames := l.ringSizeFrames()
	if ringFrames == 0 {
		return fmt.Errorf("wire: zero-size ring layout")
	}

	for i := uint32(0); i < frameCount; i++ {
		globalFrame := (sampleTime + uint64(i)) % ringFrames
		packetIdx := globalFrame / FramesPerPacket
		frameInPacket := uint32(globalFrame % FramesPerPacket)
		slot := packetIdx % uint64(l.NumPackets)

		off := uint32(slot)*l.MaxPacketSize + frameInPacket*DecodedFrameBytes
		DecodeFrame(&dstFrames[i], ring[off:off+DecodedFrameBytes])
	}
	return nil
}

// ClearOutput zeros all PCM positions of every packet slot in an
// output ring while preserving the 0xFD sync bytes at each sub-packet's
// MIDI offsets, matching spec.md §4.1's clearOutput contract.
func (l Layout) ClearOutput(ring []byte) {
	for slot := uint32(0); slot < l.NumPackets; slot++ {
		packetStart := slot * l.MaxPacketSize
		packet := ring[packetStart : packetStart+l.OutputPacketBytes()]
		for i := range packet {
			packet[i] = 0
		}
		midiOff := l.midiSubPacketOffset()
		subBytes := l.subPacketBytes()
		for sub := uint32(0); sub < subPacketsPerPacket; sub++ {
			base := sub * subBytes
			packet[base+midiOff] = 0xFD
			packet[base+midiOff+1] = 0xFD
		}
	}
}

// MIDISlotOffset returns the absolute byte offset of the first MIDI
// byte within packet slot index (mod NumPackets), for the first
// sub-packet — the one byte-per-packet injection point the packet
// pump (internal/usbengine) writes to on every PCM-out completion.
func (l Layout) MIDISlotOffset(slot uint32) uint32 {
	return (slot%l.NumPackets)*l.MaxPacketSize + l.midiSubPacketOffset()
}
