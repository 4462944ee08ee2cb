// Package usbengine implements the USB-side streaming engine (C3):
// device enumeration, the control-transfer protocol, the async packet
// pump over PCM-out/PCM-in/MIDI-in, the hardware clock, and MIDI
// multiplexing (spec.md §4.3).
package usbengine

import "ploytecd/internal/wire"

// VendorID is the single USB vendor id this driver family shares
// (spec.md §6).
const VendorID = 0x0A4A

// Product ids for the four Ploytec family members this engine
// recognizes (spec.md §6).
const (
	ProductDB4 = 0xFFDB
	ProductDB2 = 0xFFD2
	ProductDX  = 0xFFDD
	Product4D  = 0xFF4D
)

// SupportedProducts is the set of product ids the hotplug matcher
// accepts alongside VendorID.
var SupportedProducts = map[uint16]bool{
	ProductDB4: true,
	ProductDB2: true,
	ProductDX:  true,
	Product4D:  true,
}

// Profile names the interfaces and endpoints the engine must claim for
// one device family member (spec.md §3 "Device profile").
type Profile struct {
	ProductID uint16

	// Configuration is the USB configuration value to select (always
	// 1 on the reference devices).
	Configuration int

	// PCMOutInterface/PCMInInterface/MIDIInInterface name the
	// interface index each pipe belongs to. Both PCM pipes live on
	// interface 0 and MIDI-in on interface 1 on the reference
	// hardware. Sequencer.Enumerate claims PCMOutInterface and
	// MIDIInInterface only: the PCM-in endpoint is always opened on
	// PCMOutInterface, and PCMInInterface is not consulted.
	PCMOutInterface int
	PCMInInterface  int
	MIDIInInterface int

	// AlternateSetting is the alt-setting every claimed interface must
	// select (spec.md §4.3: "selects alternate setting 1").
	AlternateSetting int

	PCMOutEndpoint uint8
	PCMInEndpoint  uint8
	MIDIInEndpoint uint8

	// NumPackets and MaxPacketSize size the shared ring this profile's
	// packets are written into.
	NumPackets    uint32
	MaxPacketSize uint32

	// URBCount is the slot offset in the pumps' next-slot formula
	// (completed + URBCount) % NumPackets and the factor of the
	// advertised safety offset. Each pump keeps one transfer in flight
	// per endpoint regardless of URBCount.
	URBCount uint32
}

// ReferenceProfile is the Xone:DB4-class device profile described
// throughout spec.md §§3-6.
func ReferenceProfile(productID uint16) Profile {
	return Profile{
		ProductID:         productID,
		Configuration:     1,
		PCMOutInterface:   0,
		PCMInInterface:    0,
		MIDIInInterface:   1,
		AlternateSetting:  1,
		PCMOutEndpoint:    0x05,
		PCMInEndpoint:     0x86,
		MIDIInEndpoint:    0x83,
		NumPackets:        128,
		MaxPacketSize:     8192,
		URBCount:          2,
	}
}

// UpdateIntervalFrames is the frame count between timestamp
// publications (spec.md §4.3: "every 640 frames = every 8 packets").
const UpdateIntervalFrames = 8 * wire.FramesPerPacket

// InputPacketBytes is the fixed wire size of one PCM-in packet
// (spec.md §6: 80 frames * 64 bytes).
const InputPacketBytes = wire.FramesPerPacket * wire.DecodedFrameBytes

// layoutFor builds the wire.Layout a profile's output ring uses, given
// the transfer mode detected during enumeration.
func layoutFor(p Profile, mode wire.TransferMode) wire.Layout {
	return wire.Layout{Mode: mode, NumPackets: p.NumPackets, MaxPacketSize: p.MaxPacketSize}
}
