package usbengine

import (
	"context"
	"fmt"
	"time"

	"ploytecd/internal/wire"
)

// Vendor control request bytes and bmRequestType values used
// throughout the handshake (spec.md §4.3, verbatim).
const (
	reqReadFirmware  = 'V' // 0x56
	reqGetStatus     = 'I' // 0x49
	reqGetSampleRate = 0x81
	reqSetSampleRate = 0x01
	reqArm           = 'I' // 0x49, different bmRequestType/wValue than status

	bmRequestTypeDeviceToHostVendor = 0xC0
	bmRequestTypeHostToDeviceVendor = 0x22
	bmRequestTypeHostToDeviceVendor2 = 0x40
	bmRequestTypeHostToDeviceVendor3 = 0xA2

	defaultControlTimeout = 2000 * time.Millisecond
)

// FirmwareVersion is decoded from bytes 0 and 2 of the 15-byte
// response to the firmware read request (spec.md §3).
type FirmwareVersion struct {
	ID    byte
	Major int
	Minor int
	Patch int
}

func decodeFirmware(resp []byte) (FirmwareVersion, error) {
	if len(resp) < 3 {
		return FirmwareVersion{}, fmt.Errorf("%w: firmware response too short (%d bytes)", ErrEnumerationFailed, len(resp))
	}
	return FirmwareVersion{
		ID:    resp[0],
		Major: 1,
		Minor: int(resp[2]) / 10,
		Patch: int(resp[2]) % 10,
	}, nil
}

// StatusFlags decodes the status byte's bits, for logging only
// (spec.md §4.3).
type StatusFlags struct {
	HighSpeed  bool
	LegacyBCD1 bool
	Armed      bool
	ClockLock  bool
	Streaming  bool
	Stable     bool
}

func decodeStatus(b byte) StatusFlags {
	return StatusFlags{
		HighSpeed:  b&0x80 != 0,
		LegacyBCD1: b&0x20 != 0,
		Armed:      b&0x10 != 0,
		ClockLock:  b&0x04 != 0,
		Streaming:  b&0x02 != 0,
		Stable:     b&0x01 != 0,
	}
}

// sampleRateBytes is the little-endian 3-byte frequency payload table
// (spec.md §4.3).
var sampleRateBytes = map[uint32][3]byte{
	44100: {0x44, 0xAC, 0x00},
	48000: {0x80, 0xBB, 0x00},
	88200: {0x88, 0x58, 0x01},
	96000: {0x00, 0x77, 0x01},
}

// fourDHardcodedRate is the sample rate assumed for VID/PID
// 0x0A4A/0xFF4D, which does not answer the rate query (spec.md §4.3,
// §9 open question).
const fourDHardcodedRate uint32 = 96000

// EnumerationResult is what the control-protocol sequencer hands back
// to the engine once the device is in the armed, pre-streaming state.
type EnumerationResult struct {
	Firmware     FirmwareVersion
	Mode         wire.TransferMode
	SampleRate   uint32
	PCMInterface Interface
	MIDIIntf     Interface
	PCMOut       OutPipe
	PCMIn        InPipe
	MIDIIn       InPipe
}

// Sequencer runs the seven-step control protocol described in spec.md
// §4.3, in order, with no request omitted.
type Sequencer struct {
	Transport Transport
	Profile   Profile
}

// Enumerate performs the full configuration handshake against an
// already-opened device and returns the pipes the engine should start
// pumping.
func (s *Sequencer) Enumerate(ctx context.Context) (*EnumerationResult, error) {
	fw, err := s.readFirmware(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.Transport.SetConfiguration(s.Profile.Configuration); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnumerationFailed, err)
	}

	pcmIntf, err := s.Transport.ClaimInterface(s.Profile.PCMOutInterface, s.Profile.AlternateSetting)
	if err != nil {
		return nil, fmt.Errorf("%w: claim pcm interface: %v", ErrEnumerationFailed, err)
	}
	pcmOut, err := pcmIntf.OutEndpoint(s.Profile.PCMOutEndpoint)
	if err != nil {
		pcmIntf.Close()
		return nil, fmt.Errorf("%w: pcm-out endpoint: %v", ErrEnumerationFailed, err)
	}
	pcmIn, err := pcmIntf.InEndpoint(s.Profile.PCMInEndpoint)
	if err != nil {
		pcmIntf.Close()
		return nil, fmt.Errorf("%w: pcm-in endpoint: %v", ErrEnumerationFailed, err)
	}

	var midiIntf Interface = pcmIntf
	if s.Profile.MIDIInInterface != s.Profile.PCMOutInterface {
		midiIntf, err = s.Transport.ClaimInterface(s.Profile.MIDIInInterface, s.Profile.AlternateSetting)
		if err != nil {
			pcmIntf.Close()
			return nil, fmt.Errorf("%w: claim midi interface: %v", ErrEnumerationFailed, err)
		}
	}
	midiIn, err := midiIntf.InEndpoint(s.Profile.MIDIInEndpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: midi-in endpoint: %v", ErrEnumerationFailed, err)
	}

	mode := pcmOut.TransferMode()

	if _, err := s.getStatus(ctx); err != nil {
		return nil, err
	}

	is4D := s.Profile.ProductID == Product4D
	rate := fourDHardcodedRate
	if !is4D {
		rate, err = s.getSampleRate(ctx)
		if err != nil {
			return nil, err
		}
	}

	if err := s.setSampleRate(ctx, rate); err != nil {
		return nil, err
	}

	if _, err := s.getStatus(ctx); err != nil {
		return nil, err
	}
	if !is4D {
		if _, err := s.getSampleRate(ctx); err != nil {
			return nil, err
		}
	}

	if err := s.arm(ctx); err != nil {
		return nil, err
	}

	return &EnumerationResult{
		Firmware:     fw,
		Mode:         mode,
		SampleRate:   rate,
		PCMInterface: pcmIntf,
		MIDIIntf:     midiIntf,
		PCMOut:       pcmOut,
		PCMIn:        pcmIn,
		MIDIIn:       midiIn,
	}, nil
}

// readFirmware is handshake step 1.
func (s *Sequencer) readFirmware(ctx context.Context) (FirmwareVersion, error) {
	buf := make([]byte, 15)
	n, err := s.Transport.ControlTransfer(ctx, ControlRequest{
		RequestType: bmRequestTypeDeviceToHostVendor,
		Request:     reqReadFirmware,
		Value:       0,
		Index:       0,
		Data:        buf,
		Timeout:     defaultControlTimeout,
	})
	if err != nil {
		return FirmwareVersion{}, fmt.Errorf("%w: read firmware: %v", ErrEnumerationFailed, err)
	}
	return decodeFirmware(buf[:n])
}

// getStatus is handshake step 3 (and its repeat at step 6).
func (s *Sequencer) getStatus(ctx context.Context) (StatusFlags, error) {
	buf := make([]byte, 1)
	n, err := s.Transport.ControlTransfer(ctx, ControlRequest{
		RequestType: bmRequestTypeDeviceToHostVendor,
		Request:     reqGetStatus,
		Value:       0,
		Index:       0,
		Data:        buf,
		Timeout:     defaultControlTimeout,
	})
	if err != nil || n < 1 {
		return StatusFlags{}, fmt.Errorf("%w: get status: %v", ErrEnumerationFailed, err)
	}
	return decodeStatus(buf[0]), nil
}

// getSampleRate is handshake step 4 (and its repeat at step 6), skipped
// for the 4D product id.
func (s *Sequencer) getSampleRate(ctx context.Context) (uint32, error) {
	buf := make([]byte, 3)
	n, err := s.Transport.ControlTransfer(ctx, ControlRequest{
		RequestType: bmRequestTypeHostToDeviceVendor3,
		Request:     reqGetSampleRate,
		Value:       0x0100,
		Index:       0,
		Data:        buf,
		Timeout:     defaultControlTimeout,
	})
	if err != nil || n < 3 {
		return 0, fmt.Errorf("%w: get sample rate: %v", ErrEnumerationFailed, err)
	}
	return decodeSampleRateBytes([3]byte{buf[0], buf[1], buf[2]}), nil
}

// setSampleRate is handshake step 5: five writes alternating wIndex
// 0x0086, 0x0005, 0x0086, 0x0005, 0x0086. The alternation is required;
// the device ignores a single write.
func (s *Sequencer) setSampleRate(ctx context.Context, rate uint32) error {
	payload, ok := sampleRateBytes[rate]
	if !ok {
		return fmt.Errorf("%w: unsupported sample rate %d", ErrEnumerationFailed, rate)
	}
	indices := [5]uint16{0x0086, 0x0005, 0x0086, 0x0005, 0x0086}
	for _, idx := range indices {
		data := payload
		_, err := s.Transport.ControlTransfer(ctx, ControlRequest{
			RequestType: bmRequestTypeHostToDeviceVendor,
			Request:     reqSetSampleRate,
			Value:       0x0100,
			Index:       idx,
			Data:        data[:],
			Timeout:     defaultControlTimeout,
		})
		if err != nil {
			return fmt.Errorf("%w: set sample rate (index %#04x): %v", ErrEnumerationFailed, idx, err)
		}
	}
	return nil
}

// arm is handshake step 7: the vendor "all good" write with no data.
func (s *Sequencer) arm(ctx context.Context) error {
	_, err := s.Transport.ControlTransfer(ctx, ControlRequest{
		RequestType: bmRequestTypeHostToDeviceVendor2,
		Request:     reqArm,
		Value:       0xFFB2,
		Index:       0,
		Data:        nil,
		Timeout:     defaultControlTimeout,
	})
	if err != nil {
		return fmt.Errorf("%w: arm: %v", ErrEnumerationFailed, err)
	}
	return nil
}

func decodeSampleRateBytes(b [3]byte) uint32 {
	for rate, enc := range sampleRateBytes {
		if enc == b {
			return rate
		}
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}
