// Package shmring implements the shared memory region (spec.md §3)
// that the USB engine (producer) and the audio bridge (consumer) map
// in common: the MIDI SPSC rings, the sequence-locked timestamp cell,
// and the audio block's flags, clock, and PCM byte rings.
package shmring

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MagicValue identifies a live region; writing 0 here is the poison
// value the engine uses to mark a region as torn down (spec.md §3).
const MagicValue uint32 = 0x4F5A5A59

// RegionVersion is the layout version stamped into every region at
// creation.
const RegionVersion uint32 = 1

const (
	nameFieldSize = 64
	midiRingSize  = 1024
	midiRingMask  = midiRingSize - 1
	padBytes      = 64
)

// Header is the region's identity block: magic, version, session id,
// heartbeat, device identity, and the three NUL-terminated name
// fields (spec.md §3).
type Header struct {
	Magic        atomic.Uint32
	Version      atomic.Uint32
	SessionID    atomic.Uint32
	Heartbeat    atomic.Uint64
	VendorID     atomic.Uint32
	ProductID    atomic.Uint32
	Manufacturer [nameFieldSize]byte
	Product      [nameFieldSize]byte
	Serial       [nameFieldSize]byte
}

// AudioBlock carries the cache-line-aligned flags, clock geometry, and
// timestamp cell shared between the USB engine and the audio bridge.
// The PCM byte rings (InputBuffer/OutputBuffer) live outside this
// struct, as variable-size tails of the mapped region.
type AudioBlock struct {
	HardwarePresent      atomic.Bool
	DriverReady          atomic.Bool
	SampleRate           atomic.Uint32
	DeviceFlags          atomic.Uint32 // bit 0 = bulk mode
	UpdateIntervalFrames atomic.Uint32
	FramesPerPacket      atomic.Uint32
	SamplesPerPacket     atomic.Uint32
	OutputBytesPerFrame  atomic.Uint32
	InputBytesPerFrame   atomic.Uint32

	Timestamp TimestampCell

	_pad1 [padBytes]byte

	HALWritePosition atomic.Uint64

	_pad2 [padBytes]byte
}

// fixedLayout is the portion of the region with compile-time-known
// size; InputBuffer/OutputBuffer follow it in the mapped bytes.
type fixedLayout struct {
	Header  Header
	MIDIOut MIDIRing
	MIDIIn  MIDIRing
	_       [audioBlockPad]byte
	Audio   AudioBlock
}

// audioBlockPad places AudioBlock on a 64-byte boundary of the mapping.
const audioBlockPad = (padBytes - (unsafe.Sizeof(Header{})+2*unsafe.Sizeof(MIDIRing{}))%padBytes) % padBytes

// Region is a mapped instance of the shared memory region, with
// typed, atomically-accessed views over the underlying mapped bytes.
// A Region is safe for concurrent use by its designated single writer
// per cell (see spec.md §5's ownership table) and any number of
// readers.
type Region struct {
	raw           []byte
	fd            int
	path          string
	NumPackets    uint32
	MaxPacketSize uint32

	Header  *Header
	MIDIOut *MIDIRing
	MIDIIn  *MIDIRing
	Audio   *AudioBlock

	InputBuffer  []byte
	OutputBuffer []byte
}

// FixedSize returns the byte size of the region's header/ring/audio-
// block portion, excluding the PCM byte rings.
func FixedSize() uintptr {
	return unsafe.Sizeof(fixedLayout{})
}

// Size returns the total mapped size of a region with the given PCM
// ring geometry.
func Size(numPackets, maxPacketSize uint32) uintptr {
	return FixedSize() + 2*uintptr(numPackets)*uintptr(maxPacketSize)
}

// Create maps a fresh region backed by POSIX shared memory at
// /dev/shm/<name>, zeroing it and stamping a new session id, per
// spec.md §3's lifecycle ("Shared region is created at engine start,
// zeroed, magic/session stamped"). Any stale object from an unclean
// prior shutdown is unlinked first (grounded on PloytecUSB.cpp's
// shm_unlink-then-shm_open at Run()).
func Create(name string, numPackets, maxPacketSize uint32) (*Region, error) {
	path := shmPath(name)
	_ = unix.Unlink(path)

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_EXCL, 0666)
	if err != nil {
		return nil, fmt.Errorf("shmring: create %s: %w", path, err)
	}

	size := int(Size(numPackets, maxPacketSize))
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, fmt.Errorf("shmring: ftruncate %s: %w", path, err)
	}

	raw, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, fmt.Errorf("shmring: mmap %s: %w", path, err)
	}

	r := newRegionView(raw, fd, path, numPackets, maxPacketSize)

	sessionID, err := randomSessionID()
	if err != nil {
		return nil, fmt.Errorf("shmring: session id: %w", err)
	}
	r.Header.Magic.Store(MagicValue)
	r.Header.Version.Store(RegionVersion)
	r.Header.SessionID.Store(sessionID)

	return r, nil
}

// Open maps an existing region read-write without altering its
// identity (used by consumers such as the audio bridge or the monitor
// CLI).
func Open(name string, numPackets, maxPacketSize uint32) (*Region, error) {
	path := shmPath(name)
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shmring: open %s: %w", path, err)
	}

	size := int(Size(numPackets, maxPacketSize))
	raw, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shmring: mmap %s: %w", path, err)
	}

	return newRegionView(raw, fd, path, numPackets, maxPacketSize), nil
}

func newRegionView(raw []byte, fd int, path string, numPackets, maxPacketSize uint32) *Region {
	fixed := (*fixedLayout)(unsafe.Pointer(&raw[0]))
	fixedSize := FixedSize()
	ringBytes := uintptr(numPackets) * uintptr(maxPacketSize)

	return &Region{
		raw:           raw,
		fd:            fd,
		path:          path,
		NumPackets:    numPackets,
		MaxPacketSize: maxPacketSize,
		Header:        &fixed.Header,
		MIDIOut:       &fixed.MIDIOut,
		MIDIIn:        &fixed.MIDIIn,
		Audio:         &fixed.Audio,
		InputBuffer:   raw[fixedSize : fixedSize+ringBytes],
		OutputBuffer:  raw[fixedSize+ringBytes : fixedSize+2*ringBytes],
	}
}

// Close poisons the region's magic, unmaps it, closes the backing fd,
// and unlinks the POSIX shared memory object (spec.md §3: "On stop the
// engine writes magic=0 as a poison value and unlinks the region").
// Only the engine (the region's creator) should call Close; consumers
// that merely Open a region should call Unmap instead.
func (r *Region) Close() error {
	r.Header.Magic.Store(0)
	if err := r.Unmap(); err != nil {
		return err
	}
	return unix.Unlink(r.path)
}

// Unmap releases this process's mapping without touching the region's
// contents or unlinking the shared memory object.
func (r *Region) Unmap() error {
	if err := unix.Munmap(r.raw); err != nil {
		return fmt.Errorf("shmring: munmap: %w", err)
	}
	return unix.Close(r.fd)
}

func shmPath(name string) string {
	return "/dev/shm/" + name
}

func randomSessionID() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(b[:])
	if v == 0 {
		v = 1
	}
	return v, nil
}

// SetName stamps a NUL-terminated name (truncated to nameFieldSize-1
// bytes) into one of the header's name fields.
func SetName(field *[nameFieldSize]byte, name string) {
	for i := range field {
		field[i] = 0
	}
	n := copy(field[:nameFieldSize-1], name)
	field[n] = 0
}

// Name reads a NUL-terminated name field back out as a string.
func Name(field *[nameFieldSize]byte) string {
	for i, b := range field {
		if b == 0 {
			return string(field[:i])
		}
	}
	return string(field[:])
}
