package usbengine

import "errors"

// The six error kinds the engine distinguishes (spec.md §7). Each is a
// sentinel wrapped with context via fmt.Errorf("...: %w", ErrX) so
// callers can still errors.Is against it after wrapping.
var (
	// ErrEnumerationFailed means a control transfer returned failure or
	// an unexpected length during the configuration handshake. The
	// caller releases the device and returns to Idle.
	ErrEnumerationFailed = errors.New("usbengine: enumeration failed")

	// ErrPipeAborted means a completion's status was cancelled. It is
	// not a real error: the handler must not resubmit and must not log
	// it as a failure.
	ErrPipeAborted = errors.New("usbengine: pipe aborted")

	// ErrTransientTransferError means a completion failed for a reason
	// other than cancellation. The handler resubmits the next slot
	// anyway so the slot is not starved.
	ErrTransientTransferError = errors.New("usbengine: transient transfer error")

	// ErrShmCreateFailed means shm_open/ftruncate/mmap failed at
	// start. This is fatal: the engine cannot start without its shared
	// region.
	ErrShmCreateFailed = errors.New("usbengine: shared memory create failed")

	// ErrDeviceDetached means a terminate event arrived for the
	// currently open device.
	ErrDeviceDetached = errors.New("usbengine: device detached")

	// ErrMidiRingOverflow means a MIDI producer attempted to write to a
	// full ring. The byte is dropped; this is reported, not fatal.
	ErrMidiRingOverflow = errors.New("usbengine: midi ring overflow")
)
