package usbengine

import (
	"context"
	"time"

	"ploytecd/internal/wire"
)

// ControlRequest names one USB control transfer, mirroring the
// bmRequestType/bRequest/wValue/wIndex/wLength fields used throughout
// the enumeration handshake (spec.md §4.3).
type ControlRequest struct {
	RequestType byte
	Request     byte
	Value       uint16
	Index       uint16
	Data        []byte
	Timeout     time.Duration
}

// OutPipe is a single USB OUT endpoint capable of async-style writes.
// TransferMode reports the endpoint's transfer type, which the
// enumeration handshake uses to pick the PCM-out wire layout (spec.md
// §4.3 step 2).
type OutPipe interface {
	TransferMode() wire.TransferMode
	MaxPacketSize() int
	Write(ctx context.Context, p []byte) (int, error)
}

// InPipe is a single USB IN endpoint.
type InPipe interface {
	MaxPacketSize() int
	Read(ctx context.Context, p []byte) (int, error)
}

// Interface is one claimed USB interface, holding the endpoints the
// engine opened on it.
type Interface interface {
	OutEndpoint(addr uint8) (OutPipe, error)
	InEndpoint(addr uint8) (InPipe, error)
	Close() error
}

// Transport abstracts the USB device operations the engine needs,
// so the control-protocol sequencer and the packet pump are
// unit-testable against a fake without real hardware (grounded on
// usb_device.go's gousb.Device/Config/Interface wrapping, generalized
// from one OUT/one IN pipe to the three-endpoint profile this driver
// family needs).
type Transport interface {
	ControlTransfer(ctx context.Context, req ControlRequest) (int, error)
	SetConfiguration(cfg int) error
	ClaimInterface(interfaceNum, altSetting int) (Interface, error)
	Close() error
}
