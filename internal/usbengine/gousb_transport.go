package usbengine

import (
	"context"
	"fmt"

	"github.com/google/gousb"

	"ploytecd/internal/wire"
)

// GousbTransport is the real Transport, backed by google/gousb
// (grounded on usb_device.go's OpenUSBDevice/Config/Interface
// wrapping, generalized from a single OUT/IN pair to the three
// endpoints this driver family's profile names).
type GousbTransport struct {
	ctx    *gousb.Context
	device *gousb.Device
	config *gousb.Config
}

// OpenGousbTransport opens the first device matching vid/pid
// exclusively and returns a Transport wrapping it.
func OpenGousbTransport(vid, pid uint16) (*GousbTransport, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("usbengine: open device %04x:%04x: %w", vid, pid, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("usbengine: device %04x:%04x not present", vid, pid)
	}
	dev.SetAutoDetach(true)

	return &GousbTransport{ctx: ctx, device: dev}, nil
}

func (t *GousbTransport) SetConfiguration(cfg int) error {
	config, err := t.device.Config(cfg)
	if err != nil {
		return fmt.Errorf("usbengine: set configuration %d: %w", cfg, err)
	}
	if t.config != nil {
		t.config.Close()
	}
	t.config = config
	return nil
}

func (t *GousbTransport) ClaimInterface(interfaceNum, altSetting int) (Interface, error) {
	if t.config == nil {
		return nil, fmt.Errorf("usbengine: claim interface %d before SetConfiguration", interfaceNum)
	}
	intf, err := t.config.Interface(interfaceNum, altSetting)
	if err != nil {
		return nil, fmt.Errorf("usbengine: claim interface %d alt %d: %w", interfaceNum, altSetting, err)
	}
	return &gousbInterface{intf: intf}, nil
}

func (t *GousbTransport) ControlTransfer(ctx context.Context, req ControlRequest) (int, error) {
	t.device.ControlTimeout = req.Timeout
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	return t.device.Control(req.RequestType, req.Request, req.Value, req.Index, req.Data)
}

func (t *GousbTransport) Close() error {
	if t.config != nil {
		t.config.Close()
	}
	if t.device != nil {
		t.device.Close()
	}
	t.ctx.Close()
	return nil
}

type gousbInterface struct {
	intf *gousb.Interface
}

func endpointNumber(addr uint8) int {
	return int(addr & 0x0F)
}

func (i *gousbInterface) OutEndpoint(addr uint8) (OutPipe, error) {
	ep, err := i.intf.OutEndpoint(endpointNumber(addr))
	if err != nil {
		return nil, fmt.Errorf("usbengine: out endpoint %#x: %w", addr, err)
	}
	desc, ok := i.intf.Setting.Endpoints[gousb.EndpointAddress(addr)]
	mode := wire.ModeBulk
	maxPacket := ep.Desc.MaxPacketSize
	if ok {
		maxPacket = desc.MaxPacketSize
		if desc.TransferType == gousb.TransferTypeInterrupt {
			mode = wire.ModeInterrupt
		}
	}
	return &gousbOutPipe{ep: ep, mode: mode, maxPacketSize: maxPacket}, nil
}

func (i *gousbInterface) InEndpoint(addr uint8) (InPipe, error) {
	ep, err := i.intf.InEndpoint(endpointNumber(addr))
	if err != nil {
		return nil, fmt.Errorf("usbengine: in endpoint %#x: %w", addr, err)
	}
	return &gousbInPipe{ep: ep}, nil
}

func (i *gousbInterface) Close() error {
	i.intf.Close()
	return nil
}

type gousbOutPipe struct {
	ep            *gousb.OutEndpoint
	mode          wire.TransferMode
	maxPacketSize int
}

func (p *gousbOutPipe) TransferMode() wire.TransferMode { return p.mode }
func (p *gousbOutPipe) MaxPacketSize() int              { return p.maxPacketSize }

func (p *gousbOutPipe) Write(ctx context.Context, buf []byte) (int, error) {
	return p.ep.WriteContext(ctx, buf)
}

type gousbInPipe struct {
	ep *gousb.InEndpoint
}

func (p *gousbInPipe) MaxPacketSize() int { return p.ep.Desc.MaxPacketSize }

func (p *gousbInPipe) Read(ctx context.Context, buf []byte) (int, error) {
	return p.ep.ReadContext(ctx, buf)
}
