// Package usbtransport implements the USB Transport layer (spec §4.A):
// it opens the probe by vendor/product ID, claims interface 0, and
// exposes blocking bulk read/write with explicit timeouts. No retry
// lives at this layer — that is the DMI and DM layers' job.
package usbtransport

import (
	"context"
	"time"

	"github.com/google/gousb"

	"github.com/guiperry/wlink/internal/wlinkerr"
	"github.com/guiperry/wlink/internal/wlog"
)

// Command-frame endpoints, per spec §4.A. Raw bulk firmware payload on
// 0x02/0x82 is reserved for probes that negotiate it; this transport
// does not use them.
const (
	EndpointOut = 0x01
	EndpointIn  = 0x81
)

// DefaultTimeout is the default command-frame timeout (spec §5).
const DefaultTimeout = 5 * time.Second

// Transport is the interface the rest of the stack programs against, so
// an alternate backend (the Windows-native driver path noted in spec
// §9) can stand in without touching any caller.
type Transport interface {
	WriteBulk(data []byte, timeout time.Duration) error
	ReadBulk(max int, timeout time.Duration) ([]byte, error)
	Close() error
}

// gousbTransport is the only shipped backend: libusb through gousb,
// grounded on the teacher's own USBDevice in
// internal/driver/device/usb_device.go, generalized from one fixed
// vendor/product pair to any probe in the variant registry.
type gousbTransport struct {
	ctx    *gousb.Context
	device *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	epOut  *gousb.OutEndpoint
	epIn   *gousb.InEndpoint
}

// Open claims the probe's USB interface 0 and returns a Transport bound
// to bulk OUT EndpointOut / bulk IN EndpointIn.
func Open(vid, pid gousb.ID) (Transport, error) {
	ctx := gousb.NewContext()

	device, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		ctx.Close()
		return nil, wlinkerr.TransportIoErr("failed to open probe USB device", err)
	}
	if device == nil {
		ctx.Close()
		return nil, wlinkerr.New(wlinkerr.TransportIo, "probe not found (vid/pid not present)")
	}

	config, err := device.Config(1)
	if err != nil {
		device.Close()
		ctx.Close()
		return nil, wlinkerr.TransportIoErr("failed to set probe USB config", err)
	}

	intf, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		device.Close()
		ctx.Close()
		return nil, wlinkerr.TransportIoErr("failed to claim probe USB interface", err)
	}

	epOut, err := intf.OutEndpoint(EndpointOut)
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, wlinkerr.TransportIoErr("failed to open probe OUT endpoint", err)
	}

	epIn, err := intf.InEndpoint(EndpointIn)
	if err != nil {
		intf.Close()
		config.Close()
		device.Close()
		ctx.Close()
		return nil, wlinkerr.TransportIoErr("failed to open probe IN endpoint", err)
	}

	wlog.Logger.Debugf("opened probe usb device [%04x:%04x]", uint16(vid), uint16(pid))

	return &gousbTransport{
		ctx:    ctx,
		device: device,
		config: config,
		intf:   intf,
		epOut:  epOut,
		epIn:   epIn,
	}, nil
}

func (t *gousbTransport) WriteBulk(data []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := t.epOut.WriteContext(ctx, data)
	if err != nil {
		return wlinkerr.TransportIoErr("usb bulk write failed", err)
	}
	wlog.Logger.Tracef("%d bytes -> EP-%02x", n, EndpointOut)
	return nil
}

func (t *gousbTransport) ReadBulk(max int, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	buf := make([]byte, max)
	n, err := t.epIn.ReadContext(ctx, buf)
	if err != nil {
		return nil, wlinkerr.TransportIoErr("usb bulk read failed", err)
	}
	wlog.Logger.Tracef("EP-%02x -> %d bytes", EndpointIn, n)
	return buf[:n], nil
}

func (t *gousbTransport) Close() error {
	if t.intf != nil {
		t.intf.Close()
	}
	if t.config != nil {
		t.config.Close()
	}
	if t.device != nil {
		t.device.Close()
	}
	if t.ctx != nil {
		t.ctx.Close()
	}
	return nil
}
