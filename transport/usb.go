// Package transport provides Transport implementations backed by real
// hardware links: the device's raw USB interface and a serial bridge.
package transport

import (
	"fmt"
	"sync"

	"github.com/google/gousb"

	"github.com/moolticute/go-mooltipass/logging"
	"github.com/moolticute/go-mooltipass/protocol"
)

// USB identifiers of the device.
const (
	VendorID  = 0x16D0
	ProductID = 0x09A0

	usbInterface = 0

	endpointOut = 0x02
	endpointIn  = 0x81
)

// USB drives the device over its raw USB interface with interrupt
// endpoints.
type USB struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	intf *gousb.Interface
	done func()
	out  *gousb.OutEndpoint
	in   *gousb.InEndpoint

	log logging.Logger

	mu      sync.Mutex
	handler func(frame [protocol.PacketSize]byte)
	closed  chan struct{}
	once    sync.Once
}

// OpenUSB finds the first attached device and claims its interface. The
// read pump starts delivering inbound frames once a handler is registered
// through SetFrameHandler.
func OpenUSB(log logging.Logger) (*USB, error) {
	if log == nil {
		log = logging.Nop()
	}

	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == VendorID && uint16(desc.Product) == ProductID
	})
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("enumerate usb devices: %w", err)
	}
	if len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("device not found (vid=0x%04X pid=0x%04X)", VendorID, ProductID)
	}

	dev := devs[0]
	for _, extra := range devs[1:] {
		extra.Close()
	}

	if err := dev.SetAutoDetach(true); err != nil {
		log.Warn("cannot auto-detach kernel driver", "error", err.Error())
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("get configuration: %w", err)
	}

	intf, err := cfg.Interface(usbInterface, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("claim interface %d: %w", usbInterface, err)
	}
	done := func() {
		intf.Close()
		cfg.Close()
	}

	out, err := intf.OutEndpoint(endpointOut)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("open out endpoint: %w", err)
	}
	in, err := intf.InEndpoint(endpointIn)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("open in endpoint: %w", err)
	}

	u := &USB{
		ctx:    ctx,
		dev:    dev,
		intf:   intf,
		done:   done,
		out:    out,
		in:     in,
		log:    log,
		closed: make(chan struct{}),
	}
	go u.readPump()
	return u, nil
}

// WriteFrame sends one 64-byte frame to the device.
func (u *USB) WriteFrame(frame [protocol.PacketSize]byte) error {
	if _, err := u.out.Write(frame[:]); err != nil {
		return fmt.Errorf("usb write: %w", err)
	}
	return nil
}

// SetFrameHandler registers the inbound frame callback.
func (u *USB) SetFrameHandler(h func(frame [protocol.PacketSize]byte)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.handler = h
}

func (u *USB) readPump() {
	buf := make([]byte, protocol.PacketSize)
	for {
		select {
		case <-u.closed:
			return
		default:
		}

		n, err := u.in.Read(buf)
		if err != nil {
			select {
			case <-u.closed:
				return
			default:
			}
			u.log.Warn("usb read failed", "error", err.Error())
			continue
		}
		if n != protocol.PacketSize {
			u.log.Warn("short usb read", "bytes", n)
			continue
		}

		var frame [protocol.PacketSize]byte
		copy(frame[:], buf)

		u.mu.Lock()
		h := u.handler
		u.mu.Unlock()
		if h != nil {
			h(frame)
		}
	}
}

// Close releases the USB interface and stops the read pump.
func (u *USB) Close() error {
	u.once.Do(func() { close(u.closed) })
	u.done()
	u.dev.Close()
	return u.ctx.Close()
}
