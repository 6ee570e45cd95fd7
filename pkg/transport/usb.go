package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
)

const (
	hidReportLength = 64
	hidReportID     = 0x01
	hidInEndpoint   = 1 // 0x81
	hidOutEndpoint  = 1 // 0x01
)

// USBDeviceInfo describes one enumerated USB device.
type USBDeviceInfo struct {
	VendorID     uint16
	ProductID    uint16
	Manufacturer string
	Product      string
	SerialNumber string
}

func (i USBDeviceInfo) String() string {
	return fmt.Sprintf("%s (%s) VID=0x%04X, PID=0x%04X, SN=%s",
		i.Product, i.Manufacturer, i.VendorID, i.ProductID, i.SerialNumber)
}

// USB is a USB-HID transport. Frames are 64-byte interrupt reports:
// outbound frames carry the report ID 0x01 followed by the packet and zero
// padding; inbound frames carry the packet starting at offset 2.
type USB struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	intf *gousb.Interface
	done func()
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint
	hash string
	desc string
}

// OpenUSB opens the first device matching vendorID and productID. If
// serialNumber is non-empty, only a device with that serial matches.
func OpenUSB(vendorID, productID uint16, serialNumber string) (*USB, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == vendorID && uint16(desc.Product) == productID
	})
	if err != nil && len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("enumerating USB devices: %w", err)
	}

	var dev *gousb.Device
	for _, d := range devs {
		if dev == nil && (serialNumber == "" || matchesSerial(d, serialNumber)) {
			dev = d
			continue
		}
		d.Close()
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("%w: VID=0x%04X PID=0x%04X SN=%q", ErrNoDevice, vendorID, productID, serialNumber)
	}

	u := &USB{ctx: ctx}
	if err := u.claim(dev); err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	return u, nil
}

func matchesSerial(d *gousb.Device, serialNumber string) bool {
	sn, err := d.SerialNumber()
	return err == nil && sn == serialNumber
}

// claim takes ownership of dev: detaches kernel drivers, claims the default
// interface and resolves the interrupt endpoints.
func (u *USB) claim(dev *gousb.Device) error {
	if err := dev.SetAutoDetach(true); err != nil {
		return fmt.Errorf("enabling kernel driver auto-detach: %w", err)
	}

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		return fmt.Errorf("claiming default interface: %w", err)
	}

	in, err := intf.InEndpoint(hidInEndpoint)
	if err != nil {
		done()
		return fmt.Errorf("resolving IN endpoint: %w", err)
	}
	out, err := intf.OutEndpoint(hidOutEndpoint)
	if err != nil {
		done()
		return fmt.Errorf("resolving OUT endpoint: %w", err)
	}

	u.dev = dev
	u.intf = intf
	u.done = done
	u.in = in
	u.out = out
	u.hash = usbDeviceHash(dev)
	u.desc = usbDeviceString(dev)
	return nil
}

func usbDeviceHash(dev *gousb.Device) string {
	manufacturer, _ := dev.Manufacturer()
	product, _ := dev.Product()
	serial, _ := dev.SerialNumber()
	return DeviceHash(
		fmt.Sprintf("%d", uint16(dev.Desc.Vendor)),
		fmt.Sprintf("%d", uint16(dev.Desc.Product)),
		manufacturer, product, serial)
}

func usbDeviceString(dev *gousb.Device) string {
	manufacturer, _ := dev.Manufacturer()
	product, _ := dev.Product()
	serial, _ := dev.SerialNumber()
	return fmt.Sprintf("%s (%s) VID=0x%04X, PID=0x%04X, SN=%s",
		product, manufacturer, uint16(dev.Desc.Vendor), uint16(dev.Desc.Product), serial)
}

func (u *USB) Hash() string        { return u.hash }
func (u *USB) MaxPayloadSize() int { return MaxPayloadSize }
func (u *USB) String() string      { return u.desc }

// WriteFrame pads the packet into one 64-byte report behind the report ID.
func (u *USB) WriteFrame(packetBytes []byte, timeout time.Duration) error {
	if u.out == nil {
		return ErrLost
	}

	frame, err := hidFrameOut(packetBytes)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if _, err := u.out.WriteContext(ctx, frame); err != nil {
		if isUSBTimeout(err) {
			return fmt.Errorf("%w: write", ErrTimeout)
		}
		u.drop()
		return fmt.Errorf("%w: %v", ErrLost, err)
	}
	return nil
}

// ReadFrame reads one 64-byte report and strips the two leading metadata
// bytes.
func (u *USB) ReadFrame(timeout time.Duration) ([]byte, error) {
	if u.in == nil {
		return nil, ErrLost
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	buf := make([]byte, hidReportLength)
	n, err := u.in.ReadContext(ctx, buf)
	if err != nil {
		if isUSBTimeout(err) {
			return nil, ErrTimeout
		}
		u.drop()
		return nil, fmt.Errorf("%w: %v", ErrLost, err)
	}
	if n <= 2 {
		return nil, ErrTimeout
	}
	return buf[2:n], nil
}

// Reopen scans the bus for the device with the stored hash and claims it
// again.
func (u *USB) Reopen() error {
	u.drop()

	devs, _ := u.ctx.OpenDevices(func(*gousb.DeviceDesc) bool { return true })

	var match *gousb.Device
	for _, d := range devs {
		if match == nil && usbDeviceHash(d) == u.hash {
			match = d
			continue
		}
		d.Close()
	}
	if match == nil {
		return ErrNoDevice
	}

	if err := u.claim(match); err != nil {
		match.Close()
		return err
	}
	return nil
}

// drop releases the interface and device handle but keeps the context and
// hash for Reopen.
func (u *USB) drop() {
	if u.done != nil {
		u.done()
		u.done = nil
	}
	u.intf = nil
	u.in = nil
	u.out = nil
	if u.dev != nil {
		u.dev.Close()
		u.dev = nil
	}
}

func (u *USB) Close() error {
	u.drop()
	if u.ctx != nil {
		err := u.ctx.Close()
		u.ctx = nil
		return err
	}
	return nil
}

func isUSBTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gousb.TransferTimedOut) ||
		errors.Is(err, gousb.TransferCancelled) ||
		errors.Is(err, gousb.ErrorTimeout)
}

// hidFrameOut builds the 64-byte outbound report: report ID, packet bytes,
// zero padding.
func hidFrameOut(packetBytes []byte) ([]byte, error) {
	if len(packetBytes) > hidReportLength-1 {
		return nil, fmt.Errorf("packet of %d bytes does not fit a %d-byte report", len(packetBytes), hidReportLength)
	}
	frame := make([]byte, hidReportLength)
	frame[0] = hidReportID
	copy(frame[1:], packetBytes)
	return frame, nil
}

// DiscoverUSB lists all reachable USB devices with their descriptor
// strings.
func DiscoverUSB() ([]USBDeviceInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(func(*gousb.DeviceDesc) bool { return true })
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("enumerating USB devices: %w", err)
	}

	var infos []USBDeviceInfo
	for _, d := range devs {
		manufacturer, _ := d.Manufacturer()
		product, _ := d.Product()
		serial, _ := d.SerialNumber()
		infos = append(infos, USBDeviceInfo{
			VendorID:     uint16(d.Desc.Vendor),
			ProductID:    uint16(d.Desc.Product),
			Manufacturer: manufacturer,
			Product:      product,
			SerialNumber: serial,
		})
		d.Close()
	}
	return infos, nil
}
