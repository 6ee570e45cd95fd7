package transport

import (
	"bytes"
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/amfitech/amfiprot/pkg/cobs"
)

// SerialPortInfo describes one enumerated serial port.
type SerialPortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

func (i SerialPortInfo) String() string {
	if i.IsUSB {
		return fmt.Sprintf("%s: %s VID=%s, PID=%s, SN=%s", i.Name, i.Product, i.VID, i.PID, i.SerialNumber)
	}
	return i.Name
}

// UART is a serial transport. Every frame is COBS-encoded and terminated
// with a single 0x00 byte.
type UART struct {
	port     serial.Port
	portName string
	baudRate int
	hash     string
	pending  []byte // bytes read past the last frame terminator
}

// OpenUART opens the named serial port at the given baud rate (8N1).
func OpenUART(portName string, baudRate int) (*UART, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", portName, err)
	}

	return &UART{
		port:     port,
		portName: portName,
		baudRate: baudRate,
		hash:     serialPortHash(portName),
	}, nil
}

// serialPortHash derives the stable device identity from the port's USB
// descriptor strings, or from the port name for non-USB ports.
func serialPortHash(portName string) string {
	if details, err := enumerator.GetDetailedPortsList(); err == nil {
		for _, d := range details {
			if d.Name == portName && d.IsUSB {
				return DeviceHash(d.VID, d.PID, "", d.Product, d.SerialNumber)
			}
		}
	}
	return DeviceHash(portName, "", "", "", "")
}

func (u *UART) Hash() string        { return u.hash }
func (u *UART) MaxPayloadSize() int { return MaxPayloadSize }

func (u *UART) String() string {
	return fmt.Sprintf("UART connection on port %s at baudrate %d", u.portName, u.baudRate)
}

// WriteFrame COBS-encodes the packet and appends the frame terminator.
// Serial writes do not support deadlines; the timeout parameter is accepted
// for interface symmetry.
func (u *UART) WriteFrame(packetBytes []byte, _ time.Duration) error {
	if u.port == nil {
		return ErrLost
	}

	frame := append(cobs.Encode(packetBytes), 0x00)
	if _, err := u.port.Write(frame); err != nil {
		u.drop()
		return fmt.Errorf("%w: %v", ErrLost, err)
	}
	return nil
}

// ReadFrame accumulates bytes until a 0x00 terminator, then COBS-decodes
// the frame. Bytes past the terminator are kept for the next call.
func (u *UART) ReadFrame(timeout time.Duration) ([]byte, error) {
	if u.port == nil {
		return nil, ErrLost
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 256)

	for {
		if i := bytes.IndexByte(u.pending, 0x00); i >= 0 {
			frame := u.pending[:i]
			rest := make([]byte, len(u.pending)-i-1)
			copy(rest, u.pending[i+1:])
			decoded, err := cobs.Decode(frame)
			u.pending = rest
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrFrame, err)
			}
			return decoded, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		if err := u.port.SetReadTimeout(remaining); err != nil {
			u.drop()
			return nil, fmt.Errorf("%w: %v", ErrLost, err)
		}

		n, err := u.port.Read(buf)
		if err != nil {
			u.drop()
			return nil, fmt.Errorf("%w: %v", ErrLost, err)
		}
		if n == 0 {
			// Read timeout expired without data.
			return nil, ErrTimeout
		}
		u.pending = append(u.pending, buf[:n]...)
	}
}

// Reopen searches the enumerated ports for the stored device hash and
// reopens the match; a port that merely kept its name also qualifies.
func (u *UART) Reopen() error {
	u.drop()

	name := u.portName
	if details, err := enumerator.GetDetailedPortsList(); err == nil {
		for _, d := range details {
			if d.IsUSB && DeviceHash(d.VID, d.PID, "", d.Product, d.SerialNumber) == u.hash {
				name = d.Name
				break
			}
		}
	}

	mode := &serial.Mode{
		BaudRate: u.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}

	u.port = port
	u.portName = name
	u.pending = nil
	return nil
}

func (u *UART) drop() {
	if u.port != nil {
		u.port.Close()
		u.port = nil
	}
}

func (u *UART) Close() error {
	if u.port == nil {
		return nil
	}
	err := u.port.Close()
	u.port = nil
	return err
}

// DiscoverSerialPorts lists all serial ports with USB descriptor details
// where available.
func DiscoverSerialPorts() ([]SerialPortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerating serial ports: %w", err)
	}

	var infos []SerialPortInfo
	for _, d := range details {
		infos = append(infos, SerialPortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return infos, nil
}
