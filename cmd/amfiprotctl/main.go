// amfiprotctl is a command-line tool for Amfiprot devices: discovery,
// device info, configuration snapshots, firmware updates and remote
// procedure calls.
package main

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amfitech/amfiprot/pkg/amfiprot"
	"github.com/amfitech/amfiprot/pkg/transport"
)

var (
	flagUSB          string
	flagSerialNumber string
	flagSerialPort   string
	flagBaudRate     int
	flagTxID         int
)

func main() {
	root := &cobra.Command{
		Use:           "amfiprotctl",
		Short:         "Control Amfiprot devices over USB-HID or UART",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagUSB, "usb", "", "USB device as VID:PID in hex, e.g. 0C17:0D12")
	root.PersistentFlags().StringVar(&flagSerialNumber, "serial-number", "", "USB serial number (optional)")
	root.PersistentFlags().StringVar(&flagSerialPort, "serial", "", "serial port path, e.g. /dev/ttyUSB0")
	root.PersistentFlags().IntVar(&flagBaudRate, "baud", 115200, "serial baud rate")
	root.PersistentFlags().IntVar(&flagTxID, "tx-id", -1, "target endpoint tx_id (default: first discovered)")

	root.AddCommand(
		newDiscoverCommand(),
		newNodesCommand(),
		newInfoCommand(),
		newConfigCommand(),
		newFirmwareCommand(),
		newRPCCommand(),
		newCommandCommand(),
		newMonitorCommand(),
	)

	if err := root.Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}

// openTransport opens the transport selected by the persistent flags.
func openTransport() (transport.Transport, error) {
	switch {
	case flagUSB != "" && flagSerialPort != "":
		return nil, fmt.Errorf("give either --usb or --serial, not both")
	case flagUSB != "":
		vid, pid, err := parseVIDPID(flagUSB)
		if err != nil {
			return nil, err
		}
		return transport.OpenUSB(vid, pid, flagSerialNumber)
	case flagSerialPort != "":
		return transport.OpenUART(flagSerialPort, flagBaudRate)
	default:
		return nil, fmt.Errorf("give --usb VID:PID or --serial PORT")
	}
}

// openConnection opens the transport, discovers nodes and starts the
// worker. The caller must Close the connection.
func openConnection() (*amfiprot.Connection, error) {
	trans, err := openTransport()
	if err != nil {
		return nil, err
	}

	conn := amfiprot.NewConnection(trans)
	nodes, err := conn.FindNodes()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("node discovery failed: %w", err)
	}
	if len(nodes) == 0 {
		conn.Close()
		return nil, fmt.Errorf("no Amfiprot nodes found")
	}

	if err := conn.Start(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// selectDevice picks the node addressed by --tx-id, or the first one.
func selectDevice(conn *amfiprot.Connection) (*amfiprot.Device, error) {
	nodes := conn.Nodes()
	if flagTxID < 0 {
		return amfiprot.NewDevice(nodes[0]), nil
	}
	for _, node := range nodes {
		if int(node.TxID) == flagTxID {
			return amfiprot.NewDevice(node), nil
		}
	}
	return nil, fmt.Errorf("no node with tx_id %d", flagTxID)
}

func parseVIDPID(s string) (uint16, uint16, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid VID:PID %q", s)
	}
	vid, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "0x"), 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vendor ID %q: %w", parts[0], err)
	}
	pid, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "0x"), 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid product ID %q: %w", parts[1], err)
	}
	return uint16(vid), uint16(pid), nil
}
