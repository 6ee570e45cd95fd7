package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/amfitech/amfiprot/pkg/amfiprot"
	"github.com/amfitech/amfiprot/pkg/bridge"
	"github.com/amfitech/amfiprot/pkg/payload"
	"github.com/amfitech/amfiprot/pkg/transport"
)

func newDiscoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "List reachable USB devices and serial ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			usb, err := transport.DiscoverUSB()
			if err != nil {
				fmt.Printf("USB enumeration failed: %v\n", err)
			} else {
				fmt.Printf("USB devices (%d):\n", len(usb))
				for _, info := range usb {
					fmt.Printf("  %s\n", info)
				}
			}

			ports, err := transport.DiscoverSerialPorts()
			if err != nil {
				fmt.Printf("Serial enumeration failed: %v\n", err)
			} else {
				fmt.Printf("Serial ports (%d):\n", len(ports))
				for _, info := range ports {
					fmt.Printf("  %s\n", info)
				}
			}
			return nil
		},
	}
}

func newNodesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "Discover Amfiprot nodes on the selected transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openConnection()
			if err != nil {
				return err
			}
			defer conn.Close()

			for _, node := range conn.Nodes() {
				fmt.Println(node)
			}
			return nil
		},
	}
}

func newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show identity and firmware version of the target device",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openConnection()
			if err != nil {
				return err
			}
			defer conn.Close()

			dev, err := selectDevice(conn)
			if err != nil {
				return err
			}

			name, err := dev.Name()
			if err != nil {
				return fmt.Errorf("reading device name: %w", err)
			}
			version, err := dev.FirmwareVersion()
			if err != nil {
				return fmt.Errorf("reading firmware version: %w", err)
			}

			fmt.Printf("Name:             %s\n", name)
			fmt.Printf("TxID:             %d\n", dev.TxID())
			fmt.Printf("UUID:             %s\n", dev.UUID())
			fmt.Printf("Firmware version: %s\n", version)
			return nil
		},
	}
}

func newConfigCommand() *cobra.Command {
	var outFile string
	var flat bool

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Read or write the device configuration",
	}

	readCmd := &cobra.Command{
		Use:   "read",
		Short: "Read the full configuration as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openConnection()
			if err != nil {
				return err
			}
			defer conn.Close()

			dev, err := selectDevice(conn)
			if err != nil {
				return err
			}

			var snapshot any
			if flat {
				snapshot, err = dev.Config().ReadAllFlat()
			} else {
				snapshot, err = dev.Config().ReadAll()
			}
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(snapshot, "", "    ")
			if err != nil {
				return err
			}

			if outFile == "" {
				fmt.Println(string(data))
				return nil
			}
			return os.WriteFile(outFile, data, 0o644)
		},
	}
	readCmd.Flags().StringVarP(&outFile, "out", "o", "", "write JSON to file instead of stdout")
	readCmd.Flags().BoolVar(&flat, "flat", false, "emit a flat parameter list instead of categories")

	writeCmd := &cobra.Command{
		Use:   "write FILE",
		Short: "Write a JSON configuration snapshot to the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			conn, err := openConnection()
			if err != nil {
				return err
			}
			defer conn.Close()

			dev, err := selectDevice(conn)
			if err != nil {
				return err
			}

			if flat {
				var params []amfiprot.Parameter
				if err := json.Unmarshal(data, &params); err != nil {
					return fmt.Errorf("parsing flat snapshot: %w", err)
				}
				return dev.Config().WriteAllFlat(params)
			}

			var config []amfiprot.Category
			if err := json.Unmarshal(data, &config); err != nil {
				return fmt.Errorf("parsing snapshot: %w", err)
			}
			return dev.Config().WriteAll(config)
		},
	}
	writeCmd.Flags().BoolVar(&flat, "flat", false, "treat the snapshot as a flat parameter list")

	configCmd.AddCommand(readCmd, writeCmd)
	return configCmd
}

func newFirmwareCommand() *cobra.Command {
	var processorID int

	cmd := &cobra.Command{
		Use:   "firmware FILE",
		Short: "Download a firmware image to the target device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			conn, err := openConnection()
			if err != nil {
				return err
			}
			defer conn.Close()

			dev, err := selectDevice(conn)
			if err != nil {
				return err
			}

			name, err := dev.Name()
			if err == nil {
				fmt.Printf("Updating firmware for %s...\n", name)
			}

			err = dev.UpdateFirmware(image, uint8(processorID), func(sent, total int) {
				fmt.Printf("  %d / %d bytes (%d%%)\n", sent, total, sent*100/total)
			})
			if err != nil {
				return err
			}
			fmt.Println("Done")
			return nil
		},
	}
	cmd.Flags().IntVar(&processorID, "processor", 0, "target processor ID")
	return cmd
}

func newRPCCommand() *cobra.Command {
	rpcCmd := &cobra.Command{
		Use:   "rpc",
		Short: "Inspect and call remote procedures",
	}

	specCmd := &cobra.Command{
		Use:   "spec INDEX",
		Short: "Read the procedure spec at the given index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.ParseUint(args[0], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid index %q: %w", args[0], err)
			}

			conn, err := openConnection()
			if err != nil {
				return err
			}
			defer conn.Close()

			dev, err := selectDevice(conn)
			if err != nil {
				return err
			}

			spec, err := dev.ProcedureSpec(uint16(index), 0)
			if err != nil {
				return err
			}

			fmt.Printf("Name:        %s\n", spec.Name)
			fmt.Printf("UID:         %d\n", spec.UID)
			fmt.Printf("Returns:     %s\n", spec.ReturnType)
			for i, t := range spec.ParamTypes {
				fmt.Printf("Parameter %d: %s\n", i+1, t)
			}
			return nil
		},
	}

	callCmd := &cobra.Command{
		Use:   "call UID [TYPE:VALUE...]",
		Short: "Call a procedure, e.g. rpc call 42 uint8:230",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid UID %q: %w", args[0], err)
			}

			params, err := parseRPCParams(args[1:])
			if err != nil {
				return err
			}

			conn, err := openConnection()
			if err != nil {
				return err
			}
			defer conn.Close()

			dev, err := selectDevice(conn)
			if err != nil {
				return err
			}

			reply, err := dev.CallProcedure(uint32(uid), params...)
			if err != nil {
				return err
			}

			result, err := reply.ReturnValue()
			if err != nil {
				return fmt.Errorf("decoding return value: %w", err)
			}
			fmt.Printf("Returned: %s\n", result)
			return nil
		},
	}

	rpcCmd.AddCommand(specCmd, callCmd)
	return rpcCmd
}

func newCommandCommand() *cobra.Command {
	var redisAddr, redisPass string
	var redisDB int
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "command VERB TX_ID [ARG]",
		Short: "Queue a command for a running amfiprot-bridge via Redis",
		Long: `Queue a command on the bridge's Redis command list, e.g.:

  amfiprotctl command reboot 3
  amfiprotctl command reset 3 171 --wait 5s

With --wait the command polls the node's hash until the bridge records
the command's status.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := args[0] + ":" + args[1]
			if len(args) == 3 {
				command += ":" + args[2]
			}

			client, err := bridge.NewClient(redisAddr, redisPass, redisDB)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.LPush(bridge.KeyCommandList, command); err != nil {
				return err
			}
			fmt.Printf("Queued %q\n", command)

			if wait <= 0 {
				return nil
			}

			key := bridge.KeyNodePrefix + args[1]
			deadline := time.Now().Add(wait)
			for time.Now().Before(deadline) {
				last, err := client.GetString(key, bridge.FieldLastCommand)
				if err == nil && last == command {
					status, err := client.GetString(key, bridge.FieldLastCommandStatus)
					if err != nil {
						return err
					}
					fmt.Printf("Status: %s\n", status)
					return nil
				}
				time.Sleep(200 * time.Millisecond)
			}
			return fmt.Errorf("timed out waiting for %q to be acknowledged", command)
		},
	}

	cmd.Flags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis server address")
	cmd.Flags().StringVar(&redisPass, "redis-pass", "", "Redis password")
	cmd.Flags().IntVar(&redisDB, "redis-db", 0, "Redis database number")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait this long for the bridge to acknowledge the command")
	return cmd
}

func newMonitorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Print every inbound packet until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openConnection()
			if err != nil {
				return err
			}
			defer conn.Close()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			for {
				select {
				case <-sigCh:
					return nil
				case pkt := <-conn.GlobalInbox():
					fmt.Printf("%s  %s\n", time.Now().Format("15:04:05.000"), pkt)
				}
			}
		},
	}
}

// parseRPCParams converts TYPE:VALUE arguments into typed values.
func parseRPCParams(args []string) ([]payload.Value, error) {
	types := map[string]payload.ValueType{
		"bool":   payload.ValueBool,
		"char":   payload.ValueChar,
		"int8":   payload.ValueInt8,
		"uint8":  payload.ValueUint8,
		"int16":  payload.ValueInt16,
		"uint16": payload.ValueUint16,
		"int32":  payload.ValueInt32,
		"uint32": payload.ValueUint32,
		"int64":  payload.ValueInt64,
		"uint64": payload.ValueUint64,
		"float":  payload.ValueFloat,
		"double": payload.ValueDouble,
	}

	var params []payload.Value
	for _, arg := range args {
		parts := strings.SplitN(arg, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid parameter %q, expected TYPE:VALUE", arg)
		}

		t, ok := types[parts[0]]
		if !ok {
			return nil, fmt.Errorf("unknown parameter type %q", parts[0])
		}

		var raw any
		switch t {
		case payload.ValueBool:
			b, err := strconv.ParseBool(parts[1])
			if err != nil {
				return nil, fmt.Errorf("invalid bool %q: %w", parts[1], err)
			}
			raw = b
		case payload.ValueChar:
			raw = parts[1]
		case payload.ValueFloat, payload.ValueDouble:
			f, err := strconv.ParseFloat(parts[1], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q: %w", parts[1], err)
			}
			raw = f
		default:
			i, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid integer %q: %w", parts[1], err)
			}
			raw = i
		}

		value, err := payload.Coerce(raw, t)
		if err != nil {
			return nil, err
		}
		params = append(params, value)
	}
	return params, nil
}
