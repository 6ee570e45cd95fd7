package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amfitech/amfiprot/pkg/amfiprot"
	"github.com/amfitech/amfiprot/pkg/bridge"
	"github.com/amfitech/amfiprot/pkg/transport"
)

// Configuration flags
var (
	usbDevice    = flag.String("usb", "", "USB device as VID:PID in hex, e.g. 0C17:0D12")
	serialNumber = flag.String("serial-number", "", "USB serial number (optional)")
	serialPort   = flag.String("serial", "", "Serial port path, e.g. /dev/ttyUSB0")
	baudRate     = flag.Int("baud", 115200, "Serial baud rate")
	redisAddr    = flag.String("redis-addr", "localhost:6379", "Redis server address")
	redisPass    = flag.String("redis-pass", "", "Redis password")
	redisDB      = flag.Int("redis-db", 0, "Redis database number")
	metricsAddr  = flag.String("metrics-addr", ":9091", "Prometheus metrics listen address (empty to disable)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting Amfiprot bridge")

	trans, err := openTransport()
	if err != nil {
		log.Fatalf("Failed to open transport: %v", err)
	}
	log.Printf("Transport: %s", trans)

	redisClient, err := bridge.NewClient(*redisAddr, *redisPass, *redisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Printf("Connected to Redis at %s", *redisAddr)

	conn := amfiprot.NewConnection(trans)
	defer conn.Close()

	nodes, err := conn.FindNodes()
	if err != nil {
		log.Fatalf("Node discovery failed: %v", err)
	}
	if len(nodes) == 0 {
		log.Fatalf("No Amfiprot nodes found")
	}
	for _, node := range nodes {
		log.Printf("Found %s", node)
	}

	if err := conn.Start(); err != nil {
		log.Fatalf("Failed to start connection worker: %v", err)
	}

	svc := bridge.New(conn, redisClient)
	if err := svc.Start(); err != nil {
		log.Fatalf("Failed to start bridge service: %v", err)
	}
	log.Printf("Bridge service running")

	if *metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			log.Printf("Serving metrics on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				log.Printf("Metrics server stopped: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	svc.Stop()
	conn.Stop()
	log.Printf("Shutting down...")
}

// openTransport opens USB or UART depending on the flags given.
func openTransport() (transport.Transport, error) {
	switch {
	case *usbDevice != "" && *serialPort != "":
		return nil, fmt.Errorf("give either -usb or -serial, not both")
	case *usbDevice != "":
		vid, pid, err := parseVIDPID(*usbDevice)
		if err != nil {
			return nil, err
		}
		return transport.OpenUSB(vid, pid, *serialNumber)
	case *serialPort != "":
		return transport.OpenUART(*serialPort, *baudRate)
	default:
		return nil, fmt.Errorf("give -usb VID:PID or -serial PORT")
	}
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
