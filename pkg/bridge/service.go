package bridge

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/amfitech/amfiprot/pkg/amfiprot"
	"github.com/amfitech/amfiprot/pkg/payload"
)

// Redis keys and channels.
const (
	KeyNodePrefix    = "amfiprot:node:"   // hash per node, keyed by tx_id
	ChannelDebug     = "amfiprot:debug"   // device debug output
	ChannelRefresh   = "amfiprot:refresh" // any message re-publishes the node inventory
	KeyCommandList   = "amfiprot:commands"
	commandPollDelay = 1 * time.Second
)

// Hash fields written per node.
const (
	FieldLastCommand       = "last-command"
	FieldLastCommandStatus = "last-command-status"
)

// Service mirrors one Amfiprot connection onto Redis.
type Service struct {
	conn  *amfiprot.Connection
	redis *Client

	mu      sync.Mutex
	devices map[uint8]*amfiprot.Device

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a bridge service for a connection whose nodes have been
// discovered.
func New(conn *amfiprot.Connection, redisClient *Client) *Service {
	return &Service{
		conn:    conn,
		redis:   redisClient,
		devices: make(map[uint8]*amfiprot.Device),
		stopCh:  make(chan struct{}),
	}
}

// Start publishes the node inventory and launches the firehose and command
// watchers. The connection worker must already be running.
func (s *Service) Start() error {
	if err := s.publishNodes(); err != nil {
		log.Printf("Warning: could not publish all node info: %v", err)
	}

	s.wg.Add(3)
	go s.watchFirehose()
	go s.watchCommands()
	go s.watchRefresh()
	return nil
}

// Stop terminates the watchers.
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// publishNodes writes identity and firmware info for every known node.
func (s *Service) publishNodes() error {
	var firstErr error

	for _, node := range s.conn.Nodes() {
		dev := amfiprot.NewDevice(node)

		s.mu.Lock()
		s.devices[node.TxID] = dev
		s.mu.Unlock()

		// Publish alongside the write so subscribers see nodes appear.
		key := nodeKey(node.TxID)
		if err := s.redis.WriteAndPublishString(key, "uuid", node.UUID.String()); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.redis.WriteAndPublishString(key, "name", node.Name); err != nil && firstErr == nil {
			firstErr = err
		}

		version, err := dev.FirmwareVersion()
		if err != nil {
			log.Printf("Could not read firmware version for tx_id %d: %v", node.TxID, err)
			continue
		}
		if err := s.redis.WriteAndPublishString(key, "firmware-version", version.String()); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// watchFirehose consumes the global inbox: debug output is published,
// every packet refreshes the source node's last-seen timestamp.
func (s *Service) watchFirehose() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case pkt := <-s.conn.GlobalInbox():
			if debug, ok := pkt.Payload.(*payload.DebugOutput); ok {
				message := fmt.Sprintf("%d:%s", pkt.SourceTxID, debug.Message)
				if err := s.redis.Publish(ChannelDebug, message); err != nil {
					log.Printf("Failed to publish debug output: %v", err)
				}
			}

			key := nodeKey(pkt.SourceTxID)
			if err := s.redis.WriteString(key, "last-seen", time.Now().Format(time.RFC3339)); err != nil {
				log.Printf("Failed to update last-seen for tx_id %d: %v", pkt.SourceTxID, err)
			}
		}
	}
}

// watchCommands pops commands from the Redis command list and dispatches
// them to devices. Commands are "<verb>:<tx_id>[:<arg>]":
//
//	reboot:3
//	load-default:3
//	save-default:3
//	reset:3:171
func (s *Service) watchCommands() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		result, err := s.redis.BRPop(commandPollDelay, KeyCommandList)
		if err != nil {
			log.Printf("Error polling command list: %v", err)
			time.Sleep(commandPollDelay)
			continue
		}
		if result == nil {
			continue
		}

		if err := s.dispatchCommand(result[1]); err != nil {
			log.Printf("Command %q failed: %v", result[1], err)
		}
	}
}

func (s *Service) dispatchCommand(command string) error {
	parts := strings.Split(command, ":")
	if len(parts) < 2 {
		return fmt.Errorf("malformed command %q", command)
	}

	txID, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return fmt.Errorf("malformed tx_id in %q: %w", command, err)
	}

	s.mu.Lock()
	dev, ok := s.devices[uint8(txID)]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no device with tx_id %d", txID)
	}

	switch parts[0] {
	case "reboot":
		log.Printf("Rebooting tx_id %d", txID)
		err = dev.Reboot()
	case "load-default":
		log.Printf("Loading default configuration on tx_id %d", txID)
		err = dev.LoadDefaultConfiguration()
	case "save-default":
		log.Printf("Saving configuration as default on tx_id %d", txID)
		err = dev.SaveAsDefaultConfiguration()
	case "reset":
		mode := uint64(0)
		if len(parts) > 2 {
			mode, err = strconv.ParseUint(parts[2], 10, 8)
			if err != nil {
				return fmt.Errorf("malformed reset mode in %q: %w", command, err)
			}
		}
		log.Printf("Resetting parameters on tx_id %d (mode %d)", txID, mode)
		err = dev.ResetParameter(uint8(mode))
	default:
		err = fmt.Errorf("unknown command verb %q", parts[0])
	}

	s.recordCommand(uint8(txID), command, err)
	return err
}

// recordCommand writes the outcome of a dispatched command to the node's
// hash so clients can poll for acknowledgement.
func (s *Service) recordCommand(txID uint8, command string, err error) {
	if s.redis == nil {
		return
	}

	status := "ok"
	if err != nil {
		status = err.Error()
	}

	key := nodeKey(txID)
	if werr := s.redis.WriteAndPublishString(key, FieldLastCommand, command); werr != nil {
		log.Printf("Failed to record command for tx_id %d: %v", txID, werr)
	}
	if werr := s.redis.WriteAndPublishString(key, FieldLastCommandStatus, status); werr != nil {
		log.Printf("Failed to record command status for tx_id %d: %v", txID, werr)
	}
}

// watchRefresh re-publishes the node inventory whenever anything is
// published on the refresh channel.
func (s *Service) watchRefresh() {
	defer s.wg.Done()

	messages, closeSub := s.redis.Subscribe(ChannelRefresh)
	defer closeSub()

	for {
		select {
		case <-s.stopCh:
			return
		case _, ok := <-messages:
			if !ok {
				return
			}
			log.Printf("Refresh requested via Redis")
			if err := s.publishNodes(); err != nil {
				log.Printf("Warning: could not publish all node info: %v", err)
			}
		}
	}
}

func nodeKey(txID uint8) string {
	return KeyNodePrefix + strconv.Itoa(int(txID))
}
