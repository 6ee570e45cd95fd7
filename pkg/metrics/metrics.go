// Package metrics exposes Prometheus counters for the transport worker.
// The amfiprot-bridge daemon serves them on /metrics; library users can
// register the default gatherer wherever they like.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsReceived counts packets parsed from inbound frames.
	PacketsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amfiprot_packets_received_total",
		Help: "Packets parsed from inbound frames.",
	})

	// PacketsTransmitted counts packets written to the transport.
	PacketsTransmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amfiprot_packets_transmitted_total",
		Help: "Packets written to the transport.",
	})

	// CRCErrors counts packets whose header or payload CRC did not verify.
	CRCErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amfiprot_crc_errors_total",
		Help: "Packets with a header or payload CRC mismatch.",
	})

	// ParseErrors counts inbound frames that failed packet or payload
	// parsing, including frames the transport reported as malformed.
	ParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amfiprot_parse_errors_total",
		Help: "Frames that failed packet or payload parsing.",
	})

	// WriteErrors counts outbound packets dropped on write failure.
	WriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amfiprot_write_errors_total",
		Help: "Outbound packets dropped because the transport write failed.",
	})

	// InboxDrops counts packets dropped because a queue was full, by
	// queue ("transmit", "global" or the endpoint tx_id).
	InboxDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amfiprot_inbox_drops_total",
		Help: "Packets dropped because an inbox was at capacity.",
	}, []string{"queue"})

	// Reconnects counts successful reconnections after a lost handle.
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amfiprot_reconnects_total",
		Help: "Successful device reconnections.",
	})
)
