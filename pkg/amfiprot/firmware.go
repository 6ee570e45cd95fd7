package amfiprot

import (
	"fmt"
	"time"

	"github.com/amfitech/amfiprot/pkg/packet"
	"github.com/amfitech/amfiprot/pkg/payload"
)

// Firmware download runs through a small state machine:
//
//	idle -> starting -> streaming -> ending -> idle
//
// Every failed step aborts the transfer and surfaces a
// FirmwareTransferError.
type firmwareState int

const (
	fwIdle firmwareState = iota
	fwStarting
	fwStreaming
	fwEnding
)

// ProgressFunc reports firmware transfer progress as bytes sent out of the
// total image size.
type ProgressFunc func(sent, total int)

// UpdateFirmware streams a firmware image to the given processor. Each data
// chunk is sent as a request-ack packet and must be acknowledged with a
// success payload before the next one goes out. progress, when non-nil, is
// invoked at most once per second and once at completion.
func (d *Device) UpdateFirmware(image []byte, processorID uint8, progress ProgressFunc) error {
	chunkSize := d.Node.MaxPayloadSize() - 2
	if chunkSize <= 0 {
		return &FirmwareTransferError{Step: "setup", Err: fmt.Errorf("transport payload size %d cannot carry firmware chunks", d.Node.MaxPayloadSize())}
	}

	state := fwStarting
	offset := 0
	lastReport := time.Now()

	for state != fwIdle {
		switch state {
		case fwStarting:
			if err := d.Node.SendPayload(&payload.FirmwareStart{ProcessorID: processorID}, packet.NoAck); err != nil {
				return &FirmwareTransferError{Step: "start", Err: err}
			}
			if _, err := awaitPayloadType(d.Node, payload.TypeSuccess, firmwareReplyTimeout); err != nil {
				return &FirmwareTransferError{Step: "start", Err: err}
			}
			state = fwStreaming

		case fwStreaming:
			if offset >= len(image) {
				state = fwEnding
				continue
			}

			end := offset + chunkSize
			if end > len(image) {
				end = len(image)
			}
			chunk := image[offset:end]

			if err := d.Node.SendPayload(&payload.FirmwareData{ProcessorID: processorID, Chunk: chunk}, packet.RequestAck); err != nil {
				return &FirmwareTransferError{Step: fmt.Sprintf("data at offset %d", offset), Err: err}
			}
			if _, err := awaitPayloadType(d.Node, payload.TypeSuccess, firmwareReplyTimeout); err != nil {
				return &FirmwareTransferError{Step: fmt.Sprintf("data at offset %d", offset), Err: err}
			}
			offset = end

			if progress != nil && (time.Since(lastReport) >= time.Second || offset == len(image)) {
				progress(offset, len(image))
				lastReport = time.Now()
			}

		case fwEnding:
			// No reply is awaited for the end marker.
			if err := d.Node.SendPayload(&payload.FirmwareEnd{ProcessorID: processorID}, packet.NoAck); err != nil {
				return &FirmwareTransferError{Step: "end", Err: err}
			}
			state = fwIdle
		}
	}

	return nil
}
