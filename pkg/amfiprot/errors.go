package amfiprot

import (
	"errors"
	"fmt"

	"github.com/amfitech/amfiprot/pkg/payload"
)

var (
	// ErrTimeout reports that a reply did not arrive before the deadline.
	ErrTimeout = errors.New("amfiprot: timed out waiting for reply")

	// ErrStopped reports an operation on a stopped connection.
	ErrStopped = errors.New("amfiprot: connection is stopped")

	// ErrNoNodes reports that discovery found no endpoints.
	ErrNoNodes = errors.New("amfiprot: no nodes found")
)

// ConfigWriteMismatchError reports that a configuration readback after a
// write did not return the requested value.
type ConfigWriteMismatchError struct {
	UID  uint32
	Want payload.Value
	Got  payload.Value
}

func (e *ConfigWriteMismatchError) Error() string {
	return fmt.Sprintf("configuration readback mismatch for UID %d: wrote %s, read %s", e.UID, e.Want, e.Got)
}

// FirmwareTransferError reports a failed step of a firmware download.
type FirmwareTransferError struct {
	Step string
	Err  error
}

func (e *FirmwareTransferError) Error() string {
	return fmt.Sprintf("firmware transfer failed during %s: %v", e.Step, e.Err)
}

func (e *FirmwareTransferError) Unwrap() error { return e.Err }
