package protocol

import (
	"errors"
	"fmt"
)

// ErrCancelled indicates that a request was cancelled by the host.
var ErrCancelled = errors.New("request cancelled")

// TransportMismatchError indicates that a reply carried a different command
// code than the command it answers.
type TransportMismatchError struct {
	// Expected is the command code of the outstanding command
	Expected byte

	// Actual is the command code found in the reply
	Actual byte
}

func (e *TransportMismatchError) Error() string {
	return fmt.Sprintf("transport mismatch: sent command 0x%02X, reply carries 0x%02X",
		e.Expected, e.Actual)
}

// DeviceRefusedError indicates that the device rejected a command with a
// single-byte failure reply.
type DeviceRefusedError struct {
	// Operation is the command that was refused
	Operation string
}

func (e *DeviceRefusedError) Error() string {
	return fmt.Sprintf("device refused %s", e.Operation)
}

// ProtocolInvariantError indicates that a multi-packet reply violated the
// length or continuation rules of the protocol.
type ProtocolInvariantError struct {
	Reason string
}

func (e *ProtocolInvariantError) Error() string {
	return fmt.Sprintf("protocol invariant violated: %s", e.Reason)
}

// DatabaseCorruptError indicates that the integrity check found a structural
// error it could not repair.
type DatabaseCorruptError struct {
	Reason string
}

func (e *DatabaseCorruptError) Error() string {
	return fmt.Sprintf("database corrupt: %s", e.Reason)
}

// InputInvalidError indicates a caller-supplied argument out of range.
type InputInvalidError struct {
	Field  string
	Reason string
}

func (e *InputInvalidError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsDeviceRefused returns true if the error is a DeviceRefusedError.
func IsDeviceRefused(err error) bool {
	var refused *DeviceRefusedError
	return errors.As(err, &refused)
}
