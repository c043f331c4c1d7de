package flasher

import "fmt"

// TransferRejectedError indicates the device (or a pre-flight check)
// refused a partition before any data was sent. Fatal to that partition
// only; the rest of the plan continues.
type TransferRejectedError struct {
	// Partition is the refused target
	Partition string

	// Reason describes a local pre-flight rejection
	Reason string

	// Err carries the device's refusal, if the rejection came off-wire
	Err error
}

func (e *TransferRejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("partition %s: transfer rejected: %v", e.Partition, e.Err)
	}
	return fmt.Sprintf("partition %s: transfer rejected: %s", e.Partition, e.Reason)
}

func (e *TransferRejectedError) Unwrap() error { return e.Err }

// TransferFailedError indicates a frame exhausted its retry budget or
// the session died mid-transfer. Fatal to the partition; the orchestrator
// aborts the remaining plan.
type TransferFailedError struct {
	Partition string

	// Frame is the zero-based index of the failing frame
	Frame int

	// Attempts is the number of times the frame was sent
	Attempts int

	Err error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("partition %s: frame %d failed after %d attempts: %v",
		e.Partition, e.Frame, e.Attempts, e.Err)
}

func (e *TransferFailedError) Unwrap() error { return e.Err }

// VerificationFailedError indicates every frame was acknowledged but the
// device rejected the end-of-transfer checksum: the data arrived, but
// not intact. Distinct from TransferFailedError because it points at
// corruption rather than a stall.
type VerificationFailedError struct {
	Partition string

	// Checksum is the CRC32 computed over the acknowledged bytes
	Checksum uint32

	Err error
}

func (e *VerificationFailedError) Error() string {
	return fmt.Sprintf("partition %s: device rejected transfer checksum 0x%08X: %v",
		e.Partition, e.Checksum, e.Err)
}

func (e *VerificationFailedError) Unwrap() error { return e.Err }
