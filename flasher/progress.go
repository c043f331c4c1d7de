package flasher

import "time"

// Phase names reported through Progress.
const (
	// PhaseVerifying covers package checksum verification before any write
	PhaseVerifying = "verifying"

	// PhaseBackup covers pre-flash partition backups
	PhaseBackup = "backup"

	// PhaseFlashing covers the partition write itself
	PhaseFlashing = "flashing"

	// PhaseRebooting covers the end-session reboot exchange
	PhaseRebooting = "rebooting"

	// PhaseComplete is reported once after the job finishes successfully
	PhaseComplete = "complete"
)

// Progress is a snapshot of an in-flight job. Events for one partition
// are ordered and their byte counts never decrease; no delivery
// mechanism beyond the callback is guaranteed.
type Progress struct {
	// Phase is one of the Phase* constants
	Phase string

	// Partition is the partition currently being worked on, empty for
	// job-level events
	Partition string

	// PartitionIndex and PartitionCount locate the partition within
	// the plan (1-based index)
	PartitionIndex int
	PartitionCount int

	// BytesDone is the number of bytes acknowledged by the device so
	// far for this partition
	BytesDone uint64

	// BytesTotal is the partition's declared size
	BytesTotal uint64

	// Elapsed is the time since the job started
	Elapsed time.Duration
}

// ProgressFunc receives progress snapshots. Implementations must return
// quickly; they are called from the transfer loop and have no mutation
// rights over job state.
type ProgressFunc func(Progress)
