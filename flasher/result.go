package flasher

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal state of one partition within a job.
type Outcome int

const (
	// OutcomeNotAttempted means the job ended before reaching this
	// partition
	OutcomeNotAttempted Outcome = iota

	// OutcomeCompleted means every byte was acknowledged and the
	// transfer checksum accepted
	OutcomeCompleted

	// OutcomeFailed means the partition was rejected, stalled out, or
	// failed verification
	OutcomeFailed

	// OutcomeCancelled means cancellation was observed during this
	// partition's transfer
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotAttempted:
		return "not attempted"
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// JobStatus is the top-level outcome of a flash job.
type JobStatus int

const (
	// JobCompleted means every partition in the plan completed
	JobCompleted JobStatus = iota

	// JobFailed means the job aborted; Partitions records how far it got
	JobFailed

	// JobCancelled means a cancellation request ended the job
	JobCancelled
)

func (s JobStatus) String() string {
	switch s {
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	case JobCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// PartitionResult is one partition's outcome within a JobResult.
type PartitionResult struct {
	// Partition is the target partition name
	Partition string

	// Outcome is the partition's terminal state
	Outcome Outcome

	// BytesAcked is the number of bytes the device acknowledged; for a
	// cancelled partition this is the last-acknowledged count, neither
	// rolled back nor advanced
	BytesAcked uint64

	// BytesTotal is the declared image size
	BytesTotal uint64

	// Err is the partition's failure, nil unless Outcome is Failed or
	// Cancelled
	Err error
}

// JobResult is the aggregate outcome of one flash job. It is the only
// error-bearing value callers above the core ever observe: partial
// success is reported per partition, not hidden behind a boolean.
type JobResult struct {
	// ID identifies the job
	ID uuid.UUID

	// Status is the top-level outcome
	Status JobStatus

	// Err is the failure that ended the job, nil on success
	Err error

	// Partitions holds per-partition outcomes in plan order
	Partitions []PartitionResult

	// Elapsed is the total job duration
	Elapsed time.Duration
}

// Completed reports whether every partition completed.
func (r *JobResult) Completed() bool {
	return r.Status == JobCompleted
}
