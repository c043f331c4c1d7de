package flasher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/Llucs/ZodinLinux/firmware"
	"github.com/Llucs/ZodinLinux/pit"
	"github.com/Llucs/ZodinLinux/protocol"
)

// Flasher turns a flash plan into a sequence of session operations. It
// exclusively owns its session from Open until the session closes; no
// two jobs may share one session.
//
// Execute is synchronous. Long-running jobs are expected to run on a
// dedicated goroutine per device, with observers watching the progress
// callback and cancellation arriving through the context.
type Flasher struct {
	session *protocol.Session
	cfg     Config

	pitTable *pit.Table
}

// New creates a Flasher over an established or not-yet-opened session.
func New(session *protocol.Session, opts ...Option) *Flasher {
	if session == nil {
		panic("session cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Flasher{session: session, cfg: cfg}
}

// Open performs the session handshake, retrying a bounded number of
// times. The session is left Ready on success and Disconnected on
// failure.
func (f *Flasher) Open(ctx context.Context) error {
	attempts := f.cfg.HandshakeRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := f.session.Handshake(ctx)
		if err == nil {
			return nil
		}

		var hs *protocol.HandshakeFailedError
		if !errors.As(err, &hs) {
			return err
		}

		lastErr = err
		f.cfg.Logger.Warn().Int("attempt", attempt).Err(err).Msg("handshake failed")
	}
	return lastErr
}

// FetchPit fetches and decodes the device's partition table. The table
// is fetched once per session and cached; it is read-only afterward.
func (f *Flasher) FetchPit(ctx context.Context) (*pit.Table, error) {
	if f.pitTable != nil {
		return f.pitTable, nil
	}

	raw, err := f.session.RequestPit(ctx)
	if err != nil {
		return nil, err
	}

	table, err := pit.Decode(raw)
	if err != nil {
		return nil, &protocol.ProtocolViolationError{Reason: fmt.Sprintf("device sent malformed PIT: %v", err)}
	}

	f.cfg.Logger.Debug().Int("entries", len(table.Entries)).Msg("PIT decoded")
	f.pitTable = table
	return table, nil
}

// Execute runs a flash plan to completion, cancellation, or first fatal
// failure. The JobResult always carries per-partition outcomes; the
// returned error is reserved for misuse (nil or empty plan), never for
// device-side failures.
func (f *Flasher) Execute(ctx context.Context, plan *Plan) (*JobResult, error) {
	if plan == nil || len(plan.Items) == 0 {
		return nil, errors.New("plan is empty")
	}

	started := time.Now()
	result := &JobResult{
		ID:         uuid.New(),
		Partitions: make([]PartitionResult, len(plan.Items)),
	}
	for i, item := range plan.Items {
		result.Partitions[i] = PartitionResult{Partition: item.Partition, Outcome: OutcomeNotAttempted}
	}

	log := f.cfg.Logger.With().Stringer("job", result.ID).Logger()
	log.Info().Int("partitions", len(plan.Items)).Msg("flash job started")

	fail := func(err error) (*JobResult, error) {
		result.Status = JobFailed
		result.Err = err
		result.Elapsed = time.Since(started)
		log.Error().Err(err).Msg("flash job failed")
		return result, nil
	}

	// Whole-package verification happens before any device mutation:
	// one bad container fails the job with zero partitions sent.
	verified := make(map[string]bool)
	if plan.Options.VerifyIntegrity {
		for _, item := range plan.Items {
			if verified[item.Path] {
				continue
			}
			f.report(Progress{Phase: PhaseVerifying, Partition: item.Partition, Elapsed: time.Since(started)})
			if err := firmware.Verify(item.Path); err != nil {
				return fail(err)
			}
			verified[item.Path] = true
		}
	}

	table, err := f.FetchPit(ctx)
	if err != nil {
		return fail(err)
	}

	// Backups also complete before the first write; a backup failure
	// aborts the job while the device is still untouched.
	if plan.Options.BackupBeforeFlash {
		if plan.Options.BackupSink == nil {
			return fail(errors.New("backup requested without a backup sink"))
		}
		for _, item := range plan.Items {
			if err := f.backupPartition(ctx, item.Partition, plan.Options.BackupSink); err != nil {
				return fail(err)
			}
		}
	}

	aborted := false
	var abortErr error
	for i := range plan.Items {
		if aborted {
			continue
		}

		item := plan.Items[i]
		partRes := &result.Partitions[i]

		acked, total, err := f.flashItem(ctx, table, item, i, len(plan.Items),
			verified[item.Path], plan.Options.FrameSizeHint, started)
		partRes.BytesAcked = acked
		partRes.BytesTotal = total

		switch {
		case err == nil:
			partRes.Outcome = OutcomeCompleted

		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			partRes.Outcome = OutcomeCancelled
			partRes.Err = err
			result.Status = JobCancelled
			result.Err = err
			result.Elapsed = time.Since(started)
			log.Info().Str("partition", item.Partition).Msg("flash job cancelled")
			return result, nil

		default:
			partRes.Outcome = OutcomeFailed
			partRes.Err = err

			var rejected *TransferRejectedError
			if errors.As(err, &rejected) {
				// Rejection is fatal to this partition only.
				log.Warn().Err(err).Msg("partition rejected, continuing plan")
				continue
			}
			aborted = true
			abortErr = err
		}
	}

	if aborted {
		return fail(abortErr)
	}

	if anyFailed(result.Partitions) {
		result.Status = JobFailed
		result.Err = firstFailure(result.Partitions)
		result.Elapsed = time.Since(started)
		log.Error().Err(result.Err).Msg("flash job finished with rejected partitions")
		return result, nil
	}

	if plan.Options.AutoReboot {
		f.report(Progress{Phase: PhaseRebooting, Elapsed: time.Since(started)})
		if err := f.session.EndSession(ctx, true); err != nil {
			// The data is on the device; a failed reboot exchange does
			// not undo the flash. Surface it without failing the job.
			log.Warn().Err(err).Msg("reboot command not acknowledged")
			result.Err = err
		}
	}

	result.Status = JobCompleted
	result.Elapsed = time.Since(started)
	f.report(Progress{Phase: PhaseComplete, PartitionCount: len(plan.Items), Elapsed: result.Elapsed})
	log.Info().Dur("elapsed", result.Elapsed).Msg("flash job completed")

	return result, nil
}

// flashItem resolves one plan item against the PIT, opens its image and
// runs the transfer. Returns acknowledged bytes and declared total for
// exact partial-progress reporting.
func (f *Flasher) flashItem(ctx context.Context, table *pit.Table, item Item,
	index, count int, verified bool, hint int, started time.Time) (uint64, uint64, error) {

	entry := table.FindByName(item.Partition)
	if entry == nil {
		return 0, 0, &TransferRejectedError{Partition: item.Partition, Reason: "not present in device PIT"}
	}

	pkg, img, err := openSource(item.Source, verified)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = pkg.Close() }()

	total := uint64(img.Size)
	if capacity := uint64(entry.BlockSize) * uint64(entry.BlockCount); capacity > 0 && total > capacity {
		return 0, total, &TransferRejectedError{
			Partition: item.Partition,
			Reason:    fmt.Sprintf("image size %d exceeds partition capacity %d", total, capacity),
		}
	}

	acked, err := f.transfer(ctx, entry, img, index, count, hint, started)
	return acked, total, err
}

// openSource opens a plan item's image: a member of an archive
// container, or a raw single-image file.
func openSource(src Source, verified bool) (*firmware.Package, *firmware.Image, error) {
	if src.Member == "" {
		pkg, err := firmware.OpenRaw(src.Path, src.Partition)
		if err != nil {
			return nil, nil, err
		}
		img, err := pkg.Next()
		if err != nil {
			_ = pkg.Close()
			return nil, nil, err
		}
		return pkg, img, nil
	}

	var opts []firmware.Option
	if verified {
		opts = append(opts, firmware.WithoutVerification())
	}
	pkg, err := firmware.Open(src.Path, opts...)
	if err != nil {
		return nil, nil, err
	}
	img, err := pkg.Find(src.Member)
	if err != nil {
		_ = pkg.Close()
		return nil, nil, err
	}
	return pkg, img, nil
}

func (f *Flasher) backupPartition(ctx context.Context, partition string,
	sinkFor func(string) (io.WriteCloser, error)) error {

	sink, err := sinkFor(partition)
	if err != nil {
		return fmt.Errorf("backup %s: %w", partition, err)
	}

	_, err = f.Backup(ctx, partition, sink)
	closeErr := sink.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("backup %s: %w", partition, err)
	}
	return nil
}

// report calls the progress callback if configured.
func (f *Flasher) report(p Progress) {
	if f.cfg.Progress != nil {
		f.cfg.Progress(p)
	}
}

func anyFailed(results []PartitionResult) bool {
	for _, r := range results {
		if r.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}

func firstFailure(results []PartitionResult) error {
	for _, r := range results {
		if r.Outcome == OutcomeFailed {
			return r.Err
		}
	}
	return nil
}
