package flasher

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Llucs/ZodinLinux/firmware"
	"github.com/Llucs/ZodinLinux/pit"
	"github.com/Llucs/ZodinLinux/protocol"
)

// transferJob tracks one partition's in-flight transfer. bytesAcked is
// monotone and never exceeds total; the checksum covers exactly the
// acknowledged bytes, never bytes sent but not yet acknowledged.
type transferJob struct {
	partition  string
	total      uint64
	bytesAcked uint64
	frame      int
	crc        uint32
}

// transfer streams one image to the device inside an established
// session. It returns the acknowledged byte count alongside any error so
// the orchestrator can report exact partial progress.
func (f *Flasher) transfer(ctx context.Context, entry *pit.Entry, img *firmware.Image,
	index, count int, hint int, started time.Time) (uint64, error) {

	job := &transferJob{partition: entry.PartitionName, total: uint64(img.Size)}

	if err := f.session.BeginFlash(ctx, entry.Identifier, job.total); err != nil {
		var status *protocol.DeviceStatusError
		if errors.As(err, &status) {
			return 0, &TransferRejectedError{Partition: job.partition, Err: err}
		}
		return 0, err
	}

	frameSize := f.frameSize(hint)
	buf := make([]byte, frameSize)

	f.cfg.Logger.Info().
		Str("partition", job.partition).
		Str("size", humanize.IBytes(job.total)).
		Int("frame_size", frameSize).
		Msg("flashing partition")

	for job.bytesAcked < job.total {
		// Cancellation is checked between frames, never mid-send.
		if err := ctx.Err(); err != nil {
			f.abortTransfer(ctx, job)
			return job.bytesAcked, err
		}

		remaining := job.total - job.bytesAcked
		frame := buf
		if remaining < uint64(len(buf)) {
			frame = buf[:remaining]
		}

		if err := readFrame(img, frame); err != nil {
			f.abortTransfer(ctx, job)
			return job.bytesAcked, err
		}

		if err := f.sendFrame(ctx, job, frame); err != nil {
			f.abortTransfer(ctx, job)
			return job.bytesAcked, err
		}

		job.bytesAcked += uint64(len(frame))
		job.crc = crc32.Update(job.crc, crc32.IEEETable, frame)
		job.frame++

		f.report(Progress{
			Phase:          PhaseFlashing,
			Partition:      job.partition,
			PartitionIndex: index + 1,
			PartitionCount: count,
			BytesDone:      job.bytesAcked,
			BytesTotal:     job.total,
			Elapsed:        time.Since(started),
		})
	}

	if err := f.session.EndFlash(ctx, job.crc, false); err != nil {
		var status *protocol.DeviceStatusError
		if errors.As(err, &status) {
			return job.bytesAcked, &VerificationFailedError{
				Partition: job.partition,
				Checksum:  job.crc,
				Err:       err,
			}
		}
		return job.bytesAcked, err
	}

	f.cfg.Logger.Info().
		Str("partition", job.partition).
		Str("written", humanize.IBytes(job.bytesAcked)).
		Int("frames", job.frame).
		Msg("partition flashed")

	return job.bytesAcked, nil
}

// sendFrame sends one frame, retrying a device refusal with the same
// content up to the configured budget. The device overwrites rather than
// appends on a resend, so a retried frame is idempotent. Transport
// stalls and protocol violations are not retried here: the session has
// already spent its one resync.
func (f *Flasher) sendFrame(ctx context.Context, job *transferJob, frame []byte) error {
	attempts := f.cfg.FrameRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := f.session.SendFlashData(ctx, frame)
		if err == nil {
			return nil
		}

		var status *protocol.DeviceStatusError
		if !errors.As(err, &status) {
			return &TransferFailedError{
				Partition: job.partition,
				Frame:     job.frame,
				Attempts:  attempt,
				Err:       err,
			}
		}

		lastErr = err
		f.cfg.Logger.Warn().
			Str("partition", job.partition).
			Int("frame", job.frame).
			Int("attempt", attempt).
			Err(err).
			Msg("frame refused, retrying")
	}

	return &TransferFailedError{
		Partition: job.partition,
		Frame:     job.frame,
		Attempts:  attempts,
		Err:       lastErr,
	}
}

// abortTransfer tells the device to discard the in-progress transfer.
// Runs even when ctx is already cancelled; failures are logged only,
// since the transfer is being torn down anyway.
func (f *Flasher) abortTransfer(ctx context.Context, job *transferJob) {
	abortCtx := context.WithoutCancel(ctx)
	if err := f.session.EndFlash(abortCtx, 0, true); err != nil {
		f.cfg.Logger.Warn().
			Str("partition", job.partition).
			Err(err).
			Msg("transfer abort not acknowledged")
	}
}

// readFrame fills buf completely from the image stream. The stream
// enforces the declared-size invariant itself, so a short read here is
// already an integrity error by the time it surfaces.
func readFrame(r io.Reader, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		read += n
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("image stream ended %d bytes short of a full frame: %w",
				len(buf)-read, firmware.ErrIntegrityCheckFailed)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// frameSize resolves the effective frame size: the negotiated device
// maximum, clamped by the flasher configuration and the plan hint.
func (f *Flasher) frameSize(hint int) int {
	size := int(f.session.MaxFrameSize())
	if size <= 0 {
		size = protocol.DefaultFrameSize
	}
	if f.cfg.FrameSize > 0 && f.cfg.FrameSize < size {
		size = f.cfg.FrameSize
	}
	if hint > 0 && hint < size {
		size = hint
	}
	return size
}
