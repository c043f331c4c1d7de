package flasher

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/Llucs/ZodinLinux/protocol"
)

// Backup reads a partition's current contents off the device into sink.
// The expected size comes from the device's PIT entry, not from the
// caller; a dump that ends at a different size is an error. Frame reads
// use the same bounded retry budget as flash writes.
func (f *Flasher) Backup(ctx context.Context, partition string, sink io.Writer) (uint64, error) {
	table, err := f.FetchPit(ctx)
	if err != nil {
		return 0, err
	}

	entry := table.FindByName(partition)
	if entry == nil {
		return 0, fmt.Errorf("partition %q not present in device PIT", partition)
	}
	expected := uint64(entry.BlockSize) * uint64(entry.BlockCount)

	if err := f.session.BeginDump(ctx, entry.Identifier); err != nil {
		return 0, err
	}

	received, err := f.drainDump(ctx, partition, expected, sink)
	if err != nil {
		return received, err
	}

	if expected > 0 && received != expected {
		return received, fmt.Errorf("partition %s: dump ended at %d bytes, PIT declares %d",
			partition, received, expected)
	}

	f.cfg.Logger.Info().
		Str("partition", partition).
		Str("size", humanize.IBytes(received)).
		Msg("partition backed up")

	return received, nil
}

// BackupBootloader reads the device's bootloader region into sink. The
// PIT does not declare its size, so the dump ends at the device's first
// empty frame and the received count is whatever the device sent.
func (f *Flasher) BackupBootloader(ctx context.Context, sink io.Writer) (uint64, error) {
	if err := f.session.BeginBootloaderDump(ctx); err != nil {
		return 0, err
	}

	received, err := f.drainDump(ctx, "bootloader", 0, sink)
	if err != nil {
		return received, err
	}

	f.cfg.Logger.Info().
		Str("size", humanize.IBytes(received)).
		Msg("bootloader backed up")

	return received, nil
}

// drainDump reads frames of an in-progress dump into sink until the
// device sends an empty frame, then ends the dump. expected is used for
// progress totals only; zero means the size is unknown up front.
func (f *Flasher) drainDump(ctx context.Context, partition string, expected uint64, sink io.Writer) (uint64, error) {
	var received uint64
	for {
		if err := ctx.Err(); err != nil {
			_ = f.session.EndDump()
			return received, err
		}

		frame, err := f.readDumpFrame(ctx, partition, received)
		if err != nil {
			_ = f.session.EndDump()
			return received, err
		}
		if len(frame) == 0 {
			break
		}

		if _, err := sink.Write(frame); err != nil {
			_ = f.session.EndDump()
			return received, fmt.Errorf("partition %s: write backup: %w", partition, err)
		}
		received += uint64(len(frame))

		f.report(Progress{
			Phase:      PhaseBackup,
			Partition:  partition,
			BytesDone:  received,
			BytesTotal: expected,
		})
	}

	return received, f.session.EndDump()
}

// readDumpFrame requests the next dump frame, retrying device refusals
// with the configured budget.
func (f *Flasher) readDumpFrame(ctx context.Context, partition string, received uint64) ([]byte, error) {
	attempts := f.cfg.FrameRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		frame, err := f.session.ReadDumpFrame(ctx)
		if err == nil {
			return frame, nil
		}

		var status *protocol.DeviceStatusError
		if !errors.As(err, &status) {
			return nil, err
		}

		lastErr = err
		f.cfg.Logger.Warn().
			Str("partition", partition).
			Uint64("received", received).
			Int("attempt", attempt).
			Err(err).
			Msg("dump frame refused, retrying")
	}

	return nil, fmt.Errorf("partition %s: dump frame failed after %d attempts: %w",
		partition, attempts, lastErr)
}
