// Package flasher orchestrates complete flash and backup jobs against a
// Samsung device in download mode.
//
// # Overview
//
// A job runs in a fixed order:
//   - Verify every container's detached checksum (when requested),
//     before any device mutation
//   - Fetch and decode the device's partition table
//   - Back up every targeted partition (when requested), still before
//     the first write
//   - Flash each partition in class order (bootloader, modem, system,
//     rest), fail-fast
//   - Reboot or leave the session Ready
//
// # Basic Usage
//
//	session := protocol.NewSession(transport)
//	fl := flasher.New(session, flasher.WithLogger(log))
//
//	if err := fl.Open(ctx); err != nil {
//	    return err
//	}
//
//	plan := flasher.BuildPlan([]flasher.Source{
//	    {Partition: "BL", Path: "fw.tar.md5", Member: "sboot.bin"},
//	    {Partition: "AP", Path: "fw.tar.md5", Member: "boot.img"},
//	}, flasher.Options{VerifyIntegrity: true, AutoReboot: true})
//
//	result, err := fl.Execute(ctx, plan)
//
// The JobResult reports every partition as completed, failed, cancelled
// or not attempted; partial success is first-class, never collapsed into
// one boolean.
//
// # Cancellation
//
// Cancel the context passed to Execute. Cancellation is observed between
// frames: the engine aborts the in-progress transfer on the device and
// reports a Cancelled outcome with the last-acknowledged byte counts
// intact.
package flasher
