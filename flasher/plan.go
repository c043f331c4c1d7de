package flasher

import (
	"io"
	"sort"
	"strings"
)

// Source names one partition to flash and where its image comes from.
type Source struct {
	// Partition is the target partition name, matched against the
	// device PIT
	Partition string

	// Path is the firmware container or raw image file
	Path string

	// Member is the image's name inside an archive container; empty
	// means Path is a raw single-image file
	Member string
}

// Options are the job-level flash options.
type Options struct {
	// VerifyIntegrity verifies every container's detached checksum
	// before any partition is sent
	VerifyIntegrity bool

	// AutoReboot reboots the device after a fully successful job
	AutoReboot bool

	// BackupBeforeFlash dumps the current contents of every targeted
	// partition through BackupSink before the first write
	BackupBeforeFlash bool

	// BackupSink supplies a writer per partition for pre-flash backups.
	// Required when BackupBeforeFlash is set; the core never chooses
	// on-disk locations itself.
	BackupSink func(partition string) (io.WriteCloser, error)

	// FrameSizeHint caps the transfer frame size for this job. Always
	// clamped to the maximum negotiated with the device.
	FrameSizeHint int
}

// Item is one planned partition write.
type Item struct {
	Source
}

// Plan is an ordered flash job, built once and immutable during
// execution.
type Plan struct {
	Items   []Item
	Options Options
}

// Partition classes, flashed in ascending order. Writing the bootloader
// first narrows the window in which a partial failure leaves the device
// unbootable.
const (
	classBootloader = iota
	classModem
	classSystem
	classOther
)

// BuildPlan orders the sources by partition class (bootloader, then
// modem, then system, then everything else), keeping the caller's order
// within each class.
func BuildPlan(sources []Source, opts Options) *Plan {
	items := make([]Item, len(sources))
	for i, src := range sources {
		items[i] = Item{Source: src}
	}

	sort.SliceStable(items, func(a, b int) bool {
		return partitionClass(items[a].Partition) < partitionClass(items[b].Partition)
	})

	return &Plan{Items: items, Options: opts}
}

// partitionClass maps a partition name onto its flash-order class, using
// the Odin slot names (BL/CP/AP/CSC) and the common partition naming of
// Samsung firmware.
func partitionClass(name string) int {
	n := strings.ToUpper(name)
	switch {
	case n == "BL" || strings.Contains(n, "SBOOT") || strings.Contains(n, "BOOTLOADER"):
		return classBootloader
	case n == "CP" || strings.Contains(n, "MODEM") || strings.Contains(n, "RADIO"):
		return classModem
	case n == "AP" || n == "BOOT" || strings.Contains(n, "SYSTEM") ||
		strings.Contains(n, "SUPER") || strings.Contains(n, "RECOVERY"):
		return classSystem
	default:
		return classOther
	}
}
