package flasher_test

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Llucs/ZodinLinux/firmware"
	"github.com/Llucs/ZodinLinux/flasher"
	"github.com/Llucs/ZodinLinux/pit"
	"github.com/Llucs/ZodinLinux/protocol"
)

// fakeDevice is an in-memory download-mode device behind the Transport
// interface. It parses request frames, keeps per-partition flash state,
// and commits received data only on an accepted end-of-transfer
// checksum, like the real firmware does.
type fakeDevice struct {
	t *testing.T

	maxFrame uint32
	pitData  []byte

	// scripted behavior
	failHandshakes int               // refuse the first n handshakes
	rejectBegin    map[uint32]uint32 // partition id -> begin-flash status
	nakFrames      map[uint32]int    // partition id -> refuse the first n data frames
	rejectEnd      map[uint32]bool   // partition id -> refuse the final checksum
	dumps          map[uint32][]byte
	bootloader     []byte
	dumpChunk      int

	// observed state
	pending    []byte
	flashed    map[uint32][]byte
	beginOrder []uint32
	rebooted   bool

	cur struct {
		active bool
		id     uint32
		total  uint64
		buf    []byte
	}
	dump struct {
		active    bool
		remaining []byte
	}
}

func newDevice(t *testing.T) *fakeDevice {
	return &fakeDevice{
		t:           t,
		maxFrame:    64,
		pitData:     pit.Encode(testTable()),
		rejectBegin: make(map[uint32]uint32),
		nakFrames:   make(map[uint32]int),
		rejectEnd:   make(map[uint32]bool),
		dumps:       make(map[uint32][]byte),
		dumpChunk:   32,
		flashed:     make(map[uint32][]byte),
	}
}

func testTable() *pit.Table {
	big := uint32(1 << 20)
	return &pit.Table{Entries: []*pit.Entry{
		{Identifier: 1, PartitionName: "BL", FlashFilename: "sboot.bin", BlockSize: 1, BlockCount: big},
		{Identifier: 2, PartitionName: "CP", FlashFilename: "modem.bin", BlockSize: 1, BlockCount: big},
		{Identifier: 3, PartitionName: "AP", FlashFilename: "boot.img", BlockSize: 1, BlockCount: big},
		{Identifier: 4, PartitionName: "CSC", FlashFilename: "csc.img", BlockSize: 1, BlockCount: big},
		{Identifier: 5, PartitionName: "TINY", FlashFilename: "tiny.img", BlockSize: 4, BlockCount: 4},
		{Identifier: 6, PartitionName: "EFS", FlashFilename: "efs.img", BlockSize: 16, BlockCount: 4},
	}}
}

func (d *fakeDevice) Write(p []byte, _ time.Duration) (int, error) {
	d.t.Helper()
	require.GreaterOrEqual(d.t, len(p), protocol.HeaderSize)

	req, length, err := protocol.DecodeHeader(p[:protocol.HeaderSize])
	require.NoError(d.t, err)
	require.Len(d.t, p, protocol.HeaderSize+length)
	payload := p[protocol.HeaderSize:]

	switch req.Type {
	case protocol.PacketHandshake:
		if d.failHandshakes > 0 {
			d.failHandshakes--
			d.respondHandshake(req, protocol.StatusBusy)
		} else {
			d.respondHandshake(req, protocol.StatusAccepted)
		}

	case protocol.PacketPitFile:
		d.respond(req, d.pitData)

	case protocol.PacketFlashSetTotal:
		id := binary.LittleEndian.Uint32(payload[0:4])
		if status, ok := d.rejectBegin[id]; ok {
			d.respondStatus(req, status)
			break
		}
		d.cur.active = true
		d.cur.id = id
		d.cur.total = binary.LittleEndian.Uint64(payload[4:12])
		d.cur.buf = nil
		d.beginOrder = append(d.beginOrder, id)
		d.respondStatus(req, protocol.StatusAccepted)

	case protocol.PacketFlashData:
		require.True(d.t, d.cur.active, "data frame outside a transfer")
		require.LessOrEqual(d.t, uint32(len(payload)), d.maxFrame)
		if d.nakFrames[d.cur.id] > 0 {
			// The refused frame is discarded; a resend starts over.
			d.nakFrames[d.cur.id]--
			d.respondStatus(req, protocol.StatusWriteFailure)
			break
		}
		d.cur.buf = append(d.cur.buf, payload...)
		d.respondStatus(req, protocol.StatusAccepted)

	case protocol.PacketFlashEnd:
		require.True(d.t, d.cur.active, "end flash outside a transfer")
		checksum := binary.LittleEndian.Uint32(payload[0:4])
		flags := binary.LittleEndian.Uint32(payload[4:8])
		d.cur.active = false

		if flags&protocol.FlagAbort != 0 {
			d.respondStatus(req, protocol.StatusAccepted)
			break
		}
		if d.rejectEnd[d.cur.id] || checksum != crc32.ChecksumIEEE(d.cur.buf) {
			d.respondStatus(req, protocol.StatusChecksumMismatch)
			break
		}
		d.flashed[d.cur.id] = d.cur.buf
		d.respondStatus(req, protocol.StatusAccepted)

	case protocol.PacketDumpPartition:
		if len(payload) > 0 {
			id := binary.LittleEndian.Uint32(payload[0:4])
			d.dump.active = true
			d.dump.remaining = d.dumps[id]
			d.respondStatus(req, protocol.StatusAccepted)
			break
		}
		require.True(d.t, d.dump.active, "dump frame outside a dump")
		chunk := d.dump.remaining
		if len(chunk) > d.dumpChunk {
			chunk = chunk[:d.dumpChunk]
		}
		d.dump.remaining = d.dump.remaining[len(chunk):]
		if len(chunk) == 0 {
			d.dump.active = false
		}
		d.respond(req, chunk)

	case protocol.PacketDumpBootloader:
		d.dump.active = true
		d.dump.remaining = d.bootloader
		d.respondStatus(req, protocol.StatusAccepted)

	case protocol.PacketEndSession:
		flags := binary.LittleEndian.Uint32(payload[0:4])
		d.rebooted = flags&protocol.FlagReboot != 0
		d.respondStatus(req, protocol.StatusAccepted)

	default:
		d.respondStatus(req, protocol.StatusAccepted)
	}

	return len(p), nil
}

func (d *fakeDevice) Read(p []byte, _ time.Duration) (int, error) {
	if len(d.pending) == 0 {
		return 0, protocol.ErrTimeout
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *fakeDevice) Reset() error {
	d.pending = nil
	return nil
}

func (d *fakeDevice) respond(req *protocol.Packet, payload []byte) {
	resp := &protocol.Packet{Type: req.Type, Seq: req.Seq, Payload: payload}
	d.pending = append(d.pending, resp.Encode()...)
}

func (d *fakeDevice) respondStatus(req *protocol.Packet, status uint32) {
	payload := make([]byte, protocol.AckPayloadSize)
	binary.LittleEndian.PutUint32(payload, status)
	d.respond(req, payload)
}

func (d *fakeDevice) respondHandshake(req *protocol.Packet, status uint32) {
	payload := make([]byte, protocol.HandshakePayloadSize)
	binary.LittleEndian.PutUint32(payload[0:4], status)
	binary.LittleEndian.PutUint32(payload[4:8], 2)
	binary.LittleEndian.PutUint32(payload[8:12], d.maxFrame)
	d.respond(req, payload)
}

func openFlasher(t *testing.T, dev *fakeDevice, opts ...flasher.Option) *flasher.Flasher {
	t.Helper()
	f := flasher.New(protocol.NewSession(dev), opts...)
	require.NoError(t, f.Open(context.Background()))
	return f
}

// pattern generates deterministic image data.
func pattern(n int, seed byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = seed + byte(i)
	}
	return data
}

func writeImage(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

type memSink struct {
	bytes.Buffer
	closed bool
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func TestExecuteFlashesInClassOrder(t *testing.T) {
	dir := t.TempDir()
	bl := pattern(32, 0x10)
	ap := pattern(150, 0x20)
	csc := pattern(48, 0x30)

	// Sources arrive unordered; the plan flashes bootloader first.
	plan := flasher.BuildPlan([]flasher.Source{
		{Partition: "CSC", Path: writeImage(t, dir, "csc.img", csc)},
		{Partition: "AP", Path: writeImage(t, dir, "boot.img", ap)},
		{Partition: "BL", Path: writeImage(t, dir, "sboot.bin", bl)},
	}, flasher.Options{})

	dev := newDevice(t)
	f := openFlasher(t, dev)

	result, err := f.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, flasher.JobCompleted, result.Status)
	assert.True(t, result.Completed())
	require.Len(t, result.Partitions, 3)
	for _, pr := range result.Partitions {
		assert.Equal(t, flasher.OutcomeCompleted, pr.Outcome, pr.Partition)
		assert.Equal(t, pr.BytesTotal, pr.BytesAcked, pr.Partition)
	}

	assert.Equal(t, []uint32{1, 3, 4}, dev.beginOrder)
	assert.Equal(t, bl, dev.flashed[1])
	assert.Equal(t, ap, dev.flashed[3])
	assert.Equal(t, csc, dev.flashed[4])
	assert.False(t, dev.rebooted)
}

func TestExecuteAutoReboot(t *testing.T) {
	dir := t.TempDir()
	plan := flasher.BuildPlan([]flasher.Source{
		{Partition: "AP", Path: writeImage(t, dir, "boot.img", pattern(96, 0x01))},
	}, flasher.Options{AutoReboot: true})

	dev := newDevice(t)
	f := openFlasher(t, dev)

	result, err := f.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, flasher.JobCompleted, result.Status)
	assert.True(t, dev.rebooted)
}

func TestExecuteRejectedPartitionContinues(t *testing.T) {
	dir := t.TempDir()
	bl := pattern(32, 0x10)
	csc := pattern(32, 0x30)
	plan := flasher.BuildPlan([]flasher.Source{
		{Partition: "BL", Path: writeImage(t, dir, "sboot.bin", bl)},
		{Partition: "AP", Path: writeImage(t, dir, "boot.img", pattern(96, 0x20))},
		{Partition: "CSC", Path: writeImage(t, dir, "csc.img", csc)},
	}, flasher.Options{})

	dev := newDevice(t)
	dev.rejectBegin[3] = protocol.StatusUnknownPartition
	f := openFlasher(t, dev)

	result, err := f.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, flasher.JobFailed, result.Status)
	assert.Equal(t, flasher.OutcomeCompleted, result.Partitions[0].Outcome)
	assert.Equal(t, flasher.OutcomeFailed, result.Partitions[1].Outcome)
	assert.Equal(t, flasher.OutcomeCompleted, result.Partitions[2].Outcome)

	var rejected *flasher.TransferRejectedError
	require.ErrorAs(t, result.Partitions[1].Err, &rejected)
	assert.Equal(t, "AP", rejected.Partition)

	// A rejection never mutates the partition, but the plan goes on.
	assert.Equal(t, bl, dev.flashed[1])
	assert.Equal(t, csc, dev.flashed[4])
	assert.NotContains(t, dev.flashed, uint32(3))
}

func TestExecuteTransferFailureAbortsPlan(t *testing.T) {
	dir := t.TempDir()
	plan := flasher.BuildPlan([]flasher.Source{
		{Partition: "BL", Path: writeImage(t, dir, "sboot.bin", pattern(32, 0x10))},
		{Partition: "AP", Path: writeImage(t, dir, "boot.img", pattern(96, 0x20))},
		{Partition: "CSC", Path: writeImage(t, dir, "csc.img", pattern(32, 0x30))},
	}, flasher.Options{})

	dev := newDevice(t)
	dev.nakFrames[3] = 100 // more refusals than any retry budget
	f := openFlasher(t, dev, flasher.WithFrameRetries(1))

	result, err := f.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, flasher.JobFailed, result.Status)
	assert.Equal(t, flasher.OutcomeCompleted, result.Partitions[0].Outcome)
	assert.Equal(t, flasher.OutcomeFailed, result.Partitions[1].Outcome)
	assert.Equal(t, flasher.OutcomeNotAttempted, result.Partitions[2].Outcome)

	var failed *flasher.TransferFailedError
	require.ErrorAs(t, result.Err, &failed)
	assert.Equal(t, 0, failed.Frame)
	assert.Equal(t, 2, failed.Attempts)

	// The aborted transfer was never committed.
	assert.NotContains(t, dev.flashed, uint32(3))
}

func TestExecuteFrameRetryIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	ap := pattern(150, 0x42)
	plan := flasher.BuildPlan([]flasher.Source{
		{Partition: "AP", Path: writeImage(t, dir, "boot.img", ap)},
	}, flasher.Options{})

	dev := newDevice(t)
	dev.nakFrames[3] = 2 // within the default retry budget
	f := openFlasher(t, dev)

	result, err := f.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, flasher.JobCompleted, result.Status)
	assert.Equal(t, uint64(len(ap)), result.Partitions[0].BytesAcked)

	// Retried frames must not duplicate data on the device.
	assert.Equal(t, ap, dev.flashed[3])
}

func TestExecuteChecksumRejectionAborts(t *testing.T) {
	dir := t.TempDir()
	plan := flasher.BuildPlan([]flasher.Source{
		{Partition: "AP", Path: writeImage(t, dir, "boot.img", pattern(96, 0x20))},
		{Partition: "CSC", Path: writeImage(t, dir, "csc.img", pattern(32, 0x30))},
	}, flasher.Options{})

	dev := newDevice(t)
	dev.rejectEnd[3] = true
	f := openFlasher(t, dev)

	result, err := f.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, flasher.JobFailed, result.Status)
	assert.Equal(t, flasher.OutcomeFailed, result.Partitions[0].Outcome)
	assert.Equal(t, flasher.OutcomeNotAttempted, result.Partitions[1].Outcome)

	var verr *flasher.VerificationFailedError
	require.ErrorAs(t, result.Err, &verr)
	assert.Equal(t, "AP", verr.Partition)
}

func TestExecuteUnknownPartitionRejected(t *testing.T) {
	dir := t.TempDir()
	csc := pattern(32, 0x30)
	plan := flasher.BuildPlan([]flasher.Source{
		{Partition: "NOPE", Path: writeImage(t, dir, "nope.img", pattern(16, 0x01))},
		{Partition: "CSC", Path: writeImage(t, dir, "csc.img", csc)},
	}, flasher.Options{})

	dev := newDevice(t)
	f := openFlasher(t, dev)

	result, err := f.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, flasher.JobFailed, result.Status)
	var rejected *flasher.TransferRejectedError
	require.ErrorAs(t, result.Partitions[0].Err, &rejected)
	assert.Contains(t, rejected.Reason, "not present")

	assert.Equal(t, flasher.OutcomeCompleted, result.Partitions[1].Outcome)
	assert.Equal(t, csc, dev.flashed[4])
}

func TestExecuteCapacityRejected(t *testing.T) {
	dir := t.TempDir()
	plan := flasher.BuildPlan([]flasher.Source{
		{Partition: "TINY", Path: writeImage(t, dir, "tiny.img", pattern(32, 0x01))},
	}, flasher.Options{})

	dev := newDevice(t)
	f := openFlasher(t, dev)

	result, err := f.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, flasher.JobFailed, result.Status)
	var rejected *flasher.TransferRejectedError
	require.ErrorAs(t, result.Partitions[0].Err, &rejected)
	assert.Contains(t, rejected.Reason, "capacity")

	// Rejected locally: the device never saw a begin-flash.
	assert.Empty(t, dev.beginOrder)
}

func TestExecuteIntegrityFailureBeforeAnyWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFirmwareTar(t, dir, "firmware.tar", map[string][]byte{
		"boot.img": pattern(96, 0x20),
	})
	require.NoError(t, os.WriteFile(path+".md5",
		[]byte(hex.EncodeToString(make([]byte, md5.Size))+"  firmware.tar\n"), 0o644))

	plan := flasher.BuildPlan([]flasher.Source{
		{Partition: "AP", Path: path, Member: "boot.img"},
	}, flasher.Options{VerifyIntegrity: true})

	dev := newDevice(t)
	f := openFlasher(t, dev)

	result, err := f.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, flasher.JobFailed, result.Status)
	assert.ErrorIs(t, result.Err, firmware.ErrIntegrityCheckFailed)
	assert.Equal(t, flasher.OutcomeNotAttempted, result.Partitions[0].Outcome)
	assert.Empty(t, dev.beginOrder)
}

func TestExecuteArchiveMember(t *testing.T) {
	dir := t.TempDir()
	ap := pattern(150, 0x55)
	path := writeFirmwareTar(t, dir, "firmware.tar", map[string][]byte{
		"boot.img": ap,
	})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	digest := md5.Sum(raw)
	require.NoError(t, os.WriteFile(path+".md5",
		[]byte(hex.EncodeToString(digest[:])+"  firmware.tar\n"), 0o644))

	plan := flasher.BuildPlan([]flasher.Source{
		{Partition: "AP", Path: path, Member: "boot.img"},
	}, flasher.Options{VerifyIntegrity: true})

	dev := newDevice(t)
	f := openFlasher(t, dev)

	result, err := f.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, flasher.JobCompleted, result.Status)
	assert.Equal(t, ap, dev.flashed[3])
}

func TestExecuteCancellationPreservesProgress(t *testing.T) {
	dir := t.TempDir()
	bl := pattern(32, 0x10)
	plan := flasher.BuildPlan([]flasher.Source{
		{Partition: "BL", Path: writeImage(t, dir, "sboot.bin", bl)},
		{Partition: "AP", Path: writeImage(t, dir, "boot.img", pattern(256, 0x20))},
		{Partition: "CSC", Path: writeImage(t, dir, "csc.img", pattern(32, 0x30))},
	}, flasher.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev := newDevice(t)
	f := openFlasher(t, dev, flasher.WithProgress(func(p flasher.Progress) {
		if p.Phase == flasher.PhaseFlashing && p.Partition == "AP" && p.BytesDone >= 64 {
			cancel()
		}
	}))

	result, err := f.Execute(ctx, plan)
	require.NoError(t, err)

	assert.Equal(t, flasher.JobCancelled, result.Status)
	assert.ErrorIs(t, result.Err, context.Canceled)

	assert.Equal(t, flasher.OutcomeCompleted, result.Partitions[0].Outcome)
	assert.Equal(t, bl, dev.flashed[1])

	ap := result.Partitions[1]
	assert.Equal(t, flasher.OutcomeCancelled, ap.Outcome)
	assert.Equal(t, uint64(64), ap.BytesAcked)
	assert.Equal(t, uint64(256), ap.BytesTotal)

	assert.Equal(t, flasher.OutcomeNotAttempted, result.Partitions[2].Outcome)

	// The in-flight transfer was aborted, never committed.
	assert.NotContains(t, dev.flashed, uint32(3))
	assert.False(t, dev.cur.active)
}

func TestExecuteBackupBeforeFlash(t *testing.T) {
	dir := t.TempDir()
	efs := pattern(64, 0x60)
	current := pattern(64, 0x99)

	sinks := make(map[string]*memSink)
	plan := flasher.BuildPlan([]flasher.Source{
		{Partition: "EFS", Path: writeImage(t, dir, "efs.img", efs)},
	}, flasher.Options{
		BackupBeforeFlash: true,
		BackupSink: func(partition string) (io.WriteCloser, error) {
			sink := &memSink{}
			sinks[partition] = sink
			return sink, nil
		},
	})

	dev := newDevice(t)
	dev.dumps[6] = current
	f := openFlasher(t, dev)

	result, err := f.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, flasher.JobCompleted, result.Status)

	require.Contains(t, sinks, "EFS")
	assert.Equal(t, current, sinks["EFS"].Buffer.Bytes())
	assert.True(t, sinks["EFS"].closed)
	assert.Equal(t, efs, dev.flashed[6])
}

func TestExecuteBackupFailureAbortsBeforeMutation(t *testing.T) {
	dir := t.TempDir()
	plan := flasher.BuildPlan([]flasher.Source{
		{Partition: "EFS", Path: writeImage(t, dir, "efs.img", pattern(64, 0x60))},
	}, flasher.Options{
		BackupBeforeFlash: true,
		BackupSink: func(string) (io.WriteCloser, error) {
			return nil, errors.New("disk full")
		},
	})

	dev := newDevice(t)
	f := openFlasher(t, dev)

	result, err := f.Execute(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, flasher.JobFailed, result.Status)
	assert.Contains(t, result.Err.Error(), "disk full")
	assert.Equal(t, flasher.OutcomeNotAttempted, result.Partitions[0].Outcome)
	assert.Empty(t, dev.beginOrder)
}

func TestBackup(t *testing.T) {
	current := pattern(64, 0x77)
	dev := newDevice(t)
	dev.dumps[6] = current
	f := openFlasher(t, dev)

	var buf bytes.Buffer
	n, err := f.Backup(context.Background(), "EFS", &buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(64), n)
	assert.Equal(t, current, buf.Bytes())
}

func TestBackupSizeMismatch(t *testing.T) {
	dev := newDevice(t)
	dev.dumps[6] = pattern(32, 0x77) // PIT declares 64
	f := openFlasher(t, dev)

	var buf bytes.Buffer
	n, err := f.Backup(context.Background(), "EFS", &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PIT declares")
	assert.Equal(t, uint64(32), n)
}

func TestBackupBootloader(t *testing.T) {
	region := pattern(80, 0x11)
	dev := newDevice(t)
	dev.bootloader = region
	f := openFlasher(t, dev)

	var buf bytes.Buffer
	n, err := f.BackupBootloader(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(80), n)
	assert.Equal(t, region, buf.Bytes())

	// The session is reusable after the dump.
	var out bytes.Buffer
	dev.dumps[6] = pattern(64, 0x22)
	_, err = f.Backup(context.Background(), "EFS", &out)
	require.NoError(t, err)
}

func TestBackupUnknownPartition(t *testing.T) {
	dev := newDevice(t)
	f := openFlasher(t, dev)

	var buf bytes.Buffer
	_, err := f.Backup(context.Background(), "NOPE", &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not present")
}

func TestOpenRetriesHandshake(t *testing.T) {
	dev := newDevice(t)
	dev.failHandshakes = 2

	f := flasher.New(protocol.NewSession(dev), flasher.WithHandshakeRetries(2))
	require.NoError(t, f.Open(context.Background()))
}

func TestOpenExhaustsRetries(t *testing.T) {
	dev := newDevice(t)
	dev.failHandshakes = 10

	f := flasher.New(protocol.NewSession(dev), flasher.WithHandshakeRetries(1))
	err := f.Open(context.Background())

	var hsErr *protocol.HandshakeFailedError
	require.ErrorAs(t, err, &hsErr)
}

func TestExecuteEmptyPlan(t *testing.T) {
	dev := newDevice(t)
	f := openFlasher(t, dev)

	_, err := f.Execute(context.Background(), nil)
	require.Error(t, err)

	_, err = f.Execute(context.Background(), &flasher.Plan{})
	require.Error(t, err)
}

func TestBuildPlanOrdering(t *testing.T) {
	plan := flasher.BuildPlan([]flasher.Source{
		{Partition: "CSC"},
		{Partition: "HOME_CSC"},
		{Partition: "AP"},
		{Partition: "CP"},
		{Partition: "BL"},
	}, flasher.Options{})

	got := make([]string, len(plan.Items))
	for i, item := range plan.Items {
		got[i] = item.Partition
	}

	// Bootloader, modem, system, then the rest in caller order.
	assert.Equal(t, []string{"BL", "CP", "AP", "CSC", "HOME_CSC"}, got)
}

func writeFirmwareTar(t *testing.T, dir, name string, members map[string][]byte) string {
	t.Helper()

	// Stable member order keeps the archive bytes deterministic.
	names := make([]string, 0, len(members))
	for n := range members {
		names = append(names, n)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, n := range names {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: n, Mode: 0o644, Size: int64(len(members[n]))}))
		_, err := tw.Write(members[n])
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}
