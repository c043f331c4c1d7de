package protocol

// Packet type codes used by the Samsung download-mode protocol.
// The numeric values match the packet enumeration used by the original
// Zodin flash engine.
const (
	// PacketHandshake opens a session; the device answers with its
	// protocol version and maximum accepted frame size
	PacketHandshake = 0x00

	// PacketFlashSetTotal announces a partition write: target partition
	// identifier plus total byte count
	PacketFlashSetTotal = 0x01

	// PacketFlashData carries one frame of partition data
	PacketFlashData = 0x02

	// PacketDumpPit requests a dump of the raw partition table.
	// Reserved: kept for wire compatibility with older bootloaders; PIT
	// fetches go through PacketPitFile and no session operation issues
	// this code.
	PacketDumpPit = 0x03

	// PacketDumpPartition reads partition contents off the device
	PacketDumpPartition = 0x04

	// PacketEndSession closes the session, optionally rebooting
	PacketEndSession = 0x05

	// PacketDeviceInfo queries device type and bootloader version
	PacketDeviceInfo = 0x06

	// PacketPitFile transfers the full PIT file
	PacketPitFile = 0x07

	// PacketDumpBootloader reads the bootloader partition
	PacketDumpBootloader = 0x08

	// PacketFlashEnd finalizes a partition write, carrying the
	// end-to-end checksum (or an abort flag)
	PacketFlashEnd = 0x09
)

// Status codes carried in the first word of an acknowledgment payload.
const (
	// StatusAccepted indicates the request was accepted
	StatusAccepted = 0x00

	// StatusSizeTooLarge indicates the announced size exceeds the
	// target partition's capacity
	StatusSizeTooLarge = 0x01

	// StatusUnknownPartition indicates the partition identifier does
	// not exist in the device's PIT
	StatusUnknownPartition = 0x02

	// StatusWriteFailure indicates the device failed to commit a frame
	StatusWriteFailure = 0x03

	// StatusChecksumMismatch indicates the end-of-transfer checksum did
	// not match the data the device received
	StatusChecksumMismatch = 0x04

	// StatusBusy indicates the device refused a command mid-operation
	StatusBusy = 0x05
)

// Frame layout constants.
const (
	// HeaderSize is the packet header length in bytes:
	// TYPE(4) + SEQ(4) + LEN(4), all little-endian
	HeaderSize = 12

	// AckPayloadSize is the minimum acknowledgment payload: STATUS(4)
	AckPayloadSize = 4

	// HandshakePayloadSize is the handshake acknowledgment payload:
	// STATUS(4) + VERSION(4) + MAX_FRAME(4)
	HandshakePayloadSize = 12

	// DeviceInfoPayloadSize is the device info response payload:
	// STATUS(4) + DEVICE_TYPE(4) + BOOTLOADER_VERSION(4)
	DeviceInfoPayloadSize = 12

	// FlashSetTotalPayloadSize is the begin-flash request payload:
	// PARTITION_ID(4) + TOTAL_SIZE(8)
	FlashSetTotalPayloadSize = 12

	// FlashEndPayloadSize is the end-flash request payload:
	// CHECKSUM(4) + FLAGS(4)
	FlashEndPayloadSize = 8

	// MaxPayloadSize bounds any single packet payload. Real devices
	// negotiate a smaller ceiling during the handshake.
	MaxPayloadSize = 8 << 20
)

// End-flash flag bits.
const (
	// FlagAbort marks an end-flash packet as an abort rather than a
	// completion; the checksum word is ignored by the device
	FlagAbort = 0x01
)

// End-session flag bits.
const (
	// FlagReboot requests a reboot into the normal OS on session end
	FlagReboot = 0x01
)

// DefaultFrameSize is the transfer frame size used when the device does
// not negotiate a smaller maximum. Matches the 1 MiB chunking of the
// original engine.
const DefaultFrameSize = 1 << 20
