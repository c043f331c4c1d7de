// Package pit encodes and decodes the Partition Information Table, the
// on-device binary table mapping partition names to flash slots.
//
// Decoding is a pure function of the byte buffer: no I/O, no shared
// state. Encoding a decoded table reproduces the original bytes exactly,
// including reserved header bytes and any slack after the name field
// terminators.
package pit

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Binary layout constants.
const (
	// Magic identifies a PIT buffer
	Magic = 0x12349876

	// HeaderSize is the fixed header length: MAGIC(4) + COUNT(4) +
	// RESERVED(20)
	HeaderSize = 28

	// EntrySize is the fixed per-entry record length
	EntrySize = 132

	// NameFieldSize is the width of each null-terminated name slot
	NameFieldSize = 32

	headerReservedSize = 20
	entryWordCount     = 9
)

// Entry is one partition record.
type Entry struct {
	// Identifier is the device-assigned partition identifier
	Identifier uint32

	// BinaryType distinguishes AP and modem binaries
	BinaryType uint32

	// DeviceType is the target storage device
	DeviceType uint32

	// Attributes holds the partition attribute flags
	Attributes uint32

	// UpdateAttributes holds the FOTA update flags
	UpdateAttributes uint32

	// BlockSize is the flash block size or offset unit
	BlockSize uint32

	// BlockCount is the partition length in blocks
	BlockCount uint32

	// FileOffset is the byte offset within the source file
	FileOffset uint32

	// FileSize is the partition size in bytes
	FileSize uint32

	// PartitionName is the partition's name, unique within a table
	PartitionName string

	// FlashFilename is the firmware file flashed into this partition
	FlashFilename string

	// FotaFilename is the delta-update filename, often empty
	FotaFilename string

	// raw name slots, preserved for byte-identical re-encoding
	rawPartitionName [NameFieldSize]byte
	rawFlashFilename [NameFieldSize]byte
	rawFotaFilename  [NameFieldSize]byte
	rawValid         bool
}

// Table is a decoded Partition Information Table.
type Table struct {
	// Entries in on-device order
	Entries []*Entry

	reserved [headerReservedSize]byte
}

// Decode parses a PIT buffer. It validates the magic, that the declared
// entry count matches the bytes actually present, and that every entry
// carries a non-empty, null-terminated, table-unique partition name.
func Decode(data []byte) (*Table, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("buffer too short for header: got %d bytes, need %d", len(data), HeaderSize)
	}

	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != Magic {
		return nil, fmt.Errorf("bad magic: got 0x%08X, want 0x%08X", magic, Magic)
	}

	count := binary.LittleEndian.Uint32(data[4:8])
	expected := HeaderSize + int(count)*EntrySize
	if len(data) != expected {
		return nil, fmt.Errorf("entry count mismatch: header declares %d entries (%d bytes), buffer has %d bytes",
			count, expected, len(data))
	}

	table := &Table{Entries: make([]*Entry, 0, count)}
	copy(table.reserved[:], data[8:HeaderSize])

	names := make(map[string]struct{}, count)
	for i := 0; i < int(count); i++ {
		offset := HeaderSize + i*EntrySize
		entry, err := decodeEntry(data[offset : offset+EntrySize])
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}

		if _, dup := names[entry.PartitionName]; dup {
			return nil, fmt.Errorf("entry %d: duplicate partition name %q", i, entry.PartitionName)
		}
		names[entry.PartitionName] = struct{}{}

		table.Entries = append(table.Entries, entry)
	}

	return table, nil
}

// Encode serializes a table back into the on-device binary form. For a
// table produced by Decode the output is byte-identical to the input.
func Encode(table *Table) []byte {
	data := make([]byte, HeaderSize+len(table.Entries)*EntrySize)
	binary.LittleEndian.PutUint32(data[0:4], Magic)
	binary.LittleEndian.PutUint32(data[4:8], uint32(len(table.Entries)))
	copy(data[8:HeaderSize], table.reserved[:])

	for i, entry := range table.Entries {
		offset := HeaderSize + i*EntrySize
		encodeEntry(data[offset:offset+EntrySize], entry)
	}
	return data
}

// FindByName returns the entry with the given partition name, or nil.
func (t *Table) FindByName(name string) *Entry {
	for _, entry := range t.Entries {
		if entry.PartitionName == name {
			return entry
		}
	}
	return nil
}

// FindByID returns the entry with the given identifier, or nil.
func (t *Table) FindByID(id uint32) *Entry {
	for _, entry := range t.Entries {
		if entry.Identifier == id {
			return entry
		}
	}
	return nil
}

func decodeEntry(rec []byte) (*Entry, error) {
	entry := &Entry{
		Identifier:       binary.LittleEndian.Uint32(rec[0:4]),
		BinaryType:       binary.LittleEndian.Uint32(rec[4:8]),
		DeviceType:       binary.LittleEndian.Uint32(rec[8:12]),
		Attributes:       binary.LittleEndian.Uint32(rec[12:16]),
		UpdateAttributes: binary.LittleEndian.Uint32(rec[16:20]),
		BlockSize:        binary.LittleEndian.Uint32(rec[20:24]),
		BlockCount:       binary.LittleEndian.Uint32(rec[24:28]),
		FileOffset:       binary.LittleEndian.Uint32(rec[28:32]),
		FileSize:         binary.LittleEndian.Uint32(rec[32:36]),
		rawValid:         true,
	}

	nameBase := entryWordCount * 4
	copy(entry.rawPartitionName[:], rec[nameBase:nameBase+NameFieldSize])
	copy(entry.rawFlashFilename[:], rec[nameBase+NameFieldSize:nameBase+2*NameFieldSize])
	copy(entry.rawFotaFilename[:], rec[nameBase+2*NameFieldSize:nameBase+3*NameFieldSize])

	var err error
	entry.PartitionName, err = decodeName(entry.rawPartitionName[:], "partition name")
	if err != nil {
		return nil, err
	}
	if entry.PartitionName == "" {
		return nil, fmt.Errorf("partition name is empty")
	}

	entry.FlashFilename, err = decodeName(entry.rawFlashFilename[:], "flash filename")
	if err != nil {
		return nil, err
	}
	entry.FotaFilename, err = decodeName(entry.rawFotaFilename[:], "fota filename")
	if err != nil {
		return nil, err
	}

	return entry, nil
}

func encodeEntry(rec []byte, entry *Entry) {
	binary.LittleEndian.PutUint32(rec[0:4], entry.Identifier)
	binary.LittleEndian.PutUint32(rec[4:8], entry.BinaryType)
	binary.LittleEndian.PutUint32(rec[8:12], entry.DeviceType)
	binary.LittleEndian.PutUint32(rec[12:16], entry.Attributes)
	binary.LittleEndian.PutUint32(rec[16:20], entry.UpdateAttributes)
	binary.LittleEndian.PutUint32(rec[20:24], entry.BlockSize)
	binary.LittleEndian.PutUint32(rec[24:28], entry.BlockCount)
	binary.LittleEndian.PutUint32(rec[28:32], entry.FileOffset)
	binary.LittleEndian.PutUint32(rec[32:36], entry.FileSize)

	nameBase := entryWordCount * 4
	if entry.rawValid {
		copy(rec[nameBase:], entry.rawPartitionName[:])
		copy(rec[nameBase+NameFieldSize:], entry.rawFlashFilename[:])
		copy(rec[nameBase+2*NameFieldSize:], entry.rawFotaFilename[:])
		return
	}

	// Hand-built entry: zero-padded name slots.
	copy(rec[nameBase:nameBase+NameFieldSize-1], entry.PartitionName)
	copy(rec[nameBase+NameFieldSize:nameBase+2*NameFieldSize-1], entry.FlashFilename)
	copy(rec[nameBase+2*NameFieldSize:nameBase+3*NameFieldSize-1], entry.FotaFilename)
}

// decodeName extracts a null-terminated string from a fixed-width slot.
// Bytes after the terminator are ignored; a slot with no terminator is
// corrupt.
func decodeName(slot []byte, field string) (string, error) {
	idx := bytes.IndexByte(slot, 0)
	if idx < 0 {
		return "", fmt.Errorf("%s is not null-terminated within its %d-byte slot", field, len(slot))
	}
	return string(slot[:idx]), nil
}
