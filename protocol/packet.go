package protocol

import (
	"encoding/binary"
	"fmt"
)

// Packet is one framed unit of the download-mode conversation. Requests
// and responses share the layout; a response echoes the request's type
// and sequence number.
//
// Wire format (little-endian):
//
//	[TYPE(4)][SEQ(4)][LEN(4)][PAYLOAD(LEN)]
type Packet struct {
	// Type is one of the Packet* codes
	Type uint32

	// Seq is the request sequence number; responses echo it
	Seq uint32

	// Payload is the type-specific body, possibly empty
	Payload []byte
}

// Encode serializes the packet into a wire frame.
func (p *Packet) Encode() []byte {
	frame := make([]byte, HeaderSize+len(p.Payload))
	binary.LittleEndian.PutUint32(frame[0:4], p.Type)
	binary.LittleEndian.PutUint32(frame[4:8], p.Seq)
	binary.LittleEndian.PutUint32(frame[8:12], uint32(len(p.Payload)))
	copy(frame[HeaderSize:], p.Payload)
	return frame
}

// DecodeHeader parses a packet header and returns the declared payload
// length. The header must be exactly HeaderSize bytes.
func DecodeHeader(header []byte) (*Packet, int, error) {
	if len(header) != HeaderSize {
		return nil, 0, fmt.Errorf("header must be %d bytes, got %d", HeaderSize, len(header))
	}

	p := &Packet{
		Type: binary.LittleEndian.Uint32(header[0:4]),
		Seq:  binary.LittleEndian.Uint32(header[4:8]),
	}

	length := binary.LittleEndian.Uint32(header[8:12])
	if length > MaxPayloadSize {
		return nil, 0, fmt.Errorf("declared payload length %d exceeds maximum %d", length, MaxPayloadSize)
	}

	return p, int(length), nil
}

// AckStatus extracts the status word from an acknowledgment payload.
func AckStatus(payload []byte) (uint32, error) {
	if len(payload) < AckPayloadSize {
		return 0, fmt.Errorf("ack payload too short: got %d bytes, need %d", len(payload), AckPayloadSize)
	}
	return binary.LittleEndian.Uint32(payload[:4]), nil
}

// EncodeFlashSetTotal builds the begin-flash request payload.
func EncodeFlashSetTotal(partitionID uint32, totalSize uint64) []byte {
	payload := make([]byte, FlashSetTotalPayloadSize)
	binary.LittleEndian.PutUint32(payload[0:4], partitionID)
	binary.LittleEndian.PutUint64(payload[4:12], totalSize)
	return payload
}

// EncodeFlashEnd builds the end-flash request payload.
func EncodeFlashEnd(checksum uint32, flags uint32) []byte {
	payload := make([]byte, FlashEndPayloadSize)
	binary.LittleEndian.PutUint32(payload[0:4], checksum)
	binary.LittleEndian.PutUint32(payload[4:8], flags)
	return payload
}

// EncodePartitionID builds a payload carrying just a partition identifier.
func EncodePartitionID(partitionID uint32) []byte {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, partitionID)
	return payload
}

// EncodeSessionEnd builds the end-session request payload.
func EncodeSessionEnd(flags uint32) []byte {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, flags)
	return payload
}

// HandshakeAck is the parsed handshake acknowledgment.
type HandshakeAck struct {
	Status       uint32
	Version      uint32
	MaxFrameSize uint32
}

// ParseHandshakeAck parses the handshake acknowledgment payload.
func ParseHandshakeAck(payload []byte) (*HandshakeAck, error) {
	if len(payload) != HandshakePayloadSize {
		return nil, fmt.Errorf("handshake ack must be %d bytes, got %d", HandshakePayloadSize, len(payload))
	}
	return &HandshakeAck{
		Status:       binary.LittleEndian.Uint32(payload[0:4]),
		Version:      binary.LittleEndian.Uint32(payload[4:8]),
		MaxFrameSize: binary.LittleEndian.Uint32(payload[8:12]),
	}, nil
}

// DeviceInfo is the parsed device info response.
type DeviceInfo struct {
	DeviceType        uint32
	BootloaderVersion uint32
}

// ParseDeviceInfo parses the device info response payload.
func ParseDeviceInfo(payload []byte) (*DeviceInfo, error) {
	if len(payload) != DeviceInfoPayloadSize {
		return nil, fmt.Errorf("device info response must be %d bytes, got %d", DeviceInfoPayloadSize, len(payload))
	}
	status := binary.LittleEndian.Uint32(payload[0:4])
	if status != StatusAccepted {
		return nil, &DeviceStatusError{Operation: "device info", Status: status}
	}
	return &DeviceInfo{
		DeviceType:        binary.LittleEndian.Uint32(payload[4:8]),
		BootloaderVersion: binary.LittleEndian.Uint32(payload[8:12]),
	}, nil
}
