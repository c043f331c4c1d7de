package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is the session connection state.
type State int

const (
	// StateDisconnected means no conversation is open
	StateDisconnected State = iota

	// StateHandshaking means the hello exchange is in flight
	StateHandshaking

	// StateReady means the session accepts a new operation
	StateReady

	// StateBusy means a multi-step operation owns the session
	StateBusy

	// StateClosing means the end-session exchange is in flight
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is one logical conversation with a device in download mode.
// The protocol is strictly request/response: at most one command is in
// flight, every request carries a fresh sequence number, and every
// response must echo it.
//
// A Session is not safe for concurrent use; it is owned by exactly one
// job at a time.
type Session struct {
	transport Transport
	log       zerolog.Logger
	id        uuid.UUID

	state  State
	busyOp string

	seq          uint32
	version      uint32
	maxFrameSize uint32

	readTimeout      time.Duration
	writeTimeout     time.Duration
	handshakeTimeout time.Duration
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the session logger. Defaults to a no-op logger.
func WithSessionLogger(log zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.log = log
	}
}

// WithReadTimeout sets the per-read timeout.
func WithReadTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithWriteTimeout sets the per-write timeout.
func WithWriteTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithHandshakeTimeout bounds the wait for the hello acknowledgment.
func WithHandshakeTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

// NewSession creates a session over the given transport. The session
// starts Disconnected; call Handshake to open it.
func NewSession(transport Transport, opts ...SessionOption) *Session {
	if transport == nil {
		panic("transport cannot be nil")
	}

	s := &Session{
		transport:        transport,
		log:              zerolog.Nop(),
		id:               uuid.New(),
		state:            StateDisconnected,
		readTimeout:      5 * time.Second,
		writeTimeout:     5 * time.Second,
		handshakeTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.log = s.log.With().Stringer("session", s.id).Logger()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// State returns the current connection state.
func (s *Session) State() State { return s.state }

// ProtocolVersion returns the version reported during the handshake.
func (s *Session) ProtocolVersion() uint32 { return s.version }

// MaxFrameSize returns the frame ceiling negotiated with the device.
// Zero until the handshake completes.
func (s *Session) MaxFrameSize() uint32 { return s.maxFrameSize }

// Handshake opens the session: it sends the hello packet and waits for
// the device's acknowledgment within the handshake timeout. On any
// failure the session is left Disconnected and the caller may retry.
func (s *Session) Handshake(ctx context.Context) error {
	if s.state != StateDisconnected {
		return &ProtocolViolationError{Reason: fmt.Sprintf("handshake in state %s", s.state)}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.state = StateHandshaking

	req := &Packet{Type: PacketHandshake, Seq: s.nextSeq()}
	resp, err := s.exchangeOnce(req, s.handshakeTimeout)
	if err != nil {
		s.state = StateDisconnected
		return &HandshakeFailedError{Reason: "no acknowledgment from device", Err: err}
	}

	ack, err := ParseHandshakeAck(resp.Payload)
	if err != nil {
		s.state = StateDisconnected
		return &HandshakeFailedError{Reason: "malformed acknowledgment", Err: err}
	}
	if ack.Status != StatusAccepted {
		s.state = StateDisconnected
		return &HandshakeFailedError{Reason: statusName(ack.Status)}
	}
	if ack.MaxFrameSize == 0 {
		s.state = StateDisconnected
		return &HandshakeFailedError{Reason: "device reported zero maximum frame size"}
	}

	s.version = ack.Version
	s.maxFrameSize = ack.MaxFrameSize
	s.state = StateReady

	s.log.Info().
		Uint32("version", s.version).
		Uint32("max_frame", s.maxFrameSize).
		Msg("session established")

	return nil
}

// RequestPit fetches the raw PIT bytes from the device. The session is
// Busy for the duration of the exchange.
func (s *Session) RequestPit(ctx context.Context) ([]byte, error) {
	if err := s.begin("pit fetch"); err != nil {
		return nil, err
	}
	defer s.end()

	resp, err := s.roundTrip(ctx, PacketPitFile, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Payload) == 0 {
		return nil, &ProtocolViolationError{Reason: "device returned empty PIT"}
	}

	s.log.Debug().Int("bytes", len(resp.Payload)).Msg("PIT received")
	return resp.Payload, nil
}

// DeviceInfo queries the device type and bootloader version.
func (s *Session) DeviceInfo(ctx context.Context) (*DeviceInfo, error) {
	if err := s.begin("device info"); err != nil {
		return nil, err
	}
	defer s.end()

	resp, err := s.roundTrip(ctx, PacketDeviceInfo, nil)
	if err != nil {
		return nil, err
	}
	return ParseDeviceInfo(resp.Payload)
}

// BeginFlash announces a partition write and enters the Busy state. A
// non-accepted status from the device is returned as a DeviceStatusError
// and the session returns to Ready without sending any data.
func (s *Session) BeginFlash(ctx context.Context, partitionID uint32, totalSize uint64) error {
	if err := s.begin("flash"); err != nil {
		return err
	}

	err := s.command(ctx, "begin flash", PacketFlashSetTotal, EncodeFlashSetTotal(partitionID, totalSize))
	if err != nil {
		s.end()
		return err
	}

	s.log.Debug().
		Uint32("partition_id", partitionID).
		Uint64("total", totalSize).
		Msg("flash transfer accepted")
	return nil
}

// SendFlashData sends one data frame of an in-progress flash transfer
// and waits for its acknowledgment. The frame must not exceed the
// negotiated maximum size.
func (s *Session) SendFlashData(ctx context.Context, frame []byte) error {
	if err := s.requireBusy("flash"); err != nil {
		return err
	}
	if uint32(len(frame)) > s.maxFrameSize {
		return &ProtocolViolationError{Reason: fmt.Sprintf(
			"frame of %d bytes exceeds negotiated maximum %d", len(frame), s.maxFrameSize)}
	}

	return s.command(ctx, "send frame", PacketFlashData, frame)
}

// EndFlash finalizes a partition write with the computed checksum, or
// aborts it when abort is set. The session leaves Busy in either case.
func (s *Session) EndFlash(ctx context.Context, checksum uint32, abort bool) error {
	if err := s.requireBusy("flash"); err != nil {
		return err
	}
	defer s.end()

	var flags uint32
	if abort {
		flags |= FlagAbort
	}
	return s.command(ctx, "end flash", PacketFlashEnd, EncodeFlashEnd(checksum, flags))
}

// BeginDump starts reading a partition off the device and enters Busy.
func (s *Session) BeginDump(ctx context.Context, partitionID uint32) error {
	if err := s.begin("dump"); err != nil {
		return err
	}

	err := s.command(ctx, "begin dump", PacketDumpPartition, EncodePartitionID(partitionID))
	if err != nil {
		s.end()
		return err
	}
	return nil
}

// BeginBootloaderDump starts reading the bootloader region off the
// device and enters Busy. Frames are read with ReadDumpFrame; the PIT
// does not declare the region's size, so the dump ends at the device's
// first empty frame.
func (s *Session) BeginBootloaderDump(ctx context.Context) error {
	if err := s.begin("dump"); err != nil {
		return err
	}

	err := s.command(ctx, "begin bootloader dump", PacketDumpBootloader, nil)
	if err != nil {
		s.end()
		return err
	}
	return nil
}

// ReadDumpFrame requests the next frame of an in-progress dump. An empty
// frame marks the end of the partition.
func (s *Session) ReadDumpFrame(ctx context.Context) ([]byte, error) {
	if err := s.requireBusy("dump"); err != nil {
		return nil, err
	}

	resp, err := s.roundTrip(ctx, PacketDumpPartition, nil)
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// EndDump finishes a dump operation and returns the session to Ready.
func (s *Session) EndDump() error {
	if err := s.requireBusy("dump"); err != nil {
		return err
	}
	s.end()
	return nil
}

// EndSession closes the conversation. When reboot is set the device
// restarts into the normal OS; otherwise it stays in download mode.
// The session is Disconnected afterward regardless of outcome.
func (s *Session) EndSession(ctx context.Context, reboot bool) error {
	if s.state != StateReady {
		return &ProtocolViolationError{Reason: fmt.Sprintf("end session in state %s", s.state)}
	}
	s.state = StateClosing

	var flags uint32
	if reboot {
		flags |= FlagReboot
	}

	err := s.command(ctx, "end session", PacketEndSession, EncodeSessionEnd(flags))
	s.state = StateDisconnected
	if err != nil {
		return err
	}

	s.log.Info().Bool("reboot", reboot).Msg("session closed")
	return nil
}

// Close drops the session without the end-session exchange. Used when
// the transport is already gone.
func (s *Session) Close() {
	if s.state != StateDisconnected {
		s.log.Debug().Stringer("state", s.state).Msg("session dropped")
	}
	s.state = StateDisconnected
}

// begin transitions Ready -> Busy for the named operation. Entering Busy
// while an operation is already in progress is a protocol violation.
func (s *Session) begin(op string) error {
	switch s.state {
	case StateBusy:
		return &ProtocolViolationError{Reason: fmt.Sprintf(
			"cannot start %s: session busy with %s", op, s.busyOp)}
	case StateReady:
		s.state = StateBusy
		s.busyOp = op
		return nil
	default:
		return &ProtocolViolationError{Reason: fmt.Sprintf("cannot start %s in state %s", op, s.state)}
	}
}

// end returns the session to Ready after an operation. A session that
// died mid-operation stays Disconnected.
func (s *Session) end() {
	if s.state == StateBusy {
		s.state = StateReady
	}
	s.busyOp = ""
}

func (s *Session) requireBusy(op string) error {
	if s.state != StateBusy || s.busyOp != op {
		return &ProtocolViolationError{Reason: fmt.Sprintf(
			"%s frame outside an active %s operation (state %s)", op, op, s.state)}
	}
	return nil
}

// command performs a round trip and checks the acknowledgment status.
func (s *Session) command(ctx context.Context, op string, packetType uint32, payload []byte) error {
	resp, err := s.roundTrip(ctx, packetType, payload)
	if err != nil {
		return err
	}

	status, err := AckStatus(resp.Payload)
	if err != nil {
		return &ProtocolViolationError{Reason: fmt.Sprintf("%s: %v", op, err)}
	}
	if status != StatusAccepted {
		return &DeviceStatusError{Operation: op, Status: status}
	}
	return nil
}

// roundTrip sends one request and reads its response, validating that
// the response echoes the request's type and sequence number. A timeout,
// an empty read, or a correlation mismatch triggers exactly one
// resynchronization (transport reset, resend); a second failure surfaces
// as a TransportStallError.
func (s *Session) roundTrip(ctx context.Context, packetType uint32, payload []byte) (*Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := &Packet{Type: packetType, Seq: s.nextSeq(), Payload: payload}

	resp, err := s.exchangeOnce(req, s.readTimeout)
	if err == nil {
		return resp, nil
	}

	s.log.Warn().Err(err).Uint32("seq", req.Seq).Msg("exchange stalled, resyncing")

	if resetErr := s.transport.Reset(); resetErr != nil {
		s.state = StateDisconnected
		return nil, &TransportStallError{Operation: packetName(packetType), Err: resetErr}
	}

	resp, err = s.exchangeOnce(req, s.readTimeout)
	if err != nil {
		s.state = StateDisconnected
		return nil, &TransportStallError{Operation: packetName(packetType), Err: err}
	}
	return resp, nil
}

// exchangeOnce writes a request and reads one correlated response.
func (s *Session) exchangeOnce(req *Packet, readTimeout time.Duration) (*Packet, error) {
	frame := req.Encode()
	if _, err := s.transport.Write(frame, s.writeTimeout); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	header := make([]byte, HeaderSize)
	if err := s.readFull(header, readTimeout); err != nil {
		return nil, fmt.Errorf("read response header: %w", err)
	}

	resp, length, err := DecodeHeader(header)
	if err != nil {
		return nil, err
	}

	if length > 0 {
		resp.Payload = make([]byte, length)
		if err := s.readFull(resp.Payload, readTimeout); err != nil {
			return nil, fmt.Errorf("read response payload: %w", err)
		}
	}

	if resp.Type != req.Type {
		return nil, fmt.Errorf("response type 0x%02X does not match request 0x%02X", resp.Type, req.Type)
	}
	if resp.Seq != req.Seq {
		return nil, fmt.Errorf("response sequence %d does not match request %d", resp.Seq, req.Seq)
	}

	return resp, nil
}

// readFull reads exactly len(p) bytes. An empty read is a stall, not EOF.
func (s *Session) readFull(p []byte, timeout time.Duration) error {
	read := 0
	for read < len(p) {
		n, err := s.transport.Read(p[read:], timeout)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("empty read after %d of %d bytes: %w", read, len(p), ErrTimeout)
		}
		read += n
	}
	return nil
}

func (s *Session) nextSeq() uint32 {
	s.seq++
	return s.seq
}

// packetName returns a short name for a packet type, for error text.
func packetName(packetType uint32) string {
	switch packetType {
	case PacketHandshake:
		return "handshake"
	case PacketFlashSetTotal:
		return "begin flash"
	case PacketFlashData:
		return "flash data"
	case PacketDumpPit, PacketPitFile:
		return "pit fetch"
	case PacketDumpPartition:
		return "partition dump"
	case PacketEndSession:
		return "end session"
	case PacketDeviceInfo:
		return "device info"
	case PacketDumpBootloader:
		return "bootloader dump"
	case PacketFlashEnd:
		return "end flash"
	default:
		return fmt.Sprintf("packet 0x%02X", packetType)
	}
}
