// Package protocol implements the Samsung download-mode session protocol.
//
// The protocol is a strict request/response conversation over a byte
// transport: every request carries a monotonically increasing sequence
// number, every response echoes it, and at most one command is ever in
// flight. Multi-step operations (PIT fetch, partition transfers, dumps)
// hold the session in the Busy state for their duration.
//
// # Frame Format
//
// Every packet is a 12-byte little-endian header followed by a payload:
//
//	[TYPE(4)][SEQ(4)][LEN(4)][PAYLOAD(LEN)]
//
// Acknowledgment payloads begin with a 4-byte status word; StatusAccepted
// means the command was taken, anything else names the refusal.
//
// # Session Lifecycle
//
//	Disconnected -> Handshaking -> Ready -> Busy(op) -> Ready -> ... -> Closing -> Disconnected
//
// The handshake negotiates the protocol version and the maximum frame
// size; no later frame may exceed that ceiling.
//
// # Stall Recovery
//
// A timeout, an empty read, or a response that does not correlate with
// its request triggers exactly one resynchronization: the transport is
// reset and the request resent with the same sequence number. A second
// failure surfaces as a TransportStallError and ends the session.
//
// # Transport
//
// The package does not open devices. Callers supply a Transport, a
// byte-oriented duplex channel with bounded reads and writes, typically
// backed by the platform's USB bulk endpoints.
package protocol
