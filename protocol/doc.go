// Package protocol implements the Mooltipass USB communication protocol.
//
// This package provides functions to build command frames and parse reply
// frames for the 64-byte HID packet interface exposed by the device.
//
// # Protocol Overview
//
// Every exchange is a fixed 64-byte frame:
//
//	[LEN][CMD][PAYLOAD...]
//
// Where:
//   - LEN = payload length in bytes (0..62)
//   - CMD = 1-byte command code (0x8A..0xDA)
//   - PAYLOAD = command-specific data, little-endian for multi-byte values,
//     UTF-8 zero-terminated for strings
//
// The remaining bytes of the frame are don't-care. Replies reuse the same
// framing with the command code echoed back; a payload of a single 0x00 byte
// denotes command rejection.
//
// # Frame Builders and Parsers
//
//	frame, err := protocol.BuildPacket(protocol.CmdContext, sdata)
//	cmd, payload, err := protocol.ParsePacket(reply)
//
// Command-specific reply parsers decode typed results:
//
//	info, err := protocol.ParseVersionResponse(payload)
//	serial, err := protocol.ParseSerialResponse(payload)
//
// # Error Handling
//
// Typed errors describe the failure classes of the wire protocol:
// TransportMismatchError (reply command code differs from the request),
// DeviceRefusedError (single-byte rejection), ProtocolInvariantError
// (malformed multi-packet reply), DatabaseCorruptError, InputInvalidError
// and ErrCancelled. All compose with errors.Is / errors.As.
package protocol
