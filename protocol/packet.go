package protocol

import "fmt"

// BuildPacket constructs a 64-byte command frame.
//
// Frame structure:
//
//	[LEN][CMD][PAYLOAD...]
//
// The payload must fit in MaxPayloadSize bytes. The returned frame is always
// exactly PacketSize bytes, zero padded.
func BuildPacket(cmd byte, payload []byte) ([PacketSize]byte, error) {
	var frame [PacketSize]byte

	if len(payload) > MaxPayloadSize {
		return frame, fmt.Errorf("payload length %d exceeds maximum %d bytes", len(payload), MaxPayloadSize)
	}

	frame[LenFieldIndex] = byte(len(payload))
	frame[CmdFieldIndex] = cmd
	copy(frame[PayloadFieldIndex:], payload)

	return frame, nil
}

// ParsePacket extracts the command code and payload from a received frame.
// The returned payload aliases the frame slice.
func ParsePacket(frame []byte) (cmd byte, payload []byte, err error) {
	if len(frame) < PacketSize {
		return 0, nil, fmt.Errorf("frame too short: got %d bytes, expected %d", len(frame), PacketSize)
	}

	length := int(frame[LenFieldIndex])
	if length > MaxPayloadSize {
		return 0, nil, &ProtocolInvariantError{
			Reason: fmt.Sprintf("payload length %d exceeds maximum %d", length, MaxPayloadSize),
		}
	}

	return frame[CmdFieldIndex], frame[PayloadFieldIndex : PayloadFieldIndex+length], nil
}

// Command returns the command code of a frame without validating it.
func Command(frame []byte) byte {
	return frame[CmdFieldIndex]
}

// Payload returns the payload of a frame without validating it. Frames with
// a corrupt length byte yield a truncated payload rather than a panic.
func Payload(frame []byte) []byte {
	length := int(frame[LenFieldIndex])
	if length > MaxPayloadSize {
		length = MaxPayloadSize
	}
	return frame[PayloadFieldIndex : PayloadFieldIndex+length]
}

// IsRefusal reports whether a reply is a single-byte command rejection
// (payload length 1 with a 0x00 first byte).
func IsRefusal(frame []byte) bool {
	return frame[LenFieldIndex] == 1 && frame[PayloadFieldIndex] == 0
}

// IsSingleByteReply reports whether the device answered with a one byte
// payload. For flash reads this means "slot empty or read not allowed".
func IsSingleByteReply(frame []byte) bool {
	return frame[LenFieldIndex] == 1
}
