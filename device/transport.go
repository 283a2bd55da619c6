package device

import "github.com/moolticute/go-mooltipass/protocol"

// Frame is one 64-byte packet on the wire.
type Frame = [protocol.PacketSize]byte

// Transport is the byte channel connecting the engine to the device. The
// engine owns no buffering beyond this contract; partial USB reads are the
// transport's concern.
//
// WriteFrame enqueues one outbound frame and returns immediately. Each
// inbound frame must be delivered exactly once to the handler registered
// with SetFrameHandler. The handler is safe to call from any goroutine.
type Transport interface {
	WriteFrame(frame Frame) error
	SetFrameHandler(h func(frame Frame))
}
