package transport

import (
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"

	"github.com/moolticute/go-mooltipass/logging"
	"github.com/moolticute/go-mooltipass/protocol"
)

// Serial drives a device attached through a serial bridge (e.g. a BLE or
// UART adapter forwarding raw 64-byte frames).
type Serial struct {
	port serial.Port
	log  logging.Logger

	mu      sync.Mutex
	handler func(frame [protocol.PacketSize]byte)
	closed  chan struct{}
	once    sync.Once
}

// OpenSerial opens the given port at the requested baud rate and starts the
// read pump.
func OpenSerial(portPath string, baudRate int, log logging.Logger) (*Serial, error) {
	if log == nil {
		log = logging.Nop()
	}
	if baudRate == 0 {
		baudRate = 115200
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portPath, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portPath, err)
	}

	s := &Serial{
		port:   port,
		log:    log,
		closed: make(chan struct{}),
	}
	go s.readPump()
	return s, nil
}

// WriteFrame sends one 64-byte frame over the port.
func (s *Serial) WriteFrame(frame [protocol.PacketSize]byte) error {
	if _, err := s.port.Write(frame[:]); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}

// SetFrameHandler registers the inbound frame callback.
func (s *Serial) SetFrameHandler(h func(frame [protocol.PacketSize]byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *Serial) readPump() {
	var frame [protocol.PacketSize]byte
	for {
		select {
		case <-s.closed:
			return
		default:
		}

		// serial links deliver partial reads, reassemble full frames here
		if _, err := io.ReadFull(s.port, frame[:]); err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			s.log.Warn("serial read failed", "error", err.Error())
			continue
		}

		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()
		if h != nil {
			h(frame)
		}
	}
}

// Close stops the read pump and closes the port.
func (s *Serial) Close() error {
	s.once.Do(func() { close(s.closed) })
	return s.port.Close()
}
