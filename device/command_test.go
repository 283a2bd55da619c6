package device

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolticute/go-mooltipass/protocol"
)

// scriptTransport records outbound frames and lets tests inject replies by
// hand.
type scriptTransport struct {
	mu      sync.Mutex
	handler func(Frame)
	writes  []Frame
}

func (s *scriptTransport) WriteFrame(frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, frame)
	return nil
}

func (s *scriptTransport) SetFrameHandler(h func(Frame)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *scriptTransport) inject(cmd byte, payload []byte) {
	frame, err := protocol.BuildPacket(cmd, payload)
	if err != nil {
		panic(err)
	}
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	h(frame)
}

func (s *scriptTransport) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *scriptTransport) writeAt(i int) Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[i]
}

func newScriptedDevice(t *testing.T) (*scriptTransport, *Device) {
	t.Helper()
	tr := &scriptTransport{}
	dev := New(tr, WithStatusPollInterval(0))
	t.Cleanup(dev.Close)
	return tr, dev
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestCommandQueueSingleOutstanding(t *testing.T) {
	tr, dev := newScriptedDevice(t)

	var got [][]byte
	var mu sync.Mutex
	record := func(ok bool, reply []byte, done *bool) {
		mu.Lock()
		got = append(got, append([]byte(nil), reply...))
		mu.Unlock()
	}

	dev.post(func() {
		dev.sendCommand(protocol.CmdPing, []byte{1}, record)
		dev.sendCommand(protocol.CmdPing, []byte{2}, record)
	})

	// only the head may be on the wire
	waitFor(t, func() bool { return tr.writeCount() == 1 })
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, tr.writeCount())

	tr.inject(protocol.CmdPing, []byte{1})
	waitFor(t, func() bool { return tr.writeCount() == 2 })

	tr.inject(protocol.CmdPing, []byte{2})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
}

func TestStrayFrameIsDropped(t *testing.T) {
	tr, dev := newScriptedDevice(t)

	// no command outstanding: the frame must be logged and dropped
	tr.inject(protocol.CmdStatus, []byte{5})

	// the engine must still be alive
	done := make(chan struct{})
	dev.post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("engine stalled after stray frame")
	}
}

func TestPleaseRetryDoesNotAdvance(t *testing.T) {
	tr, dev := newScriptedDevice(t)

	replies := make(chan []byte, 1)
	dev.post(func() {
		dev.sendCommand(protocol.CmdPing, nil, func(ok bool, reply []byte, done *bool) {
			replies <- append([]byte(nil), reply...)
		})
	})

	waitFor(t, func() bool { return tr.writeCount() == 1 })

	tr.inject(protocol.CmdPleaseRetry, nil)
	select {
	case <-replies:
		t.Fatal("please-retry must not reach the command callback")
	case <-time.After(50 * time.Millisecond):
	}

	// the real reply still arrives at the same head
	tr.inject(protocol.CmdPing, nil)
	select {
	case reply := <-replies:
		assert.Equal(t, byte(protocol.CmdPing), protocol.Command(reply))
	case <-time.After(time.Second):
		t.Fatal("reply not delivered")
	}
}

func TestTransportMismatchFailsCommand(t *testing.T) {
	tr, dev := newScriptedDevice(t)

	results := make(chan bool, 1)
	dev.post(func() {
		dev.sendCommand(protocol.CmdGetLogin, nil, func(ok bool, reply []byte, done *bool) {
			results <- ok
		})
	})

	waitFor(t, func() bool { return tr.writeCount() == 1 })
	tr.inject(protocol.CmdGetPassword, []byte{1})

	select {
	case ok := <-results:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("mismatch not delivered")
	}
}

func TestMultiPacketCommandToleratesOtherCodes(t *testing.T) {
	tr, dev := newScriptedDevice(t)

	var packets int
	doneCh := make(chan struct{}, 1)
	dev.post(func() {
		dev.sendCommand(protocol.CmdGetCardCPZCTR, nil, func(ok bool, reply []byte, done *bool) {
			require.True(t, ok)
			packets++
			if protocol.Command(reply) == protocol.CmdCardCPZCTRPacket {
				*done = false
				return
			}
			doneCh <- struct{}{}
		})
	})

	waitFor(t, func() bool { return tr.writeCount() == 1 })
	tr.inject(protocol.CmdCardCPZCTRPacket, []byte{1, 2, 3})
	tr.inject(protocol.CmdCardCPZCTRPacket, []byte{4, 5, 6})
	tr.inject(protocol.CmdGetCardCPZCTR, []byte{1})

	select {
	case <-doneCh:
		assert.Equal(t, 3, packets)
	case <-time.After(time.Second):
		t.Fatal("multi-packet reply not completed")
	}
}
