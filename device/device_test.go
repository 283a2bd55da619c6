package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/moolticute/go-mooltipass/emulator"
	"github.com/moolticute/go-mooltipass/protocol"
)

// newEmulatedDevice wires the engine to an emulated device with a fast
// status poll and waits for the unlock-triggered parameter load to finish.
func newEmulatedDevice(t *testing.T, configure func(*emulator.Emulator)) (*emulator.Emulator, *Device) {
	t.Helper()

	emul := emulator.New()
	if configure != nil {
		configure(emul)
	}

	dev := New(emul, WithStatusPollInterval(5*time.Millisecond))
	t.Cleanup(dev.Close)

	waitFor(t, func() bool { return dev.HwVersion() != "" })
	return emul, dev
}

func TestUnlockTriggersParameterLoad(t *testing.T) {
	_, dev := newEmulatedDevice(t, func(e *emulator.Emulator) {
		e.SetVersion(4, "v1.2_mini")
	})

	assert.Equal(t, "v1.2_mini", dev.HwVersion())
	assert.Equal(t, 4, dev.FlashMb())
	assert.True(t, dev.IsFw12())
	assert.True(t, dev.IsMini())

	waitFor(t, func() bool { return dev.Status() == protocol.StatusUnlocked })
	waitFor(t, func() bool { return dev.Serial() == 0x00C0FFEE })

	waitFor(t, func() bool {
		cred, data := dev.ChangeNumbers()
		return cred == 3 && data == 5
	})
}

func TestKnockSensitivityObserved(t *testing.T) {
	_, dev := newEmulatedDevice(t, func(e *emulator.Emulator) {
		// raw threshold 11 means low sensitivity
		e.WriteFrame(mustPacket(protocol.CmdSetParameter,
			[]byte{byte(protocol.ParamMiniKnockThreshold), 11}))
	})

	waitFor(t, func() bool {
		_, ok := dev.Param(protocol.ParamMiniKnockThreshold)
		return ok
	})
	assert.Equal(t, protocol.KnockLow, dev.KnockSensitivity())
}

func TestUpdateParameterRoundTrip(t *testing.T) {
	_, dev := newEmulatedDevice(t, nil)

	dev.UpdateKnockSensitivity(protocol.KnockHigh)

	waitFor(t, func() bool {
		v, ok := dev.Param(protocol.ParamMiniKnockThreshold)
		return ok && v == 5
	})
}

func TestPing(t *testing.T) {
	_, dev := newEmulatedDevice(t, nil)

	got := make(chan bool, 1)
	dev.Ping(func(ok bool, errstr string) { got <- ok })
	select {
	case ok := <-got:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("ping never completed")
	}
}

func TestGetRandomNumber(t *testing.T) {
	_, dev := newEmulatedDevice(t, nil)

	got := make(chan []byte, 1)
	dev.GetRandomNumber(func(ok bool, errstr string, nums []byte) {
		if ok {
			got <- nums
		} else {
			got <- nil
		}
	})
	select {
	case nums := <-got:
		assert.Len(t, nums, 32)
	case <-time.After(time.Second):
		t.Fatal("random request never completed")
	}
}

func TestGetUID(t *testing.T) {
	_, dev := newEmulatedDevice(t, nil)

	got := make(chan uint64, 1)
	dev.GetUID("000102030405060708090a0b0c0d0e0f", func(ok bool, errstr string, uid uint64) {
		got <- uid
	})
	select {
	case uid := <-got:
		assert.Equal(t, uint64(0x000102030405), uid)
	case <-time.After(time.Second):
		t.Fatal("uid request never completed")
	}

	res := make(chan bool, 1)
	dev.GetUID("zz", func(ok bool, errstr string, uid uint64) { res <- ok })
	assert.False(t, <-res)
}

func mustPacket(cmd byte, payload []byte) Frame {
	frame, err := protocol.BuildPacket(cmd, payload)
	if err != nil {
		panic(err)
	}
	return frame
}
