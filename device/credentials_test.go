package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolticute/go-mooltipass/emulator"
	"github.com/moolticute/go-mooltipass/protocol"
)

type credResult struct {
	ok                                 bool
	errstr                             string
	service, login, password, descript string
}

func getCredential(t *testing.T, dev *Device, service, login, fallback, reqid string) credResult {
	t.Helper()
	got := make(chan credResult, 1)
	dev.GetCredential(service, login, fallback, reqid,
		func(ok bool, errstr, service, login, password, description string) {
			got <- credResult{ok, errstr, service, login, password, description}
		})
	select {
	case r := <-got:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("get credential never completed")
		return credResult{}
	}
}

func setCredential(t *testing.T, dev *Device, service, login, pass, description string, setDesc bool) (bool, string) {
	t.Helper()
	got := make(chan credResult, 1)
	dev.SetCredential(service, login, pass, description, setDesc,
		func(ok bool, errstr string) {
			got <- credResult{ok: ok, errstr: errstr}
		})
	select {
	case r := <-got:
		return r.ok, r.errstr
	case <-time.After(2 * time.Second):
		t.Fatal("set credential never completed")
		return false, ""
	}
}

func TestSetThenGetCredential(t *testing.T) {
	_, dev := newEmulatedDevice(t, nil)

	ok, errstr := setCredential(t, dev, "example.org", "alice", "hunter2", "prod account", true)
	require.True(t, ok, errstr)

	r := getCredential(t, dev, "example.org", "alice", "", "")
	require.True(t, r.ok, r.errstr)
	assert.Equal(t, "example.org", r.service)
	assert.Equal(t, "alice", r.login)
	assert.Equal(t, "hunter2", r.password)
	assert.Equal(t, "prod account", r.descript)
}

func TestGetCredentialLoginMismatch(t *testing.T) {
	_, dev := newEmulatedDevice(t, func(e *emulator.Emulator) {
		e.AddCredential("example.org", "alice", "hunter2", "")
	})

	r := getCredential(t, dev, "example.org", "bob", "", "")
	assert.False(t, r.ok)
	assert.Equal(t, "login mismatch", r.errstr)
}

func TestGetCredentialFallbackService(t *testing.T) {
	_, dev := newEmulatedDevice(t, func(e *emulator.Emulator) {
		e.AddCredential("m.example.org", "carol", "s3cret", "")
	})

	r := getCredential(t, dev, "example.org", "", "m.example.org", "")
	require.True(t, r.ok, r.errstr)
	assert.Equal(t, "m.example.org", r.service)
	assert.Equal(t, "carol", r.login)
	assert.Equal(t, "s3cret", r.password)
}

func TestGetCredentialUnknownService(t *testing.T) {
	_, dev := newEmulatedDevice(t, nil)

	r := getCredential(t, dev, "nowhere.example", "", "", "")
	assert.False(t, r.ok)
	assert.Equal(t, "failed to select context on device", r.errstr)
}

func TestGetCredentialMissingDescriptionTolerated(t *testing.T) {
	_, dev := newEmulatedDevice(t, func(e *emulator.Emulator) {
		e.AddCredential("example.org", "alice", "hunter2", "")
	})

	r := getCredential(t, dev, "example.org", "", "", "")
	require.True(t, r.ok, r.errstr)
	assert.Equal(t, "", r.descript)
}

func TestSetCredentialEmptyInput(t *testing.T) {
	_, dev := newEmulatedDevice(t, nil)

	ok, errstr := setCredential(t, dev, "", "alice", "x", "", false)
	assert.False(t, ok)
	assert.Equal(t, "service or login is empty", errstr)
}

func TestSetCredentialOverlongDescription(t *testing.T) {
	_, dev := newEmulatedDevice(t, nil)

	long := "this description is way past the twenty four byte limit"
	ok, errstr := setCredential(t, dev, "example.org", "alice", "pw", long, true)
	assert.False(t, ok)
	assert.Contains(t, errstr, "max text length")
}

func TestSetCredentialKeepsMatchingPassword(t *testing.T) {
	emul, dev := newEmulatedDevice(t, func(e *emulator.Emulator) {
		e.AddCredential("example.org", "alice", "same", "")
	})

	ok, errstr := setCredential(t, dev, "example.org", "alice", "same", "", false)
	require.True(t, ok, errstr)

	// the password matched, so no SET_PASSWORD must have been sent
	assert.Empty(t, emul.WritesFor(protocol.CmdSetPassword))
}

func TestCancelRunningRequest(t *testing.T) {
	emul, dev := newEmulatedDevice(t, func(e *emulator.Emulator) {
		e.AddCredential("example.org", "alice", "hunter2", "")
		// the device waits for user approval on the password read
		e.HoldCommand(protocol.CmdGetPassword)
	})

	got := make(chan credResult, 1)
	dev.GetCredential("example.org", "", "", "req-42",
		func(ok bool, errstr, service, login, password, description string) {
			got <- credResult{ok: ok, errstr: errstr}
		})

	// wait for the engine to reach the held password query
	waitFor(t, func() bool { return len(emul.WritesFor(protocol.CmdGetPassword)) > 0 })

	dev.CancelRequest("req-42")

	select {
	case r := <-got:
		assert.False(t, r.ok)
		assert.Equal(t, protocol.ErrCancelled.Error(), r.errstr)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled request never completed")
	}

	// the cancel packet went out-of-band while the password query was
	// still outstanding
	require.NotEmpty(t, emul.WritesFor(protocol.CmdCancelUserRequest))
}

func TestCancelQueuedRequest(t *testing.T) {
	emul, dev := newEmulatedDevice(t, func(e *emulator.Emulator) {
		e.AddCredential("example.org", "alice", "hunter2", "")
		e.HoldCommand(protocol.CmdGetPassword)
	})

	running := make(chan credResult, 1)
	dev.GetCredential("example.org", "", "", "req-1",
		func(ok bool, errstr, _, _, _, _ string) {
			running <- credResult{ok: ok, errstr: errstr}
		})
	waitFor(t, func() bool { return len(emul.WritesFor(protocol.CmdGetPassword)) > 0 })

	queued := make(chan credResult, 1)
	dev.GetCredential("example.org", "", "", "req-2",
		func(ok bool, errstr, _, _, _, _ string) {
			queued <- credResult{ok: ok, errstr: errstr}
		})

	dev.CancelRequest("req-2")

	select {
	case r := <-queued:
		assert.False(t, r.ok)
		assert.Equal(t, protocol.ErrCancelled.Error(), r.errstr)
	case <-time.After(2 * time.Second):
		t.Fatal("queued request was not cancelled")
	}

	// unblock the running request
	dev.CancelRequest("req-1")
	<-running
}
