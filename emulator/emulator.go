// Package emulator provides an in-memory device implementing the engine's
// Transport contract, used by tests and examples in place of hardware.
//
// The emulator models the observable protocol behavior of a device: version
// and status reporting, parameter memory, credential contexts, streaming
// data nodes, and a synthetic flash holding raw 132-byte nodes together
// with favorites, the CTR value and CPZ/CTR records for memory management
// mode. Replies are synthesized synchronously from WriteFrame.
package emulator

import (
	"encoding/binary"
	"sync"

	"github.com/moolticute/go-mooltipass/protocol"
)

type credential struct {
	login       string
	password    string
	description string
}

// Emulator is an in-memory password manager device.
type Emulator struct {
	mu      sync.Mutex
	handler func(frame [protocol.PacketSize]byte)

	// identity
	flashMb byte
	version string
	status  protocol.DeviceStatus
	serial  uint32

	params map[byte]byte

	// credential store
	creds   map[string]*credential
	context string

	// data node store; streams include their 4-byte size prefix
	dataNodes   map[string][]byte
	dataContext string
	readOffset  int
	writeBuf    []byte

	// synthetic flash
	memMgmt    bool
	nodes      map[uint16][]byte
	writeStage map[uint16][]byte
	favorites  [protocol.FavoriteCount][4]byte
	ctr        []byte
	cpzCtr     [][]byte
	startCred  uint16
	startData  uint16

	// test hooks
	refuse  map[byte]bool
	held    byte
	pending *[protocol.PacketSize]byte

	writes [][protocol.PacketSize]byte
}

// New creates an emulated device reporting firmware v1.2_mini with a 4Mb
// flash, unlocked, with an empty database.
func New() *Emulator {
	return &Emulator{
		flashMb:   4,
		version:   "v1.2_mini",
		status:    protocol.StatusUnlocked,
		serial:    0x00C0FFEE,
		params:    map[byte]byte{},
		creds:     map[string]*credential{},
		dataNodes: map[string][]byte{},
		nodes:     map[uint16][]byte{},
		writeStage: map[uint16][]byte{},
		ctr:       []byte{0, 0, 1},
		refuse:    map[byte]bool{},
	}
}

// SetFrameHandler registers the inbound frame callback.
func (e *Emulator) SetFrameHandler(h func(frame [protocol.PacketSize]byte)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

// SetVersion overrides the reported firmware string and flash size.
func (e *Emulator) SetVersion(flashMb byte, version string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flashMb = flashMb
	e.version = version
}

// SetStatus overrides the reported device status.
func (e *Emulator) SetStatus(s protocol.DeviceStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = s
}

// AddCredential seeds a credential context.
func (e *Emulator) AddCredential(service, login, password, description string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.creds[service] = &credential{login: login, password: password, description: description}
}

// AddFlashNode stores one raw node image in the synthetic flash.
func (e *Emulator) AddFlashNode(addr uint16, raw []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nodes[addr] = append([]byte(nil), raw...)
}

// FlashNode returns the raw node image at addr.
func (e *Emulator) FlashNode(addr uint16) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	raw, ok := e.nodes[addr]
	return append([]byte(nil), raw...), ok
}

// SetStartingParents sets the two chain roots.
func (e *Emulator) SetStartingParents(cred, data uint16) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startCred = cred
	e.startData = data
}

// SetCtr sets the CTR value.
func (e *Emulator) SetCtr(ctr []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ctr = append([]byte(nil), ctr...)
}

// AddCpzCtr seeds one CPZ/CTR record.
func (e *Emulator) AddCpzCtr(rec []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cpzCtr = append(e.cpzCtr, append([]byte(nil), rec...))
}

// SetFavorite seeds one favorite slot.
func (e *Emulator) SetFavorite(slot int, parent, child uint16) {
	e.mu.Lock()
	defer e.mu.Unlock()
	binary.LittleEndian.PutUint16(e.favorites[slot][0:2], parent)
	binary.LittleEndian.PutUint16(e.favorites[slot][2:4], child)
}

// RefuseNext makes the next occurrence of cmd answer with a single-byte
// refusal.
func (e *Emulator) RefuseNext(cmd byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refuse[cmd] = true
}

// HoldCommand withholds the reply to the next occurrence of cmd, modelling
// a device waiting for user interaction. A subsequent cancel packet answers
// the held command with a refusal.
func (e *Emulator) HoldCommand(cmd byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.held = cmd
}

// Writes returns every frame the host has sent, in order.
func (e *Emulator) Writes() [][protocol.PacketSize]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][protocol.PacketSize]byte(nil), e.writes...)
}

// WritesFor returns the frames sent with the given command code.
func (e *Emulator) WritesFor(cmd byte) [][protocol.PacketSize]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out [][protocol.PacketSize]byte
	for _, f := range e.writes {
		if f[protocol.CmdFieldIndex] == cmd {
			out = append(out, f)
		}
	}
	return out
}

// InMemMgmt reports whether the emulated device is in memory management
// mode.
func (e *Emulator) InMemMgmt() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.memMgmt
}

func (e *Emulator) reply(cmd byte, payload []byte) {
	frame, err := protocol.BuildPacket(cmd, payload)
	if err != nil {
		return
	}
	if e.handler != nil {
		e.handler(frame)
	}
}

func (e *Emulator) replyStatus(cmd byte, ok bool) {
	if ok {
		e.reply(cmd, []byte{1})
	} else {
		e.reply(cmd, []byte{0})
	}
}
