package memdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// NodeSize is the size of a raw flash node record in bytes.
const NodeSize = 132

// Raw image offsets shared by all node types.
const (
	offFlags = 0
)

// Parent node layout.
const (
	offParentPrev       = 2
	offParentNext       = 4
	offParentFirstChild = 6
	offParentService    = 8
	parentServiceMax    = 121
)

// Credential child layout.
const (
	offChildPrev        = 2
	offChildNext        = 4
	offChildDescription = 6
	offChildDateCreated = 30
	offChildDateUsed    = 32
	offChildCTR         = 34
	offChildLogin       = 37
	offChildPassword    = 100
	childDescriptionMax = 24
	childLoginMax       = 63
	childPasswordSize   = 32
	childCTRSize        = 3
)

// Data child layout.
const (
	offDataNext  = 2
	offDataBlock = 4
	dataBlockLen = 32
)

// NodeType is the 2-bit type tag embedded in the node flags word.
type NodeType int

// Node types.
const (
	NodeParent NodeType = iota
	NodeChild
	NodeParentData
	NodeChildData
)

func (t NodeType) String() string {
	switch t {
	case NodeParent:
		return "credential parent"
	case NodeChild:
		return "credential child"
	case NodeParentData:
		return "data parent"
	case NodeChildData:
		return "data child"
	default:
		return "invalid"
	}
}

// Node is the in-memory image of one flash node record. Pointer fields live
// inside the raw image so that diffing against a clone stays byte-accurate;
// fields whose physical address is not known yet carry a virtual id instead.
type Node struct {
	raw []byte

	addr Address
	virt uint32

	// virtual ids for pointer fields still awaiting a physical address; a
	// nil address in the raw image is not expressible, so each virtual
	// pointer is tracked with its own pending flag
	nextVirt        uint32
	nextPending     bool
	prevVirt        uint32
	prevPending     bool
	firstChildVirt  uint32
	firstChildPending bool

	pointed bool
}

// NewNode creates an empty node at the given physical address. Data packets
// are accumulated with AppendRaw until Complete reports true.
func NewNode(addr Address) *Node {
	return &Node{addr: addr.Clone()}
}

// NewVirtualNode creates a zeroed node of the given type with a virtual id
// and no physical address.
func NewVirtualNode(typ NodeType, virt uint32) *Node {
	n := &Node{
		raw:  make([]byte, NodeSize),
		virt: virt,
	}
	n.setFlags(uint16(typ) << 14)
	return n
}

// NodeFromRaw builds a node from a complete raw image.
func NodeFromRaw(addr Address, raw []byte) (*Node, error) {
	if len(raw) != NodeSize {
		return nil, fmt.Errorf("raw node image is %d bytes, expected %d", len(raw), NodeSize)
	}
	n := NewNode(addr)
	n.raw = append([]byte(nil), raw...)
	return n, nil
}

// AppendRaw adds one reply payload worth of node data.
func (n *Node) AppendRaw(data []byte) {
	n.raw = append(n.raw, data...)
}

// Complete reports whether the full record has been received.
func (n *Node) Complete() bool {
	return len(n.raw) >= NodeSize
}

// Raw returns the raw node image.
func (n *Node) Raw() []byte {
	return n.raw
}

// Clone returns a deep copy of the node, including virtual pointer state.
func (n *Node) Clone() *Node {
	c := *n
	c.raw = append([]byte(nil), n.raw...)
	c.addr = n.addr.Clone()
	c.pointed = false
	return &c
}

func (n *Node) flags() uint16 {
	return binary.LittleEndian.Uint16(n.raw[offFlags:])
}

func (n *Node) setFlags(f uint16) {
	binary.LittleEndian.PutUint16(n.raw[offFlags:], f)
}

// Valid reports whether the record holds a live node. Erased flash reads
// back 0xFFFF flags and sets the invalid bit.
func (n *Node) Valid() bool {
	return n.flags()>>13&1 == 0
}

// Type returns the node type tag.
func (n *Node) Type() NodeType {
	return NodeType(n.flags() >> 14)
}

// Address returns the node's physical address, nil when virtual.
func (n *Node) Address() Address {
	return n.addr
}

// VirtualAddress returns the node's virtual id, meaningful only while the
// physical address is nil.
func (n *Node) VirtualAddress() uint32 {
	return n.virt
}

// SetAddress assigns the node's physical address, or with a nil addr flags
// the node as virtual under the given id.
func (n *Node) SetAddress(addr Address, virt ...uint32) {
	n.addr = addr.Clone()
	if len(virt) > 0 {
		n.virt = virt[0]
	}
}

// Tagging used by the integrity checker.

// Pointed reports whether the node was reached by the last tag walk.
func (n *Node) Pointed() bool { return n.pointed }

// SetPointed marks the node as reached.
func (n *Node) SetPointed() { n.pointed = true }

// ClearPointed resets the tag.
func (n *Node) ClearPointed() { n.pointed = false }

func (n *Node) readAddr(off int) Address {
	return Address{n.raw[off], n.raw[off+1]}
}

func (n *Node) writeAddr(off int, a Address) {
	n.raw[off] = a[0]
	n.raw[off+1] = a[1]
}

// setPointer implements the shared virtual/physical pointer write: a nil
// address records the virtual id and leaves the raw bytes untouched until
// resolution.
func (n *Node) setPointer(off int, a Address, pending *bool, virtField *uint32, virt []uint32) {
	if a.IsNull() {
		*pending = true
		if len(virt) > 0 {
			*virtField = virt[0]
		}
		return
	}
	*pending = false
	if len(virt) > 0 {
		*virtField = virt[0]
	}
	n.writeAddr(off, a)
}

// NextParentAddress returns the next-parent pointer, nil while virtual.
func (n *Node) NextParentAddress() Address {
	if n.nextPending {
		return nil
	}
	return n.readAddr(offParentNext)
}

// NextParentVirtualAddress returns the virtual id of the next parent.
func (n *Node) NextParentVirtualAddress() uint32 { return n.nextVirt }

// SetNextParentAddress updates the next-parent pointer.
func (n *Node) SetNextParentAddress(a Address, virt ...uint32) {
	n.setPointer(offParentNext, a, &n.nextPending, &n.nextVirt, virt)
}

// PreviousParentAddress returns the previous-parent pointer, nil while
// virtual.
func (n *Node) PreviousParentAddress() Address {
	if n.prevPending {
		return nil
	}
	return n.readAddr(offParentPrev)
}

// PreviousParentVirtualAddress returns the virtual id of the previous parent.
func (n *Node) PreviousParentVirtualAddress() uint32 { return n.prevVirt }

// SetPreviousParentAddress updates the previous-parent pointer.
func (n *Node) SetPreviousParentAddress(a Address, virt ...uint32) {
	n.setPointer(offParentPrev, a, &n.prevPending, &n.prevVirt, virt)
}

// FirstChildAddress returns the parent's first-child pointer, nil while
// virtual.
func (n *Node) FirstChildAddress() Address {
	if n.firstChildPending {
		return nil
	}
	return n.readAddr(offParentFirstChild)
}

// FirstChildVirtualAddress returns the virtual id of the first child.
func (n *Node) FirstChildVirtualAddress() uint32 { return n.firstChildVirt }

// SetFirstChildAddress updates the parent's first-child pointer.
func (n *Node) SetFirstChildAddress(a Address, virt ...uint32) {
	n.setPointer(offParentFirstChild, a, &n.firstChildPending, &n.firstChildVirt, virt)
}

// NextChildAddress returns a credential child's forward pointer.
func (n *Node) NextChildAddress() Address {
	if n.nextPending {
		return nil
	}
	return n.readAddr(offChildNext)
}

// NextChildVirtualAddress returns the virtual id of the next child.
func (n *Node) NextChildVirtualAddress() uint32 { return n.nextVirt }

// SetNextChildAddress updates a credential child's forward pointer.
func (n *Node) SetNextChildAddress(a Address, virt ...uint32) {
	n.setPointer(offChildNext, a, &n.nextPending, &n.nextVirt, virt)
}

// PreviousChildAddress returns a credential child's backward pointer.
func (n *Node) PreviousChildAddress() Address {
	if n.prevPending {
		return nil
	}
	return n.readAddr(offChildPrev)
}

// PreviousChildVirtualAddress returns the virtual id of the previous child.
func (n *Node) PreviousChildVirtualAddress() uint32 { return n.prevVirt }

// SetPreviousChildAddress updates a credential child's backward pointer.
func (n *Node) SetPreviousChildAddress(a Address, virt ...uint32) {
	n.setPointer(offChildPrev, a, &n.prevPending, &n.prevVirt, virt)
}

// NextDataAddress returns a data child's forward pointer.
func (n *Node) NextDataAddress() Address {
	if n.nextPending {
		return nil
	}
	return n.readAddr(offDataNext)
}

// SetNextDataAddress updates a data child's forward pointer.
func (n *Node) SetNextDataAddress(a Address, virt ...uint32) {
	n.setPointer(offDataNext, a, &n.nextPending, &n.nextVirt, virt)
}

func zeroTerminated(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// Service returns the parent node's service string.
func (n *Node) Service() string {
	return zeroTerminated(n.raw[offParentService : offParentService+parentServiceMax])
}

// SetService updates the parent node's service string.
func (n *Node) SetService(s string) error {
	b := []byte(s)
	if len(b) > parentServiceMax-1 {
		return fmt.Errorf("service %q exceeds %d bytes", s, parentServiceMax-1)
	}
	field := n.raw[offParentService : offParentService+parentServiceMax]
	for i := range field {
		field[i] = 0
	}
	copy(field, b)
	return nil
}

// Login returns a credential child's login string.
func (n *Node) Login() string {
	return zeroTerminated(n.raw[offChildLogin : offChildLogin+childLoginMax])
}

// SetLogin updates a credential child's login string.
func (n *Node) SetLogin(s string) error {
	b := []byte(s)
	if len(b) > childLoginMax-1 {
		return fmt.Errorf("login %q exceeds %d bytes", s, childLoginMax-1)
	}
	field := n.raw[offChildLogin : offChildLogin+childLoginMax]
	for i := range field {
		field[i] = 0
	}
	copy(field, b)
	return nil
}

// Description returns a credential child's description string.
func (n *Node) Description() string {
	return zeroTerminated(n.raw[offChildDescription : offChildDescription+childDescriptionMax])
}

// CTR returns a credential child's 3-byte CTR value.
func (n *Node) CTR() []byte {
	return n.raw[offChildCTR : offChildCTR+childCTRSize]
}

// PasswordCiphertext returns the 32-byte encrypted password block. The host
// never decrypts it.
func (n *Node) PasswordCiphertext() []byte {
	return n.raw[offChildPassword : offChildPassword+childPasswordSize]
}

// DataBlock returns a data child's 32-byte opaque block.
func (n *Node) DataBlock() []byte {
	return n.raw[offDataBlock : offDataBlock+dataBlockLen]
}

// SetDataBlock updates a data child's opaque block.
func (n *Node) SetDataBlock(b []byte) error {
	if len(b) != dataBlockLen {
		return fmt.Errorf("data block is %d bytes, expected %d", len(b), dataBlockLen)
	}
	copy(n.raw[offDataBlock:], b)
	return nil
}
