package memdb

import (
	"bytes"
	"encoding/hex"
)

// Address is a two-byte little-endian flash locator. The upper 13 bits of
// the value select a page, the lower 3 bits a node slot within the page.
//
// A nil Address marks a node that has not been assigned a physical slot yet
// and is reachable through its virtual id only.
type Address []byte

// EmptyAddress is the 0x0000 sentinel terminating every linked chain.
var EmptyAddress = Address{0, 0}

// AddressFromValue builds an Address from its uint16 value.
func AddressFromValue(v uint16) Address {
	return Address{byte(v), byte(v >> 8)}
}

// NewAddress builds an Address from a page and an in-page slot.
func NewAddress(page uint16, slot uint8) Address {
	return AddressFromValue(page<<3 | uint16(slot&0x07))
}

// Value returns the numeric value of the address.
func (a Address) Value() uint16 {
	if len(a) < 2 {
		return 0
	}
	return uint16(a[0]) | uint16(a[1])<<8
}

// IsNull reports whether the address is unassigned (virtual addressing).
func (a Address) IsNull() bool {
	return len(a) == 0
}

// IsEmpty reports whether the address is the EmptyAddress sentinel.
func (a Address) IsEmpty() bool {
	return len(a) >= 2 && a.Value() == 0
}

// Equals compares two addresses byte for byte. A nil address only equals
// another nil address.
func (a Address) Equals(b Address) bool {
	if a.IsNull() || b.IsNull() {
		return a.IsNull() && b.IsNull()
	}
	return bytes.Equal(a[:2], b[:2])
}

// Page returns the flash page the address points into.
func (a Address) Page() uint16 {
	return a.Value() >> 3
}

// Slot returns the node slot within the page.
func (a Address) Slot() uint8 {
	if len(a) == 0 {
		return 0
	}
	return a[0] & 0x07
}

// Clone returns an independent copy of the address.
func (a Address) Clone() Address {
	if a.IsNull() {
		return nil
	}
	return Address{a[0], a[1]}
}

// String returns the address as hex, or "virtual" for a nil address.
func (a Address) String() string {
	if a.IsNull() {
		return "virtual"
	}
	return hex.EncodeToString(a[:2])
}

// FlashLayout captures the geometry of the device flash chip.
type FlashLayout struct {
	// SizeMb is the flash size in megabits
	SizeMb int
}

// NodesPerPage returns the number of node slots per flash page.
func (l FlashLayout) NodesPerPage() uint8 {
	if l.SizeMb == 16 {
		return 4
	}
	return 2
}

// PageCount returns the total number of flash pages.
func (l FlashLayout) PageCount() uint16 {
	if l.SizeMb == 16 {
		return uint16(256 * l.SizeMb)
	}
	return uint16(512 * l.SizeMb)
}

// FirstNodeAddress returns the first node address past the graphics zone.
func (l FlashLayout) FirstNodeAddress() Address {
	switch l.SizeMb {
	case 1, 2, 32:
		// 128 pages reserved for graphics
		return AddressFromValue(0x0400)
	default:
		// 256 pages reserved for graphics
		return AddressFromValue(0x0800)
	}
}

// NextNodeAddress returns the address of the node slot following a, moving
// to the next page when the current one is exhausted.
func (l FlashLayout) NextNodeAddress(a Address) Address {
	slot := a.Slot() + 1
	page := a.Page()
	if slot == l.NodesPerPage() {
		slot = 0
		page++
	}
	return NewAddress(page, slot)
}

// EndReached reports whether the address lies past the last flash page.
func (l FlashLayout) EndReached(a Address) bool {
	return a.Page() >= l.PageCount()
}
