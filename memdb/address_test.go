package memdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlashLayout(t *testing.T) {
	tests := []struct {
		sizeMb       int
		nodesPerPage uint8
		pageCount    uint16
		firstAddr    uint16
	}{
		{1, 2, 512, 0x0400},
		{2, 2, 1024, 0x0400},
		{4, 2, 2048, 0x0800},
		{8, 2, 4096, 0x0800},
		{16, 4, 4096, 0x0800},
		{32, 2, 16384, 0x0400},
	}

	for _, tt := range tests {
		l := FlashLayout{SizeMb: tt.sizeMb}
		assert.Equal(t, tt.nodesPerPage, l.NodesPerPage(), "%dMb nodes/page", tt.sizeMb)
		assert.Equal(t, tt.pageCount, l.PageCount(), "%dMb pages", tt.sizeMb)
		assert.Equal(t, tt.firstAddr, l.FirstNodeAddress().Value(), "%dMb first address", tt.sizeMb)
	}
}

func TestAddressPageSlot(t *testing.T) {
	a := NewAddress(0x123, 1)
	assert.Equal(t, uint16(0x123), a.Page())
	assert.Equal(t, uint8(1), a.Slot())
	assert.Equal(t, uint16(0x123<<3|1), a.Value())
}

func TestNextNodeAddress(t *testing.T) {
	l := FlashLayout{SizeMb: 4}

	a := NewAddress(0x100, 0)
	b := l.NextNodeAddress(a)
	assert.Equal(t, uint16(0x100), b.Page())
	assert.Equal(t, uint8(1), b.Slot())

	// second slot is the last one with two nodes per page
	c := l.NextNodeAddress(b)
	assert.Equal(t, uint16(0x101), c.Page())
	assert.Equal(t, uint8(0), c.Slot())

	l16 := FlashLayout{SizeMb: 16}
	d := l16.NextNodeAddress(NewAddress(0x100, 2))
	assert.Equal(t, uint16(0x100), d.Page())
	assert.Equal(t, uint8(3), d.Slot())
	e := l16.NextNodeAddress(d)
	assert.Equal(t, uint16(0x101), e.Page())
}

func TestAddressEquality(t *testing.T) {
	assert.True(t, EmptyAddress.Equals(AddressFromValue(0)))
	assert.True(t, Address(nil).Equals(nil))
	assert.False(t, Address(nil).Equals(EmptyAddress))
	assert.False(t, AddressFromValue(0x400).Equals(AddressFromValue(0x401)))
	assert.True(t, AddressFromValue(0).IsEmpty())
	assert.True(t, Address(nil).IsNull())
}

func TestEndReached(t *testing.T) {
	l := FlashLayout{SizeMb: 1}
	assert.False(t, l.EndReached(NewAddress(511, 1)))
	assert.True(t, l.EndReached(NewAddress(512, 0)))
}
