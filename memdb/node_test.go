package memdb

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeTypeTag(t *testing.T) {
	for _, typ := range []NodeType{NodeParent, NodeChild, NodeParentData, NodeChildData} {
		n := NewVirtualNode(typ, 7)
		assert.Equal(t, typ, n.Type())
		assert.True(t, n.Valid())
		assert.Equal(t, uint32(7), n.VirtualAddress())
	}
}

func TestErasedNodeIsInvalid(t *testing.T) {
	raw := bytes.Repeat([]byte{0xFF}, NodeSize)
	n, err := NodeFromRaw(NewAddress(0x100, 0), raw)
	require.NoError(t, err)
	assert.False(t, n.Valid())
}

func TestNodeFromRawLength(t *testing.T) {
	_, err := NodeFromRaw(EmptyAddress, make([]byte, 10))
	require.Error(t, err)
}

func TestParentServiceRoundTrip(t *testing.T) {
	n := NewVirtualNode(NodeParent, 0)
	require.NoError(t, n.SetService("example.org"))
	assert.Equal(t, "example.org", n.Service())

	tooLong := string(bytes.Repeat([]byte{'x'}, 121))
	require.Error(t, n.SetService(tooLong))
}

func TestChildFieldOffsets(t *testing.T) {
	n := NewVirtualNode(NodeChild, 0)
	require.NoError(t, n.SetLogin("user@example.org"))
	assert.Equal(t, "user@example.org", n.Login())

	copy(n.PasswordCiphertext(), bytes.Repeat([]byte{0x5A}, 32))
	assert.Equal(t, bytes.Repeat([]byte{0x5A}, 32), n.Raw()[100:132])

	copy(n.CTR(), []byte{1, 2, 3})
	assert.Equal(t, []byte{1, 2, 3}, n.Raw()[34:37])
}

func TestPointerFieldsLiveInRawImage(t *testing.T) {
	n := NewVirtualNode(NodeParent, 0)
	n.SetAddress(NewAddress(0x150, 0))
	n.SetNextParentAddress(AddressFromValue(0x0A0B))
	n.SetPreviousParentAddress(AddressFromValue(0x0C0D))
	n.SetFirstChildAddress(AddressFromValue(0x0E0F))

	assert.Equal(t, []byte{0x0D, 0x0C}, n.Raw()[2:4])
	assert.Equal(t, []byte{0x0B, 0x0A}, n.Raw()[4:6])
	assert.Equal(t, []byte{0x0F, 0x0E}, n.Raw()[6:8])
}

func TestVirtualPointerDoesNotTouchRaw(t *testing.T) {
	n := NewVirtualNode(NodeParent, 0)
	n.SetNextParentAddress(AddressFromValue(0x1234))
	before := append([]byte(nil), n.Raw()...)

	n.SetNextParentAddress(nil, 9)
	assert.Nil(t, n.NextParentAddress())
	assert.Equal(t, uint32(9), n.NextParentVirtualAddress())
	assert.Equal(t, before, n.Raw(), "raw image must stay untouched until resolution")
}

func TestMultiPacketAssembly(t *testing.T) {
	n := NewNode(NewAddress(0x100, 1))
	n.AppendRaw(make([]byte, 62))
	assert.False(t, n.Complete())
	n.AppendRaw(make([]byte, 62))
	assert.False(t, n.Complete())
	n.AppendRaw(make([]byte, 8))
	assert.True(t, n.Complete())
}

func TestCloneIsDeep(t *testing.T) {
	n := NewVirtualNode(NodeChild, 0)
	n.SetAddress(NewAddress(0x123, 1))
	require.NoError(t, n.SetLogin("original"))
	n.SetPointed()

	c := n.Clone()
	require.NoError(t, c.SetLogin("changed"))

	assert.Equal(t, "original", n.Login())
	assert.False(t, c.Pointed(), "clone starts untagged")
	assert.True(t, n.Address().Equals(c.Address()))
}
