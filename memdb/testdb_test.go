package memdb

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moolticute/go-mooltipass/logging"
)

// buildCleanDB constructs a consistent database of nCred credential parents
// (one child each) and nData data parents (one data child each), with chain
// order matching the sorted service order, plus populated clones.
func buildCleanDB(t *testing.T, nCred, nData int) *Store {
	t.Helper()

	s := NewStore(4, logging.Nop())
	layout := s.Layout

	addr := layout.FirstNodeAddress()
	next := func() Address {
		a := addr
		addr = layout.NextNodeAddress(addr)
		return a
	}

	var credAddrs, childAddrs []Address
	for i := 0; i < nCred; i++ {
		credAddrs = append(credAddrs, next())
		childAddrs = append(childAddrs, next())
	}
	var dataAddrs, dataChildAddrs []Address
	for i := 0; i < nData; i++ {
		dataAddrs = append(dataAddrs, next())
		dataChildAddrs = append(dataChildAddrs, next())
	}

	for i := 0; i < nCred; i++ {
		p := NewVirtualNode(NodeParent, 0)
		p.SetAddress(credAddrs[i])
		require.NoError(t, p.SetService(fmt.Sprintf("service%02d", i)))
		if i > 0 {
			p.SetPreviousParentAddress(credAddrs[i-1])
		} else {
			p.SetPreviousParentAddress(EmptyAddress)
		}
		if i < nCred-1 {
			p.SetNextParentAddress(credAddrs[i+1])
		} else {
			p.SetNextParentAddress(EmptyAddress)
		}
		p.SetFirstChildAddress(childAddrs[i])
		s.Cred = append(s.Cred, p)

		c := NewVirtualNode(NodeChild, 0)
		c.SetAddress(childAddrs[i])
		require.NoError(t, c.SetLogin(fmt.Sprintf("user%02d", i)))
		c.SetPreviousChildAddress(EmptyAddress)
		c.SetNextChildAddress(EmptyAddress)
		s.CredChildren = append(s.CredChildren, c)
	}

	for i := 0; i < nData; i++ {
		p := NewVirtualNode(NodeParentData, 0)
		p.SetAddress(dataAddrs[i])
		require.NoError(t, p.SetService(fmt.Sprintf("blob%02d", i)))
		if i > 0 {
			p.SetPreviousParentAddress(dataAddrs[i-1])
		} else {
			p.SetPreviousParentAddress(EmptyAddress)
		}
		if i < nData-1 {
			p.SetNextParentAddress(dataAddrs[i+1])
		} else {
			p.SetNextParentAddress(EmptyAddress)
		}
		p.SetFirstChildAddress(dataChildAddrs[i])
		s.Data = append(s.Data, p)

		c := NewVirtualNode(NodeChildData, 0)
		c.SetAddress(dataChildAddrs[i])
		c.SetNextDataAddress(EmptyAddress)
		s.DataChildren = append(s.DataChildren, c)
	}

	if nCred > 0 {
		s.StartCred = credAddrs[0].Clone()
	} else {
		s.StartCred = EmptyAddress.Clone()
	}
	if nData > 0 {
		s.StartData = dataAddrs[0].Clone()
	} else {
		s.StartData = EmptyAddress.Clone()
	}

	s.Ctr = []byte{0x01, 0x02, 0x03}
	for i := 0; i < FavoriteCount; i++ {
		s.AddFavorite(make([]byte, FavoriteSize))
	}
	s.AddCpzCtr([]byte{0xDE, 0xAD, 0xBE, 0xEF})

	snapshotClones(s)
	return s
}

// snapshotClones captures the clone side from the current live state.
func snapshotClones(s *Store) {
	cloneList := func(l []*Node) []*Node {
		out := make([]*Node, 0, len(l))
		for _, n := range l {
			out = append(out, n.Clone())
		}
		return out
	}
	s.CredClone = cloneList(s.Cred)
	s.CredChildrenClone = cloneList(s.CredChildren)
	s.DataClone = cloneList(s.Data)
	s.DataChildrenClone = cloneList(s.DataChildren)
	s.CtrClone = append([]byte(nil), s.Ctr...)
	s.StartCredClone = s.StartCred.Clone()
	s.StartDataClone = s.StartData.Clone()
	s.FavoritesClone = nil
	for _, f := range s.Favorites {
		s.FavoritesClone = append(s.FavoritesClone, append([]byte(nil), f...))
	}
	s.CpzCtrClone = nil
	for _, r := range s.CpzCtr {
		s.CpzCtrClone = append(s.CpzCtrClone, append([]byte(nil), r...))
	}
}
