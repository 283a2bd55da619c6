package memdb

import (
	"bytes"
	"sort"

	"github.com/moolticute/go-mooltipass/logging"
)

// FavoriteSize is the size of one favorite slot record: a credential parent
// address followed by a child address.
const FavoriteSize = 4

// FavoriteCount is the number of favorite slots on the device.
const FavoriteCount = 14

// Store holds the in-memory mirror of the device flash database for the
// lifetime of one memory management session. Every value has a clone
// counterpart captured at load time; diffing live state against the clones
// produces the write-back stream.
type Store struct {
	Layout FlashLayout

	log logging.Logger

	// CTR value and per-card CPZ/CTR records
	Ctr          []byte
	CtrClone     []byte
	CpzCtr       [][]byte
	CpzCtrClone  [][]byte

	// favorite slots, FavoriteSize bytes each
	Favorites      [][]byte
	FavoritesClone [][]byte

	// roots of the two parent chains
	StartCred      Address
	StartCredVirt  uint32
	StartData      Address
	StartDataVirt  uint32
	StartCredClone Address
	StartDataClone Address

	// the four node lists and their clones
	Cred              []*Node
	CredChildren      []*Node
	Data              []*Node
	DataChildren      []*Node
	CredClone         []*Node
	CredChildrenClone []*Node
	DataClone         []*Node
	DataChildrenClone []*Node

	// FreeAddresses maps virtual ids (by position) to free physical slots
	// discovered during a full scan
	FreeAddresses []Address

	virtCounter uint32
}

// NewStore creates an empty session store for a device with the given flash
// size.
func NewStore(flashMb int, log logging.Logger) *Store {
	if log == nil {
		log = logging.Nop()
	}
	return &Store{
		Layout: FlashLayout{SizeMb: flashMb},
		log:    log,
	}
}

// Reset drops all session state, live and clone.
func (s *Store) Reset() {
	s.Ctr, s.CtrClone = nil, nil
	s.CpzCtr, s.CpzCtrClone = nil, nil
	s.Favorites, s.FavoritesClone = nil, nil
	s.StartCred, s.StartCredClone = nil, nil
	s.StartData, s.StartDataClone = nil, nil
	s.StartCredVirt, s.StartDataVirt = 0, 0
	s.Cred, s.CredClone = nil, nil
	s.CredChildren, s.CredChildrenClone = nil, nil
	s.Data, s.DataClone = nil, nil
	s.DataChildren, s.DataChildrenClone = nil, nil
	s.FreeAddresses = nil
	s.virtCounter = 0
}

// MintVirtualAddress returns the next unused virtual id.
func (s *Store) MintVirtualAddress() uint32 {
	v := s.virtCounter
	s.virtCounter++
	return v
}

// FindNodeByAddress locates a node in the given list by physical address,
// or by virtual id for nodes without one.
func FindNodeByAddress(list []*Node, addr Address, virt uint32) *Node {
	for _, n := range list {
		if n.Address().IsNull() {
			if n.VirtualAddress() == virt {
				return n
			}
		} else if n.Address().Equals(addr) {
			return n
		}
	}
	return nil
}

// FindCredParentByService locates a credential parent by its service string.
func (s *Store) FindCredParentByService(service string) *Node {
	for _, n := range s.Cred {
		if n.Service() == service {
			return n
		}
	}
	return nil
}

// AddCpzCtr appends a CPZ/CTR record to the live and clone lists unless an
// identical record is already known (records are unique by CPZ).
func (s *Store) AddCpzCtr(record []byte) bool {
	for _, r := range s.CpzCtr {
		if bytes.Equal(r, record) {
			s.log.Debug("duplicate cpz/ctr record ignored")
			return false
		}
	}
	rec := append([]byte(nil), record...)
	s.CpzCtr = append(s.CpzCtr, rec)
	s.CpzCtrClone = append(s.CpzCtrClone, append([]byte(nil), record...))
	return true
}

// AddFavorite appends one favorite slot record to the live and clone lists.
func (s *Store) AddFavorite(record []byte) {
	s.Favorites = append(s.Favorites, append([]byte(nil), record...))
	s.FavoritesClone = append(s.FavoritesClone, append([]byte(nil), record...))
}

// SortParentsByService sorts both parent lists alphabetically. The list
// order does not affect the on-flash structure; sorting keeps the ordered
// orphan insertion deterministic after repair chains.
func (s *Store) SortParentsByService() {
	sort.SliceStable(s.Cred, func(i, j int) bool { return s.Cred[i].Service() < s.Cred[j].Service() })
	sort.SliceStable(s.Data, func(i, j int) bool { return s.Data[i].Service() < s.Data[j].Service() })
}

// NodeCount returns the total number of nodes across the four live lists.
func (s *Store) NodeCount() int {
	return len(s.Cred) + len(s.CredChildren) + len(s.Data) + len(s.DataChildren)
}

// Detag clears the pointed tag on every node, ahead of a tag walk.
func (s *Store) Detag() {
	for _, l := range [][]*Node{s.Cred, s.CredChildren, s.Data, s.DataChildren} {
		for _, n := range l {
			n.ClearPointed()
		}
	}
}
