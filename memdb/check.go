package memdb

import (
	"fmt"

	"go.uber.org/multierr"
)

// TagPointedNodes walks the two canonical chains and tags every node that is
// reachable from the start addresses. It reports false when any structural
// violation was observed. With repair set, in-memory fixes are applied:
// broken links are truncated and incorrect previous pointers rewritten.
//
// A fatal violation (unresolvable or looping link) stops the walk
// immediately; the caller is expected to handle the resulting untagged
// nodes as orphans and run the walk again.
func (s *Store) TagPointedNodes(repair bool) bool {
	s.Detag()

	ok, fatal := s.tagParentChain(false, repair)
	if fatal {
		return false
	}

	dataOk, fatal := s.tagParentChain(true, repair)
	if fatal {
		return false
	}

	return ok && dataOk
}

// tagParentChain walks one parent chain (credential or data) and its child
// chains. It returns ok=false when a mismatch was seen and fatal=true when
// the walk had to stop.
func (s *Store) tagParentChain(isData, repair bool) (ok, fatal bool) {
	ok = true

	parents, children := s.Cred, s.CredChildren
	start, startVirt := s.StartCred, s.StartCredVirt
	if isData {
		parents, children = s.Data, s.DataChildren
		start, startVirt = s.StartData, s.StartDataVirt
	}

	setStart := func(a Address) {
		if isData {
			s.StartData = a
		} else {
			s.StartCred = a
		}
	}

	addr := start
	virt := startVirt
	var prev *Node

	for !addr.Equals(EmptyAddress) {
		next := FindNodeByAddress(parents, addr, virt)

		if next == nil {
			s.log.Error("tag: parent node not found", "address", addr.String(), "data", isData)
			if repair {
				if prev == nil {
					setStart(EmptyAddress)
				} else {
					prev.SetNextParentAddress(EmptyAddress)
				}
			}
			return false, true
		}

		if next.Pointed() {
			s.log.Error("tag: parent chain loop detected", "address", addr.String(), "data", isData)
			if repair {
				if prev == nil {
					setStart(EmptyAddress)
				} else {
					prev.SetNextParentAddress(EmptyAddress)
				}
			}
			return false, true
		}

		// verify the backward pointer against the expected predecessor
		wantPrev := EmptyAddress
		if prev != nil {
			wantPrev = prev.Address()
		}
		if !next.PreviousParentAddress().Equals(wantPrev) {
			s.log.Warn("tag: parent has incorrect previous address",
				"service", next.Service(),
				"address", addr.String(),
				"got", next.PreviousParentAddress().String(),
				"want", wantPrev.String())
			if repair {
				if prev != nil {
					next.SetPreviousParentAddress(prev.Address(), prev.VirtualAddress())
				} else {
					next.SetPreviousParentAddress(EmptyAddress)
				}
			}
			ok = false
		}

		next.SetPointed()

		childOk, childFatal := s.tagChildChain(next, children, isData, repair)
		if childFatal {
			return false, true
		}
		ok = ok && childOk

		prev = next
		addr = next.NextParentAddress()
		virt = next.NextParentVirtualAddress()
	}

	return ok, false
}

func (s *Store) tagChildChain(parent *Node, children []*Node, isData, repair bool) (ok, fatal bool) {
	ok = true

	nextOf := func(c *Node) (Address, uint32) {
		if isData {
			return c.NextDataAddress(), c.NextChildVirtualAddress()
		}
		return c.NextChildAddress(), c.NextChildVirtualAddress()
	}
	truncate := func(c *Node) {
		if isData {
			c.SetNextDataAddress(EmptyAddress)
		} else {
			c.SetNextChildAddress(EmptyAddress)
		}
	}

	addr := parent.FirstChildAddress()
	var virt uint32 = parent.FirstChildVirtualAddress()
	var prev *Node

	for !addr.Equals(EmptyAddress) {
		next := FindNodeByAddress(children, addr, virt)

		if next == nil {
			s.log.Warn("tag: child node not found", "address", addr.String(), "data", isData)
			ok = false
			if repair {
				if prev == nil {
					parent.SetFirstChildAddress(EmptyAddress)
				} else {
					truncate(prev)
				}
			}
			// skip to the next parent
			return ok, false
		}

		if next.Pointed() {
			if prev == nil {
				s.log.Error("tag: parent points at an already tagged child",
					"parent", parent.Address().String(), "child", addr.String())
				if repair {
					parent.SetFirstChildAddress(EmptyAddress)
				}
			} else {
				s.log.Error("tag: child chain loop detected",
					"from", prev.Address().String(), "to", addr.String())
				if repair {
					truncate(prev)
				}
			}
			return false, true
		}

		// data children are singly linked, only the forward pointer is
		// checked
		if !isData {
			wantPrev := EmptyAddress
			if prev != nil {
				wantPrev = prev.Address()
			}
			if !next.PreviousChildAddress().Equals(wantPrev) {
				s.log.Warn("tag: child has incorrect previous address",
					"login", next.Login(),
					"address", addr.String(),
					"got", next.PreviousChildAddress().String(),
					"want", wantPrev.String())
				if repair {
					if prev != nil {
						next.SetPreviousChildAddress(prev.Address(), prev.VirtualAddress())
					} else {
						next.SetPreviousChildAddress(EmptyAddress)
					}
				}
				ok = false
			}
		}

		next.SetPointed()
		prev = next
		addr, virt = nextOf(next)
	}

	return ok, false
}

// CheckLoadedNodes runs the full integrity pass: tag walk, orphan rescue,
// favorite scrubbing. It reports whether the database was fully consistent;
// the returned error aggregates every violation found. With repair set the
// database is fixed in memory and the repairs are double checked with a
// second, repair-free pass.
func (s *Store) CheckLoadedNodes(repair bool) (bool, error) {
	var errs error

	s.log.Info("checking database")

	ok := s.TagPointedNodes(repair)
	if !ok {
		errs = multierr.Append(errs, fmt.Errorf("linked chain violations detected"))
	}

	var orphanParents, orphanChildren, orphanDataParents, orphanDataChildren int

	for _, n := range s.Cred {
		if !n.Pointed() {
			s.log.Warn("orphan credential parent", "service", n.Service(), "address", n.Address().String())
			errs = multierr.Append(errs, fmt.Errorf("orphan credential parent %q", n.Service()))
			if repair {
				s.AddOrphanParent(n, false)
			}
			orphanParents++
		}
	}
	for _, n := range s.CredChildren {
		if !n.Pointed() {
			s.log.Warn("orphan credential child", "login", n.Login(), "address", n.Address().String())
			errs = multierr.Append(errs, fmt.Errorf("orphan credential child %q", n.Login()))
			if repair {
				s.AddOrphanChild(n)
			}
			orphanChildren++
		}
	}
	for _, n := range s.Data {
		if !n.Pointed() {
			s.log.Warn("orphan data parent", "service", n.Service(), "address", n.Address().String())
			errs = multierr.Append(errs, fmt.Errorf("orphan data parent %q", n.Service()))
			if repair {
				s.AddOrphanParent(n, true)
			}
			orphanDataParents++
		}
	}
	for _, n := range s.DataChildren {
		if !n.Pointed() {
			// data children carry no parent context; they are reported but
			// never reparented
			s.log.Warn("orphan data child", "address", n.Address().String())
			errs = multierr.Append(errs, fmt.Errorf("orphan data child at %s", n.Address().String()))
			orphanDataChildren++
		}
	}

	s.log.Info("orphan scan done",
		"parents", orphanParents,
		"children", orphanChildren,
		"dataParents", orphanDataParents,
		"dataChildren", orphanDataChildren)

	s.scrubFavorites()

	if orphanParents+orphanChildren+orphanDataParents+orphanDataChildren > 0 {
		ok = false
	}

	if ok {
		s.log.Info("database check ok")
		return true, nil
	}

	if repair {
		s.log.Info("repairs applied, double checking")
		if verified, _ := s.CheckLoadedNodes(false); !verified {
			s.log.Error("repair double check failed")
			return false, multierr.Append(errs, fmt.Errorf("repairs did not converge"))
		}
		s.log.Info("repairs verified")
	}

	return false, errs
}

// scrubFavorites zeroes every favorite slot whose parent or child address
// does not resolve to a live node. A slot counts as set when either of its
// two addresses is non-empty.
func (s *Store) scrubFavorites() {
	for i, fav := range s.Favorites {
		if len(fav) < FavoriteSize {
			continue
		}
		paddr := Address(fav[0:2])
		caddr := Address(fav[2:4])

		if paddr.IsEmpty() && caddr.IsEmpty() {
			continue
		}

		pnode := FindNodeByAddress(s.Cred, paddr, 0)
		cnode := FindNodeByAddress(s.CredChildren, caddr, 0)

		if pnode == nil || cnode == nil {
			s.log.Error("favorite points at a missing node", "slot", i)
			for j := range fav {
				fav[j] = 0
			}
		}
	}
}
