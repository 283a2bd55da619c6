package memdb

import "fmt"

// RecoveredServiceName is the synthetic service under which orphan
// credential children are re-homed.
const RecoveredServiceName = "_recovered_"

// AddOrphanParent inserts an untagged parent node back into its chain at
// the position that keeps services in ascending order, rewriting exactly the
// two surrounding prev/next pairs (or the start pointer when inserted at the
// head). The chain must have been tag-walked beforehand so that the tagged
// nodes form a valid linked list.
func (s *Store) AddOrphanParent(parent *Node, isData bool) bool {
	parents := s.Cred
	if isData {
		parents = s.Data
	}

	s.log.Info("re-inserting orphan parent", "service", parent.Service(), "data", isData)

	if parent.Pointed() {
		s.log.Error("orphan parent is already pointed to", "service", parent.Service())
		return true
	}

	setStart := func(n *Node) {
		if isData {
			s.StartData = n.Address()
			s.StartDataVirt = n.VirtualAddress()
		} else {
			s.StartCred = n.Address()
			s.StartCredVirt = n.VirtualAddress()
		}
	}

	var last *Node
	for _, candidate := range parents {
		if !candidate.Pointed() {
			continue
		}
		last = candidate

		if candidate.Service() <= parent.Service() {
			continue
		}

		// candidate is the first tagged parent sorting after ours: insert
		// right before it
		s.log.Info("inserting parent before", "service", candidate.Service())

		prevAddr := candidate.PreviousParentAddress()
		prevVirt := candidate.PreviousParentVirtualAddress()
		if prevAddr.Equals(EmptyAddress) {
			// new chain head
			s.log.Info("orphan parent becomes the new start node")
			setStart(parent)
			parent.SetPreviousParentAddress(EmptyAddress)
		} else {
			prev := FindNodeByAddress(parents, prevAddr, prevVirt)
			if prev == nil {
				s.log.Error("previous parent unresolvable in a valid chain", "address", prevAddr.String())
				return false
			}
			prev.SetNextParentAddress(parent.Address(), parent.VirtualAddress())
			parent.SetPreviousParentAddress(prev.Address(), prev.VirtualAddress())
		}

		candidate.SetPreviousParentAddress(parent.Address(), parent.VirtualAddress())
		parent.SetNextParentAddress(candidate.Address(), candidate.VirtualAddress())

		// re-walk so the orphan's children get tagged too
		s.TagPointedNodes(true)
		return true
	}

	if last == nil {
		// empty chain
		s.log.Info("empty chain, orphan parent becomes the only node")
		setStart(parent)
		parent.SetPreviousParentAddress(EmptyAddress)
		parent.SetNextParentAddress(EmptyAddress)
	} else {
		// every tagged parent sorts before ours: append at the tail
		s.log.Info("appending orphan parent after", "service", last.Service())
		last.SetNextParentAddress(parent.Address(), parent.VirtualAddress())
		parent.SetPreviousParentAddress(last.Address(), last.VirtualAddress())
		parent.SetNextParentAddress(EmptyAddress)
	}

	s.TagPointedNodes(true)
	return true
}

// AddNewService creates a credential parent with a virtual address for the
// given service and threads it into the chain in order. Returns nil when the
// service already exists.
func (s *Store) AddNewService(service string) (*Node, error) {
	if existing := s.FindCredParentByService(service); existing != nil {
		return nil, fmt.Errorf("service %q already exists", service)
	}

	s.log.Debug("creating new service", "service", service)

	n := NewVirtualNode(NodeParent, s.MintVirtualAddress())
	if err := n.SetService(service); err != nil {
		return nil, err
	}
	n.SetNextParentAddress(EmptyAddress)
	n.SetPreviousParentAddress(EmptyAddress)
	n.SetFirstChildAddress(EmptyAddress)

	s.Cred = append(s.Cred, n)
	s.AddOrphanParent(n, false)
	return n, nil
}

// AddOrphanChild re-homes an untagged credential child under the synthetic
// "_recovered_" parent, appending at the end of its child chain in discovery
// order.
func (s *Store) AddOrphanChild(child *Node) bool {
	s.log.Info("re-homing orphan child", "login", child.Login())

	parent := s.FindCredParentByService(RecoveredServiceName)
	if parent == nil {
		s.log.Info("creating the recovery service")
		var err error
		parent, err = s.AddNewService(RecoveredServiceName)
		if err != nil {
			s.log.Error("cannot create recovery service", "error", err.Error())
			return false
		}
	}

	child.SetNextChildAddress(EmptyAddress)

	first := parent.FirstChildAddress()
	if first.Equals(EmptyAddress) {
		parent.SetFirstChildAddress(child.Address(), child.VirtualAddress())
		child.SetPreviousChildAddress(EmptyAddress)
		s.TagPointedNodes(true)
		return true
	}

	// walk to the tail of the recovery chain
	cur := FindNodeByAddress(s.CredChildren, first, parent.FirstChildVirtualAddress())
	for cur != nil && !cur.NextChildAddress().Equals(EmptyAddress) {
		cur = FindNodeByAddress(s.CredChildren, cur.NextChildAddress(), cur.NextChildVirtualAddress())
	}
	if cur == nil {
		s.log.Error("recovery child chain is broken")
		return false
	}

	cur.SetNextChildAddress(child.Address(), child.VirtualAddress())
	child.SetPreviousChildAddress(cur.Address(), cur.VirtualAddress())

	s.TagPointedNodes(true)
	return true
}
