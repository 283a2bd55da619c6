package memdb

import "fmt"

// ResolveVirtualAddresses maps every node minted in memory to a free
// physical slot and rewrites all pointer fields that still reference a
// virtual id. FreeAddresses is indexed by virtual id; it must hold at least
// as many entries as ids were minted.
func (s *Store) ResolveVirtualAddresses() error {
	free := func(virt uint32) (Address, error) {
		if int(virt) >= len(s.FreeAddresses) {
			return nil, fmt.Errorf("no free slot for virtual id %d (have %d)", virt, len(s.FreeAddresses))
		}
		return s.FreeAddresses[virt], nil
	}

	resolve := func(pending bool, virt uint32, set func(Address, ...uint32)) error {
		if !pending {
			return nil
		}
		addr, err := free(virt)
		if err != nil {
			return err
		}
		set(addr)
		return nil
	}

	for _, n := range s.Cred {
		if n.Address().IsNull() {
			addr, err := free(n.VirtualAddress())
			if err != nil {
				return err
			}
			n.SetAddress(addr)
		}
		if err := resolve(n.nextPending, n.NextParentVirtualAddress(), n.SetNextParentAddress); err != nil {
			return err
		}
		if err := resolve(n.prevPending, n.PreviousParentVirtualAddress(), n.SetPreviousParentAddress); err != nil {
			return err
		}
		if err := resolve(n.firstChildPending, n.FirstChildVirtualAddress(), n.SetFirstChildAddress); err != nil {
			return err
		}
	}
	for _, n := range s.CredChildren {
		if n.Address().IsNull() {
			addr, err := free(n.VirtualAddress())
			if err != nil {
				return err
			}
			n.SetAddress(addr)
		}
		if err := resolve(n.nextPending, n.NextChildVirtualAddress(), n.SetNextChildAddress); err != nil {
			return err
		}
		if err := resolve(n.prevPending, n.PreviousChildVirtualAddress(), n.SetPreviousChildAddress); err != nil {
			return err
		}
	}
	for _, n := range s.Data {
		if n.Address().IsNull() {
			addr, err := free(n.VirtualAddress())
			if err != nil {
				return err
			}
			n.SetAddress(addr)
		}
		if err := resolve(n.nextPending, n.NextParentVirtualAddress(), n.SetNextParentAddress); err != nil {
			return err
		}
		if err := resolve(n.prevPending, n.PreviousParentVirtualAddress(), n.SetPreviousParentAddress); err != nil {
			return err
		}
		if err := resolve(n.firstChildPending, n.FirstChildVirtualAddress(), n.SetFirstChildAddress); err != nil {
			return err
		}
	}
	for _, n := range s.DataChildren {
		if n.Address().IsNull() {
			addr, err := free(n.VirtualAddress())
			if err != nil {
				return err
			}
			n.SetAddress(addr)
		}
		if err := resolve(n.nextPending, n.NextChildVirtualAddress(), n.SetNextDataAddress); err != nil {
			return err
		}
	}

	// start pointers can be virtual after a head insertion
	if s.StartCred.IsNull() {
		addr, err := free(s.StartCredVirt)
		if err != nil {
			return err
		}
		s.StartCred = addr.Clone()
	}
	if s.StartData.IsNull() {
		addr, err := free(s.StartDataVirt)
		if err != nil {
			return err
		}
		s.StartData = addr.Clone()
	}

	return nil
}
