package memdb

import "fmt"

// RunSelfTest exercises the repair code against a known clean database:
// each scenario corrupts the in-memory state in a way the repairer must be
// able to undo byte-exactly, so that no save operations get generated (the
// on-flash content was correct all along).
//
// The store must hold at least seven credential parents and seven data
// parents.
func (s *Store) RunSelfTest() error {
	if len(s.Cred) < 7 || len(s.Data) < 7 {
		return fmt.Errorf("self test needs at least 7 credential and 7 data parents, have %d/%d",
			len(s.Cred), len(s.Data))
	}

	// Invalid because it points into the graphics zone.
	invalid := AddressFromValue(0x0002)

	check := func(name string) error {
		s.CheckLoadedNodes(true)
		if ops := s.GenerateSaveOps(); len(ops) != 0 {
			return fmt.Errorf("self test %q: repair left %d save operations", name, len(ops))
		}
		s.log.Info("self test scenario passed", "scenario", name)
		return nil
	}

	s.log.Info("running repair self test on parent chain")

	s.Cred[1].SetNextParentAddress(s.Cred[3].Address())
	if err := check("skip one parent link"); err != nil {
		return err
	}

	s.StartCred = s.Cred[1].Address().Clone()
	s.Cred[1].SetPreviousParentAddress(EmptyAddress)
	if err := check("skip first parent"); err != nil {
		return err
	}

	s.Cred[len(s.Cred)-2].SetNextParentAddress(EmptyAddress)
	if err := check("skip last parent"); err != nil {
		return err
	}

	s.StartCred = invalid.Clone()
	if err := check("invalid start node"); err != nil {
		return err
	}

	s.Cred[5].SetPreviousParentAddress(s.Cred[2].Address())
	if err := check("parent previous pointer loop"); err != nil {
		return err
	}

	s.Cred[5].SetPreviousParentAddress(invalid)
	s.Cred[5].SetNextParentAddress(invalid)
	if err := check("broken parent linked list"); err != nil {
		return err
	}

	s.FreeAddresses = []Address{nil, s.Cred[1].Address().Clone()}
	s.Cred[1].SetAddress(nil, 1)
	s.Cred[0].SetNextParentAddress(nil, 1)
	s.Cred[2].SetPreviousParentAddress(nil, 1)
	if err := s.ResolveVirtualAddresses(); err != nil {
		return err
	}
	if err := check("virtual address substitution"); err != nil {
		return err
	}

	s.log.Info("running repair self test on data parent chain")

	s.Data[1].SetNextParentAddress(s.Data[3].Address())
	if err := check("skip one data parent link"); err != nil {
		return err
	}

	s.StartData = s.Data[1].Address().Clone()
	s.Data[1].SetPreviousParentAddress(EmptyAddress)
	if err := check("skip first data parent"); err != nil {
		return err
	}

	s.Data[len(s.Data)-2].SetNextParentAddress(EmptyAddress)
	if err := check("skip last data parent"); err != nil {
		return err
	}

	s.StartData = invalid.Clone()
	if err := check("invalid data start node"); err != nil {
		return err
	}

	s.Data[5].SetPreviousParentAddress(s.Data[2].Address())
	if err := check("data parent previous pointer loop"); err != nil {
		return err
	}

	s.Data[5].SetPreviousParentAddress(invalid)
	s.Data[5].SetNextParentAddress(invalid)
	if err := check("broken data parent linked list"); err != nil {
		return err
	}

	s.FreeAddresses = []Address{nil, s.Data[1].Address().Clone()}
	s.Data[1].SetAddress(nil, 1)
	s.Data[0].SetNextParentAddress(nil, 1)
	s.Data[2].SetPreviousParentAddress(nil, 1)
	if err := s.ResolveVirtualAddresses(); err != nil {
		return err
	}
	if err := check("data virtual address substitution"); err != nil {
		return err
	}

	s.log.Info("repair self test passed")
	return nil
}
