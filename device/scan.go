package device

import (
	"github.com/moolticute/go-mooltipass/memdb"
	"github.com/moolticute/go-mooltipass/protocol"
)

// Progress bookkeeping for chain-follow scans: favorites count as one unit
// each, the two alphabetic walks contribute up to 100 units each.
const scanProgressTotal = 200 + protocol.FavoriteCount

// memMgmtReadFlash appends the full flash-mirroring sequence to a job: CTR,
// CPZ/CTR records, favorites, both start addresses, then either a
// chain-follow or a full-page scan of the node database. Runs on the engine
// goroutine.
func (d *Device) memMgmtReadFlash(jobs *Job, fullScan bool, progress ProgressCallback) {
	s := d.session

	reportProgress := func(current int) {
		if progress != nil {
			progress(scanProgressTotal, current)
		}
	}

	jobs.Append(&SubCommand{
		Cmd: protocol.CmdGetCTRValue,
		Check: func(j *Job, reply []byte, done *bool) bool {
			if protocol.Command(reply) != protocol.CmdGetCTRValue {
				j.SetError("get CTR: device sent an answer packet with a different command id")
				return false
			}
			if protocol.IsSingleByteReply(reply) {
				j.SetError("device refused to send its CTR value")
				return false
			}
			payload := protocol.Payload(reply)
			s.Ctr = append([]byte(nil), payload...)
			s.CtrClone = append([]byte(nil), payload...)
			d.log.Debug("ctr value received", "len", len(payload))

			j.UserData["progress"] = 0
			reportProgress(0)
			return true
		},
	})

	jobs.Append(&SubCommand{
		Cmd: protocol.CmdGetCardCPZCTR,
		Check: func(j *Job, reply []byte, done *bool) bool {
			// the device streams CPZ/CTR packets and terminates the burst
			// with an echo of the request command
			switch protocol.Command(reply) {
			case protocol.CmdCardCPZCTRPacket:
				s.AddCpzCtr(protocol.Payload(reply))
				*done = false
				return true
			case protocol.CmdGetCardCPZCTR:
				d.log.Debug("all cpz/ctr packets received", "count", len(s.CpzCtr))
				return true
			default:
				j.SetError("get CPZ/CTR: device sent an answer packet with a different command id")
				return false
			}
		},
	})

	for i := 0; i < protocol.FavoriteCount; i++ {
		slot := i
		jobs.Append(&SubCommand{
			Cmd:     protocol.CmdGetFavorite,
			Payload: []byte{byte(slot)},
			BeforeSend: func(j *Job, payload []byte) ([]byte, bool) {
				if slot == 0 {
					d.log.Info("loading favorites")
				}
				return payload, true
			},
			Check: func(j *Job, reply []byte, done *bool) bool {
				if protocol.Command(reply) != protocol.CmdGetFavorite {
					j.SetError("get favorite: device sent an answer packet with a different command id")
					return false
				}
				if protocol.IsSingleByteReply(reply) {
					j.SetError("device refused to send us favorites")
					return false
				}
				s.AddFavorite(protocol.Payload(reply)[:memdb.FavoriteSize])

				cur, _ := j.UserData["progress"].(int)
				cur++
				j.UserData["progress"] = cur
				reportProgress(cur)
				return true
			},
		})
	}

	jobs.Append(&SubCommand{
		Cmd: protocol.CmdGetStartingParent,
		Check: func(j *Job, reply []byte, done *bool) bool {
			if protocol.Command(reply) != protocol.CmdGetStartingParent {
				j.SetError("get start node: device sent an answer packet with a different command id")
				return false
			}
			if protocol.IsSingleByteReply(reply) {
				j.SetError("device refused to send us the starting parent")
				return false
			}
			addr := memdb.Address(protocol.Payload(reply)[:protocol.AddressSize])
			s.StartCred = addr.Clone()
			s.StartCredClone = addr.Clone()
			d.log.Debug("credential start node", "address", addr.String())

			if !addr.Equals(memdb.EmptyAddress) && !fullScan {
				d.log.Info("loading credential parent nodes")
				d.loadCredParentNode(jobs, addr, progress)
			}
			return true
		},
	})

	jobs.Append(&SubCommand{
		Cmd: protocol.CmdGetDNStartParent,
		Check: func(j *Job, reply []byte, done *bool) bool {
			if protocol.Command(reply) != protocol.CmdGetDNStartParent {
				j.SetError("get data start node: device sent an answer packet with a different command id")
				return false
			}
			if protocol.IsSingleByteReply(reply) {
				j.SetError("device refused to send us the data starting parent")
				return false
			}
			addr := memdb.Address(protocol.Payload(reply)[:protocol.AddressSize])
			s.StartData = addr.Clone()
			s.StartDataClone = addr.Clone()
			d.log.Debug("data start node", "address", addr.String())

			if !addr.Equals(memdb.EmptyAddress) && !fullScan {
				// full data children are not needed here, only the parents
				// carrying the service names
				d.log.Info("loading data parent nodes")
				d.loadDataParentNode(jobs, addr, false, progress)
			}

			// both start addresses are known now, a full scan can begin
			if fullScan {
				d.scanNodeAndAdvance(jobs, s.Layout.FirstNodeAddress(), progress)
			}
			return true
		},
	})
}

// loadCredParentNode reads one credential parent (a three packet reply) and
// chains the reads of its children and of the next parent.
func (d *Device) loadCredParentNode(jobs *Job, addr memdb.Address, progress ProgressCallback) {
	s := d.session

	d.log.Debug("loading credential parent node", "address", addr.String())

	pnode := memdb.NewNode(addr)
	s.Cred = append(s.Cred, pnode)
	pnodeClone := memdb.NewNode(addr)
	s.CredClone = append(s.CredClone, pnodeClone)

	jobs.Append(&SubCommand{
		Cmd:     protocol.CmdReadFlashNode,
		Payload: addr,
		Check: func(j *Job, reply []byte, done *bool) bool {
			if protocol.Command(reply) != protocol.CmdReadFlashNode {
				j.SetError("get parent node: device sent an answer packet with a different command id")
				return false
			}
			if protocol.IsSingleByteReply(reply) {
				j.SetError("couldn't read parent node, card removed or database corrupted")
				return false
			}

			payload := protocol.Payload(reply)
			pnode.AppendRaw(payload)
			pnodeClone.AppendRaw(payload)

			if !pnode.Complete() {
				*done = false
				return true
			}

			d.log.Debug("parent node loaded", "address", addr.String(), "service", pnode.Service())

			if !pnode.FirstChildAddress().Equals(memdb.EmptyAddress) {
				d.loadCredChildNode(jobs, pnode.FirstChildAddress())
			}
			if !pnode.NextParentAddress().Equals(memdb.EmptyAddress) {
				d.loadCredParentNode(jobs, pnode.NextParentAddress(), progress)
			}
			return true
		},
	})
}

// loadCredChildNode reads one credential child. The read is prepended so
// the child chain completes before the next parent starts.
func (d *Device) loadCredChildNode(jobs *Job, addr memdb.Address) {
	s := d.session

	d.log.Debug("loading credential child node", "address", addr.String())

	cnode := memdb.NewNode(addr)
	s.CredChildren = append(s.CredChildren, cnode)
	cnodeClone := memdb.NewNode(addr)
	s.CredChildrenClone = append(s.CredChildrenClone, cnodeClone)

	jobs.Prepend(&SubCommand{
		Cmd:     protocol.CmdReadFlashNode,
		Payload: addr,
		Check: func(j *Job, reply []byte, done *bool) bool {
			if protocol.Command(reply) != protocol.CmdReadFlashNode {
				j.SetError("get child node: device sent an answer packet with a different command id")
				return false
			}
			if protocol.IsSingleByteReply(reply) {
				j.SetError("couldn't read child node, card removed or database corrupted")
				return false
			}

			payload := protocol.Payload(reply)
			cnode.AppendRaw(payload)
			cnodeClone.AppendRaw(payload)

			if !cnode.Complete() {
				*done = false
				return true
			}

			d.log.Debug("child node loaded", "address", addr.String(), "login", cnode.Login())

			if !cnode.NextChildAddress().Equals(memdb.EmptyAddress) {
				d.loadCredChildNode(jobs, cnode.NextChildAddress())
			}
			return true
		},
	})
}

// loadDataParentNode reads one data parent node, optionally following its
// child chain.
func (d *Device) loadDataParentNode(jobs *Job, addr memdb.Address, loadChildren bool, progress ProgressCallback) {
	s := d.session

	d.log.Debug("loading data parent node", "address", addr.String())

	pnode := memdb.NewNode(addr)
	s.Data = append(s.Data, pnode)
	pnodeClone := memdb.NewNode(addr)
	s.DataClone = append(s.DataClone, pnodeClone)

	jobs.Append(&SubCommand{
		Cmd:     protocol.CmdReadFlashNode,
		Payload: addr,
		Check: func(j *Job, reply []byte, done *bool) bool {
			if protocol.Command(reply) != protocol.CmdReadFlashNode {
				j.SetError("get data node: device sent an answer packet with a different command id")
				return false
			}
			if protocol.IsSingleByteReply(reply) {
				j.SetError("couldn't read data node, card removed or database corrupted")
				return false
			}

			payload := protocol.Payload(reply)
			pnode.AppendRaw(payload)
			pnodeClone.AppendRaw(payload)

			if !pnode.Complete() {
				*done = false
				return true
			}

			d.log.Debug("data parent node loaded", "service", pnode.Service())

			if !pnode.FirstChildAddress().Equals(memdb.EmptyAddress) && loadChildren {
				d.loadDataChildNode(jobs, pnode.FirstChildAddress())
			}
			if !pnode.NextParentAddress().Equals(memdb.EmptyAddress) {
				d.loadDataParentNode(jobs, pnode.NextParentAddress(), loadChildren, progress)
			}
			return true
		},
	})
}

// loadDataChildNode reads one data child node.
func (d *Device) loadDataChildNode(jobs *Job, addr memdb.Address) {
	s := d.session

	d.log.Debug("loading data child node", "address", addr.String())

	cnode := memdb.NewNode(addr)
	s.DataChildren = append(s.DataChildren, cnode)
	cnodeClone := memdb.NewNode(addr)
	s.DataChildrenClone = append(s.DataChildrenClone, cnodeClone)

	jobs.Prepend(&SubCommand{
		Cmd:     protocol.CmdReadFlashNode,
		Payload: addr,
		Check: func(j *Job, reply []byte, done *bool) bool {
			if protocol.Command(reply) != protocol.CmdReadFlashNode {
				j.SetError("get data child node: device sent an answer packet with a different command id")
				return false
			}
			if protocol.IsSingleByteReply(reply) {
				j.SetError("couldn't read data child node, card removed or database corrupted")
				return false
			}

			payload := protocol.Payload(reply)
			cnode.AppendRaw(payload)
			cnodeClone.AppendRaw(payload)

			if !cnode.Complete() {
				*done = false
				return true
			}

			if !cnode.NextDataAddress().Equals(memdb.EmptyAddress) {
				d.loadDataChildNode(jobs, cnode.NextDataAddress())
			}
			return true
		},
	})
}

// scanNodeAndAdvance reads the node slot at addr during a full-page scan
// and arms the read of the following slot, walking the entire flash. Empty
// slots (one byte replies) are recorded as free addresses for later
// virtual-address resolution.
func (d *Device) scanNodeAndAdvance(jobs *Job, addr memdb.Address, progress ProgressCallback) {
	s := d.session
	layout := s.Layout

	if layout.EndReached(addr) {
		d.log.Debug("reached the end of flash memory")
		return
	}

	if progress != nil && addr.Slot() == 0 {
		progress(int(layout.PageCount()), int(addr.Page()))
	}

	pnode := memdb.NewNode(addr)
	pnodeClone := memdb.NewNode(addr)

	jobs.Append(&SubCommand{
		Cmd:     protocol.CmdReadFlashNode,
		Payload: addr,
		Check: func(j *Job, reply []byte, done *bool) bool {
			if protocol.Command(reply) != protocol.CmdReadFlashNode {
				j.SetError("scan: device sent an answer packet with a different command id")
				return false
			}
			if protocol.IsSingleByteReply(reply) {
				// read not allowed there: the slot is empty and free
				s.FreeAddresses = append(s.FreeAddresses, addr.Clone())
				d.scanNodeAndAdvance(jobs, layout.NextNodeAddress(addr), progress)
				return true
			}

			payload := protocol.Payload(reply)
			pnode.AppendRaw(payload)
			pnodeClone.AppendRaw(payload)

			if !pnode.Complete() {
				*done = false
				return true
			}

			if pnode.Valid() {
				switch pnode.Type() {
				case memdb.NodeParent:
					d.log.Debug("scan: credential parent", "address", addr.String(), "service", pnode.Service())
					s.Cred = append(s.Cred, pnode)
					s.CredClone = append(s.CredClone, pnodeClone)
				case memdb.NodeChild:
					d.log.Debug("scan: credential child", "address", addr.String(), "login", pnode.Login())
					s.CredChildren = append(s.CredChildren, pnode)
					s.CredChildrenClone = append(s.CredChildrenClone, pnodeClone)
				case memdb.NodeParentData:
					d.log.Debug("scan: data parent", "address", addr.String(), "service", pnode.Service())
					s.Data = append(s.Data, pnode)
					s.DataClone = append(s.DataClone, pnodeClone)
				case memdb.NodeChildData:
					d.log.Debug("scan: data child", "address", addr.String())
					s.DataChildren = append(s.DataChildren, pnode)
					s.DataChildrenClone = append(s.DataChildrenClone, pnodeClone)
				}
			}

			d.scanNodeAndAdvance(jobs, layout.NextNodeAddress(addr), progress)
			return true
		},
	})
}
