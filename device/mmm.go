package device

import (
	"github.com/moolticute/go-mooltipass/memdb"
	"github.com/moolticute/go-mooltipass/protocol"
)

// Session exposes the live memory management session, nil outside MMM. The
// returned store must only be touched from engine callbacks.
func (d *Device) Session() *memdb.Store {
	return d.session
}

// clearSession drops all MMM state, live and clone. Runs on the engine
// goroutine.
func (d *Device) clearSession() {
	if d.session != nil {
		d.session.Reset()
	}
	d.session = nil
	d.setObservable(func(o *observable) { o.memMgmt = false })
}

// StartMemMgmt puts the device into memory management mode and mirrors the
// whole flash database into host memory with a chain-follow scan. On any
// failure the session is cleared and the device is told to leave MMM.
func (d *Device) StartMemMgmt(progress ProgressCallback, cb ResultCallback) {
	d.post(func() {
		if d.InMemMgmt() {
			cb(false, "memory management mode already active")
			return
		}
		if d.FlashMb() == 0 {
			cb(false, "device version not known yet")
			return
		}

		d.session = memdb.NewStore(d.FlashMb(), d.log)

		jobs := newJob("starting memory management mode", "")
		jobs.Append(&SubCommand{
			Cmd:   protocol.CmdStartMemoryMgmt,
			Check: checkDefaultResult,
		})
		d.memMgmtReadFlash(jobs, false, progress)

		jobs.onFinished = func([]byte) {
			d.log.Info("memory management mode enabled")
			d.setObservable(func(o *observable) { o.memMgmt = true })
			cb(true, "")
		}
		jobs.onFailed = func(*SubCommand) {
			d.log.Error("entering memory management mode failed", "error", jobs.Error())
			errstr := jobs.Error()
			d.clearSession()
			d.exitMemMgmt(false)
			cb(false, errstr)
		}

		d.enqueueJob(jobs)
	})
}

// ExitMemMgmt leaves memory management mode. With checkState set, the
// loaded database is integrity checked (without repairs) before leaving.
// The session is cleared in every outcome.
func (d *Device) ExitMemMgmt(checkState bool) {
	d.post(func() {
		if checkState && d.session != nil {
			d.session.CheckLoadedNodes(false)
		}
		d.exitMemMgmt(checkState)
	})
}

// exitMemMgmt sends the END_MEMORYMGMT command and clears the session on
// both the success and failure paths. Runs on the engine goroutine.
func (d *Device) exitMemMgmt(logFailure bool) {
	jobs := newJob("exiting memory management mode", "")
	jobs.Append(&SubCommand{
		Cmd:   protocol.CmdEndMemoryMgmt,
		Check: checkDefaultResult,
	})

	jobs.onFinished = func([]byte) {
		d.log.Info("memory management mode exit ok")
		d.clearSession()
	}
	jobs.onFailed = func(*SubCommand) {
		if logFailure {
			d.log.Error("failed to exit memory management mode")
		}
		d.clearSession()
	}

	d.enqueueJob(jobs)
}

// CommitMemMgmt verifies the edited session, assigns physical slots to
// in-memory nodes, streams the minimal write-back set to the device, then
// leaves memory management mode. The session is cleared in every outcome.
func (d *Device) CommitMemMgmt(cb ResultCallback) {
	d.post(func() {
		if !d.InMemMgmt() || d.session == nil {
			cb(false, "no active memory management session")
			return
		}

		ok, err := d.session.CheckLoadedNodes(false)
		if !ok {
			reason := "structural errors detected"
			if err != nil {
				reason = err.Error()
			}
			errstr := (&protocol.DatabaseCorruptError{Reason: reason}).Error()
			d.clearSession()
			d.exitMemMgmt(true)
			cb(false, errstr)
			return
		}

		if err := d.session.ResolveVirtualAddresses(); err != nil {
			d.clearSession()
			d.exitMemMgmt(true)
			cb(false, err.Error())
			return
		}

		frames, err := memdb.Packets(d.session.GenerateSaveOps())
		if err != nil {
			d.clearSession()
			d.exitMemMgmt(true)
			cb(false, err.Error())
			return
		}

		d.log.Info("committing memory management changes", "packets", len(frames))

		jobs := newJob("writing back memory management changes", "")
		for _, frame := range frames {
			jobs.Append(&SubCommand{
				Cmd:     protocol.Command(frame[:]),
				Payload: append([]byte(nil), protocol.Payload(frame[:])...),
				Check:   checkDefaultResult,
			})
		}
		jobs.Append(&SubCommand{
			Cmd:   protocol.CmdEndMemoryMgmt,
			Check: checkDefaultResult,
		})

		jobs.onFinished = func([]byte) {
			d.log.Info("memory management changes committed")
			d.clearSession()
			cb(true, "")
		}
		jobs.onFailed = func(*SubCommand) {
			d.log.Error("writing back memory management changes failed", "error", jobs.Error())
			errstr := jobs.Error()
			d.clearSession()
			cb(false, errstr)
		}

		d.enqueueJob(jobs)
	})
}

// StartIntegrityCheck mirrors the whole flash with a full-page scan, checks
// and repairs the database structure in memory, optionally runs the repair
// self-test against the loaded database, and leaves memory management mode.
func (d *Device) StartIntegrityCheck(runSelfTest bool, cb ResultCallback, progress ProgressCallback) {
	d.post(func() {
		if d.InMemMgmt() {
			cb(false, "memory management mode already active")
			return
		}
		if d.FlashMb() == 0 {
			cb(false, "device version not known yet")
			return
		}

		d.session = memdb.NewStore(d.FlashMb(), d.log)

		jobs := newJob("starting integrity check", "")
		jobs.Append(&SubCommand{
			Cmd:   protocol.CmdStartMemoryMgmt,
			Check: checkDefaultResult,
		})
		d.memMgmtReadFlash(jobs, true, progress)

		jobs.onFinished = func([]byte) {
			d.log.Info("flash scan finished", "nodes", d.session.NodeCount())

			// a full-page scan returns the nodes in address order; the
			// ordered orphan insertion needs them sorted by service
			d.session.SortParentsByService()

			checkOk, checkErr := d.session.CheckLoadedNodes(true)
			if !checkOk && checkErr != nil {
				d.log.Warn("integrity check repaired errors", "detail", checkErr.Error())
			}

			var selfTestErr error
			if runSelfTest {
				selfTestErr = d.session.RunSelfTest()
			}

			endJobs := newJob("finishing integrity check", "")
			endJobs.Append(&SubCommand{
				Cmd:   protocol.CmdEndMemoryMgmt,
				Check: checkDefaultResult,
			})
			endJobs.onFinished = func([]byte) {
				d.log.Info("integrity check finished")
				d.clearSession()
				if selfTestErr != nil {
					cb(false, selfTestErr.Error())
					return
				}
				cb(true, "")
			}
			endJobs.onFailed = func(*SubCommand) {
				d.log.Error("could not finish integrity check")
				errstr := endJobs.Error()
				d.clearSession()
				cb(false, errstr)
			}
			d.enqueueJob(endJobs)
		}
		jobs.onFailed = func(*SubCommand) {
			d.log.Error("failed scanning the flash memory", "error", jobs.Error())
			errstr := jobs.Error()
			d.clearSession()
			cb(false, errstr)
		}

		d.enqueueJob(jobs)
	})
}
