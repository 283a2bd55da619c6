package device

import "github.com/moolticute/go-mooltipass/protocol"

// CancelRequest cancels the job identified by reqid. A queued job is
// removed immediately; the running job gets a cancel packet sent past the
// command queue (the pending command may be blocking it) and fails on its
// next reply check.
func (d *Device) CancelRequest(reqid string) {
	d.post(func() {
		if !d.IsFw12() {
			d.log.Debug("cancel request not supported before firmware v1.2")
			return
		}

		d.log.Info("cancelling user request", "reqid", reqid)

		if d.currentJob != nil && d.currentJob.ID == reqid {
			d.log.Info("request is currently running, sending out-of-band cancel")
			d.currentJob.cancelled = true

			frame, err := protocol.BuildPacket(protocol.CmdCancelUserRequest, nil)
			if err == nil {
				if werr := d.tr.WriteFrame(frame); werr != nil {
					d.log.Error("cancel write failed", "error", werr.Error())
				}
			}
			return
		}

		for i, j := range d.jobQueue {
			if j.ID == reqid {
				d.log.Info("removing queued request", "reqid", reqid)
				d.jobQueue = append(d.jobQueue[:i], d.jobQueue[i+1:]...)
				j.SetError(protocol.ErrCancelled.Error())
				if j.onFailed != nil {
					j.onFailed(nil)
				}
				return
			}
		}

		d.log.Warn("no request found for cancellation", "reqid", reqid)
	})
}
