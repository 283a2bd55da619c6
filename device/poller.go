package device

import "github.com/moolticute/go-mooltipass/protocol"

// pollStatus sends one status probe. On transitions into Unlocked (or out of
// Unknown) the parameter reload and date-set jobs are triggered. Runs on the
// engine goroutine.
func (d *Device) pollStatus() {
	d.sendCommand(protocol.CmdStatus, nil, func(ok bool, reply []byte, done *bool) {
		if !ok {
			return
		}
		if protocol.Command(reply) != protocol.CmdStatus {
			return
		}

		s := protocol.DeviceStatus(reply[protocol.PayloadFieldIndex])
		old := d.Status()

		if s != old || s == protocol.StatusUnknown {
			d.log.Debug("device status changed", "status", s.String())

			if s == protocol.StatusUnlocked || old == protocol.StatusUnknown {
				d.paramRetries = 0
				d.dateRetries = 0
				d.changeNbRetries = 0
				d.loadParameters()
				d.setCurrentDate()
			}
		}

		d.setObservable(func(o *observable) { o.status = s })
	})
}
