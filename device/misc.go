package device

import (
	"encoding/hex"
	"time"

	"github.com/moolticute/go-mooltipass/protocol"
)

// setCurrentDate pushes the host date to the device. On success, firmware
// v1.2 and later get their change counters queried; on failure the job
// re-queues itself up to the retry limit. Runs on the engine goroutine.
func (d *Device) setCurrentDate() {
	jobs := newJob("sending date to device", "")

	jobs.Append(&SubCommand{
		Cmd: protocol.CmdSetDate,
		BeforeSend: func(j *Job, _ []byte) ([]byte, bool) {
			payload := protocol.EncodeDate(time.Now())
			d.log.Debug("sending current date", "payload", hex.EncodeToString(payload))
			return payload, true
		},
		Check: func(j *Job, reply []byte, done *bool) bool {
			if protocol.Command(reply) != protocol.CmdSetDate {
				d.log.Warn("set date: wrong command in answer", "cmd", protocol.Command(reply))
				return false
			}
			return true
		},
	})

	jobs.onFinished = func([]byte) {
		d.log.Info("date set on device")
		d.dateRetries = 0
		if d.IsFw12() {
			d.getChangeNumbers()
		}
	}
	jobs.onFailed = func(*SubCommand) {
		d.log.Warn("failed to set date on device")
		if d.dateRetries < d.cfg.RetryLimit {
			d.dateRetries++
			d.setCurrentDate()
		}
	}

	d.enqueueJob(jobs)
}

// getChangeNumbers queries the credentials/data database change counters.
// Runs on the engine goroutine.
func (d *Device) getChangeNumbers() {
	jobs := newJob("loading database change numbers", "")

	jobs.Append(&SubCommand{
		Cmd: protocol.CmdGetUserChangeNb,
		Check: func(j *Job, reply []byte, done *bool) bool {
			nb, err := protocol.ParseChangeNumbersResponse(protocol.Payload(reply))
			if err != nil {
				d.log.Warn("could not read change numbers", "error", err.Error())
				return true
			}
			d.log.Debug("database change numbers",
				"credentials", nb.Credentials, "data", nb.Data)
			d.setObservable(func(o *observable) {
				o.credChangeNb = int(nb.Credentials)
				o.dataChangeNb = int(nb.Data)
			})
			return true
		},
	})

	jobs.onFinished = func([]byte) {
		d.log.Info("finished loading change numbers")
		d.changeNbRetries = 0
	}
	jobs.onFailed = func(*SubCommand) {
		d.log.Error("loading change numbers failed")
		if d.changeNbRetries < d.cfg.RetryLimit {
			d.changeNbRetries++
			d.getChangeNumbers()
		}
	}

	d.enqueueJob(jobs)
}

// GetUID requests the device UID. The key is a 32-character hex string.
func (d *Device) GetUID(key string, cb UIDCallback) {
	raw, err := hex.DecodeString(key)
	if err != nil || len(raw) != protocol.UIDKeySize {
		cb(false, "uid key must be 16 hex-encoded bytes", 0)
		return
	}

	d.post(func() {
		jobs := newJob("requesting device uid", "")

		jobs.Append(&SubCommand{
			Cmd:     protocol.CmdGetUID,
			Payload: raw,
			Check: func(j *Job, reply []byte, done *bool) bool {
				if protocol.IsSingleByteReply(reply) {
					j.SetError("device refused to send its uid")
					return false
				}
				uid, err := protocol.ParseUIDResponse(protocol.Payload(reply))
				if err != nil {
					j.SetError(err.Error())
					return false
				}
				j.UserData["uid"] = uid
				return true
			},
		})

		jobs.onFinished = func([]byte) {
			uid, _ := jobs.UserData["uid"].(uint64)
			cb(true, "", uid)
		}
		jobs.onFailed = func(*SubCommand) {
			d.log.Warn("failed to get uid from device")
			cb(false, jobs.Error(), 0)
		}

		d.enqueueJob(jobs)
	})
}

// Ping sends a ping frame and reports whether the device echoed it.
func (d *Device) Ping(cb ResultCallback) {
	d.post(func() {
		jobs := newJob("pinging device", "")
		jobs.Append(&SubCommand{Cmd: protocol.CmdPing})
		jobs.onFinished = func([]byte) { cb(true, "") }
		jobs.onFailed = func(*SubCommand) { cb(false, jobs.Error()) }
		d.enqueueJob(jobs)
	})
}

// GetRandomNumber asks the device for random bytes.
func (d *Device) GetRandomNumber(cb RandomCallback) {
	d.post(func() {
		jobs := newJob("requesting random numbers", "")
		jobs.Append(&SubCommand{Cmd: protocol.CmdGetRandomNumber})

		jobs.onFinished = func(lastReply []byte) {
			d.log.Info("random numbers generated")
			cb(true, "", append([]byte(nil), protocol.Payload(lastReply)...))
		}
		jobs.onFailed = func(*SubCommand) {
			d.log.Error("failed generating random numbers")
			cb(false, "failed to generate random numbers", nil)
		}

		d.enqueueJob(jobs)
	})
}
