package device

import (
	"github.com/moolticute/go-mooltipass/protocol"
)

// getParamSub builds one Get Parameter step storing the raw reply byte.
func (d *Device) getParamSub(p protocol.Param, name string, apply func(raw byte)) *SubCommand {
	return &SubCommand{
		Cmd:     protocol.CmdGetParameter,
		Payload: []byte{byte(p)},
		Check: func(j *Job, reply []byte, done *bool) bool {
			if protocol.Command(reply) != protocol.CmdGetParameter {
				d.log.Warn("get parameter: wrong command in answer",
					"param", name, "cmd", protocol.Command(reply))
				return false
			}
			raw := reply[protocol.PayloadFieldIndex]
			d.log.Debug("received parameter", "param", name, "value", raw)
			d.setParam(p, int(raw))
			if apply != nil {
				apply(raw)
			}
			return true
		},
	}
}

// loadParameters queries the device version and the full parameter set. On
// failure the job re-queues itself up to the configured retry limit. Runs on
// the engine goroutine.
func (d *Device) loadParameters() {
	jobs := newJob("loading device parameters", "")

	jobs.Append(&SubCommand{
		Cmd: protocol.CmdVersion,
		Check: func(j *Job, reply []byte, done *bool) bool {
			if protocol.Command(reply) != protocol.CmdVersion {
				d.log.Warn("get version: wrong command in answer", "cmd", protocol.Command(reply))
				return false
			}
			info, err := protocol.ParseVersionResponse(protocol.Payload(reply))
			if err != nil {
				d.log.Warn("get version: malformed reply", "error", err.Error())
				return false
			}
			d.log.Debug("received device version",
				"flashMb", info.FlashMb, "hw", info.HwVersion)
			d.setObservable(func(o *observable) {
				o.flashMb = info.FlashMb
				o.hwVersion = info.HwVersion
				o.isFw12 = info.IsFw12
				o.isMini = info.IsMini
			})
			return true
		},
	})

	params := []struct {
		p    protocol.Param
		name string
	}{
		{protocol.ParamKeyboardLayout, "keyboard layout"},
		{protocol.ParamLockTimeoutEnable, "lock timeout enable"},
		{protocol.ParamLockTimeout, "lock timeout"},
		{protocol.ParamScreensaver, "screensaver"},
		{protocol.ParamUserReqCancel, "user request cancel"},
		{protocol.ParamUserInterTimeout, "user interaction timeout"},
		{protocol.ParamFlashScreen, "flash screen"},
		{protocol.ParamOfflineMode, "offline mode"},
		{protocol.ParamTutorialBool, "tutorial"},
		{protocol.ParamScreenSaverSpeed, "screensaver speed"},
		{protocol.ParamInvertedScreenAtBoot, "inverted screen"},
		{protocol.ParamMiniOLEDContrast, "screen brightness"},
		{protocol.ParamMiniLEDAnimMask, "led animation mask"},
		{protocol.ParamMiniKnockDetectEnable, "knock detect enable"},
		{protocol.ParamMiniKnockThreshold, "knock threshold"},
		{protocol.ParamRandomInitPin, "random starting pin"},
		{protocol.ParamHashDisplayFeature, "hash display"},
		{protocol.ParamLockUnlockFeature, "lock/unlock feature"},
		{protocol.ParamKeyAfterLoginSendBool, "key after login enable"},
		{protocol.ParamKeyAfterLoginSend, "key after login"},
		{protocol.ParamKeyAfterPassSendBool, "key after pass enable"},
		{protocol.ParamKeyAfterPassSend, "key after pass"},
		{protocol.ParamDelayAfterKeyEntryBool, "delay after key enable"},
		{protocol.ParamDelayAfterKeyEntry, "delay after key"},
	}
	for _, p := range params {
		jobs.Append(d.getParamSub(p.p, p.name, nil))
	}

	jobs.onFinished = func([]byte) {
		d.log.Info("finished loading device parameters")
		d.paramRetries = 0

		if d.IsFw12() && d.IsMini() {
			d.loadSerialNumber()
		}
	}
	jobs.onFailed = func(*SubCommand) {
		d.log.Error("loading device parameters failed")
		if d.paramRetries < d.cfg.RetryLimit {
			d.paramRetries++
			d.loadParameters()
		}
	}

	d.enqueueJob(jobs)
}

// loadSerialNumber queries the Mini serial number. Runs on the engine
// goroutine.
func (d *Device) loadSerialNumber() {
	jobs := newJob("loading device serial number", "")

	jobs.Append(&SubCommand{
		Cmd: protocol.CmdGetSerial,
		Check: func(j *Job, reply []byte, done *bool) bool {
			if protocol.Command(reply) != protocol.CmdGetSerial {
				d.log.Warn("get serial: wrong command in answer", "cmd", protocol.Command(reply))
				return false
			}
			serial, err := protocol.ParseSerialResponse(protocol.Payload(reply))
			if err != nil {
				d.log.Warn("get serial: malformed reply", "error", err.Error())
				return false
			}
			d.log.Debug("device serial number", "serial", serial)
			d.setObservable(func(o *observable) { o.serial = serial })
			return true
		},
	})

	jobs.onFinished = func([]byte) {
		d.log.Info("finished loading serial number")
	}
	jobs.onFailed = func(*SubCommand) {
		d.log.Error("loading serial number failed")
		if d.paramRetries < d.cfg.RetryLimit {
			d.paramRetries++
			d.loadParameters()
		}
	}

	d.enqueueJob(jobs)
}

// updateParam issues one Set Parameter command, clamping the value to a
// byte, and refreshes the observed snapshot on success.
func (d *Device) updateParam(p protocol.Param, name string, val int) {
	if val < 0 {
		val = 0
	}
	if val > 0xFF {
		val = 0xFF
	}

	d.post(func() {
		jobs := newJob("updating parameter "+name, "")
		jobs.Append(&SubCommand{
			Cmd:     protocol.CmdSetParameter,
			Payload: []byte{byte(p), byte(val)},
			Check:   checkDefaultResult,
		})
		jobs.onFinished = func([]byte) {
			d.log.Info("parameter updated", "param", name, "value", val)
			d.setParam(p, val)
		}
		jobs.onFailed = func(*SubCommand) {
			d.log.Warn("parameter update failed", "param", name)
		}
		d.enqueueJob(jobs)
	})
}

func boolByte(en bool) int {
	if en {
		return 1
	}
	return 0
}

// UpdateKeyboardLayout sets the keyboard layout id.
func (d *Device) UpdateKeyboardLayout(lang int) {
	d.updateParam(protocol.ParamKeyboardLayout, "keyboard layout", lang)
}

// UpdateLockTimeoutEnabled enables or disables the lock timeout.
func (d *Device) UpdateLockTimeoutEnabled(en bool) {
	d.updateParam(protocol.ParamLockTimeoutEnable, "lock timeout enable", boolByte(en))
}

// UpdateLockTimeout sets the lock timeout value.
func (d *Device) UpdateLockTimeout(timeout int) {
	d.updateParam(protocol.ParamLockTimeout, "lock timeout", timeout)
}

// UpdateScreensaver enables or disables the screensaver.
func (d *Device) UpdateScreensaver(en bool) {
	d.updateParam(protocol.ParamScreensaver, "screensaver", boolByte(en))
}

// UpdateUserRequestCancel enables or disables user request cancelling.
func (d *Device) UpdateUserRequestCancel(en bool) {
	d.updateParam(protocol.ParamUserReqCancel, "user request cancel", boolByte(en))
}

// UpdateUserInteractionTimeout sets the user interaction timeout.
func (d *Device) UpdateUserInteractionTimeout(timeout int) {
	d.updateParam(protocol.ParamUserInterTimeout, "user interaction timeout", timeout)
}

// UpdateFlashScreen enables or disables the flash screen feature.
func (d *Device) UpdateFlashScreen(en bool) {
	d.updateParam(protocol.ParamFlashScreen, "flash screen", boolByte(en))
}

// UpdateOfflineMode enables or disables offline mode.
func (d *Device) UpdateOfflineMode(en bool) {
	d.updateParam(protocol.ParamOfflineMode, "offline mode", boolByte(en))
}

// UpdateTutorialEnabled enables or disables the tutorial.
func (d *Device) UpdateTutorialEnabled(en bool) {
	d.updateParam(protocol.ParamTutorialBool, "tutorial", boolByte(en))
}

// UpdateScreenBrightness sets the OLED contrast.
func (d *Device) UpdateScreenBrightness(val int) {
	d.updateParam(protocol.ParamMiniOLEDContrast, "screen brightness", val)
}

// UpdateKnockEnabled enables or disables knock detection.
func (d *Device) UpdateKnockEnabled(en bool) {
	d.updateParam(protocol.ParamMiniKnockDetectEnable, "knock detect enable", boolByte(en))
}

// UpdateKnockSensitivity sets the knock detection sensitivity.
func (d *Device) UpdateKnockSensitivity(s protocol.KnockSensitivity) {
	d.updateParam(protocol.ParamMiniKnockThreshold, "knock threshold",
		int(protocol.KnockSensitivityToRaw(s)))
}

// UpdateKeyAfterLoginSendEnable enables the key press after login send.
func (d *Device) UpdateKeyAfterLoginSendEnable(en bool) {
	d.updateParam(protocol.ParamKeyAfterLoginSendBool, "key after login enable", boolByte(en))
}

// UpdateKeyAfterLoginSend sets the key sent after a login.
func (d *Device) UpdateKeyAfterLoginSend(val int) {
	d.updateParam(protocol.ParamKeyAfterLoginSend, "key after login", val)
}

// UpdateKeyAfterPassSendEnable enables the key press after password send.
func (d *Device) UpdateKeyAfterPassSendEnable(en bool) {
	d.updateParam(protocol.ParamKeyAfterPassSendBool, "key after pass enable", boolByte(en))
}

// UpdateKeyAfterPassSend sets the key sent after a password.
func (d *Device) UpdateKeyAfterPassSend(val int) {
	d.updateParam(protocol.ParamKeyAfterPassSend, "key after pass", val)
}

// UpdateDelayAfterKeyEntryEnable enables the delay after key entry.
func (d *Device) UpdateDelayAfterKeyEntryEnable(en bool) {
	d.updateParam(protocol.ParamDelayAfterKeyEntryBool, "delay after key enable", boolByte(en))
}

// UpdateDelayAfterKeyEntry sets the delay after key entry.
func (d *Device) UpdateDelayAfterKeyEntry(val int) {
	d.updateParam(protocol.ParamDelayAfterKeyEntry, "delay after key", val)
}

// UpdateRandomStartingPin enables or disables the random starting PIN.
func (d *Device) UpdateRandomStartingPin(en bool) {
	d.updateParam(protocol.ParamRandomInitPin, "random starting pin", boolByte(en))
}

// UpdateHashDisplay enables or disables the hash display feature.
func (d *Device) UpdateHashDisplay(en bool) {
	d.updateParam(protocol.ParamHashDisplayFeature, "hash display", boolByte(en))
}

// UpdateLockUnlockMode sets the lock/unlock feature mode.
func (d *Device) UpdateLockUnlockMode(val int) {
	d.updateParam(protocol.ParamLockUnlockFeature, "lock/unlock feature", val)
}
