package device

import (
	"bytes"
	"fmt"

	"github.com/moolticute/go-mooltipass/protocol"
)

// cstring decodes a zero-terminated UTF-8 payload field.
func cstring(payload []byte) string {
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		payload = payload[:i]
	}
	return string(payload)
}

// cdata encodes a string as a zero-terminated payload.
func cdata(s string) []byte {
	return append([]byte(s), 0)
}

// createJobAddContext splices "add context, then re-select it" in front of
// the remaining steps of a job whose context selection just missed.
func (d *Device) createJobAddContext(service string, jobs *Job, isDataNode bool) {
	cmdAdd := byte(protocol.CmdAddContext)
	cmdSelect := byte(protocol.CmdContext)
	if isDataNode {
		cmdAdd = protocol.CmdAddDataService
		cmdSelect = protocol.CmdSetDataService
	}

	jobs.Prepend(&SubCommand{
		Cmd:     cmdAdd,
		Payload: cdata(service),
		Check: func(j *Job, reply []byte, done *bool) bool {
			if reply[protocol.PayloadFieldIndex] != 1 {
				d.log.Warn("failed to add new context", "service", service)
				j.SetError("add_context failed on device")
				return false
			}
			d.log.Debug("context added", "service", service)
			return true
		},
	})

	jobs.InsertAfter(&SubCommand{
		Cmd:     cmdSelect,
		Payload: cdata(service),
		Check: func(j *Job, reply []byte, done *bool) bool {
			if reply[protocol.PayloadFieldIndex] != 1 {
				d.log.Warn("failed to select new context", "service", service)
				j.SetError("unable to select context on device")
				return false
			}
			d.log.Debug("context selected", "service", service)
			return true
		},
	}, 0)
}

// GetCredential retrieves the credential stored for service. When login is
// non-empty the stored login must match. When the service misses and
// fallbackService is non-empty, selection falls back to it. The device may
// prompt the user and deny the password read.
func (d *Device) GetCredential(service, login, fallbackService, reqid string, cb CredentialCallback) {
	if service == "" {
		cb(false, "service is empty", "", "", "", "")
		return
	}

	d.post(func() {
		desc := fmt.Sprintf("get credential for service %q login %q", service, login)
		jobs := newJob(desc, reqid)

		jobs.Append(&SubCommand{
			Cmd:     protocol.CmdContext,
			Payload: cdata(service),
			Check: func(j *Job, reply []byte, done *bool) bool {
				if reply[protocol.PayloadFieldIndex] != 1 {
					if fallbackService != "" {
						j.Prepend(&SubCommand{
							Cmd:     protocol.CmdContext,
							Payload: cdata(fallbackService),
							Check: func(j *Job, reply []byte, done *bool) bool {
								if reply[protocol.PayloadFieldIndex] != 1 {
									d.log.Warn("error selecting fallback context",
										"service", fallbackService)
									j.SetError("failed to select context and fallback context on device")
									return false
								}
								j.UserData["service"] = fallbackService
								return true
							},
						})
						return true
					}

					d.log.Warn("error selecting context", "service", service)
					j.SetError("failed to select context on device")
					return false
				}

				j.UserData["service"] = service
				return true
			},
		})

		jobs.Append(&SubCommand{
			Cmd: protocol.CmdGetLogin,
			Check: func(j *Job, reply []byte, done *bool) bool {
				if reply[protocol.PayloadFieldIndex] == 0 && login != "" {
					j.SetError("credential access refused by user")
					return false
				}
				l := cstring(protocol.Payload(reply))
				if login != "" && l != login {
					j.SetError("login mismatch")
					return false
				}
				j.UserData["login"] = l
				return true
			},
		})

		jobs.Append(&SubCommand{
			Cmd: protocol.CmdGetDescription,
			Check: func(j *Job, reply []byte, done *bool) bool {
				if reply[protocol.PayloadFieldIndex] == 0 {
					// absence of a description is not fatal
					d.log.Warn("failed to query description on device")
					return true
				}
				j.UserData["description"] = cstring(protocol.Payload(reply))
				return true
			},
		})

		jobs.Append(&SubCommand{
			Cmd: protocol.CmdGetPassword,
			Check: func(j *Job, reply []byte, done *bool) bool {
				if reply[protocol.PayloadFieldIndex] == 0 {
					j.SetError("failed to query password on device")
					return false
				}
				return true
			},
		})

		jobs.onFinished = func(lastReply []byte) {
			d.log.Info("password retrieved", "service", service)
			pass := cstring(protocol.Payload(lastReply))
			srv, _ := jobs.UserData["service"].(string)
			lgn, _ := jobs.UserData["login"].(string)
			dsc, _ := jobs.UserData["description"].(string)
			cb(true, "", srv, lgn, pass, dsc)
		}
		jobs.onFailed = func(*SubCommand) {
			d.log.Error("failed getting password", "error", jobs.Error())
			cb(false, jobs.Error(), "", "", "", "")
		}

		d.enqueueJob(jobs)
	})
}

// SetCredential stores or updates a credential. A missing context is
// created on the fly. The description is only written on firmware v1.2 and
// later when setDesc is true; the password is only rewritten when the
// device reports it differs.
func (d *Device) SetCredential(service, login, pass, description string, setDesc bool, cb ResultCallback) {
	if service == "" || login == "" {
		d.log.Warn("set credential with empty service or login")
		cb(false, "service or login is empty")
		return
	}

	d.post(func() {
		desc := fmt.Sprintf("set credential for service %q login %q", service, login)
		jobs := newJob(desc, "")

		jobs.Append(&SubCommand{
			Cmd:     protocol.CmdContext,
			Payload: cdata(service),
			Check: func(j *Job, reply []byte, done *bool) bool {
				if reply[protocol.PayloadFieldIndex] != 1 {
					d.log.Debug("context does not exist yet", "service", service)
					d.createJobAddContext(service, j, false)
				}
				return true
			},
		})

		jobs.Append(&SubCommand{
			Cmd:     protocol.CmdSetLogin,
			Payload: cdata(login),
			Check: func(j *Job, reply []byte, done *bool) bool {
				if reply[protocol.PayloadFieldIndex] == 0 {
					j.SetError("set_login failed on device")
					return false
				}
				d.log.Debug("login set", "login", login)
				return true
			},
		})

		if d.IsFw12() && setDesc {
			jobs.Append(&SubCommand{
				Cmd:     protocol.CmdSetDescription,
				Payload: cdata(description),
				Check: func(j *Job, reply []byte, done *bool) bool {
					if reply[protocol.PayloadFieldIndex] == 0 {
						if len(description) > protocol.MaxDescriptionLength {
							j.SetError(fmt.Sprintf(
								"set_description failed on device, max text length allowed is %d characters",
								protocol.MaxDescriptionLength))
						} else {
							j.SetError("set_description failed on device")
						}
						return false
					}
					return true
				},
			})
		}

		if pass != "" {
			jobs.Append(&SubCommand{
				Cmd:     protocol.CmdCheckPassword,
				Payload: cdata(pass),
				Check: func(j *Job, reply []byte, done *bool) bool {
					if reply[protocol.PayloadFieldIndex] != 1 {
						// stored password differs, update it
						j.Prepend(&SubCommand{
							Cmd:     protocol.CmdSetPassword,
							Payload: cdata(pass),
							Check: func(j *Job, reply []byte, done *bool) bool {
								if reply[protocol.PayloadFieldIndex] == 0 {
									j.SetError("set_password failed on device")
									return false
								}
								d.log.Debug("password updated")
								return true
							},
						})
					} else {
						d.log.Debug("password unchanged")
					}
					return true
				},
			})
		}

		jobs.onFinished = func([]byte) {
			d.log.Info("credential stored", "service", service)
			cb(true, "")
		}
		jobs.onFailed = func(*SubCommand) {
			d.log.Error("failed storing credential", "error", jobs.Error())
			cb(false, jobs.Error())
		}

		d.enqueueJob(jobs)
	})
}
