package device

import (
	"encoding/binary"
	"fmt"

	"github.com/moolticute/go-mooltipass/protocol"
)

// getDataNodeChunk handles one Read 32B In DN reply and re-arms the read
// loop until the device signals the end of the stream.
func (d *Device) getDataNodeChunk(jobs *Job, progress ProgressCallback, reply []byte, done *bool) bool {
	length := reply[protocol.LenFieldIndex]

	if length == 1 && reply[protocol.PayloadFieldIndex] == 0 {
		// end of data
		if _, found := jobs.UserData["data"]; !found {
			jobs.SetError("reading data failed or no data")
			return false
		}
		return true
	}

	if length == 0 {
		return true
	}

	data, _ := jobs.UserData["data"].([]byte)
	first := len(data) == 0
	data = append(data, protocol.Payload(reply)...)

	if first {
		if len(data) < protocol.DataHeaderSize {
			jobs.SetError("data stream shorter than its size prefix")
			return false
		}
		// the first chunk starts with the total size, big-endian
		sz := binary.BigEndian.Uint32(data)
		jobs.UserData["progressTotal"] = int(sz)
	}
	total, _ := jobs.UserData["progressTotal"].(int)
	if progress != nil {
		progress(total, len(data)-protocol.DataHeaderSize)
	}

	jobs.UserData["data"] = data

	// ask for the next 32 byte block
	jobs.Append(&SubCommand{
		Cmd: protocol.CmdRead32BInDN,
		Check: func(j *Job, reply []byte, done *bool) bool {
			return d.getDataNodeChunk(j, progress, reply, done)
		},
	})
	return true
}

// GetDataNode streams the data blob stored for service. The progress
// callback fires after every received chunk.
func (d *Device) GetDataNode(service, fallbackService, reqid string, cb DataNodeCallback, progress ProgressCallback) {
	if service == "" {
		d.log.Warn("get data node with empty service")
		cb(false, "context is empty", "", nil)
		return
	}

	d.post(func() {
		desc := fmt.Sprintf("get data node for service %q", service)
		jobs := newJob(desc, reqid)

		jobs.Append(&SubCommand{
			Cmd:     protocol.CmdSetDataService,
			Payload: cdata(service),
			Check: func(j *Job, reply []byte, done *bool) bool {
				if reply[protocol.PayloadFieldIndex] != 1 {
					if fallbackService != "" {
						j.Prepend(&SubCommand{
							Cmd:     protocol.CmdSetDataService,
							Payload: cdata(fallbackService),
							Check: func(j *Job, reply []byte, done *bool) bool {
								if reply[protocol.PayloadFieldIndex] != 1 {
									j.SetError("failed to select context and fallback context on device")
									return false
								}
								j.UserData["service"] = fallbackService
								return true
							},
						})
						return true
					}
					j.SetError("failed to select context on device")
					return false
				}
				j.UserData["service"] = service
				return true
			},
		})

		jobs.Append(&SubCommand{
			Cmd: protocol.CmdRead32BInDN,
			Check: func(j *Job, reply []byte, done *bool) bool {
				return d.getDataNodeChunk(j, progress, reply, done)
			},
		})

		jobs.onFinished = func([]byte) {
			data, _ := jobs.UserData["data"].([]byte)
			if len(data) < protocol.DataHeaderSize {
				cb(false, "data stream truncated", "", nil)
				return
			}
			sz := binary.BigEndian.Uint32(data)
			if int(sz) > len(data)-protocol.DataHeaderSize {
				cb(false, "data stream shorter than announced size", "", nil)
				return
			}
			d.log.Info("data node retrieved", "service", service, "size", sz)
			srv, _ := jobs.UserData["service"].(string)
			cb(true, "", srv, data[protocol.DataHeaderSize:protocol.DataHeaderSize+sz])
		}
		jobs.onFailed = func(*SubCommand) {
			d.log.Error("failed getting data node", "error", jobs.Error())
			cb(false, jobs.Error(), "", nil)
		}

		d.enqueueJob(jobs)
	})
}

// dataBlockPacket renders one Write 32B In DN payload: an end-of-data flag
// followed by a 32-byte block, zero padded.
func dataBlockPacket(stream []byte, offset int) []byte {
	packet := make([]byte, protocol.BlockSize+1)
	if len(stream)-offset <= protocol.BlockSize {
		packet[0] = 1
	}
	copy(packet[1:], stream[offset:])
	return packet
}

// putDataNodeChunk handles one Write 32B In DN reply and arms the next
// block until the stream is fully sent.
func (d *Device) putDataNodeChunk(jobs *Job, offset int, progress ProgressCallback, reply []byte, done *bool) bool {
	if reply[protocol.PayloadFieldIndex] == 0 {
		jobs.SetError("writing data to device failed")
		return false
	}

	stream, _ := jobs.UserData["stream"].([]byte)
	if offset >= len(stream) {
		return true
	}

	if progress != nil {
		progress(len(stream)-protocol.DataHeaderSize, offset+protocol.BlockSize)
	}

	jobs.Append(&SubCommand{
		Cmd:     protocol.CmdWrite32BInDN,
		Payload: dataBlockPacket(stream, offset),
		Check: func(j *Job, reply []byte, done *bool) bool {
			return d.putDataNodeChunk(j, offset+protocol.BlockSize, progress, reply, done)
		},
	})
	return true
}

// SetDataNode streams a data blob to the device under service, creating the
// data context when missing. The blob is prefixed with its big-endian size
// and cut into 32-byte blocks.
func (d *Device) SetDataNode(service string, nodeData []byte, reqid string, cb ResultCallback, progress ProgressCallback) {
	if service == "" {
		d.log.Warn("set data node with empty service")
		cb(false, "context is empty")
		return
	}

	d.post(func() {
		desc := fmt.Sprintf("set data node for service %q", service)
		jobs := newJob(desc, reqid)

		jobs.Append(&SubCommand{
			Cmd:     protocol.CmdSetDataService,
			Payload: cdata(service),
			Check: func(j *Job, reply []byte, done *bool) bool {
				if reply[protocol.PayloadFieldIndex] != 1 {
					d.log.Debug("data context does not exist yet", "service", service)
					d.createJobAddContext(service, j, true)
				}
				return true
			},
		})

		// build the stream: big-endian size prefix, then the payload
		stream := make([]byte, protocol.DataHeaderSize, protocol.DataHeaderSize+len(nodeData))
		binary.BigEndian.PutUint32(stream, uint32(len(nodeData)))
		stream = append(stream, nodeData...)
		jobs.UserData["stream"] = stream

		jobs.Append(&SubCommand{
			Cmd:     protocol.CmdWrite32BInDN,
			Payload: dataBlockPacket(stream, 0),
			Check: func(j *Job, reply []byte, done *bool) bool {
				return d.putDataNodeChunk(j, protocol.BlockSize, progress, reply, done)
			},
		})

		jobs.onFinished = func([]byte) {
			d.log.Info("data node stored", "service", service, "size", len(nodeData))
			cb(true, "")
		}
		jobs.onFailed = func(*SubCommand) {
			d.log.Error("failed writing data node", "error", jobs.Error())
			cb(false, jobs.Error())
		}

		d.enqueueJob(jobs)
	})
}
