package device

import (
	"github.com/moolticute/go-mooltipass/protocol"
)

// commandCallback receives the reply to one outstanding command. Setting
// done to false keeps the command at the head of the queue so that it
// receives further packets (multi-packet replies).
type commandCallback func(ok bool, reply []byte, done *bool)

type command struct {
	frame   Frame
	cb      commandCallback
	running bool
}

// multiPacketReplies are the commands whose replies legitimately carry a
// different or repeated command code across several packets; the transport
// mismatch check does not apply to them.
var multiPacketReplies = map[byte]bool{
	protocol.CmdGetCardCPZCTR: true,
	protocol.CmdReadFlashNode: true,
	protocol.CmdRead32BInDN:   true,
}

// sendCommand frames a command and enqueues it. Only the queue head is ever
// on the wire; the next command is written as soon as the head completes.
// Must be called on the engine goroutine.
func (d *Device) sendCommand(cmd byte, payload []byte, cb commandCallback) {
	frame, err := protocol.BuildPacket(cmd, payload)
	if err != nil {
		d.log.Error("cannot build packet", "cmd", cmd, "error", err.Error())
		if cb != nil {
			done := true
			cb(false, nil, &done)
		}
		return
	}

	d.cmdQueue = append(d.cmdQueue, &command{frame: frame, cb: cb})

	if !d.cmdQueue[0].running {
		d.writeHead()
	}
}

func (d *Device) writeHead() {
	if len(d.cmdQueue) == 0 {
		return
	}
	head := d.cmdQueue[0]
	head.running = true
	if err := d.tr.WriteFrame(head.frame); err != nil {
		d.log.Error("transport write failed", "error", err.Error())
	}
}

// onFrame dispatches one inbound frame to the head command. Runs on the
// engine goroutine.
func (d *Device) onFrame(frame []byte) {
	replyCmd := protocol.Command(frame)

	if replyCmd == protocol.CmdDebug {
		d.log.Warn("device debug message", "payload", string(protocol.Payload(frame)))
	}

	if len(d.cmdQueue) == 0 {
		d.log.Warn("inbound frame with empty command queue",
			"len", frame[protocol.LenFieldIndex], "cmd", replyCmd)
		return
	}

	if replyCmd == protocol.CmdPleaseRetry {
		d.log.Debug("device asked for a retry")
		return
	}

	head := d.cmdQueue[0]
	headCmd := head.frame[protocol.CmdFieldIndex]

	ok := true
	if replyCmd != headCmd && replyCmd != protocol.CmdDebug && !multiPacketReplies[headCmd] {
		d.log.Error("transport mismatch",
			"sent", headCmd, "received", replyCmd)
		ok = false
	}

	done := true
	if head.cb != nil {
		head.cb(ok, frame, &done)
	}
	if !ok {
		done = true
	}

	if done {
		d.cmdQueue = d.cmdQueue[1:]
		d.writeHead()
	}
}
