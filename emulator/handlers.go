package emulator

import (
	"encoding/binary"

	"github.com/moolticute/go-mooltipass/protocol"
)

// WriteFrame receives one host frame and synthesizes the device's reply.
func (e *Emulator) WriteFrame(frame [protocol.PacketSize]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.writes = append(e.writes, frame)

	cmd := frame[protocol.CmdFieldIndex]
	payload := protocol.Payload(frame[:])

	if cmd == protocol.CmdCancelUserRequest {
		// answer the held command with a refusal, the cancel itself gets
		// no reply
		if e.pending != nil {
			held := *e.pending
			e.pending = nil
			e.reply(held[protocol.CmdFieldIndex], []byte{0})
		}
		return nil
	}

	if e.held == cmd {
		e.held = 0
		held := frame
		e.pending = &held
		return nil
	}

	if e.refuse[cmd] {
		delete(e.refuse, cmd)
		e.reply(cmd, []byte{0})
		return nil
	}

	switch cmd {
	case protocol.CmdPing:
		e.reply(cmd, payload)

	case protocol.CmdVersion:
		e.reply(cmd, append([]byte{e.flashMb}, []byte(e.version)...))

	case protocol.CmdStatus:
		e.reply(cmd, []byte{byte(e.status)})

	case protocol.CmdGetSerial:
		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, e.serial)
		e.reply(cmd, out)

	case protocol.CmdSetParameter:
		e.params[payload[0]] = payload[1]
		e.replyStatus(cmd, true)

	case protocol.CmdGetParameter:
		e.reply(cmd, []byte{e.params[payload[0]]})

	case protocol.CmdSetDate:
		e.replyStatus(cmd, true)

	case protocol.CmdGetUserChangeNb:
		e.reply(cmd, []byte{1, 3, 5})

	case protocol.CmdGetUID:
		e.reply(cmd, []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05})

	case protocol.CmdGetRandomNumber:
		nums := make([]byte, 32)
		for i := range nums {
			nums[i] = byte(i * 7)
		}
		e.reply(cmd, nums)

	case protocol.CmdContext:
		e.context = cstring(payload)
		_, found := e.creds[e.context]
		e.replyStatus(cmd, found)

	case protocol.CmdAddContext:
		ctx := cstring(payload)
		if _, found := e.creds[ctx]; found {
			e.replyStatus(cmd, false)
			return nil
		}
		e.creds[ctx] = &credential{}
		e.replyStatus(cmd, true)

	case protocol.CmdGetLogin:
		if c, found := e.creds[e.context]; found {
			e.reply(cmd, cdata(c.login))
		} else {
			e.reply(cmd, []byte{0})
		}

	case protocol.CmdGetPassword:
		if c, found := e.creds[e.context]; found && c.password != "" {
			e.reply(cmd, cdata(c.password))
		} else {
			e.reply(cmd, []byte{0})
		}

	case protocol.CmdGetDescription:
		if c, found := e.creds[e.context]; found && c.description != "" {
			e.reply(cmd, cdata(c.description))
		} else {
			e.reply(cmd, []byte{0})
		}

	case protocol.CmdSetLogin:
		if c, found := e.creds[e.context]; found {
			c.login = cstring(payload)
			e.replyStatus(cmd, true)
		} else {
			e.replyStatus(cmd, false)
		}

	case protocol.CmdSetPassword:
		if c, found := e.creds[e.context]; found {
			c.password = cstring(payload)
			e.replyStatus(cmd, true)
		} else {
			e.replyStatus(cmd, false)
		}

	case protocol.CmdSetDescription:
		if c, found := e.creds[e.context]; found && len(cstring(payload)) <= protocol.MaxDescriptionLength {
			c.description = cstring(payload)
			e.replyStatus(cmd, true)
		} else {
			e.replyStatus(cmd, false)
		}

	case protocol.CmdCheckPassword:
		c, found := e.creds[e.context]
		e.replyStatus(cmd, found && c.password == cstring(payload))

	case protocol.CmdSetDataService:
		e.dataContext = cstring(payload)
		e.readOffset = 0
		e.writeBuf = nil
		_, found := e.dataNodes[e.dataContext]
		e.replyStatus(cmd, found)

	case protocol.CmdAddDataService:
		ctx := cstring(payload)
		if _, found := e.dataNodes[ctx]; found {
			e.replyStatus(cmd, false)
			return nil
		}
		e.dataNodes[ctx] = nil
		e.replyStatus(cmd, true)

	case protocol.CmdWrite32BInDN:
		e.handleWriteDataBlock(payload)

	case protocol.CmdRead32BInDN:
		e.handleReadDataBlock()

	case protocol.CmdStartMemoryMgmt:
		e.memMgmt = true
		e.replyStatus(cmd, true)

	case protocol.CmdEndMemoryMgmt:
		e.memMgmt = false
		e.replyStatus(cmd, true)

	case protocol.CmdGetCTRValue:
		e.reply(cmd, e.ctr)

	case protocol.CmdSetCTRValue:
		e.ctr = append([]byte(nil), payload...)
		e.replyStatus(cmd, true)

	case protocol.CmdGetCardCPZCTR:
		for _, rec := range e.cpzCtr {
			e.reply(protocol.CmdCardCPZCTRPacket, rec)
		}
		e.reply(cmd, []byte{1})

	case protocol.CmdAddCardCPZCTR:
		e.cpzCtr = append(e.cpzCtr, append([]byte(nil), payload...))
		e.replyStatus(cmd, true)

	case protocol.CmdGetFavorite:
		slot := int(payload[0])
		if slot < len(e.favorites) {
			e.reply(cmd, e.favorites[slot][:])
		} else {
			e.reply(cmd, []byte{0})
		}

	case protocol.CmdSetFavorite:
		slot := int(payload[0])
		if slot < len(e.favorites) && len(payload) >= 5 {
			copy(e.favorites[slot][:], payload[1:5])
			e.replyStatus(cmd, true)
		} else {
			e.replyStatus(cmd, false)
		}

	case protocol.CmdGetStartingParent:
		out := make([]byte, 2)
		binary.LittleEndian.PutUint16(out, e.startCred)
		e.reply(cmd, out)

	case protocol.CmdSetStartingParent:
		e.startCred = binary.LittleEndian.Uint16(payload)
		e.replyStatus(cmd, true)

	case protocol.CmdGetDNStartParent:
		out := make([]byte, 2)
		binary.LittleEndian.PutUint16(out, e.startData)
		e.reply(cmd, out)

	case protocol.CmdSetDNStartParent:
		e.startData = binary.LittleEndian.Uint16(payload)
		e.replyStatus(cmd, true)

	case protocol.CmdReadFlashNode:
		e.handleReadFlashNode(payload)

	case protocol.CmdWriteFlashNode:
		e.handleWriteFlashNode(payload)

	default:
		// unimplemented commands fail politely
		e.reply(cmd, []byte{0})
	}

	return nil
}

func (e *Emulator) handleReadFlashNode(payload []byte) {
	addr := binary.LittleEndian.Uint16(payload)
	raw, found := e.nodes[addr]
	if !found {
		e.reply(protocol.CmdReadFlashNode, []byte{0})
		return
	}
	for off := 0; off < len(raw); off += protocol.MaxPayloadSize {
		end := off + protocol.MaxPayloadSize
		if end > len(raw) {
			end = len(raw)
		}
		e.reply(protocol.CmdReadFlashNode, raw[off:end])
	}
}

func (e *Emulator) handleWriteFlashNode(payload []byte) {
	if len(payload) < 3 {
		e.replyStatus(protocol.CmdWriteFlashNode, false)
		return
	}
	addr := binary.LittleEndian.Uint16(payload)
	chunk := payload[3:]

	staged := append(e.writeStage[addr], chunk...)
	if len(staged) < 132 {
		e.writeStage[addr] = staged
		e.replyStatus(protocol.CmdWriteFlashNode, true)
		return
	}
	delete(e.writeStage, addr)

	erased := true
	for _, b := range staged {
		if b != 0xFF {
			erased = false
			break
		}
	}
	if erased {
		delete(e.nodes, addr)
	} else {
		e.nodes[addr] = staged[:132]
	}
	e.replyStatus(protocol.CmdWriteFlashNode, true)
}

func (e *Emulator) handleWriteDataBlock(payload []byte) {
	if len(payload) < 1+protocol.BlockSize {
		e.replyStatus(protocol.CmdWrite32BInDN, false)
		return
	}
	if _, found := e.dataNodes[e.dataContext]; !found {
		e.replyStatus(protocol.CmdWrite32BInDN, false)
		return
	}

	eod := payload[0]
	e.writeBuf = append(e.writeBuf, payload[1:1+protocol.BlockSize]...)

	if eod == 1 {
		// trim the zero padding of the final block using the size prefix
		if len(e.writeBuf) >= protocol.DataHeaderSize {
			sz := int(binary.BigEndian.Uint32(e.writeBuf))
			total := protocol.DataHeaderSize + sz
			if total <= len(e.writeBuf) {
				e.writeBuf = e.writeBuf[:total]
			}
		}
		e.dataNodes[e.dataContext] = e.writeBuf
		e.writeBuf = nil
	}
	e.replyStatus(protocol.CmdWrite32BInDN, true)
}

func (e *Emulator) handleReadDataBlock() {
	stream, found := e.dataNodes[e.dataContext]
	if !found || e.readOffset >= len(stream) {
		e.reply(protocol.CmdRead32BInDN, []byte{0})
		return
	}
	end := e.readOffset + protocol.BlockSize
	if end > len(stream) {
		end = len(stream)
	}
	// the device always returns full blocks, the final one zero padded
	chunk := make([]byte, protocol.BlockSize)
	copy(chunk, stream[e.readOffset:end])
	e.readOffset = end
	e.reply(protocol.CmdRead32BInDN, chunk)
}

func cstring(payload []byte) string {
	for i, b := range payload {
		if b == 0 {
			return string(payload[:i])
		}
	}
	return string(payload)
}

func cdata(s string) []byte {
	return append([]byte(s), 0)
}
