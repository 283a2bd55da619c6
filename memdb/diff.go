package memdb

import (
	"bytes"
	"fmt"

	"github.com/moolticute/go-mooltipass/protocol"
)

// SaveOpKind classifies one write-back operation.
type SaveOpKind int

// Save operation kinds.
const (
	// OpWriteNode writes a full node image at Addr
	OpWriteNode SaveOpKind = iota

	// OpEraseNode marks the slot at Addr writable again (erased content)
	OpEraseNode

	// OpSetFavorite rewrites favorite slot Index with Data
	OpSetFavorite

	// OpSetCTR rewrites the CTR value
	OpSetCTR

	// OpSetStartCred rewrites the credential chain start address
	OpSetStartCred

	// OpSetStartData rewrites the data chain start address
	OpSetStartData

	// OpAddCpzCtr appends a CPZ/CTR record
	OpAddCpzCtr
)

// SaveOp is one element of the minimal write-back set produced by diffing
// the live session state against its clone.
type SaveOp struct {
	Kind  SaveOpKind
	Addr  Address
	Index int
	Data  []byte
}

// writeFlashNodeChunk is the node payload carried per write packet:
// MaxPayloadSize minus the address and packet-index prefix.
const writeFlashNodeChunk = protocol.MaxPayloadSize - protocol.AddressSize - 1

// GenerateSaveOps produces the minimal set of device writes that turn the
// cloned (on-flash) state into the live state. Virtual addresses must have
// been resolved beforehand.
func (s *Store) GenerateSaveOps() []SaveOp {
	var ops []SaveOp

	diffList := func(live, clone []*Node, what string) {
		for _, n := range live {
			counterpart := FindNodeByAddress(clone, n.Address(), 0)
			switch {
			case counterpart == nil:
				s.log.Info("save: writing new node", "kind", what, "address", n.Address().String())
				ops = append(ops, SaveOp{Kind: OpWriteNode, Addr: n.Address().Clone(), Data: append([]byte(nil), n.Raw()...)})
			case !bytes.Equal(n.Raw(), counterpart.Raw()):
				s.log.Info("save: updating node", "kind", what, "address", n.Address().String())
				ops = append(ops, SaveOp{Kind: OpWriteNode, Addr: n.Address().Clone(), Data: append([]byte(nil), n.Raw()...)})
			}
		}
		for _, n := range clone {
			if FindNodeByAddress(live, n.Address(), 0) == nil {
				s.log.Info("save: erasing deleted node", "kind", what, "address", n.Address().String())
				ops = append(ops, SaveOp{Kind: OpEraseNode, Addr: n.Address().Clone()})
			}
		}
	}

	diffList(s.Cred, s.CredClone, "credential parent")
	diffList(s.CredChildren, s.CredChildrenClone, "credential child")
	diffList(s.Data, s.DataClone, "data parent")
	diffList(s.DataChildren, s.DataChildrenClone, "data child")

	for i := range s.Favorites {
		if i < len(s.FavoritesClone) && bytes.Equal(s.Favorites[i], s.FavoritesClone[i]) {
			continue
		}
		s.log.Info("save: updating favorite", "slot", i)
		ops = append(ops, SaveOp{Kind: OpSetFavorite, Index: i, Data: append([]byte(nil), s.Favorites[i]...)})
	}

	if !bytes.Equal(s.Ctr, s.CtrClone) {
		s.log.Info("save: updating ctr value")
		ops = append(ops, SaveOp{Kind: OpSetCTR, Data: append([]byte(nil), s.Ctr...)})
	}

	if !s.StartCred.Equals(s.StartCredClone) {
		s.log.Info("save: updating credential start node")
		ops = append(ops, SaveOp{Kind: OpSetStartCred, Addr: s.StartCred.Clone()})
	}
	if !s.StartData.Equals(s.StartDataClone) {
		s.log.Info("save: updating data start node")
		ops = append(ops, SaveOp{Kind: OpSetStartData, Addr: s.StartData.Clone()})
	}

	// cpz/ctr records can only be added by design
	for _, rec := range s.CpzCtr {
		found := false
		for _, cloneRec := range s.CpzCtrClone {
			if bytes.Equal(rec, cloneRec) {
				found = true
				break
			}
		}
		if !found {
			s.log.Info("save: adding cpz/ctr record")
			ops = append(ops, SaveOp{Kind: OpAddCpzCtr, Data: append([]byte(nil), rec...)})
		}
	}

	return ops
}

// Packets renders save operations into wire frames. Node writes split into
// several WriteFlashNode packets carrying [addr(2)][packet#(1)][chunk].
func Packets(ops []SaveOp) ([][protocol.PacketSize]byte, error) {
	var frames [][protocol.PacketSize]byte

	appendFrame := func(cmd byte, payload []byte) error {
		f, err := protocol.BuildPacket(cmd, payload)
		if err != nil {
			return err
		}
		frames = append(frames, f)
		return nil
	}

	writeNode := func(addr Address, image []byte) error {
		if addr.IsNull() {
			return fmt.Errorf("cannot render a write for an unresolved virtual address")
		}
		for i := 0; len(image) > 0; i++ {
			chunk := image
			if len(chunk) > writeFlashNodeChunk {
				chunk = chunk[:writeFlashNodeChunk]
			}
			payload := make([]byte, 0, protocol.AddressSize+1+len(chunk))
			payload = append(payload, addr[0], addr[1], byte(i))
			payload = append(payload, chunk...)
			if err := appendFrame(protocol.CmdWriteFlashNode, payload); err != nil {
				return err
			}
			image = image[len(chunk):]
		}
		return nil
	}

	for _, op := range ops {
		var err error
		switch op.Kind {
		case OpWriteNode:
			err = writeNode(op.Addr, op.Data)
		case OpEraseNode:
			err = writeNode(op.Addr, bytes.Repeat([]byte{0xFF}, NodeSize))
		case OpSetFavorite:
			payload := append([]byte{byte(op.Index)}, op.Data...)
			err = appendFrame(protocol.CmdSetFavorite, payload)
		case OpSetCTR:
			err = appendFrame(protocol.CmdSetCTRValue, op.Data)
		case OpSetStartCred:
			err = appendFrame(protocol.CmdSetStartingParent, op.Addr)
		case OpSetStartData:
			err = appendFrame(protocol.CmdSetDNStartParent, op.Addr)
		case OpAddCpzCtr:
			err = appendFrame(protocol.CmdAddCardCPZCTR, op.Data)
		}
		if err != nil {
			return nil, err
		}
	}

	return frames, nil
}
