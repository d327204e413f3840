package wire

// Constructors mirror the teacher's NewAck/NewFile/NewEnd/NewPte style:
// each one builds the next packet in a handshake or transfer from the
// state it reacts to, rather than from a bag of loose parameters.

// NewSYN builds the connection-opening SYN carrying the sender's ISN.
func NewSYN(isn uint32) Packet {
	return Packet{Type: SYN, Seq: isn}
}

// NewSynAck answers a SYN. Per §6, seq is always zero for the responder
// side of this one-shot handshake.
func NewSynAck(syn *Packet) Packet {
	return Packet{Type: SynAck, Seq: 0, Ack: syn.Seq + 1}
}

// NewHandshakeAck builds the third leg of the three-way handshake: the
// sender's ACK of the responder's SYN_ACK.
func NewHandshakeAck(synAck *Packet) Packet {
	return Packet{Type: Ack, Seq: synAck.Ack, Ack: 1}
}

// NewFileName announces the (path-stripped) file name about to be sent.
func NewFileName(seq uint32, name string) Packet {
	data := []byte(name)
	return Packet{Type: FileName, Seq: seq, Data: data, DataLen: uint16(len(data))}
}

// NewFileNameAck acknowledges a FILE_NAME packet.
func NewFileNameAck(name *Packet) Packet {
	return Packet{Type: FileNameAck, Ack: name.Seq + 1}
}

// NewData builds a DATA packet carrying one chunk at sequence seq.
func NewData(seq uint32, payload []byte) Packet {
	return Packet{Type: Data, Seq: seq, Data: payload, DataLen: uint16(len(payload))}
}

// NewAck builds a cumulative ACK with up to MaxSackBlocks SACK blocks.
func NewAck(ackNum uint32, window uint16, sacks []SACKBlock) Packet {
	return Packet{
		Type:      Ack,
		Ack:       ackNum,
		Window:    window,
		Sacks:     sacks,
		SackCount: uint32(len(sacks)),
	}
}

// NewFin builds the teardown-initiating FIN at sequence seq.
func NewFin(seq uint32) Packet {
	return Packet{Type: Fin, Seq: seq}
}

// NewFinAck answers a FIN.
func NewFinAck(fin *Packet) Packet {
	return Packet{Type: FinAck, Ack: fin.Seq + 1}
}
