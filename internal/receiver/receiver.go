// Package receiver implements the receiver half of the reliable UDP
// transport: connection acceptance, the file-name sub-handshake,
// out-of-order reassembly into an in-order byte sink, cumulative+SACK
// acknowledgment, and teardown.
package receiver

import (
	"io"
	"net"
	"time"

	"github.com/kelindar/bitmap"
	log "github.com/sirupsen/logrus"

	"github.com/relayfile/rudp/internal/clock"
	"github.com/relayfile/rudp/internal/netio"
	"github.com/relayfile/rudp/internal/stats"
	"github.com/relayfile/rudp/internal/wire"
)

// State is the receiver's connection state.
type State int

const (
	Closed State = iota
	SynReceived
	Established
)

// OpenSink opens the byte sink a received file is written to. The
// receiver core never opens files itself — per §1's scope, local I/O is
// a collaborator's concern — so the caller injects how a sink with the
// given derived name gets created.
type OpenSink func(name string) (io.WriteCloser, error)

// Receiver is a single-shot, single-threaded cooperative reactor: one
// Receiver accepts exactly one connection and reassembles exactly one
// file.
type Receiver struct {
	endpoint *netio.Endpoint
	clock    clock.Clock
	log      *log.Entry
	opts     *Options
	openSink OpenSink

	state State
	peer  *net.UDPAddr

	expectedSeq   uint32
	reorderBuffer map[uint32][]byte
	receivedSet   bitmap.Bitmap

	sink io.WriteCloser

	Stats stats.Counters
}

// New creates a Receiver bound to the given datagram endpoint. The
// receive loop starts as soon as Run is called.
func New(endpoint *netio.Endpoint, openSink OpenSink, opts ...func(*Options)) *Receiver {
	options := newDefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Receiver{
		endpoint:      endpoint,
		clock:         clock.Real{},
		log:           log.NewEntry(options.Logger),
		opts:          options,
		openSink:      openSink,
		state:         Closed,
		reorderBuffer: make(map[uint32][]byte),
	}
}

// Run is the single reactor loop: it consumes datagrams until a FIN
// closes the sink and the connection, then returns.
func (r *Receiver) Run() error {
	r.Stats.Start = r.clock.Now()

	for {
		buf, from, ok, err := r.endpoint.TryReceive()
		if err != nil {
			return err
		}
		if ok {
			if r.peer != nil && !netio.SameEndpoint(from, r.peer) {
				continue
			}

			pck, decoded := wire.Decode(buf)
			if !decoded || !pck.Verify() {
				continue
			}

			r.Stats.PacketsReceived++
			r.Stats.BytesReceived += uint64(len(buf))

			if closed := r.handlePacket(&pck, from); closed {
				r.Stats.End = r.clock.Now()
				return nil
			}
		}

		time.Sleep(r.opts.PollInterval)
	}
}

// handlePacket dispatches one verified packet per §4.4 and reports
// whether the connection is now closed.
func (r *Receiver) handlePacket(pck *wire.Packet, from *net.UDPAddr) (closed bool) {
	switch pck.Type {
	case wire.SYN:
		r.handleSyn(pck, from)
	case wire.Ack:
		r.handleHandshakeAck(pck)
	case wire.FileName:
		r.handleFileName(pck)
	case wire.Data:
		r.handleData(pck)
	case wire.Fin:
		r.handleFin(pck)
		return true
	default:
		r.log.WithField("type", pck.Type.String()).Debug("ignoring unexpected packet type")
	}
	return false
}

func (r *Receiver) handleSyn(syn *wire.Packet, from *net.UDPAddr) {
	if r.peer == nil {
		r.peer = from
		r.log.WithField("peer", from.String()).Info("locked peer")
	}

	synAck := wire.NewSynAck(syn)
	r.send(&synAck)

	r.expectedSeq = syn.Seq + 1
	r.state = SynReceived
}

func (r *Receiver) handleHandshakeAck(ack *wire.Packet) {
	if r.state != SynReceived {
		return
	}
	if ack.Ack == 1 {
		r.state = Established
	} else {
		r.log.WithField("ack", ack.Ack).Debug("unexpected handshake ack, remaining in SYN_RECEIVED")
	}
}

func (r *Receiver) handleFileName(name *wire.Packet) {
	if r.state != Established {
		return
	}

	sinkName := SinkName(name.Data)
	sink, err := r.openSink(sinkName)
	if err != nil {
		r.log.WithError(err).WithField("sink", sinkName).Error("could not open sink")
	} else {
		r.sink = sink
	}

	ack := wire.NewFileNameAck(name)
	r.send(&ack)
}

func (r *Receiver) handleData(data *wire.Packet) {
	if r.state != Established {
		return
	}

	seq := data.Seq
	if !r.receivedSet.Contains(seq) {
		r.reorderBuffer[seq] = data.Data
		r.receivedSet.Set(seq)
	}

	for {
		payload, ok := r.reorderBuffer[r.expectedSeq]
		if !ok {
			break
		}
		if r.sink != nil {
			if _, err := r.sink.Write(payload); err != nil {
				r.log.WithError(err).Error("sink write failed")
			}
		}
		delete(r.reorderBuffer, r.expectedSeq)
		r.expectedSeq++
	}

	r.sendAck()
}

func (r *Receiver) handleFin(fin *wire.Packet) {
	finAck := wire.NewFinAck(fin)
	r.send(&finAck)

	if r.sink != nil {
		if err := r.sink.Close(); err != nil {
			r.log.WithError(err).Error("closing sink failed")
		}
	}

	r.state = Closed
}

// sendAck builds and sends the cumulative ACK plus up to
// wire.MaxSackBlocks SACK blocks, per §4.4's "ACK construction".
func (r *Receiver) sendAck() {
	blocks := buildSackBlocks(&r.receivedSet, r.expectedSeq)
	ack := wire.NewAck(r.expectedSeq, wire.WindowSize, blocks)
	r.send(&ack)
}

// buildSackBlocks scans received, starting at the first sequence
// strictly greater than expectedSeq, coalescing consecutive runs into
// half-open blocks and stopping after wire.MaxSackBlocks.
func buildSackBlocks(received *bitmap.Bitmap, expectedSeq uint32) []wire.SACKBlock {
	var pending []uint32
	received.Range(func(x uint32) {
		if x > expectedSeq {
			pending = append(pending, x)
		}
	})

	var blocks []wire.SACKBlock
	i := 0
	for i < len(pending) && len(blocks) < wire.MaxSackBlocks {
		left := pending[i]
		right := left + 1
		j := i + 1
		for j < len(pending) && pending[j] == right {
			right++
			j++
		}
		blocks = append(blocks, wire.SACKBlock{Left: left, Right: right})
		i = j
	}
	return blocks
}

func (r *Receiver) send(pck *wire.Packet) {
	if r.peer == nil {
		return
	}
	if err := r.endpoint.Send(r.peer, pck.Encode()); err != nil {
		r.log.WithError(err).Warn("send failed")
	}
}
