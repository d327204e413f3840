// Package sender implements the sender half of the reliable UDP
// transport: the three-way handshake, the file-name sub-handshake, the
// sliding-window data transfer with Reno congestion control, and the
// two-way teardown.
package sender

import (
	cryptorand "crypto/rand"
	"fmt"
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

// State is the sender's connection state.
type State int

const (
	Closed State = iota
	SynSent
	Established
	FinWait
	Failed
)

type inFlightEntry struct {
	bytes  []byte
	sentAt time.Time
}

// Sender is a single-shot, single-threaded cooperative reactor: one
// Sender drives exactly one connection for exactly one file transfer.
type Sender struct {
	endpoint *netio.Endpoint
	clock    clock.Clock
	log      *log.Entry
	opts     *Options

	state State
	peer  *net.UDPAddr

	isn         uint32
	base        uint32
	nextSeqNum  uint32
	inFlight    map[uint32]inFlightEntry
	everSacked  bitmap.Bitmap

	congState  CongState
	cwnd       float64
	ssthresh   float64
	dupAckCnt  int
	lastAcked  uint32

	Stats stats.Counters
}

// New creates a Sender bound to the given datagram endpoint. It does not
// yet send anything; call Connect to start the handshake.
func New(endpoint *netio.Endpoint, opts ...func(*Options)) *Sender {
	options := newDefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Sender{
		endpoint:   endpoint,
		clock:      clock.Real{},
		log:        log.NewEntry(options.Logger),
		opts:       options,
		state:      Closed,
		inFlight:   make(map[uint32]inFlightEntry),
		congState:  SlowStart,
		cwnd:       1.0,
		ssthresh:   float64(wire.WindowSize),
	}
}

// Connect runs the three-way handshake against remote. It blocks
// cooperatively until either a valid SYN_ACK arrives — locking the peer
// to the first responder — or the SYN has been retransmitted
// wire.MaxRetries times without a response.
func (s *Sender) Connect(remote *net.UDPAddr) error {
	isn, err := randomSeq()
	if err != nil {
		return fmt.Errorf("generating initial sequence number: %w", err)
	}
	s.isn = isn

	syn := wire.NewSYN(s.isn)
	s.state = SynSent
	retries := 0

	if err := s.sendTo(remote, &syn); err != nil {
		return err
	}
	sentAt := s.clock.Now()

	for {
		if s.clock.Now().Sub(sentAt) > wire.TimeoutMS {
			retries++
			if retries > wire.MaxRetries {
				s.state = Failed
				return fmt.Errorf("connect: exhausted %d retries without a SYN_ACK", wire.MaxRetries)
			}
			s.log.WithField("retry", retries).Debug("SYN timed out, retransmitting")
			if err := s.sendTo(remote, &syn); err != nil {
				return err
			}
			sentAt = s.clock.Now()
		}

		pck, from, ok, err := s.recvUnlocked()
		if err != nil {
			return err
		}
		if ok {
			if s.peer == nil {
				s.peer = from
				s.log.WithField("peer", from.String()).Info("locked peer")
			}
			if pck.Type == wire.SynAck && pck.Verify() {
				ack := wire.NewHandshakeAck(&pck)
				if err := s.sendTo(s.peer, &ack); err != nil {
					return err
				}

				s.isn++
				s.base = s.isn
				s.nextSeqNum = s.isn
				s.state = Established
				s.Stats.Start = s.clock.Now()
				return nil
			}
		}

		time.Sleep(s.opts.PollInterval)
	}
}

// SendFile announces name (the caller is responsible for stripping any
// directory components before calling this) and then transmits the
// contents of source using the sliding window.
func (s *Sender) SendFile(name string, source io.Reader) error {
	if err := s.announceFileName(name); err != nil {
		return err
	}

	data, err := io.ReadAll(source)
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}

	firstDataSeq := s.base
	totalChunks := (len(data) + wire.MaxDataSize - 1) / wire.MaxDataSize
	if len(data) == 0 {
		totalChunks = 0
	}

	for s.base < firstDataSeq+uint32(totalChunks) {
		windowLimit := minInt(int(s.cwnd), wire.WindowSize)

		for int(s.nextSeqNum-s.base) < windowLimit && s.nextSeqNum < firstDataSeq+uint32(totalChunks) {
			chunkIdx := int(s.nextSeqNum - firstDataSeq)
			start := chunkIdx * wire.MaxDataSize
			end := start + wire.MaxDataSize
			if end > len(data) {
				end = len(data)
			}

			pck := wire.NewData(s.nextSeqNum, data[start:end])
			encoded := pck.Encode()
			if err := s.endpoint.Send(s.peer, encoded); err != nil {
				return err
			}
			s.Stats.PacketsSent++
			s.Stats.BytesSent += uint64(len(encoded))

			s.inFlight[s.nextSeqNum] = inFlightEntry{bytes: encoded, sentAt: s.clock.Now()}
			s.nextSeqNum++
		}

		pck, ok, err := s.recvLocked()
		if err != nil {
			return err
		}
		if ok && pck.Type == wire.Ack {
			s.handleAck(&pck)
		}

		s.timeoutScan()

		time.Sleep(s.opts.PollInterval)
	}

	s.Stats.End = s.clock.Now()
	return nil
}

// Disconnect runs the two-way teardown. Completion is best-effort: after
// wire.MaxRetries retransmissions the sender considers the connection
// closed regardless, per §4.3.
func (s *Sender) Disconnect() error {
	fin := wire.NewFin(s.nextSeqNum)
	s.state = FinWait
	retries := 0

	if err := s.sendTo(s.peer, &fin); err != nil {
		return err
	}
	sentAt := s.clock.Now()

	for retries <= wire.MaxRetries {
		if s.clock.Now().Sub(sentAt) > wire.TimeoutMS {
			retries++
			if retries > wire.MaxRetries {
				break
			}
			if err := s.sendTo(s.peer, &fin); err != nil {
				return err
			}
			sentAt = s.clock.Now()
		}

		pck, ok, err := s.recvLocked()
		if err != nil {
			return err
		}
		if ok && pck.Type == wire.FinAck && pck.Verify() {
			s.state = Closed
			return nil
		}

		time.Sleep(s.opts.PollInterval)
	}

	s.state = Closed
	return nil
}

func (s *Sender) announceFileName(name string) error {
	seq := s.base
	pck := wire.NewFileName(seq, name)
	retries := 0

	if err := s.sendTo(s.peer, &pck); err != nil {
		return err
	}
	sentAt := s.clock.Now()

	for {
		if s.clock.Now().Sub(sentAt) > wire.TimeoutMS {
			retries++
			if retries > wire.MaxRetries {
				return fmt.Errorf("file-name handshake: exhausted %d retries", wire.MaxRetries)
			}
			if err := s.sendTo(s.peer, &pck); err != nil {
				return err
			}
			sentAt = s.clock.Now()
		}

		reply, ok, err := s.recvLocked()
		if err != nil {
			return err
		}
		if ok && reply.Type == wire.FileNameAck && reply.Verify() && reply.Ack == seq+1 {
			return nil
		}

		time.Sleep(s.opts.PollInterval)
	}
}

// handleAck applies one inbound ACK per §4.3's ACK handler.
func (s *Sender) handleAck(ack *wire.Packet) {
	a := ack.Ack

	if a > s.base {
		s.base = a
		s.dupAckCnt = 0

		switch s.congState {
		case SlowStart:
			s.cwnd += 1.0
			if s.cwnd >= s.ssthresh {
				s.congState = CongestionAvoidance
			}
		case CongestionAvoidance:
			s.cwnd += 1.0 / s.cwnd
		case FastRecovery:
			s.cwnd = s.ssthresh
			s.congState = CongestionAvoidance
		}

		for seq := range s.inFlight {
			if seq < s.base {
				delete(s.inFlight, seq)
			}
		}

		s.lastAcked = a
	} else if a == s.lastAcked {
		s.dupAckCnt++

		if s.dupAckCnt == wire.DupAckTrigger {
			if entry, ok := s.inFlight[a]; ok {
				if err := s.endpoint.Send(s.peer, entry.bytes); err == nil {
					s.Stats.Retransmissions++
					entry.sentAt = s.clock.Now()
					s.inFlight[a] = entry
				}
			}
			s.ssthresh = maxFloat(s.cwnd/2, 2)
			s.cwnd = s.ssthresh + 3
			s.congState = FastRecovery
		} else if s.dupAckCnt > wire.DupAckTrigger && s.congState == FastRecovery {
			s.cwnd += 1.0
		}
	}

	for _, sack := range ack.Sacks {
		for seq := sack.Left; seq < sack.Right; seq++ {
			delete(s.inFlight, seq)
			s.everSacked.Set(seq)
		}
	}
}

// timeoutScan retransmits every in-flight packet whose send timestamp is
// older than wire.TimeoutMS, per §4.3.
func (s *Sender) timeoutScan() {
	now := s.clock.Now()
	fired := false

	for seq, entry := range s.inFlight {
		if now.Sub(entry.sentAt) > wire.TimeoutMS {
			if err := s.endpoint.Send(s.peer, entry.bytes); err == nil {
				s.Stats.Retransmissions++
				entry.sentAt = now
				s.inFlight[seq] = entry
				fired = true
			}
		}
	}

	if fired {
		s.ssthresh = maxFloat(s.cwnd/2, 2)
		s.cwnd = 1.0
		s.congState = SlowStart
		s.dupAckCnt = 0
	}
}

func (s *Sender) sendTo(peer *net.UDPAddr, pck *wire.Packet) error {
	encoded := pck.Encode()
	if err := s.endpoint.Send(peer, encoded); err != nil {
		return err
	}
	s.Stats.PacketsSent++
	s.Stats.BytesSent += uint64(len(encoded))
	return nil
}

// recvUnlocked polls for one datagram before the peer is locked, used
// only during Connect.
func (s *Sender) recvUnlocked() (wire.Packet, *net.UDPAddr, bool, error) {
	buf, from, ok, err := s.endpoint.TryReceive()
	if err != nil || !ok {
		return wire.Packet{}, nil, false, err
	}
	pck, decoded := wire.Decode(buf)
	if !decoded {
		return wire.Packet{}, from, false, nil
	}
	return pck, from, true, nil
}

// recvLocked polls for one datagram, dropping anything not from the
// locked peer before even attempting to decode it, per §6 "peer
// locking".
func (s *Sender) recvLocked() (wire.Packet, bool, error) {
	buf, from, ok, err := s.endpoint.TryReceive()
	if err != nil {
		return wire.Packet{}, false, err
	}
	if !ok {
		return wire.Packet{}, false, nil
	}
	if s.peer != nil && !netio.SameEndpoint(from, s.peer) {
		return wire.Packet{}, false, nil
	}
	pck, decoded := wire.Decode(buf)
	if !decoded || !pck.Verify() {
		return wire.Packet{}, false, nil
	}
	return pck, true, nil
}

func randomSeq() (uint32, error) {
	var b [4]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}
