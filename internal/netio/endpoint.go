// Package netio is the thin duplex abstraction over an unreliable
// datagram socket that the sender and receiver reactors are built on:
// bind once, send best-effort, and poll for an inbound datagram with a
// wait of at most one millisecond.
package netio

import (
	"errors"
	"net"
	"time"
)

// MaxDatagramSize is large enough to hold the biggest packet the core
// ever emits (see wire.MaxPacketSize) plus slack.
const MaxDatagramSize = 2048

// Endpoint binds a UDP socket and exposes non-blocking send/receive,
// mirroring the teacher's ReadFromUDP/WriteToUDP plus
// ReceivePacketWithTimeout, generalized into one reusable type shared by
// both reactors.
type Endpoint struct {
	conn *net.UDPConn
}

// Bind opens and binds a UDP socket to local. local may be "ip:port" or
// ":port" to bind on all interfaces.
func Bind(local string) (*Endpoint, error) {
	addr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Endpoint{conn: conn}, nil
}

// LocalAddr returns the bound local address.
func (e *Endpoint) LocalAddr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// Send is best-effort and non-blocking: there is no confirmation that
// peer ever receives the datagram.
func (e *Endpoint) Send(peer *net.UDPAddr, data []byte) error {
	_, err := e.conn.WriteToUDP(data, peer)
	return err
}

// TryReceive polls for one queued inbound datagram. A queued datagram is
// returned at once; if none is available it waits at most one
// millisecond and then returns ok==false.
func (e *Endpoint) TryReceive() (data []byte, peer *net.UDPAddr, ok bool, err error) {
	if err := e.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return nil, nil, false, err
	}

	buf := make([]byte, MaxDatagramSize)
	n, from, readErr := e.conn.ReadFromUDP(buf)
	if readErr != nil {
		var netErr net.Error
		if errors.As(readErr, &netErr) && netErr.Timeout() {
			return nil, nil, false, nil
		}
		return nil, nil, false, readErr
	}

	return buf[:n], from, true, nil
}

// Close releases the underlying socket.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}

// SameEndpoint reports whether two UDP addresses name the same peer, the
// comparison both reactors use to enforce peer locking.
func SameEndpoint(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
