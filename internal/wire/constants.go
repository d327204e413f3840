// Package wire implements the packet codec for the reliable UDP
// transport: serialization, deserialization and the one's-complement
// integrity check shared by the sender and receiver reactors.
package wire

import "time"

// MaxDataSize is the largest payload a single DATA packet may carry.
const MaxDataSize = 1024

// HeaderSize is the fixed, field-by-field serialized header length.
const HeaderSize = 20

// SackBlockSize is the wire size of one (left_edge, right_edge) pair.
const SackBlockSize = 8

// MaxSackBlocks bounds how many SACK blocks an ACK carries.
const MaxSackBlocks = 3

// MaxPacketSize is the largest datagram the core ever emits: header,
// a full payload and the maximum run of SACK blocks.
const MaxPacketSize = HeaderSize + MaxDataSize + MaxSackBlocks*SackBlockSize

// WindowSize is the sliding window bound, in packets.
const WindowSize = 16

// TimeoutMS is the fixed retransmission timeout.
const TimeoutMS = 1000 * time.Millisecond

// MaxRetries is the retry budget for the SYN and FIN handshakes.
const MaxRetries = 5

// DupAckTrigger is the number of duplicate ACKs that trigger fast
// retransmit. The original source carries two conflicting drafts (2 and
// 3); the standard TCP value of 3 is the one this implementation uses.
const DupAckTrigger = 3
