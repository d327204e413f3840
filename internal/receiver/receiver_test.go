package receiver

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/relayfile/rudp/internal/wire"
)

func TestSinkNameStripsPathAndSplitsExtension(t *testing.T) {
	cases := map[string]string{
		"":                     "output",
		"pic.jpg":              "pic_output.jpg",
		"C:\\dir\\sub/pic.jpg": "pic_output.jpg",
		"/var/tmp/notes":       "notes_output",
		"archive.tar.gz":       "archive.tar_output.gz",
	}

	for in, want := range cases {
		if got := SinkName([]byte(in)); got != want {
			t.Errorf("SinkName(%q) = %q, want %q", in, got, want)
		}
	}
}

type closableBuffer struct {
	bytes.Buffer
	closed bool
}

func (c *closableBuffer) Close() error {
	c.closed = true
	return nil
}

func newTestReceiver() (*Receiver, *closableBuffer) {
	buf := &closableBuffer{}
	r := New(nil, func(name string) (io.WriteCloser, error) {
		return buf, nil
	})
	return r, buf
}

func TestHandleDataDeliversInOrderAndSuppressesDuplicates(t *testing.T) {
	r, buf := newTestReceiver()
	r.state = Established
	r.expectedSeq = 0
	r.sink = buf

	first := wire.NewData(0, []byte("hello "))
	second := wire.NewData(1, []byte("world"))

	r.handleData(&first)
	r.handleData(&second)
	r.handleData(&second) // duplicate, must not double-write

	if got := buf.String(); got != "hello world" {
		t.Fatalf("sink contents = %q, want %q", got, "hello world")
	}
	if r.expectedSeq != 2 {
		t.Fatalf("expectedSeq = %d, want 2", r.expectedSeq)
	}
}

func TestHandleDataBuffersOutOfOrderThenDrains(t *testing.T) {
	r, buf := newTestReceiver()
	r.state = Established
	r.expectedSeq = 0
	r.sink = buf

	p2 := wire.NewData(2, []byte("C"))
	p0 := wire.NewData(0, []byte("A"))
	p1 := wire.NewData(1, []byte("B"))

	r.handleData(&p2)
	if buf.String() != "" {
		t.Fatalf("out-of-order packet must not be written yet, got %q", buf.String())
	}

	r.handleData(&p0)
	if buf.String() != "A" {
		t.Fatalf("sink = %q, want %q", buf.String(), "A")
	}

	r.handleData(&p1)
	if buf.String() != "ABC" {
		t.Fatalf("sink = %q, want %q", buf.String(), "ABC")
	}
}

func TestBuildSackBlocksCoalescesRunsAndCapsAtThree(t *testing.T) {
	r, _ := newTestReceiver()
	r.expectedSeq = 10

	for _, seq := range []uint32{11, 12, 15, 20, 21, 22, 30, 31} {
		r.receivedSet.Set(seq)
	}

	blocks := buildSackBlocks(&r.receivedSet, r.expectedSeq)
	want := []wire.SACKBlock{
		{Left: 11, Right: 13},
		{Left: 15, Right: 16},
		{Left: 20, Right: 23},
	}

	if len(blocks) != len(want) {
		t.Fatalf("got %d blocks, want %d: %+v", len(blocks), len(want), blocks)
	}
	for i := range want {
		if blocks[i] != want[i] {
			t.Errorf("block %d = %+v, want %+v", i, blocks[i], want[i])
		}
	}
}

func TestHandleFileNameEmptyPayloadUsesDefaultName(t *testing.T) {
	r, _ := newTestReceiver()
	r.state = Established

	var openedWith string
	r.openSink = func(name string) (io.WriteCloser, error) {
		openedWith = name
		return &closableBuffer{}, nil
	}

	pck := wire.NewFileName(0, "")
	r.handleFileName(&pck)

	if openedWith != "output" {
		t.Fatalf("opened sink %q, want %q", openedWith, "output")
	}
}

func TestHandleFileNameOpenErrorIsRecoveredLocally(t *testing.T) {
	r, _ := newTestReceiver()
	r.state = Established
	r.openSink = func(name string) (io.WriteCloser, error) {
		return nil, errors.New("disk full")
	}

	pck := wire.NewFileName(0, "report.txt")
	r.handleFileName(&pck) // must not panic

	if r.sink != nil {
		t.Fatalf("expected no sink to be set after an open error")
	}
}

func TestHandleFinClosesSinkAndTransitionsToClosed(t *testing.T) {
	r, buf := newTestReceiver()
	r.state = Established
	r.sink = buf

	fin := wire.NewFin(42)
	r.handleFin(&fin)

	if r.state != Closed {
		t.Fatalf("state = %v, want Closed", r.state)
	}
	if !buf.closed {
		t.Fatalf("expected sink to be closed on FIN")
	}
}
