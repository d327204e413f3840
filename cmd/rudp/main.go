// Command rudp is the thin, non-interactive CLI collaborator around the
// reliable UDP transport core: it resolves addresses, opens the local
// file source or sink, and wires them into internal/sender or
// internal/receiver. None of this file is part of the protocol core.
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/relayfile/rudp/internal/netio"
	"github.com/relayfile/rudp/internal/receiver"
	"github.com/relayfile/rudp/internal/sender"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "send":
		runSend(os.Args[2:])
	case "recv":
		runRecv(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: rudp send -local <ip:port> -remote <ip:port> -file <path>")
	fmt.Fprintln(os.Stderr, "       rudp recv -local <ip:port> -out <dir>")
}

func runSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	local := fs.String("local", "0.0.0.0:0", "local bind address")
	remote := fs.String("remote", "", "receiver address")
	file := fs.String("file", "", "file to send")
	fs.Parse(args)

	if *remote == "" || *file == "" {
		usage()
		os.Exit(1)
	}

	f, err := os.Open(*file)
	if err != nil {
		log.WithError(err).Fatal("could not open source file")
	}
	defer f.Close()

	remoteAddr, err := net.ResolveUDPAddr("udp", *remote)
	if err != nil {
		log.WithError(err).Fatal("could not resolve remote address")
	}

	endpoint, err := netio.Bind(*local)
	if err != nil {
		log.WithError(err).Fatal("could not bind local endpoint")
	}
	defer endpoint.Close()

	s := sender.New(endpoint)
	if err := s.Connect(remoteAddr); err != nil {
		log.WithError(err).Fatal("connect failed")
	}

	if err := s.SendFile(filepath.Base(*file), f); err != nil {
		log.WithError(err).Fatal("send failed")
	}

	if err := s.Disconnect(); err != nil {
		log.WithError(err).Warn("disconnect did not complete cleanly")
	}

	log.WithFields(log.Fields{
		"bytes_sent":      s.Stats.BytesSent,
		"packets_sent":    s.Stats.PacketsSent,
		"retransmissions": s.Stats.Retransmissions,
		"throughput_mbit": s.Stats.ThroughputMbit(),
	}).Info("transfer complete")
}

func runRecv(args []string) {
	fs := flag.NewFlagSet("recv", flag.ExitOnError)
	local := fs.String("local", "0.0.0.0:13374", "local bind address")
	out := fs.String("out", ".", "output directory")
	fs.Parse(args)

	endpoint, err := netio.Bind(*local)
	if err != nil {
		log.WithError(err).Fatal("could not bind local endpoint")
	}
	defer endpoint.Close()

	openSink := func(name string) (io.WriteCloser, error) {
		return os.Create(filepath.Join(*out, name))
	}

	r := receiver.New(endpoint, openSink)
	log.WithField("local", *local).Info("listening")
	if err := r.Run(); err != nil {
		log.WithError(err).Fatal("receive failed")
	}

	log.WithFields(log.Fields{
		"bytes_received":   r.Stats.BytesReceived,
		"packets_received": r.Stats.PacketsReceived,
	}).Info("transfer complete")
}
