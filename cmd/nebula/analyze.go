package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/spf13/cobra"

	"github.com/nebulamp/netcore/internal/chat"
	"github.com/nebulamp/netcore/internal/core/debug"
	"github.com/nebulamp/netcore/internal/frame"
	"github.com/nebulamp/netcore/internal/packets"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <capture.pcap>",
	Short: "Decodes the frames in a packet capture of a session",
	Args:  cobra.ExactArgs(1),
	Run:   AnalyzeCommand,
}

var (
	PortFlag      int
	TruncateFlag  int
	InterpretFlag bool
)

func AnalyzeCommand(_ *cobra.Command, args []string) {
	f, err := os.Open(args[0])
	if err != nil {
		fmt.Println("error opening capture:", err)
		os.Exit(1)
	}
	defer f.Close()

	registry := packets.NewRegistry()
	if err := registry.RegisterAll(packets.SessionPackets, chat.Packets); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	a := &analyzer{
		Writer:    w,
		Registry:  registry,
		Port:      uint16(PortFlag),
		Truncate:  TruncateFlag,
		Interpret: InterpretFlag,
		flows:     make(map[gopacket.Flow]*frame.Decoder),
	}
	if err := a.readCapture(f); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// analyzer reassembles the frames sent in each direction of every TCP
// connection to the server port.
type analyzer struct {
	Writer    io.Writer
	Registry  *packets.Registry
	Port      uint16
	// Truncate and Interpret are passed through to debug.PrintPacket.
	Truncate  int
	Interpret bool

	flows map[gopacket.Flow]*frame.Decoder
}

func (a *analyzer) readCapture(r io.Reader) error {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return fmt.Errorf("error reading capture: %w", err)
	}

	source := gopacket.NewPacketSource(reader, reader.LinkType())
	for packet := range source.Packets() {
		tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if !ok || len(tcp.Payload) == 0 {
			continue
		}
		clientPacket := uint16(tcp.DstPort) == a.Port
		if !clientPacket && uint16(tcp.SrcPort) != a.Port {
			continue
		}
		a.handleSegment(packet, clientPacket, tcp.Payload)
	}
	return nil
}

func (a *analyzer) handleSegment(packet gopacket.Packet, clientPacket bool, data []byte) {
	flow := packet.TransportLayer().TransportFlow()
	peer := flow.String()
	if n := packet.NetworkLayer(); n != nil {
		peer = fmt.Sprintf("%v:%v -> %v:%v", n.NetworkFlow().Src(), flow.Src(), n.NetworkFlow().Dst(), flow.Dst())
	}

	decoder, ok := a.flows[flow]
	if !ok {
		decoder = &frame.Decoder{
			OnInvalid: func(reason frame.Reason, discarded int) {
				fmt.Fprintf(a.Writer, "[%s] discarded %d bytes: %s\n\n", peer, discarded, reason)
			},
		}
		a.flows[flow] = decoder
	}

	for _, f := range decoder.Feed(data) {
		debug.PrintPacket(debug.PrintPacketParams{
			Writer:            a.Writer,
			Peer:              peer,
			ClientPacket:      clientPacket,
			Data:              f.Payload,
			Registry:          a.Registry,
			TruncateThreshold: a.Truncate,
			Interpret:         a.Interpret,
		})
	}
}
