package debug

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/davecgh/go-spew/spew"

	"github.com/nebulamp/netcore/internal/packets"
)

var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

type PrintPacketParams struct {
	Writer io.Writer
	// Peer describes the other end of the connection, e.g. its address.
	Peer         string
	ClientPacket bool
	// Data is a frame payload.
	Data []byte
	// Registry is required when Interpret is set.
	Registry *packets.Registry
	// Only the first TruncateThreshold bytes are dumped if it is greater than zero.
	TruncateThreshold int
	// Interpret decodes the sub-packets in Data and prints their fields.
	Interpret bool
}

// PrintPacket writes a hex dump of a frame payload and, optionally, the packets
// it decodes to.
func PrintPacket(params PrintPacketParams) {
	direction := "server -> client"
	if params.ClientPacket {
		direction = "client -> server"
	}
	fmt.Fprintf(params.Writer, "[%s] %s (%d bytes)\n", direction, params.Peer, len(params.Data))

	data := params.Data
	if params.TruncateThreshold > 0 && len(data) > params.TruncateThreshold {
		data = data[:params.TruncateThreshold]
	}
	fmt.Fprint(params.Writer, hex.Dump(data))
	if len(data) < len(params.Data) {
		fmt.Fprintf(params.Writer, "... %d more bytes\n", len(params.Data)-len(data))
	}

	if params.Interpret && params.Registry != nil {
		decoded := params.Registry.DecodeFrame(params.Data)
		for _, r := range decoded.Packets {
			DumpPacket(params.Writer, r)
		}
		for _, err := range decoded.Dropped {
			fmt.Fprintf(params.Writer, "dropped: %v\n", err)
		}
		if decoded.Trailing > 0 {
			fmt.Fprintf(params.Writer, "trailing: %d bytes\n", decoded.Trailing)
		}
	}
	fmt.Fprintln(params.Writer)
}

// DumpPacket writes the name, tag and fields of a decoded packet.
func DumpPacket(w io.Writer, r packets.Resolved) {
	fmt.Fprintf(w, "%s (tag %d): ", r.Name, r.Tag)
	dumpConfig.Fdump(w, r.Packet)
}
