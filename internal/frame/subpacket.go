package frame

import (
	"encoding/binary"
	"math"
)

// SubPacketHeaderSize is the size of the tag + length header preceding the content
// of every sub-packet inside a frame payload.
//
//	| Tag   |   Length    | Content |
//	---------------------------------
//	| XX XX | XX XX XX XX | ...     |
//	---------------------------------
const SubPacketHeaderSize = 2 + 4

// SubPacket is one tagged unit inside a frame payload. Content aliases the payload.
type SubPacket struct {
	Tag     uint16
	Content []byte
}

// SplitSubPackets walks a frame payload and returns every sub-packet that was read
// in full. Parsing stops at the first header whose declared length is negative or
// runs past the end of the payload; the number of bytes left unparsed is returned
// as trailing and is never treated as an error.
func SplitSubPackets(payload []byte) (subs []SubPacket, trailing int) {
	offset := 0
	for offset < len(payload) {
		rest := payload[offset:]
		if len(rest) < SubPacketHeaderSize {
			return subs, len(rest)
		}

		tag := binary.BigEndian.Uint16(rest)
		length := int32(binary.BigEndian.Uint32(rest[2:]))
		if length < 0 || int64(length) > int64(len(rest)-SubPacketHeaderSize) {
			return subs, len(rest)
		}

		end := SubPacketHeaderSize + int(length)
		subs = append(subs, SubPacket{Tag: tag, Content: rest[SubPacketHeaderSize:end]})
		offset += end
	}
	return subs, 0
}

// AppendSubPacket appends a tag + length header and content to dst.
func AppendSubPacket(dst []byte, tag uint16, content []byte) []byte {
	if len(content) > math.MaxInt32 {
		panic("frame: sub-packet content exceeds int32 length")
	}
	dst = binary.BigEndian.AppendUint16(dst, tag)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(content)))
	return append(dst, content...)
}
