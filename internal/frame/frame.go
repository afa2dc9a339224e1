// Package frame implements the checksummed, length-delimited envelope that every
// packet travels in over a byte stream.
//
//	| Prefix |  Checksum   | Length | Payload |
//	------------------------------------------
//	| 4E 42  | XX XX XX XX | XX XX  | ...     |
//	------------------------------------------
//
// The checksum is the sum of every byte of the length field and the payload,
// truncated to 32 bits, stored big-endian. It is a weak integrity check (two
// swapped bytes sum to the same value) but it is the wire format peers expect.
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	PrefixSize   = 2
	ChecksumSize = 4
	LengthSize   = 2

	checksumIndex = PrefixSize
	lengthIndex   = checksumIndex + ChecksumSize

	// HeaderSize is the number of bytes preceding the payload.
	HeaderSize = lengthIndex + LengthSize

	// MaxPayloadSize is the largest payload the 16-bit length field can describe.
	MaxPayloadSize = math.MaxUint16
)

// Prefix marks the start of every frame.
var Prefix = [PrefixSize]byte{0x4E, 0x42}

// ErrPayloadTooLarge is returned when a payload cannot be described by the length field.
var ErrPayloadTooLarge = errors.New("frame payload exceeds maximum size")

// Frame is a validated envelope. The payload aliases the buffer it was parsed
// from only until the parser advances, so callers that keep it must copy.
type Frame struct {
	Checksum uint32
	Payload  []byte
}

// Len returns the size of the frame on the wire.
func (f Frame) Len() int {
	return HeaderSize + len(f.Payload)
}

// Checksum returns the additive checksum of b, truncated to 32 bits.
func Checksum(b []byte) uint32 {
	var sum uint32
	for _, v := range b {
		sum += uint32(v)
	}
	return sum
}

// Encode wraps payload in a frame.
func Encode(payload []byte) ([]byte, error) {
	return Append(make([]byte, 0, HeaderSize+len(payload)), payload)
}

// Append wraps payload in a frame and appends it to dst.
func Append(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return dst, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	start := len(dst)
	dst = append(dst, Prefix[:]...)
	dst = append(dst, 0, 0, 0, 0)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(payload)))
	dst = append(dst, payload...)

	checksum := Checksum(dst[start+lengthIndex:])
	binary.BigEndian.PutUint32(dst[start+checksumIndex:], checksum)
	return dst, nil
}

// Status describes the outcome of a TryParse call.
type Status int

const (
	// NeedMoreData means no complete frame is available yet. Nothing was consumed.
	NeedMoreData Status = iota
	// Complete means a valid frame was parsed.
	Complete
	// Invalid means bytes were discarded while resynchronizing the stream.
	Invalid
)

func (s Status) String() string {
	switch s {
	case NeedMoreData:
		return "need_more_data"
	case Complete:
		return "complete"
	case Invalid:
		return "invalid"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Reason explains why bytes were discarded.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonResync means bytes preceding the next prefix were skipped.
	ReasonResync
	// ReasonChecksum means a complete frame failed checksum validation.
	ReasonChecksum
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonResync:
		return "resync"
	case ReasonChecksum:
		return "checksum"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Result is returned by TryParse. Consumed is the number of bytes at the front of
// the buffer that the caller must discard before the next call.
type Result struct {
	Status   Status
	Frame    Frame
	Consumed int
	Reason   Reason
}

// TryParse attempts to extract one frame from the front of buf.
//
// A buffer that does not start with the prefix is resynchronized: everything up
// to the next prefix is reported as Invalid. When no prefix exists at all the
// whole buffer is consumed, except a trailing 0x4E which may be the first half of
// a prefix still in flight. A complete frame that fails its checksum consumes only
// its prefix so that scanning resumes inside it; a corrupted length field can
// therefore never swallow the frame that follows.
func TryParse(buf []byte) Result {
	start := bytes.Index(buf, Prefix[:])
	switch {
	case start < 0:
		n := len(buf)
		if n > 0 && buf[n-1] == Prefix[0] {
			n--
		}
		if n == 0 {
			return Result{Status: NeedMoreData}
		}
		return Result{Status: Invalid, Consumed: n, Reason: ReasonResync}
	case start > 0:
		return Result{Status: Invalid, Consumed: start, Reason: ReasonResync}
	}

	if len(buf) < HeaderSize {
		return Result{Status: NeedMoreData}
	}

	length := int(binary.BigEndian.Uint16(buf[lengthIndex:]))
	if len(buf) < HeaderSize+length {
		return Result{Status: NeedMoreData}
	}

	stored := binary.BigEndian.Uint32(buf[checksumIndex:])
	if Checksum(buf[lengthIndex:HeaderSize+length]) != stored {
		return Result{Status: Invalid, Consumed: PrefixSize, Reason: ReasonChecksum}
	}

	return Result{
		Status:   Complete,
		Frame:    Frame{Checksum: stored, Payload: buf[HeaderSize : HeaderSize+length]},
		Consumed: HeaderSize + length,
	}
}
