// Package packets defines how typed packets map to the tagged sub-packets carried
// inside a frame payload, and the packet set every session speaks.
package packets

import (
	"encoding"
	"reflect"
)

// Tag identifies a packet kind on the wire. Tags are explicit and must be unique
// within a Registry; they are not guaranteed to be stable across versions.
type Tag uint16

// Packet is a value that can be carried as the content of a sub-packet. Concrete
// packets are pointer types so that a fresh instance can be decoded into.
type Packet interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// Definition describes one registrable packet kind.
type Definition struct {
	Tag  Tag
	Name string
	// New returns an empty packet to decode content into.
	New func() Packet
}

// Source is anything that can enumerate packet definitions at startup, such as the
// built-in session packets or a game module's packet set.
type Source interface {
	Definitions() []Definition
}

// DefinitionList is a Source backed by a fixed slice.
type DefinitionList []Definition

func (l DefinitionList) Definitions() []Definition { return l }

// Define returns the Definition for packet type *T under tag, named after T.
func Define[T any, PT interface {
	*T
	Packet
}](tag Tag) Definition {
	return Definition{
		Tag:  tag,
		Name: reflect.TypeOf((*T)(nil)).Elem().Name(),
		New:  func() Packet { return PT(new(T)) },
	}
}

// Resolved is a packet decoded from a sub-packet along with the tag it arrived under.
type Resolved struct {
	Tag    Tag
	Name   string
	Packet Packet
}

// Decoded is the result of splitting and resolving every sub-packet in a frame
// payload. Packets that could not be resolved are reported in Dropped and do not
// prevent the rest of the payload from being decoded. Trailing is the number of
// bytes at the end of the payload that did not form a complete sub-packet.
type Decoded struct {
	Packets  []Resolved
	Dropped  []error
	Trailing int
}
