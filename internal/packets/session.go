package packets

import "fmt"

// Tags of the packets every session exchanges.
const (
	HandshakeTag          Tag = 1
	HandshakeAckTag       Tag = 2
	SyncCompleteTag       Tag = 3
	PlayerJoinedTag       Tag = 4
	PlayerDisconnectedTag Tag = 5
	PlayerPositionTag     Tag = 6
	PingTag               Tag = 7
	PongTag               Tag = 8
)

// SessionPackets is the packet set used to join, sync and leave a session.
var SessionPackets = DefinitionList{
	Define[Handshake](HandshakeTag),
	Define[HandshakeAck](HandshakeAckTag),
	Define[SyncComplete](SyncCompleteTag),
	Define[PlayerJoined](PlayerJoinedTag),
	Define[PlayerDisconnected](PlayerDisconnectedTag),
	Define[PlayerPosition](PlayerPositionTag),
	Define[Ping](PingTag),
	Define[Pong](PongTag),
}

// Vector3 is a position in world space.
type Vector3 struct {
	X, Y, Z float32
}

func (v Vector3) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", v.X, v.Y, v.Z)
}

func (v Vector3) encode(e *Encoder) {
	e.Float(1, v.X)
	e.Float(2, v.Y)
	e.Float(3, v.Z)
}

func (v *Vector3) decode(d *Decoder) error {
	for d.Next() {
		switch d.Field() {
		case 1:
			v.X = d.Float()
		case 2:
			v.Y = d.Float()
		case 3:
			v.Z = d.Float()
		}
	}
	return d.Err()
}

// Handshake is the first packet a client sends after connecting.
type Handshake struct {
	Username string
}

func (p *Handshake) MarshalBinary() ([]byte, error) {
	var e Encoder
	e.Text(1, p.Username)
	return e.Bytes(), nil
}

func (p *Handshake) UnmarshalBinary(b []byte) error {
	d := NewDecoder(b)
	for d.Next() {
		if d.Field() == 1 {
			p.Username = d.Text()
		}
	}
	return d.Err()
}

// HandshakeAck accepts a handshake and assigns the client its player ID. It is
// followed by a PlayerJoined for every player already in the session.
type HandshakeAck struct {
	PlayerID   uint16
	NumPlayers uint32
	// Position the player left the session at, if they are rejoining.
	Position Vector3
}

func (p *HandshakeAck) MarshalBinary() ([]byte, error) {
	var e Encoder
	e.Uint(1, uint64(p.PlayerID))
	e.Uint(2, uint64(p.NumPlayers))
	e.Message(3, p.Position.encode)
	return e.Bytes(), nil
}

func (p *HandshakeAck) UnmarshalBinary(b []byte) error {
	d := NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			p.PlayerID = d.Uint16()
		case 2:
			p.NumPlayers = d.Uint32()
		case 3:
			d.Message(p.Position.decode)
		}
	}
	return d.Err()
}

// SyncComplete is sent by a client once it has loaded the session snapshot, and
// broadcast by the server once every syncing player has done so.
type SyncComplete struct{}

func (p *SyncComplete) MarshalBinary() ([]byte, error) { return nil, nil }

func (p *SyncComplete) UnmarshalBinary(b []byte) error {
	d := NewDecoder(b)
	for d.Next() {
	}
	return d.Err()
}

type PlayerJoined struct {
	PlayerID uint16
	Username string
	Position Vector3
}

func (p *PlayerJoined) MarshalBinary() ([]byte, error) {
	var e Encoder
	e.Uint(1, uint64(p.PlayerID))
	e.Text(2, p.Username)
	e.Message(3, p.Position.encode)
	return e.Bytes(), nil
}

func (p *PlayerJoined) UnmarshalBinary(b []byte) error {
	d := NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			p.PlayerID = d.Uint16()
		case 2:
			p.Username = d.Text()
		case 3:
			d.Message(p.Position.decode)
		}
	}
	return d.Err()
}

type PlayerDisconnected struct {
	PlayerID   uint16
	NumPlayers uint32
}

func (p *PlayerDisconnected) MarshalBinary() ([]byte, error) {
	var e Encoder
	e.Uint(1, uint64(p.PlayerID))
	e.Uint(2, uint64(p.NumPlayers))
	return e.Bytes(), nil
}

func (p *PlayerDisconnected) UnmarshalBinary(b []byte) error {
	d := NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			p.PlayerID = d.Uint16()
		case 2:
			p.NumPlayers = d.Uint32()
		}
	}
	return d.Err()
}

// PlayerPosition reports a player's movement. The server fills in PlayerID from
// the sending connection before relaying it.
type PlayerPosition struct {
	PlayerID uint16
	Position Vector3
}

func (p *PlayerPosition) MarshalBinary() ([]byte, error) {
	var e Encoder
	e.Uint(1, uint64(p.PlayerID))
	e.Message(2, p.Position.encode)
	return e.Bytes(), nil
}

func (p *PlayerPosition) UnmarshalBinary(b []byte) error {
	d := NewDecoder(b)
	for d.Next() {
		switch d.Field() {
		case 1:
			p.PlayerID = d.Uint16()
		case 2:
			d.Message(p.Position.decode)
		}
	}
	return d.Err()
}

type Ping struct {
	Payload []byte
}

func (p *Ping) MarshalBinary() ([]byte, error) {
	var e Encoder
	e.Blob(1, p.Payload)
	return e.Bytes(), nil
}

func (p *Ping) UnmarshalBinary(b []byte) error {
	d := NewDecoder(b)
	for d.Next() {
		if d.Field() == 1 {
			p.Payload = d.Blob()
		}
	}
	return d.Err()
}

// Pong echoes the payload of a Ping.
type Pong struct {
	Payload []byte
}

func (p *Pong) MarshalBinary() ([]byte, error) {
	var e Encoder
	e.Blob(1, p.Payload)
	return e.Bytes(), nil
}

func (p *Pong) UnmarshalBinary(b []byte) error {
	d := NewDecoder(b)
	for d.Next() {
		if d.Field() == 1 {
			p.Payload = d.Blob()
		}
	}
	return d.Err()
}
