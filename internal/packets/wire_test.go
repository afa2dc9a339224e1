package packets

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestSessionPackets_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
		empty  Packet
	}{
		{name: "handshake", packet: &Handshake{Username: "Ilya"}, empty: &Handshake{}},
		{
			name:   "handshake ack",
			packet: &HandshakeAck{PlayerID: 65535, NumPlayers: 4, Position: Vector3{X: 1, Y: 2, Z: 3}},
			empty:  &HandshakeAck{},
		},
		{name: "sync complete", packet: &SyncComplete{}, empty: &SyncComplete{}},
		{
			name:   "player joined",
			packet: &PlayerJoined{PlayerID: 2, Username: "Mirei", Position: Vector3{Y: -10.25}},
			empty:  &PlayerJoined{},
		},
		{name: "player disconnected", packet: &PlayerDisconnected{PlayerID: 9, NumPlayers: 1}, empty: &PlayerDisconnected{}},
		{name: "player position", packet: &PlayerPosition{PlayerID: 1, Position: Vector3{X: 0.5}}, empty: &PlayerPosition{}},
		{name: "ping", packet: &Ping{Payload: []byte{0x00, 0xFF}}, empty: &Ping{}},
		{name: "pong", packet: &Pong{Payload: []byte("PONG")}, empty: &Pong{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.packet.MarshalBinary()
			if err != nil {
				t.Fatalf("MarshalBinary() returned an unexpected error: %v", err)
			}
			if err := tt.empty.UnmarshalBinary(b); err != nil {
				t.Fatalf("UnmarshalBinary() returned an unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.packet, tt.empty); diff != "" {
				t.Errorf("decoded packet did not match original; diff:\n%s", diff)
			}
		})
	}
}

func TestDecoder_SkipsUnknownFields(t *testing.T) {
	var e Encoder
	e.Text(1, "Ilya")
	e.Uint(7, 42)
	e.Blob(8, []byte("future field"))
	e.Float(9, 3.5)

	var p Handshake
	if err := p.UnmarshalBinary(e.Bytes()); err != nil {
		t.Fatalf("UnmarshalBinary() returned an unexpected error: %v", err)
	}
	if p.Username != "Ilya" {
		t.Errorf("Username = %q, want Ilya", p.Username)
	}
}

func TestDecoder_Malformed(t *testing.T) {
	overflow := protowire.AppendTag(nil, 1, protowire.VarintType)
	overflow = protowire.AppendVarint(overflow, 70000)

	wrongType := protowire.AppendTag(nil, 1, protowire.BytesType)
	wrongType = protowire.AppendString(wrongType, "not a number")

	truncated := protowire.AppendTag(nil, 2, protowire.BytesType)
	truncated = append(truncated, 0x10, 'a')

	tests := []struct {
		name    string
		content []byte
	}{
		{name: "player id overflows uint16", content: overflow},
		{name: "wrong wire type", content: wrongType},
		{name: "truncated string", content: truncated},
		{name: "bad field tag", content: []byte{0x00}},
		{name: "truncated varint", content: []byte{0x08, 0xFF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p PlayerJoined
			if err := p.UnmarshalBinary(tt.content); err == nil {
				t.Errorf("UnmarshalBinary() expected an error, decoded %+v", p)
			}
		})
	}
}

func TestEncoder_OmitsZeroValues(t *testing.T) {
	var e Encoder
	e.Uint(1, 0)
	e.Int(2, 0)
	e.Bool(3, false)
	e.Float(4, 0)
	e.Text(5, "")
	e.Blob(6, nil)
	e.Time(7, time.Time{})
	e.Message(8, Vector3{}.encode)

	if len(e.Bytes()) != 0 {
		t.Errorf("expected no bytes for zero values, got %x", e.Bytes())
	}
}

func TestEncoder_SignedAndTime(t *testing.T) {
	sentAt := time.Date(2024, 3, 1, 12, 30, 0, 500, time.UTC)

	var e Encoder
	e.Int(1, -12345)
	e.Bool(2, true)
	e.Time(3, sentAt)

	var (
		gotInt  int64
		gotBool bool
		gotTime time.Time
	)
	d := NewDecoder(e.Bytes())
	for d.Next() {
		switch d.Field() {
		case 1:
			gotInt = d.Int()
		case 2:
			gotBool = d.Bool()
		case 3:
			gotTime = d.Time()
		}
	}
	if err := d.Err(); err != nil {
		t.Fatalf("decoding returned an unexpected error: %v", err)
	}

	if gotInt != -12345 || !gotBool || !gotTime.Equal(sentAt) {
		t.Errorf("decoded (%d, %v, %v), want (-12345, true, %v)", gotInt, gotBool, gotTime, sentAt)
	}
}

func TestDecoder_DoubleRead(t *testing.T) {
	var e Encoder
	e.Uint(1, 5)

	d := NewDecoder(e.Bytes())
	if !d.Next() {
		t.Fatalf("Next() returned false: %v", d.Err())
	}
	_ = d.Uint()
	_ = d.Uint()
	if d.Err() == nil {
		t.Errorf("expected an error reading the same field twice")
	}
}
