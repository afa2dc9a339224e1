package packets

import (
	"errors"
	"reflect"
	"testing"

	"github.com/go-test/deep"
	"github.com/google/go-cmp/cmp"

	"github.com/nebulamp/netcore/internal/frame"
)

// rawPacket carries its content verbatim.
type rawPacket struct {
	Content []byte
}

func (p *rawPacket) MarshalBinary() ([]byte, error) { return p.Content, nil }

func (p *rawPacket) UnmarshalBinary(b []byte) error {
	p.Content = append([]byte(nil), b...)
	return nil
}

// failingPacket never decodes.
type failingPacket struct{}

func (p *failingPacket) MarshalBinary() ([]byte, error) { return []byte{0x01}, nil }
func (p *failingPacket) UnmarshalBinary([]byte) error  { return errors.New("bad content") }

type panickingPacket struct{}

func (p *panickingPacket) MarshalBinary() ([]byte, error) { return []byte{0x01}, nil }
func (p *panickingPacket) UnmarshalBinary([]byte) error  { panic("index out of range") }

func newTestRegistry(t *testing.T, sources ...Source) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := r.RegisterAll(sources...); err != nil {
		t.Fatalf("RegisterAll() returned an unexpected error: %v", err)
	}
	return r
}

func TestDefine(t *testing.T) {
	def := Define[Handshake](HandshakeTag)
	if def.Name != "Handshake" {
		t.Errorf("Name = %q, want %q", def.Name, "Handshake")
	}
	if _, ok := def.New().(*Handshake); !ok {
		t.Errorf("New() returned %T, want *Handshake", def.New())
	}
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name    string
		sources []Source
		wantErr error
	}{
		{
			name:    "session packets",
			sources: []Source{SessionPackets},
		},
		{
			name: "distinct sources",
			sources: []Source{
				SessionPackets,
				DefinitionList{Define[rawPacket](100)},
			},
		},
		{
			name: "duplicate tag across sources",
			sources: []Source{
				SessionPackets,
				DefinitionList{Define[rawPacket](PingTag)},
			},
			wantErr: ErrDuplicateTag,
		},
		{
			name: "same type under two tags",
			sources: []Source{
				DefinitionList{Define[rawPacket](100)},
				DefinitionList{Define[rawPacket](101)},
			},
			wantErr: ErrDuplicateTag,
		},
		{
			name:    "missing constructor",
			sources: []Source{DefinitionList{{Tag: 100, Name: "broken"}}},
			wantErr: ErrInvalidDefinition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().RegisterAll(tt.sources...)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("RegisterAll() returned an unexpected error: %v", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("RegisterAll() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistry_DuplicateTagErrorFields(t *testing.T) {
	r := newTestRegistry(t, SessionPackets)

	err := r.Register(Define[rawPacket](PingTag))
	var dup *DuplicateTagError
	if !errors.As(err, &dup) {
		t.Fatalf("expected *DuplicateTagError, got %T", err)
	}
	want := &DuplicateTagError{Tag: PingTag, Name: "rawPacket", Existing: "Ping"}
	if diff := deep.Equal(want, dup); diff != nil {
		t.Errorf("DuplicateTagError did not match expected; diff:\n%v", diff)
	}
}

func TestRegistry_Lookups(t *testing.T) {
	r := newTestRegistry(t, SessionPackets)

	tag, ok := r.TagOf(reflect.TypeOf(&PlayerJoined{}))
	if !ok || tag != PlayerJoinedTag {
		t.Errorf("TagOf(*PlayerJoined) = (%d, %v), want (%d, true)", tag, ok, PlayerJoinedTag)
	}
	if _, ok := r.TagOf(reflect.TypeOf(&rawPacket{})); ok {
		t.Errorf("TagOf() found an unregistered type")
	}

	def, ok := r.Lookup(PongTag)
	if !ok || def.Name != "Pong" {
		t.Errorf("Lookup(%d) = (%q, %v), want (Pong, true)", PongTag, def.Name, ok)
	}

	var tags []Tag
	for _, def := range r.Definitions() {
		tags = append(tags, def.Tag)
	}
	want := []Tag{1, 2, 3, 4, 5, 6, 7, 8}
	if diff := cmp.Diff(want, tags); diff != "" {
		t.Errorf("Definitions() were not ordered by tag; diff:\n%s", diff)
	}
}

func TestRegistry_Resolve(t *testing.T) {
	r := newTestRegistry(t, SessionPackets, DefinitionList{
		Define[failingPacket](200),
		Define[panickingPacket](201),
	})

	content, _ := (&Handshake{Username: "Kaede"}).MarshalBinary()
	p, err := r.Resolve(HandshakeTag, content)
	if err != nil {
		t.Fatalf("Resolve() returned an unexpected error: %v", err)
	}
	if diff := cmp.Diff(&Handshake{Username: "Kaede"}, p); diff != "" {
		t.Errorf("Resolve() did not match expected; diff:\n%s", diff)
	}

	if _, err := r.Resolve(999, nil); !errors.Is(err, ErrUnknownTag) {
		t.Errorf("Resolve(999) error = %v, want ErrUnknownTag", err)
	}

	var decodeErr *DecodeError
	if _, err := r.Resolve(200, []byte{0x01}); !errors.As(err, &decodeErr) || decodeErr.Name != "failingPacket" {
		t.Errorf("Resolve(200) error = %v, want *DecodeError for failingPacket", err)
	}
	if _, err := r.Resolve(201, []byte{0x01}); !errors.As(err, &decodeErr) {
		t.Errorf("Resolve(201) error = %v, want a *DecodeError from the recovered panic", err)
	}
}

func TestRegistry_Serialize(t *testing.T) {
	r := newTestRegistry(t, DefinitionList{Define[rawPacket](5)})

	got, err := r.Serialize(&rawPacket{Content: []byte("PING")})
	if err != nil {
		t.Fatalf("Serialize() returned an unexpected error: %v", err)
	}
	want := []byte{0x00, 0x05, 0x00, 0x00, 0x00, 0x04, 'P', 'I', 'N', 'G'}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Serialize() did not match expected; diff:\n%s", diff)
	}

	if _, err := r.Serialize(&Ping{}); !errors.Is(err, ErrUnregisteredType) {
		t.Errorf("Serialize(unregistered) error = %v, want ErrUnregisteredType", err)
	}
}

func TestRegistry_DecodeFrame(t *testing.T) {
	r := newTestRegistry(t, SessionPackets, DefinitionList{Define[failingPacket](200)})

	var payload []byte
	payload, _ = r.AppendPacket(payload, &Ping{Payload: []byte("one")})
	payload = frame.AppendSubPacket(payload, 999, []byte("unknown"))
	payload = frame.AppendSubPacket(payload, 200, []byte("malformed"))
	payload, _ = r.AppendPacket(payload, &Pong{Payload: []byte("two")})
	payload = append(payload, 0x00, 0x07, 0x00)

	decoded := r.DecodeFrame(payload)

	want := []Resolved{
		{Tag: PingTag, Name: "Ping", Packet: &Ping{Payload: []byte("one")}},
		{Tag: PongTag, Name: "Pong", Packet: &Pong{Payload: []byte("two")}},
	}
	if diff := cmp.Diff(want, decoded.Packets); diff != "" {
		t.Errorf("DecodeFrame() packets did not match expected; diff:\n%s", diff)
	}
	if len(decoded.Dropped) != 2 {
		t.Fatalf("expected 2 dropped sub-packets, got %d: %v", len(decoded.Dropped), decoded.Dropped)
	}
	if !errors.Is(decoded.Dropped[0], ErrUnknownTag) {
		t.Errorf("first drop = %v, want ErrUnknownTag", decoded.Dropped[0])
	}
	var decodeErr *DecodeError
	if !errors.As(decoded.Dropped[1], &decodeErr) {
		t.Errorf("second drop = %v, want *DecodeError", decoded.Dropped[1])
	}
	if decoded.Trailing != 3 {
		t.Errorf("Trailing = %d, want 3", decoded.Trailing)
	}
}

func TestRegistry_EncodeFrame(t *testing.T) {
	r := newTestRegistry(t, SessionPackets)

	pkts := []Packet{
		&HandshakeAck{PlayerID: 3, NumPlayers: 2, Position: Vector3{X: 1.5, Z: -4}},
		&PlayerJoined{PlayerID: 1, Username: "Ilya"},
		&SyncComplete{},
	}
	encoded, err := r.EncodeFrame(pkts...)
	if err != nil {
		t.Fatalf("EncodeFrame() returned an unexpected error: %v", err)
	}

	res := frame.TryParse(encoded)
	if res.Status != frame.Complete {
		t.Fatalf("TryParse() status = %v, want complete", res.Status)
	}
	decoded := r.DecodeFrame(res.Frame.Payload)
	if len(decoded.Dropped) != 0 || decoded.Trailing != 0 {
		t.Fatalf("unexpected drops %v (trailing %d)", decoded.Dropped, decoded.Trailing)
	}

	var got []Packet
	for _, p := range decoded.Packets {
		got = append(got, p.Packet)
	}
	if diff := cmp.Diff(pkts, got); diff != "" {
		t.Errorf("decoded packets did not match expected; diff:\n%s", diff)
	}
}
