package packets

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/nebulamp/netcore/internal/frame"
)

// Registry maps tags to packet definitions and packet types back to their tags.
// It is built once at startup; lookups are safe from any goroutine.
type Registry struct {
	mu     sync.RWMutex
	byTag  map[Tag]Definition
	byType map[reflect.Type]Tag
}

func NewRegistry() *Registry {
	return &Registry{
		byTag:  make(map[Tag]Definition),
		byType: make(map[reflect.Type]Tag),
	}
}

// Register adds def to the registry. Registering a tag or a packet type that is
// already present returns a *DuplicateTagError.
func (r *Registry) Register(def Definition) error {
	if def.New == nil {
		return fmt.Errorf("%w: tag %d (%s) has no constructor", ErrInvalidDefinition, def.Tag, def.Name)
	}
	typ := reflect.TypeOf(def.New())
	if typ == nil {
		return fmt.Errorf("%w: tag %d (%s) constructs a nil packet", ErrInvalidDefinition, def.Tag, def.Name)
	}
	if def.Name == "" {
		def.Name = typ.String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byTag[def.Tag]; ok {
		return &DuplicateTagError{Tag: def.Tag, Name: def.Name, Existing: existing.Name}
	}
	if tag, ok := r.byType[typ]; ok {
		return &DuplicateTagError{Tag: def.Tag, Name: def.Name, Existing: r.byTag[tag].Name}
	}

	r.byTag[def.Tag] = def
	r.byType[typ] = def.Tag
	return nil
}

// RegisterAll registers every definition from each source in order, stopping at
// the first error. An error here means the packet set is ambiguous and the process
// should not continue.
func (r *Registry) RegisterAll(sources ...Source) error {
	for _, source := range sources {
		for _, def := range source.Definitions() {
			if err := r.Register(def); err != nil {
				return err
			}
		}
	}
	return nil
}

// Lookup returns the definition registered under tag.
func (r *Registry) Lookup(tag Tag) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byTag[tag]
	return def, ok
}

// TagOf returns the tag registered for the concrete packet type typ.
func (r *Registry) TagOf(typ reflect.Type) (Tag, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tag, ok := r.byType[typ]
	return tag, ok
}

// Definitions returns every registered definition ordered by tag.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defs := make([]Definition, 0, len(r.byTag))
	for _, def := range r.byTag {
		defs = append(defs, def)
	}
	r.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Tag < defs[j].Tag })
	return defs
}

// Resolve decodes content as the packet registered under tag.
func (r *Registry) Resolve(tag Tag, content []byte) (Packet, error) {
	_, p, err := r.resolve(tag, content)
	return p, err
}

func (r *Registry) resolve(tag Tag, content []byte) (def Definition, p Packet, err error) {
	def, ok := r.Lookup(tag)
	if !ok {
		return def, nil, &UnknownTagError{Tag: tag}
	}

	defer func() {
		if rec := recover(); rec != nil {
			p, err = nil, &DecodeError{Tag: tag, Name: def.Name, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	p = def.New()
	if err := p.UnmarshalBinary(content); err != nil {
		return def, nil, &DecodeError{Tag: tag, Name: def.Name, Err: err}
	}
	return def, p, nil
}

// Serialize encodes p as a sub-packet under its registered tag.
func (r *Registry) Serialize(p Packet) ([]byte, error) {
	return r.AppendPacket(nil, p)
}

// AppendPacket appends the sub-packet encoding of p to dst.
func (r *Registry) AppendPacket(dst []byte, p Packet) ([]byte, error) {
	tag, ok := r.TagOf(reflect.TypeOf(p))
	if !ok {
		return dst, fmt.Errorf("%w: %T", ErrUnregisteredType, p)
	}
	content, err := p.MarshalBinary()
	if err != nil {
		return dst, fmt.Errorf("error encoding %T: %w", p, err)
	}
	return frame.AppendSubPacket(dst, uint16(tag), content), nil
}

// EncodeFrame serializes pkts back to back and wraps them in a single frame.
func (r *Registry) EncodeFrame(pkts ...Packet) ([]byte, error) {
	var payload []byte
	for _, p := range pkts {
		var err error
		if payload, err = r.AppendPacket(payload, p); err != nil {
			return nil, err
		}
	}
	return frame.Encode(payload)
}

// DecodeFrame resolves every sub-packet in a frame payload. Unknown tags and
// content that fails to decode are reported in Dropped; their bytes are still
// consumed so the packets after them are decoded normally.
func (r *Registry) DecodeFrame(payload []byte) Decoded {
	subs, trailing := frame.SplitSubPackets(payload)

	decoded := Decoded{Trailing: trailing}
	for _, sub := range subs {
		tag := Tag(sub.Tag)
		def, p, err := r.resolve(tag, sub.Content)
		if err != nil {
			decoded.Dropped = append(decoded.Dropped, err)
			continue
		}
		decoded.Packets = append(decoded.Packets, Resolved{Tag: tag, Name: def.Name, Packet: p})
	}
	return decoded
}
