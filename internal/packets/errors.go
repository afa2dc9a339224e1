package packets

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateTag      = errors.New("duplicate packet registration")
	ErrUnknownTag        = errors.New("unknown packet tag")
	ErrUnregisteredType  = errors.New("packet type is not registered")
	ErrInvalidDefinition = errors.New("invalid packet definition")
)

// DuplicateTagError is returned when a tag, or the type behind it, is registered
// more than once.
type DuplicateTagError struct {
	Tag      Tag
	Name     string
	Existing string
}

func (e *DuplicateTagError) Error() string {
	if e.Name == e.Existing {
		return fmt.Sprintf("packet %s registered twice (tag %d)", e.Name, e.Tag)
	}
	return fmt.Sprintf("tag %d for %s is already registered to %s", e.Tag, e.Name, e.Existing)
}

func (e *DuplicateTagError) Is(target error) bool { return target == ErrDuplicateTag }

// UnknownTagError is returned when content arrives under a tag with no definition.
type UnknownTagError struct {
	Tag Tag
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("unknown packet tag %d", e.Tag)
}

func (e *UnknownTagError) Is(target error) bool { return target == ErrUnknownTag }

// DecodeError wraps a failure to decode the content of a known packet.
type DecodeError struct {
	Tag  Tag
	Name string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("error decoding %s (tag %d): %v", e.Name, e.Tag, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
