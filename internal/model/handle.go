package model

import (
	"fmt"
	"strconv"
	"strings"
)

// HandleKind distinguishes entity handles from collection handles.
type HandleKind uint8

const (
	// HandleEntity identifies an entity core.
	HandleEntity HandleKind = iota + 1
	// HandleCollection identifies a collection core.
	HandleCollection
)

func (k HandleKind) prefix() string {
	switch k {
	case HandleEntity:
		return "e"
	case HandleCollection:
		return "c"
	default:
		return "?"
	}
}

// Handle is a generational arena handle. A handle stays valid only while
// its slot's generation matches; a released slot bumps its generation so
// stale handles never resolve to a newer occupant.
type Handle struct {
	Kind  HandleKind
	Index uint32
	Gen   uint32
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

// String renders the handle as "e:12.3" (kind:index.generation).
func (h Handle) String() string {
	if h.IsZero() {
		return "nil"
	}
	return fmt.Sprintf("%s:%d.%d", h.Kind.prefix(), h.Index, h.Gen)
}

// ParseHandle parses the String form of a handle.
func ParseHandle(s string) (Handle, error) {
	prefix, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Handle{}, fmt.Errorf("invalid handle %q: missing kind", s)
	}

	var kind HandleKind
	switch prefix {
	case "e":
		kind = HandleEntity
	case "c":
		kind = HandleCollection
	default:
		return Handle{}, fmt.Errorf("invalid handle %q: unknown kind %q", s, prefix)
	}

	idx, gen, ok := strings.Cut(rest, ".")
	if !ok {
		return Handle{}, fmt.Errorf("invalid handle %q: missing generation", s)
	}
	index, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return Handle{}, fmt.Errorf("invalid handle %q: %w", s, err)
	}
	generation, err := strconv.ParseUint(gen, 10, 32)
	if err != nil {
		return Handle{}, fmt.Errorf("invalid handle %q: %w", s, err)
	}
	return Handle{Kind: kind, Index: uint32(index), Gen: uint32(generation)}, nil
}
