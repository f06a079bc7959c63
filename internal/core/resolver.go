package core

import (
	"slices"

	"github.com/roach88/tessera/internal/model"
)

// IsActive reports whether attr is currently present on e. Non-optional
// attributes are always active; optional ones ask their condition, given
// e and attr's stored value. It never mutates e.
func IsActive(e *Entity, attr *model.Descriptor) bool {
	if !attr.Optional() || attr.Condition() == nil {
		return true
	}
	current, _ := e.fields.Get(attr)
	return attr.Condition().Active(e, orNull(current))
}

// activeOptional materializes the active optional attributes of attrs in
// declaration order. The result is a fresh slice, unaffected by later
// writes.
func activeOptional(e *Entity, attrs []*model.Descriptor) []*model.Descriptor {
	var out []*model.Descriptor
	for _, attr := range attrs {
		if attr.Optional() && IsActive(e, attr) {
			out = append(out, attr)
		}
	}
	return out
}

// transitions returns after\before and before\after, each in the order of
// its source slice.
func transitions(before, after []*model.Descriptor) (added, removed []*model.Descriptor) {
	for _, attr := range after {
		if !slices.Contains(before, attr) {
			added = append(added, attr)
		}
	}
	for _, attr := range before {
		if !slices.Contains(after, attr) {
			removed = append(removed, attr)
		}
	}
	return added, removed
}
