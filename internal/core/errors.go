package core

import (
	"errors"
	"fmt"
)

// Error is a caller-input error detected by an entity or collection.
//
// Errors are never transient: retrying the same call against the same
// state fails the same way. Validation runs before any write, so a
// returned Error means nothing was mutated.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Attr names the attribute involved, if any.
	Attr string

	// Index is the rejected position of an INDEX_OUT_OF_RANGE error.
	Index int
}

// ErrorCode categorizes core errors.
type ErrorCode string

const (
	// ErrCodeAttributeNotFound indicates a read, write or remove of an
	// attribute the entity does not hold.
	ErrCodeAttributeNotFound ErrorCode = "ATTRIBUTE_NOT_FOUND"

	// ErrCodeDuplicateAttribute indicates an add of a descriptor already held.
	ErrCodeDuplicateAttribute ErrorCode = "DUPLICATE_ATTRIBUTE"

	// ErrCodeNullNotAllowed indicates a null write to a never-null attribute.
	ErrCodeNullNotAllowed ErrorCode = "NULL_NOT_ALLOWED"

	// ErrCodeIndexOutOfRange indicates a position outside the valid bounds.
	ErrCodeIndexOutOfRange ErrorCode = "INDEX_OUT_OF_RANGE"

	// ErrCodeCapacityExceeded indicates an add at the limit with eviction off.
	ErrCodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"

	// ErrCodeTypeMismatch indicates a value of the wrong kind, or an entity
	// of the wrong type for a collection.
	ErrCodeTypeMismatch ErrorCode = "TYPE_MISMATCH"
)

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrAttributeNotFound  = &Error{Code: ErrCodeAttributeNotFound}
	ErrDuplicateAttribute = &Error{Code: ErrCodeDuplicateAttribute}
	ErrNullNotAllowed     = &Error{Code: ErrCodeNullNotAllowed}
	ErrIndexOutOfRange    = &Error{Code: ErrCodeIndexOutOfRange}
	ErrCapacityExceeded   = &Error{Code: ErrCodeCapacityExceeded}
	ErrTypeMismatch       = &Error{Code: ErrCodeTypeMismatch}
)

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Attr == "":
		return string(e.Code)
	case e.Attr == "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Message == "":
		return fmt.Sprintf("%s: %s", e.Code, e.Attr)
	}
	return fmt.Sprintf("%s: %s (attr=%s)", e.Code, e.Message, e.Attr)
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func hasCode(err error, code ErrorCode) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsAttributeNotFound returns true if err is an ATTRIBUTE_NOT_FOUND error.
// Uses errors.As to handle wrapped errors.
func IsAttributeNotFound(err error) bool { return hasCode(err, ErrCodeAttributeNotFound) }

// IsDuplicateAttribute returns true if err is a DUPLICATE_ATTRIBUTE error.
func IsDuplicateAttribute(err error) bool { return hasCode(err, ErrCodeDuplicateAttribute) }

// IsNullNotAllowed returns true if err is a NULL_NOT_ALLOWED error.
func IsNullNotAllowed(err error) bool { return hasCode(err, ErrCodeNullNotAllowed) }

// IsIndexOutOfRange returns true if err is an INDEX_OUT_OF_RANGE error.
func IsIndexOutOfRange(err error) bool { return hasCode(err, ErrCodeIndexOutOfRange) }

// IsCapacityExceeded returns true if err is a CAPACITY_EXCEEDED error.
func IsCapacityExceeded(err error) bool { return hasCode(err, ErrCodeCapacityExceeded) }

// IsTypeMismatch returns true if err is a TYPE_MISMATCH error.
func IsTypeMismatch(err error) bool { return hasCode(err, ErrCodeTypeMismatch) }

func attributeNotFound(name string) error {
	return &Error{Code: ErrCodeAttributeNotFound, Message: "attribute not present", Attr: name}
}

// indexOutOfRange rejects an element position; valid ones are [0, n).
func indexOutOfRange(index, n int) error {
	msg := fmt.Sprintf("index %d not in [0, %d)", index, n)
	if n == 0 {
		msg = fmt.Sprintf("index %d: collection is empty", index)
	}
	return &Error{Code: ErrCodeIndexOutOfRange, Message: msg, Index: index}
}

// insertOutOfRange rejects an insertion position; valid ones are [0, n].
func insertOutOfRange(index, n int) error {
	return &Error{
		Code:    ErrCodeIndexOutOfRange,
		Message: fmt.Sprintf("insert index %d not in [0, %d]", index, n),
		Index:   index,
	}
}
