// Package model provides the value and schema primitives shared by every
// other tessera package.
//
// This package contains types only. All other internal packages import
// model; model imports nothing internal.
//
// Key design constraints:
//   - Value is sealed: Null, String, Int, Bool, List, Record and Ref
//   - No float values anywhere; numbers are int64
//   - Descriptors are immutable and compared by pointer identity
//   - Ref holds a strong forward pointer; reverse edges use Handle only
package model
