// Package schema builds immutable attribute descriptors for entity types.
//
// Descriptors are produced once, at schema setup, either programmatically
// through Builder or by compiling CUE declarations:
//
//	type: Widget: {
//		attr: {
//			id:    {kind: "string", flags: ["identifier", "never_null"]}
//			count: {kind: "int", default: 0}
//			label: {kind: "string", active_when: {field: "count", equals: 1}}
//		}
//	}
//
// Attribute order is declaration order. Nothing is created at runtime by
// reflection; cores receive the finished descriptors.
package schema
