// Package core implements the entity and collection data cores: attribute
// storage over a pluggable source, synchronous change events, reverse
// reference tracking, optional-attribute activation, capacity limits with
// FIFO eviction, and per-attribute statistics.
//
// # Event order
//
// Entity.SetValue computes the active optional attributes before and after
// the write. Attributes that became active are reported first
// (AttributeAdded), then those that became inactive (AttributeRemoved,
// carrying their current value), and ValueChanged comes last. A listener
// seeing ValueChanged therefore observes a consistent active set.
// Writing a value equal to the stored one fires nothing.
//
// # References
//
// Every Ref stored in a reference-bearing attribute adds an edge
// (source, attribute) on its target. Collections add a membership edge on
// each element and pass their own inbound edges on to it. Edges hold
// handles only, so they never keep a source alive; see package refs.
//
// # Concurrency
//
// Calls run to completion on the calling goroutine. Listener registries
// are copy-on-write: registration is serialized per core, and dispatch
// iterates the registry as it was when the event started. The reference
// tracker is striped by target, and no operation holds two locks at once.
package core
