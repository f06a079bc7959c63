// Package journal persists the change events of entities and collections.
//
// A Journal is a core.ListenerFunc: attach it to any entity or collection
// and every event it fires is stamped with a logical sequence number and
// the journal's session token, then queued. Queued entries reach the store
// either through Run, a single writer goroutine, or through Flush.
//
// Stamping happens on the goroutine that fired the event, so seq order is
// firing order. Writing never blocks the core.
//
// Write failures are logged with the entry's session and seq and the
// writer continues; entries are never retried, so a replay of the session
// sees the same order.
package journal
