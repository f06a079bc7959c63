package harness

import "github.com/roach88/tessera/internal/model"

// TraceEvent is one observed change event.
type TraceEvent struct {
	// Seq is the 1-based firing order across all listened cores.
	Seq int64 `json:"seq"`

	// Source is the alias of the listened core that delivered the event.
	Source string `json:"source"`

	// Event is the rendered event, e.g. "ValueChanged(B, 0, 1)".
	Event string `json:"event"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step and assertion held.
	Pass bool `json:"pass"`

	// Session is the journal session the trace was written to, if any.
	Session string `json:"session,omitempty"`

	// Trace holds every event delivered to a listened core, in firing order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds step and assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Entities is the final state of every live entity, ordered by alias.
	Entities []EntityState `json:"entities,omitempty"`
}

// EntityState is an entity's stored values at the end of a run.
type EntityState struct {
	Alias  string       `json:"alias"`
	Type   string       `json:"type"`
	ID     string       `json:"id,omitempty"`
	Values model.Record `json:"values"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an observed event.
func (r *Result) AddTrace(seq int64, source, event string) {
	r.Trace = append(r.Trace, TraceEvent{Seq: seq, Source: source, Event: event})
}
