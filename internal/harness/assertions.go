package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/tessera/internal/core"
	"github.com/roach88/tessera/internal/model"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Seq, event.Source, event.Event)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. State assertions read through h.
func EvaluateAssertions(result *Result, assertions []Assertion, h *Harness) []string {
	var failures []string
	for _, a := range assertions {
		if err := evaluate(result.Trace, a, h); err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func evaluate(trace []TraceEvent, a Assertion, h *Harness) error {
	switch a.Type {
	case AssertTraceOrder:
		return assertTraceOrder(trace, a)
	case AssertTraceCount:
		return assertTraceCount(trace, a)
	case AssertValue:
		return assertValue(h, a)
	case AssertSize:
		return assertSize(h, a)
	case AssertMembers:
		return assertMembers(h, a)
	case AssertReferences:
		return assertReferences(h, a)
	case AssertSamples:
		return assertSamples(h, a)
	}
	return fmt.Errorf("unknown assertion type: %s", a.Type)
}

// fromSource keeps the events delivered to source, or all if it is empty.
func fromSource(trace []TraceEvent, source string) []string {
	var out []string
	for _, ev := range trace {
		if source == "" || ev.Source == source {
			out = append(out, ev.Event)
		}
	}
	return out
}

// assertTraceOrder checks that the events appear in the given order.
// Intervening events are allowed unless Exact is set.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	events := fromSource(trace, a.Source)

	if a.Exact {
		if slices.Equal(events, a.Events) {
			return nil
		}
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("exactly %v", a.Events),
			Actual:   fmt.Sprintf("%v", events),
			Trace:    trace,
		}
	}

	next := 0
	for _, ev := range events {
		if next < len(a.Events) && ev == a.Events[next] {
			next++
		}
	}
	if next == len(a.Events) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("events in order: %v", a.Events),
		Actual:   fmt.Sprintf("%s not found after %v", a.Events[next], a.Events[:next]),
		Trace:    trace,
	}
}

// assertTraceCount checks how many events match Event exactly, or have
// kind Kind.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range fromSource(trace, a.Source) {
		if matchesEvent(ev, a) {
			count++
		}
	}
	if count == a.Count {
		return nil
	}

	what := a.Event
	if what == "" {
		what = a.Kind + " events"
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%s appears %d times", what, a.Count),
		Actual:   fmt.Sprintf("appears %d times", count),
		Trace:    trace,
	}
}

func matchesEvent(ev string, a Assertion) bool {
	if a.Event != "" {
		return ev == a.Event
	}
	return strings.HasPrefix(ev, a.Kind+"(") || ev == a.Kind
}

// assertValue checks an attribute's stored value and, if Present is set,
// whether the attribute is currently active.
func assertValue(h *Harness, a Assertion) error {
	e, err := h.entity(a.Entity)
	if err != nil {
		return err
	}
	field := a.Entity + "." + a.Attr
	attr, held := e.Field(a.Attr)

	if a.Present != nil {
		present := held && core.IsActive(e, attr)
		if present != *a.Present {
			return &AssertionError{
				Type:     AssertValue,
				Expected: fmt.Sprintf("%s present=%t", field, *a.Present),
				Actual:   fmt.Sprintf("present=%t", present),
			}
		}
	}

	if !a.Expect.Set {
		return nil
	}
	if !held {
		return &AssertionError{
			Type:     AssertValue,
			Expected: fmt.Sprintf("%s = %v", field, a.Expect.Value),
			Actual:   "attribute not held",
		}
	}
	want, err := h.value(a.Expect.Value)
	if err != nil {
		return fmt.Errorf("value assertion %s: %w", field, err)
	}
	got, err := e.Value(attr)
	if err != nil {
		return err
	}
	if !model.Equal(got, want) {
		return &AssertionError{
			Type:     AssertValue,
			Expected: fmt.Sprintf("%s = %s", field, model.Format(want)),
			Actual:   model.Format(got),
		}
	}
	return nil
}

func assertSize(h *Harness, a Assertion) error {
	c, err := h.collection(a.Collection)
	if err != nil {
		return err
	}
	if n := c.Len(); n != a.Count {
		return &AssertionError{
			Type:     AssertSize,
			Expected: fmt.Sprintf("%s has %d members", a.Collection, a.Count),
			Actual:   fmt.Sprintf("%d members", n),
		}
	}
	return nil
}

func assertMembers(h *Harness, a Assertion) error {
	c, err := h.collection(a.Collection)
	if err != nil {
		return err
	}
	got := []string{}
	for _, e := range c.All() {
		got = append(got, h.alias(e))
	}
	want := a.Members
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertMembers,
			Expected: fmt.Sprintf("%s holds %v", a.Collection, want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

// assertReferences compares the target's direct referrers as multisets.
func assertReferences(h *Harness, a Assertion) error {
	n, err := h.node(a.Target)
	if err != nil {
		return err
	}

	var got []string
	for _, ref := range h.rt.DirectReferences(n) {
		name := h.alias(ref.Source)
		if ref.Attr != nil {
			name += "." + ref.Attr.Name()
		}
		got = append(got, name)
	}
	want := slices.Clone(a.Refs)
	slices.Sort(got)
	slices.Sort(want)

	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertReferences,
			Expected: fmt.Sprintf("%s referenced by %v", a.Target, want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

// assertSamples counts the retained samples of a collection's size or an
// entity attribute.
func assertSamples(h *Harness, a Assertion) error {
	series, name, err := h.series(a.Collection, a.Entity, a.Attr)
	if err != nil {
		return err
	}
	if n := series.Len(); n != a.Count {
		return &AssertionError{
			Type:     AssertSamples,
			Expected: fmt.Sprintf("%s retains %d samples", name, a.Count),
			Actual:   fmt.Sprintf("%d samples", n),
		}
	}
	return nil
}
