package harness

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/roach88/tessera/internal/core"
	"github.com/roach88/tessera/internal/journal"
	"github.com/roach88/tessera/internal/model"
	"github.com/roach88/tessera/internal/schema"
	"github.com/roach88/tessera/internal/stats"
	"github.com/roach88/tessera/internal/store"
	"github.com/roach88/tessera/internal/testutil"
)

// Harness applies one scenario to a fresh runtime.
type Harness struct {
	rt          *core.Runtime
	types       *schema.Registry
	entities    map[string]*core.Entity
	collections map[string]*core.Collection
	clock       *journal.Clock
	journal     *journal.Journal
	result      *Result
	logger      *slog.Logger
}

// Option configures Run.
type Option func(*options)

type options struct {
	store   *store.Store
	logger  *slog.Logger
	runtime []core.Option
}

// WithStore journals every traced event to st under the scenario session.
func WithStore(st *store.Store) Option {
	return func(o *options) {
		o.store = st
	}
}

// WithRuntimeOptions passes extra options to the scenario's runtime,
// after the deterministic clock and identifier defaults.
func WithRuntimeOptions(opts ...core.Option) Option {
	return func(o *options) {
		o.runtime = append(o.runtime, opts...)
	}
}

// WithLogger sets the logger. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Run executes a scenario and returns its result.
//
// Each run gets a fresh runtime with a step clock and sequential
// identifiers, so traces are reproducible. A returned error means the
// scenario could not be set up; step and assertion failures are reported
// in the Result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	types, err := loadSchema(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	rtOpts := append([]core.Option{
		core.WithLogger(o.logger),
		core.WithClock(testutil.NewStepClock(0)),
		core.WithIDGenerator(testutil.NewSequentialIDs(scenario.Name)),
	}, o.runtime...)

	h := &Harness{
		rt:          core.NewRuntime(rtOpts...),
		types:       types,
		entities:    make(map[string]*core.Entity),
		collections: make(map[string]*core.Collection),
		clock:       journal.NewClock(),
		result:      NewResult(),
		logger:      o.logger,
	}

	if o.store != nil {
		session := cmp.Or(scenario.Session, DefaultSession)
		j, err := journal.New(ctx, o.store, journal.WithSession(session), journal.WithLogger(o.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		h.journal = j
		h.result.Session = session
	}

	h.executeSteps(scenario.Steps)

	if h.journal != nil {
		if err := h.journal.Flush(ctx); err != nil {
			return nil, err
		}
	}

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, h) {
		h.result.AddError(msg)
	}
	h.result.Entities = h.finalState()
	return h.result, nil
}

// loadSchema compiles a single CUE file or a CUE package directory.
func loadSchema(path string) (*schema.Registry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return schema.LoadDir(path)
	}
	return schema.CompileFile(path)
}

// executeSteps applies steps in order. The first unexpected outcome is
// recorded and ends the run; later steps would act on a state the
// scenario did not plan for.
func (h *Harness) executeSteps(steps []Step) {
	for i, step := range steps {
		err := h.apply(step)

		switch {
		case step.ExpectError == "" && err != nil:
			h.result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, step.Op, err))
			return
		case step.ExpectError != "" && err == nil:
			h.result.AddError(fmt.Sprintf("steps[%d] %s: expected %s, got success", i, step.Op, step.ExpectError))
			return
		case step.ExpectError != "":
			if got := errorCode(err); got != step.ExpectError {
				h.result.AddError(fmt.Sprintf("steps[%d] %s: expected %s, got %v", i, step.Op, step.ExpectError, err))
				return
			}
		}

		h.logger.Debug("step applied", "step", i, "op", step.Op)
	}
}

func errorCode(err error) string {
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return string(coreErr.Code)
	}
	return ""
}

// apply performs one step.
func (h *Harness) apply(s Step) error {
	switch s.Op {
	case OpNewEntity:
		return h.newEntity(s)

	case OpNewCollection:
		typ, err := h.lookupType(s.Type)
		if err != nil {
			return err
		}
		if err := h.claimAlias(s.As); err != nil {
			return err
		}
		c := h.rt.NewCollection(typ)
		h.collections[s.As] = c
		if s.Listen {
			h.listen(s.As)
		}
		return nil

	case OpSet:
		e, attr, err := h.entityAttr(s.Entity, s.Attr)
		if err != nil {
			return err
		}
		v, err := h.value(s.Value)
		if err != nil {
			return err
		}
		return e.SetValue(attr, v)

	case OpAddField:
		e, err := h.entity(s.Entity)
		if err != nil {
			return err
		}
		typ := e.Type()
		if s.Type != "" {
			if typ, err = h.lookupType(s.Type); err != nil {
				return err
			}
		}
		attr, ok := typ.Lookup(s.Attr)
		if !ok {
			return fmt.Errorf("type %s has no attribute %q", typ.Name(), s.Attr)
		}
		index := len(slices.Collect(e.Fields()))
		if s.Index != nil {
			index = *s.Index
		}
		return e.AddAttribute(attr, index)

	case OpRemoveField:
		e, attr, err := h.entityAttr(s.Entity, s.Attr)
		if err != nil {
			return err
		}
		return e.DropAttribute(attr)

	case OpAdd:
		c, e, err := h.collectionEntity(s.Collection, s.Entity)
		if err != nil {
			return err
		}
		if s.Index == nil {
			return c.Append(e)
		}
		return c.Add(e, *s.Index)

	case OpRemove:
		c, e, err := h.collectionEntity(s.Collection, s.Entity)
		if err != nil {
			return err
		}
		if !c.Remove(e) {
			return fmt.Errorf("%s is not in %s", s.Entity, s.Collection)
		}
		return nil

	case OpRemoveAt:
		c, err := h.collection(s.Collection)
		if err != nil {
			return err
		}
		_, err = c.RemoveAt(*s.Index)
		return err

	case OpReplace:
		c, e, err := h.collectionEntity(s.Collection, s.Entity)
		if err != nil {
			return err
		}
		_, err = c.Replace(e, *s.Index)
		return err

	case OpSetLimit:
		c, err := h.collection(s.Collection)
		if err != nil {
			return err
		}
		c.SetLimit(s.Max, s.Evicting)
		return nil

	case OpSort:
		c, err := h.collection(s.Collection)
		if err != nil {
			return err
		}
		c.Sort(func(a, b *core.Entity) int {
			av, _ := a.ValueOf(s.By)
			bv, _ := b.ValueOf(s.By)
			return compareValues(av, bv)
		})
		return nil

	case OpListen:
		if _, err := h.node(s.Target); err != nil {
			return err
		}
		h.listen(s.Target)
		return nil

	case OpEnableStatistics:
		if s.Collection != "" {
			c, err := h.collection(s.Collection)
			if err != nil {
				return err
			}
			c.EnableStatistics(s.Max)
			return nil
		}
		e, attr, err := h.entityAttr(s.Entity, s.Attr)
		if err != nil {
			return err
		}
		return e.EnableStatistics(attr, s.Max)

	case OpDestroy:
		if e, ok := h.entities[s.Target]; ok {
			e.Destroy()
			return nil
		}
		if c, ok := h.collections[s.Target]; ok {
			c.Destroy()
			return nil
		}
		return fmt.Errorf("unknown alias %q", s.Target)
	}
	return fmt.Errorf("unknown op %q", s.Op)
}

func (h *Harness) newEntity(s Step) error {
	typ, err := h.lookupType(s.Type)
	if err != nil {
		return err
	}
	if err := h.claimAlias(s.As); err != nil {
		return err
	}
	values := make(map[string]model.Value, len(s.Values))
	for name, raw := range s.Values {
		v, err := h.value(raw)
		if err != nil {
			return fmt.Errorf("values[%q]: %w", name, err)
		}
		values[name] = v
	}
	e, err := h.rt.NewEntityFrom(typ, values)
	if err != nil {
		return err
	}
	h.entities[s.As] = e
	if s.Listen {
		h.listen(s.As)
	}
	return nil
}

// listen subscribes the trace recorder, and the journal if attached, to
// the core behind alias.
func (h *Harness) listen(alias string) {
	record := core.ListenerFunc(func(ev core.Event) {
		h.result.AddTrace(h.clock.Next(), alias, ev.String())
	})

	if e, ok := h.entities[alias]; ok {
		e.Listen(record)
		if h.journal != nil {
			e.Listen(h.journal.Listener())
		}
		return
	}
	c := h.collections[alias]
	c.Listen(record)
	if h.journal != nil {
		c.Listen(h.journal.Listener())
	}
}

func (h *Harness) claimAlias(alias string) error {
	if _, ok := h.entities[alias]; ok {
		return fmt.Errorf("alias %q already in use", alias)
	}
	if _, ok := h.collections[alias]; ok {
		return fmt.Errorf("alias %q already in use", alias)
	}
	return nil
}

func (h *Harness) lookupType(name string) (*schema.Type, error) {
	typ, ok := h.types.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown type %q", name)
	}
	return typ, nil
}

func (h *Harness) entity(alias string) (*core.Entity, error) {
	e, ok := h.entities[alias]
	if !ok {
		return nil, fmt.Errorf("unknown entity %q", alias)
	}
	return e, nil
}

func (h *Harness) collection(alias string) (*core.Collection, error) {
	c, ok := h.collections[alias]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", alias)
	}
	return c, nil
}

func (h *Harness) node(alias string) (model.Node, error) {
	if e, ok := h.entities[alias]; ok {
		return e, nil
	}
	if c, ok := h.collections[alias]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("unknown alias %q", alias)
}

// entityAttr resolves an entity and one of its held attributes. An
// attribute the entity does not hold resolves through its type, so the
// core reports ATTRIBUTE_NOT_FOUND itself.
func (h *Harness) entityAttr(alias, name string) (*core.Entity, *model.Descriptor, error) {
	e, err := h.entity(alias)
	if err != nil {
		return nil, nil, err
	}
	if attr, ok := e.Field(name); ok {
		return e, attr, nil
	}
	if attr, ok := e.Type().Lookup(name); ok {
		return e, attr, nil
	}
	return nil, nil, fmt.Errorf("type %s has no attribute %q", e.Type().Name(), name)
}

func (h *Harness) collectionEntity(cAlias, eAlias string) (*core.Collection, *core.Entity, error) {
	c, err := h.collection(cAlias)
	if err != nil {
		return nil, nil, err
	}
	e, err := h.entity(eAlias)
	if err != nil {
		return nil, nil, err
	}
	return c, e, nil
}

// value converts a YAML value. A single-key map {$ref: alias} becomes a
// reference to that alias, at any depth.
func (h *Harness) value(raw any) (model.Value, error) {
	switch v := raw.(type) {
	case map[string]any:
		if target, ok := v["$ref"]; ok && len(v) == 1 {
			alias, ok := target.(string)
			if !ok {
				return nil, fmt.Errorf("$ref must name an alias, got %T", target)
			}
			n, err := h.node(alias)
			if err != nil {
				return nil, err
			}
			return model.NewRef(n), nil
		}
		rec := make(model.Record, len(v))
		for k, elem := range v {
			converted, err := h.value(elem)
			if err != nil {
				return nil, fmt.Errorf("record[%q]: %w", k, err)
			}
			rec[k] = converted
		}
		return rec, nil
	case []any:
		list := make(model.List, len(v))
		for i, elem := range v {
			converted, err := h.value(elem)
			if err != nil {
				return nil, fmt.Errorf("list[%d]: %w", i, err)
			}
			list[i] = converted
		}
		return list, nil
	default:
		return model.FromGo(raw)
	}
}

// series finds the statistics series of a collection, or of an entity
// attribute, and names it for messages.
func (h *Harness) series(collection, entity, attrName string) (*stats.Series, string, error) {
	if collection != "" {
		c, err := h.collection(collection)
		if err != nil {
			return nil, "", err
		}
		s, ok := c.Statistics()
		if !ok {
			return nil, "", fmt.Errorf("statistics not enabled for %s", collection)
		}
		return s, collection + ".size", nil
	}
	e, attr, err := h.entityAttr(entity, attrName)
	if err != nil {
		return nil, "", err
	}
	name := entity + "." + attrName
	s, ok := e.Statistics(attr)
	if !ok {
		return nil, "", fmt.Errorf("statistics not enabled for %s", name)
	}
	return s, name, nil
}

// finalState captures every live entity, ordered by alias.
func (h *Harness) finalState() []EntityState {
	aliases := slices.Sorted(maps.Keys(h.entities))
	out := make([]EntityState, 0, len(aliases))
	for _, alias := range aliases {
		e := h.entities[alias]
		if e.Destroyed() {
			continue
		}
		state := EntityState{Alias: alias, Type: e.Type().Name(), Values: e.Snapshot()}
		if id, ok := e.Type().Identifier(); ok {
			if v, ok := e.ValueOf(id.Name()); ok {
				if s, ok := v.(model.String); ok {
					state.ID = string(s)
				}
			}
		}
		out = append(out, state)
	}
	return out
}

// alias returns the scenario name of n, or its handle if it has none.
func (h *Harness) alias(n model.Node) string {
	for name, e := range h.entities {
		if e.Handle() == n.Handle() {
			return name
		}
	}
	for name, c := range h.collections {
		if c.Handle() == n.Handle() {
			return name
		}
	}
	return n.Handle().String()
}

// compareValues orders nulls first, then ints, strings and bools by value.
// Other kinds compare equal, so Sort keeps their relative order.
func compareValues(a, b model.Value) int {
	switch av := a.(type) {
	case model.Int:
		if bv, ok := b.(model.Int); ok {
			return cmp.Compare(av, bv)
		}
	case model.String:
		if bv, ok := b.(model.String); ok {
			return cmp.Compare(av, bv)
		}
	case model.Bool:
		if bv, ok := b.(model.Bool); ok {
			switch {
			case av == bv:
				return 0
			case !bool(av):
				return -1
			default:
				return 1
			}
		}
	}
	an, bn := model.IsNull(a), model.IsNull(b)
	switch {
	case an && !bn:
		return -1
	case !an && bn:
		return 1
	}
	return 0
}
