package schema

import (
	"fmt"
	"strings"

	"github.com/roach88/tessera/internal/model"
)

// fieldEquals is active while another attribute holds a given value.
type fieldEquals struct {
	field  string
	want   model.Value
	negate bool
}

func (c fieldEquals) Active(entity model.View, _ model.Value) bool {
	got, ok := entity.ValueOf(c.field)
	if !ok {
		return c.negate
	}
	return model.Equal(got, c.want) != c.negate
}

func (c fieldEquals) String() string {
	op := "=="
	if c.negate {
		op = "!="
	}
	return fmt.Sprintf("%s %s %s", c.field, op, model.Format(c.want))
}

func (c fieldEquals) dependsOn() []string { return []string{c.field} }

// WhenEquals is active iff field currently equals want.
func WhenEquals(field string, want model.Value) model.Condition {
	return fieldEquals{field: field, want: want}
}

// WhenNotEquals is active iff field is absent or differs from want.
func WhenNotEquals(field string, want model.Value) model.Condition {
	return fieldEquals{field: field, want: want, negate: true}
}

// fieldSet is active while another attribute is non-null.
type fieldSet struct {
	field string
}

func (c fieldSet) Active(entity model.View, _ model.Value) bool {
	got, ok := entity.ValueOf(c.field)
	return ok && !model.IsNull(got)
}

func (c fieldSet) String() string { return c.field + " set" }

func (c fieldSet) dependsOn() []string { return []string{c.field} }

// WhenSet is active iff field is present and non-null.
func WhenSet(field string) model.Condition {
	return fieldSet{field: field}
}

// composite combines conditions with a logical operator.
type composite struct {
	conds []model.Condition
	any   bool
}

func (c composite) Active(entity model.View, current model.Value) bool {
	for _, cond := range c.conds {
		if cond.Active(entity, current) == c.any {
			return c.any
		}
	}
	return !c.any
}

func (c composite) String() string {
	op := " && "
	if c.any {
		op = " || "
	}
	parts := make([]string, len(c.conds))
	for i, cond := range c.conds {
		parts[i] = fmt.Sprint(cond)
	}
	return "(" + strings.Join(parts, op) + ")"
}

func (c composite) dependsOn() []string {
	var fields []string
	for _, cond := range c.conds {
		fields = append(fields, conditionFields(cond)...)
	}
	return fields
}

// WhenAll is active iff every condition is active.
func WhenAll(conds ...model.Condition) model.Condition {
	return composite{conds: conds}
}

// WhenAny is active iff at least one condition is active.
func WhenAny(conds ...model.Condition) model.Condition {
	return composite{conds: conds, any: true}
}

// conditionFields returns the attributes a condition reads. Conditions
// built outside this package are opaque and report none.
func conditionFields(c model.Condition) []string {
	if d, ok := c.(interface{ dependsOn() []string }); ok {
		return d.dependsOn()
	}
	return nil
}
