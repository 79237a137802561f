package evaluator

import (
	"fmt"
	"sort"
)

// Vars is an immutable set of transaction context variables.
type Vars struct {
	values map[string]Value
}

// NewVars converts a transaction context into Vars. Every value must be a
// scalar accepted by FromAny.
func NewVars(ctx map[string]any) (Vars, error) {
	values := make(map[string]Value, len(ctx))
	for name, raw := range ctx {
		v, err := FromAny(raw)
		if err != nil {
			return Vars{}, fmt.Errorf("variable %q: %w", name, err)
		}
		values[name] = v
	}
	return Vars{values: values}, nil
}

// MustVars is like NewVars but panics on error. Intended for tests and
// static tables.
func MustVars(ctx map[string]any) Vars {
	v, err := NewVars(ctx)
	if err != nil {
		panic(err)
	}
	return v
}

// Lookup returns the named variable.
func (v Vars) Lookup(name string) (Value, bool) {
	val, ok := v.values[name]
	return val, ok
}

// Len returns the number of variables.
func (v Vars) Len() int { return len(v.values) }

// Names returns the variable names in sorted order.
func (v Vars) Names() []string {
	names := make([]string, 0, len(v.values))
	for name := range v.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String returns the variable as a string when present and string-typed.
func (v Vars) String(name string) (string, bool) {
	val, ok := v.values[name]
	if !ok {
		return "", false
	}
	return val.AsString()
}
